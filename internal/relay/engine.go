package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-relay/internal/logging"
	"github.com/Vasu1712/scenyx-relay/internal/metrics"
	"github.com/Vasu1712/scenyx-relay/internal/models"
	"github.com/Vasu1712/scenyx-relay/internal/ws"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// Store is the persistence the engine needs.
type Store interface {
	ParticipantFinder
	CreateMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (*models.Message, error)
}

type Config struct {
	PingInterval  time.Duration
	WriteWait     time.Duration
	MaxFrameBytes int64
	SendBuffer    int
	// FrameRate is the sustained inbound frames per second per connection.
	// Zero disables rate limiting.
	FrameRate  float64
	FrameBurst int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 16 << 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = 1
	}
	return c
}

// Engine drives live connections: it reads frames, runs them through
// validation, the membership gate and the store, and dispatches the stored
// message to both participants.
type Engine struct {
	registry *ws.Registry
	gate     *Gate
	store    Store
	log      *slog.Logger
	metrics  *metrics.Relay
	cfg      Config

	done     chan struct{}
	stopOnce sync.Once
	active   sync.WaitGroup
}

func NewEngine(registry *ws.Registry, gate *Gate, store Store, log *slog.Logger, m *metrics.Relay, cfg Config) *Engine {
	if m == nil {
		m = metrics.New(registry.Len, registry.Users)
	}
	return &Engine{
		registry: registry,
		gate:     gate,
		store:    store,
		log:      log,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		done:     make(chan struct{}),
	}
}

// NewConn wraps an upgraded transport for userID.
func (e *Engine) NewConn(t ws.Transport, userID string) *ws.Conn {
	return ws.NewConn(t, userID, e.cfg.SendBuffer, e.cfg.WriteWait)
}

// Serve owns conn until it closes. The connection is registered for the whole
// call and deregistered, with its ping loop stopped, before Serve returns.
func (e *Engine) Serve(ctx context.Context, conn *ws.Conn) {
	e.active.Add(1)
	defer e.active.Done()

	log := e.log.With(logging.User(conn.UserID()), logging.Conn(conn.ID()))
	conn.SetReadLimit(e.cfg.MaxFrameBytes)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	e.registry.Register(conn.UserID(), conn)
	log.Info("connection registered")

	wg.Add(3)
	go func() {
		defer wg.Done()
		conn.WritePump()
	}()
	go func() {
		defer wg.Done()
		e.watchLiveness(ctx, conn, log)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-e.done:
		case <-conn.Done():
		}
		conn.Close()
	}()

	defer func() {
		e.registry.Deregister(conn.UserID(), conn)
		cancel()
		conn.Close()
		wg.Wait()
		log.Info("connection closed")
	}()

	limit := rate.Inf
	if e.cfg.FrameRate > 0 {
		limit = rate.Limit(e.cfg.FrameRate)
	}
	limiter := rate.NewLimiter(limit, e.cfg.FrameBurst)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("read loop ended", logging.Err(err))
			return
		}
		if !limiter.Allow() {
			e.metrics.Frames.WithLabelValues(metrics.OutcomeRateLimited).Inc()
			e.reply(conn, log, CodeRateLimited, "Too many messages, slow down")
			continue
		}
		e.HandleFrame(ctx, conn, data)
	}
}

// HandleFrame processes one inbound frame from conn. Failures are reported to
// conn as error notifications and never end the connection.
func (e *Engine) HandleFrame(ctx context.Context, conn ws.Connection, raw []byte) {
	log := e.log.With(logging.User(conn.UserID()), logging.Conn(conn.ID()))

	in, err := Decode(raw)
	if err != nil {
		e.metrics.Frames.WithLabelValues(metrics.OutcomeInvalid).Inc()
		log.Debug("rejected frame", logging.Err(err))
		e.reply(conn, log, CodeInvalidMessage, "Invalid message format")
		return
	}

	switch m := in.(type) {
	case PresenceUpdate:
		e.metrics.Frames.WithLabelValues(metrics.OutcomePresence).Inc()
		log.Debug("presence update ignored", slog.String("status", m.Status))
	case SendMessage:
		if _, err := e.Send(ctx, conn.UserID(), m); err != nil {
			switch {
			case errors.Is(err, ErrForbidden):
				e.reply(conn, log, CodeUnauthorized, "You are not a participant in this conversation")
			default:
				log.Error("send failed", logging.Conversation(m.ConversationID), logging.Err(err))
				e.reply(conn, log, CodeSendFailed, "Message could not be sent")
			}
		}
	}
}

// Send authorizes, persists and dispatches msg on behalf of senderID. The
// message is stored before anyone is notified; a dispatch failure does not
// undo the store.
func (e *Engine) Send(ctx context.Context, senderID string, msg SendMessage) (*models.Message, error) {
	if err := e.gate.AuthorizeSend(ctx, senderID, msg); err != nil {
		if errors.Is(err, ErrForbidden) {
			e.metrics.Frames.WithLabelValues(metrics.OutcomeForbidden).Inc()
		} else {
			e.metrics.Frames.WithLabelValues(metrics.OutcomeStoreFailed).Inc()
		}
		return nil, err
	}
	stored, err := e.store.CreateMessage(ctx, msg.ConversationID, senderID, msg.RecipientID, msg.Content)
	if err != nil {
		e.metrics.Frames.WithLabelValues(metrics.OutcomeStoreFailed).Inc()
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	e.metrics.Frames.WithLabelValues(metrics.OutcomeDelivered).Inc()
	e.dispatch(stored)
	return stored, nil
}

// dispatch pushes one "new" notification to every live connection of the
// recipient and the sender, each connection at most once.
func (e *Engine) dispatch(msg *models.Message) {
	data, err := json.Marshal(Notification{Type: TypeNew, Payload: msg})
	if err != nil {
		e.log.Error("encode notification", logging.Message(msg.ID), logging.Err(err))
		return
	}
	targets := append(e.registry.ConnectionsFor(msg.RecipientID), e.registry.ConnectionsFor(msg.SenderID)...)
	targets = lo.UniqBy(targets, func(c ws.Connection) string { return c.ID() })

	for _, c := range targets {
		if err := c.Send(data); err != nil {
			e.metrics.DispatchFailures.Inc()
			e.log.Warn("dispatch failed",
				logging.Message(msg.ID), logging.User(c.UserID()), logging.Conn(c.ID()), logging.Err(err))
			continue
		}
		e.metrics.Dispatched.Inc()
	}
}

func (e *Engine) reply(conn ws.Connection, log *slog.Logger, code, message string) {
	if err := conn.Send(errorFrame(code, message)); err != nil {
		log.Debug("error notification dropped", slog.String("code", code), logging.Err(err))
	}
}

func (e *Engine) watchLiveness(ctx context.Context, conn *ws.Conn, log *slog.Logger) {
	ticker := time.NewTicker(e.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			if conn.Ping() {
				continue
			}
			e.registry.Deregister(conn.UserID(), conn)
			conn.Close()
			e.metrics.Reaped.Inc()
			log.Info("connection reaped", slog.Time("last_pong", conn.LastPong()))
			return
		}
	}
}

// Shutdown closes every connection served by e and waits for them to finish,
// or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.done) })
	finished := make(chan struct{})
	go func() {
		e.active.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Relay { return e.metrics }
