package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/Vasu1712/scenyx-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithServiceAttrs(t *testing.T) {
	req := require.New(t)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	cfg := config.Config{}
	cfg.Service.Name = "relay"
	cfg.Service.Env = "test"
	cfg.Logger.Level = "debug"
	cfg.Logger.Format = "json"

	log := NewWithWriter(cfg, &buf)
	log.Debug("hello", User("u1"), Err(errors.New("boom")))

	var line map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &line))
	req.Equal("relay", line["service"])
	req.Equal("test", line["env"])
	req.Equal("u1", line["user_id"])
	req.Equal("boom", line["error"])
	req.Equal(log, slog.Default())
}

func TestNew_LevelFilter(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	cfg := config.Config{}
	cfg.Logger.Level = "warn"
	cfg.Logger.Format = "text"

	log := NewWithWriter(cfg, &buf)
	log.Info("quiet")
	require.Empty(t, buf.String())
	log.Warn("loud")
	require.Contains(t, buf.String(), "loud")
}

func TestFromContext(t *testing.T) {
	req := require.New(t)
	l := Discard()
	req.Equal(l, FromContext(WithLogger(context.Background(), l)))
	req.Equal(slog.Default(), FromContext(context.Background()))
}
