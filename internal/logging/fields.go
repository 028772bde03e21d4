// Package logging configures slog and keeps attribute keys consistent.
package logging

import "log/slog"

func User(id string) slog.Attr         { return slog.String("user_id", id) }
func Conversation(id string) slog.Attr { return slog.String("conversation_id", id) }
func Conn(id string) slog.Attr         { return slog.String("conn_id", id) }
func Message(id string) slog.Attr      { return slog.String("message_id", id) }

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
