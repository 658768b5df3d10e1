package client

import (
	"log/slog"

	"github.com/hendrywilliam/herald/src/structs"
)

// eventLogger reports gateway lifecycle events. Dispatches are logged
// only in debug mode.
type eventLogger struct {
	log   *slog.Logger
	debug bool
}

func newEventLogger(log *slog.Logger, debug bool) *eventLogger {
	return &eventLogger{
		log:   log.With("component", "events"),
		debug: debug,
	}
}

func (l *eventLogger) OnReady(ready *structs.ReadyEvent) {
	l.log.Info("logged in",
		"user", ready.User.Username,
		"session_id", ready.SessionID,
		"api_version", ready.V)
}

func (l *eventLogger) OnResumed(*structs.RawEvent) {
	l.log.Info("session resumed")
}

func (l *eventLogger) OnReconnect(*structs.RawEvent) {
	l.log.Info("gateway asked for a reconnect")
}

func (l *eventLogger) OnInvalidSession(resumable bool) {
	l.log.Warn("session invalidated", "resumable", resumable)
}

func (l *eventLogger) OnDisconnect(code int, reason string) {
	l.log.Warn("disconnected from gateway", "code", code, "reason", reason)
}

func (l *eventLogger) OnRaw(event *structs.RawEvent) {
	if !l.debug || event.T == "" {
		return
	}
	l.log.Debug("dispatch received", "event", event)
}
