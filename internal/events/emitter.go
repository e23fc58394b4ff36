package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/appguard/appguard/internal/metrics"
)

// Well-known event names produced by the discovery and offboarding paths.
const (
	AppDiscovered        = "app.discovered"
	OAuthRiskyPermission = "oauth.risky_permission"
	AccessRevoked        = "access.revoked"
	AccessExempted       = "access.exempted"
	AccessNotified       = "access.notified"
	UserOffboarded       = "user.offboarded"
)

// Emitter hands events to the policy bus. Delivery is best-effort: emitters
// must never block the caller and must swallow their own failures.
type Emitter interface {
	Emit(ctx context.Context, event string, payload map[string]any)
}

// LogEmitter writes events to the structured log, which is the default sink
// when no bus is attached.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e *LogEmitter) Emit(ctx context.Context, event string, payload map[string]any) {
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	metrics.EventsEmittedTotal.WithLabelValues(event).Inc()

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event emitted", "event", event, "payload", payload)
}

// Recorded is one captured emission.
type Recorded struct {
	Event   string
	Payload map[string]any
}

// Recorder captures emissions for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Emit(_ context.Context, event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Event: event, Payload: payload})
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

func (r *Recorder) Named(event string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
