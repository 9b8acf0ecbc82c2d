package audithook

import (
	"log/slog"
	"time"
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions records only the listed actions. Without it every action is
// recorded.
func WithActions(actions ...Action) Option {
	return func(e *Extension) {
		e.only = make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			e.only[a] = struct{}{}
		}
	}
}

// WithLogger sets where recorder failures are reported.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithClock sets the source of AuditEvent.At.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}
