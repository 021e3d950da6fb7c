package bridge

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the logger used for lifecycle events
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithStrictLayouts makes Load fail for a struct layout declared on only
// one side, native or managed. By default only types declared on both
// sides are compared.
func WithStrictLayouts() Option {
	return func(b *Bridge) {
		b.strict = true
	}
}

// WithSessionIDs replaces the generator of load session ids
func WithSessionIDs(next func() string) Option {
	return func(b *Bridge) {
		if next != nil {
			b.newSession = next
		}
	}
}

func defaultSessionID() string {
	return uuid.NewString()
}
