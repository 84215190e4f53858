package netycat

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultResolverSlots = 8

type config struct {
	clock         clock.Clock
	logger        *slog.Logger
	registerer    prometheus.Registerer
	maxEvents     int
	resolverSlots int64
}

func defaultConfig() config {
	return config{
		clock:         clock.New(),
		logger:        slog.Default(),
		maxEvents:     defaultMaxEvents,
		resolverSlots: defaultResolverSlots,
	}
}

// Option configures a [Reactor].
type Option func(*config)

// WithClock sets the time source used for timers. Tests pass a [clock.Mock].
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithMetrics registers the reactor's collectors with reg.
// Reactors sharing a registerer share their collectors.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *config) {
		cfg.registerer = reg
	}
}

// WithMaxEvents sets how many readiness events one poll can return.
func WithMaxEvents(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxEvents = n
		}
	}
}

// WithResolverSlots bounds how many blocking calls started with [Go]
// may run at once. The default is 8.
func WithResolverSlots(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.resolverSlots = int64(n)
		}
	}
}
