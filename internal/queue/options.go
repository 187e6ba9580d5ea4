package queue

import (
	"log/slog"
	"time"

	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// Option defines a functional configuration type for a Manager.
type Option func(*options)

type options struct {
	highCapacity   int
	normalCapacity int
	lowCapacity    int

	reconnectBase  time.Duration
	reconnectMax   time.Duration
	maxBackoffExp  int
	pingInterval   time.Duration
	defaultTimeout time.Duration

	maxTxnCommands int

	logger        *slog.Logger
	onCompletion  CompletionFunc
	onStateChange func(model.ConnState)
}

func defaultOptions() options {
	// [DEFAULTS] Production-ready fallback values
	return options{
		highCapacity:   64,
		normalCapacity: 256,
		lowCapacity:    256,
		reconnectBase:  250 * time.Millisecond,
		reconnectMax:   30 * time.Second,
		maxBackoffExp:  5,
		pingInterval:   30 * time.Second,
		defaultTimeout: 30 * time.Second,
		maxTxnCommands: 32,
		logger:         slog.Default(),
	}
}

// WithQueueCapacities sets the bounds of the three dispatch channels.
// Non-positive values keep the defaults.
func WithQueueCapacities(high, normal, low int) Option {
	return func(o *options) {
		if high > 0 {
			o.highCapacity = high
		}
		if normal > 0 {
			o.normalCapacity = normal
		}
		if low > 0 {
			o.lowCapacity = low
		}
	}
}

// WithReconnectBackoff configures the floor and ceiling of the
// exponential reconnect schedule.
func WithReconnectBackoff(base, max time.Duration) Option {
	return func(o *options) {
		if base > 0 {
			o.reconnectBase = base
		}
		if max > 0 {
			o.reconnectMax = max
		}
	}
}

// WithMaxBackoffShift caps the exponent of the reconnect schedule. The
// effective ceiling is min(base<<shift, max).
func WithMaxBackoffShift(shift int) Option {
	return func(o *options) {
		if shift >= 0 {
			o.maxBackoffExp = shift
		}
	}
}

// WithPingInterval sets how often the worker probes liveness on an
// idle link. Zero disables idle probing.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithDefaultTimeout sets the blocking-submit timeout used when the
// caller's context carries no deadline of its own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithMaxTransactionCommands bounds the member count of a transaction.
func WithMaxTransactionCommands(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTxnCommands = n
		}
	}
}

// WithLogger injects the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompletionListener registers a hook invoked for every resolved
// command, after the per-command callback. The service layer uses it to
// publish completion events.
func WithCompletionListener(fn CompletionFunc) Option {
	return func(o *options) { o.onCompletion = fn }
}

// WithStateListener registers a hook invoked on every connection state
// transition.
func WithStateListener(fn func(model.ConnState)) Option {
	return func(o *options) { o.onStateChange = fn }
}
