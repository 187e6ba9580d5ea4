/*
Package device defines the capability contract between the generic
command-queue engine and a concrete instrument driver.

Key Architectural Concepts:
  - Single Consumer: Connect, Ping, Execute and Cooldown are invoked
    from the owning manager's worker goroutine only, and Disconnect
    runs once that worker has stopped. Drivers never need to be safe
    for concurrent Execute calls. Connected, Name, Kinds and KindName
    are also called from client goroutines (submission checks, kind
    lookups at the API boundary, completion listeners).
  - Opaque Payloads: the engine never interprets Params or Result
    values. It deep-copies parameters on submission via Clone. Each
    Result is passed on uncopied with the command's completion (to the
    blocking submitter, callbacks and transaction aggregation), so a
    driver must not retain or reuse it after returning it.
  - Error Classification: drivers wrap failures with the model package
    helpers (LinkError, TimeoutError, CommandError). Only link failures
    flip the connection state; everything else is reported to the
    submitter as-is.
*/
package device

import (
	"context"
	"encoding/json"
	"time"
)

// Kind is the enumerated category of a command. Drivers define their
// own contiguous range starting at 0; KindName must cover all of it.
type Kind int

// Params is the deep-copyable parameter payload for one command kind.
type Params interface {
	// CommandKind ties the payload to its kind for exhaustiveness
	// checks at the submission boundary.
	CommandKind() Kind

	// Clone returns an independent deep copy. The engine clones on
	// submission so the caller may reuse or mutate its value freely
	// afterwards.
	Clone() Params
}

// Result is the payload produced by a single Execute call. Ownership
// passes to the completion consumer; drivers must not retain it.
type Result interface {
	CommandKind() Kind
}

// ConnectOptions carries the link parameters the supervisor passes to
// Connect on every (re)connection attempt.
type ConnectOptions struct {
	// Address is driver-specific: a serial port, a host:port pair, an
	// USB identifier.
	Address string

	// DialTimeout bounds a single connection attempt. Zero means the
	// driver's own default.
	DialTimeout time.Duration
}

// Adapter is the per-device capability table. All blocking methods
// receive a context the engine cancels on shutdown.
type Adapter interface {
	// Name identifies the driver in logs and statistics.
	Name() string

	// Connect establishes the device link. A failed connect is always
	// treated as recoverable: the supervisor retries with backoff.
	Connect(ctx context.Context, opts ConnectOptions) error

	// Disconnect tears the link down. Best effort; errors are logged
	// and otherwise ignored.
	Disconnect(ctx context.Context) error

	// Ping probes liveness over the established link. An error is
	// classified as a link failure.
	Ping(ctx context.Context) error

	// Connected returns the driver's own snapshot of link health. It
	// may be called from any goroutine.
	Connected() bool

	// Execute runs one command against the device. The returned error
	// must be classified through the model helpers; a bare error counts
	// as a command failure and does not force a reconnect.
	Execute(ctx context.Context, kind Kind, params Params) (Result, error)

	// Kinds enumerates the driver's full command range.
	Kinds() []Kind

	// KindName returns the stable human-readable name of a kind.
	KindName(kind Kind) string

	// Cooldown is the recovery pause the worker sleeps after a
	// successful dispatch of the given kind. Zero means none.
	Cooldown(kind Kind) time.Duration
}

// ParamsDecoder is implemented by drivers that can build typed Params
// from wire payloads. The HTTP surface requires it; script-side callers
// that construct Params directly do not.
type ParamsDecoder interface {
	DecodeParams(kind Kind, raw json.RawMessage) (Params, error)
}

// KindByName performs the reverse lookup of Adapter.KindName. It
// returns false when the driver does not know the name.
func KindByName(a Adapter, name string) (Kind, bool) {
	for _, k := range a.Kinds() {
		if a.KindName(k) == name {
			return k, true
		}
	}
	return 0, false
}
