// Package mock provides an in-memory device adapter for tests and for
// running the gateway without hardware. Every failure mode the engine
// reacts to is available as a knob: connect refusal, execution delay,
// one-shot link loss, one-shot timeouts.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/webitel/device-gateway-service/internal/adapter/device"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// Command kinds of the mock device: a single settable register plus
// deliberately failing operations.
const (
	KindSet device.Kind = iota
	KindGet
	KindEcho
	KindFail
	kindCount
)

var kindNames = [kindCount]string{
	KindSet:  "set",
	KindGet:  "get",
	KindEcho: "echo",
	KindFail: "fail",
}

// SetParams writes the register.
type SetParams struct {
	Value int64 `json:"value"`
}

func (SetParams) CommandKind() device.Kind { return KindSet }
func (p SetParams) Clone() device.Params   { return p }

// EchoParams round-trips an arbitrary payload.
type EchoParams struct {
	Payload string `json:"payload"`
}

func (EchoParams) CommandKind() device.Kind { return KindEcho }
func (p EchoParams) Clone() device.Params   { return p }

// ValueResult carries the register value for get/set.
type ValueResult struct {
	Value int64 `json:"value"`
}

func (ValueResult) CommandKind() device.Kind { return KindGet }

// EchoResult mirrors EchoParams.
type EchoResult struct {
	Payload string `json:"payload"`
}

func (EchoResult) CommandKind() device.Kind { return KindEcho }

// Adapter is the mock driver. The zero value is not usable; call New.
type Adapter struct {
	name string

	mu        sync.Mutex
	connected bool
	value     int64

	failConnect bool
	execDelay   time.Duration
	cooldowns   map[device.Kind]time.Duration

	linkFailures    int
	timeoutFailures int

	trace           []string
	connectAttempts int
	pings           int
}

func New(name string) *Adapter {
	if name == "" {
		name = "mock"
	}
	return &Adapter{
		name:      name,
		cooldowns: make(map[device.Kind]time.Duration),
	}
}

// Knobs. All safe to flip from any goroutine while the engine runs.

// FailConnect makes every subsequent Connect attempt fail until flipped
// back.
func (a *Adapter) FailConnect(fail bool) {
	a.mu.Lock()
	a.failConnect = fail
	a.mu.Unlock()
}

// SetExecDelay simulates device latency on every Execute.
func (a *Adapter) SetExecDelay(d time.Duration) {
	a.mu.Lock()
	a.execDelay = d
	a.mu.Unlock()
}

// SetCooldown overrides the post-dispatch pause for one kind.
func (a *Adapter) SetCooldown(kind device.Kind, d time.Duration) {
	a.mu.Lock()
	a.cooldowns[kind] = d
	a.mu.Unlock()
}

// FailLinkNext makes the next n Execute calls fail with a link error
// and drop the simulated connection.
func (a *Adapter) FailLinkNext(n int) {
	a.mu.Lock()
	a.linkFailures = n
	a.mu.Unlock()
}

// TimeoutNext makes the next n Execute calls fail with a timeout
// classification without touching the link.
func (a *Adapter) TimeoutNext(n int) {
	a.mu.Lock()
	a.timeoutFailures = n
	a.mu.Unlock()
}

// Trace returns a copy of the executed-operation log, in dispatch
// order.
func (a *Adapter) Trace() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.trace))
	copy(out, a.trace)
	return out
}

// ConnectAttempts counts Connect calls, successful or not.
func (a *Adapter) ConnectAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectAttempts
}

// Value reads the simulated register directly.
func (a *Adapter) Value() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// device.Adapter implementation.

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Connect(ctx context.Context, opts device.ConnectOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectAttempts++
	if a.failConnect {
		return model.LinkError(fmt.Errorf("mock: connect refused for %q", opts.Address))
	}
	a.connected = true
	return nil
}

func (a *Adapter) Disconnect(context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Ping(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pings++
	if !a.connected {
		return model.LinkError(fmt.Errorf("mock: link down"))
	}
	return nil
}

func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) Execute(ctx context.Context, kind device.Kind, params device.Params) (device.Result, error) {
	a.mu.Lock()
	delay := a.execDelay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, model.TimeoutError(ctx.Err())
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.linkFailures > 0 {
		a.linkFailures--
		a.connected = false
		return nil, model.LinkError(fmt.Errorf("mock: link dropped"))
	}
	if a.timeoutFailures > 0 {
		a.timeoutFailures--
		return nil, model.TimeoutError(fmt.Errorf("mock: device did not answer"))
	}
	if !a.connected {
		return nil, model.LinkError(fmt.Errorf("mock: not connected"))
	}

	switch kind {
	case KindSet:
		p, ok := params.(SetParams)
		if !ok {
			return nil, fmt.Errorf("%w: set needs SetParams", model.ErrInvalidParameter)
		}
		a.value = p.Value
		a.trace = append(a.trace, fmt.Sprintf("SET(%d)", p.Value))
		return ValueResult{Value: p.Value}, nil
	case KindGet:
		a.trace = append(a.trace, "GET")
		return ValueResult{Value: a.value}, nil
	case KindEcho:
		p, ok := params.(EchoParams)
		if !ok {
			return nil, fmt.Errorf("%w: echo needs EchoParams", model.ErrInvalidParameter)
		}
		a.trace = append(a.trace, fmt.Sprintf("ECHO(%s)", p.Payload))
		return EchoResult{Payload: p.Payload}, nil
	case KindFail:
		a.trace = append(a.trace, "FAIL")
		return nil, model.CommandError(fmt.Errorf("mock: commanded to fail"))
	default:
		return nil, fmt.Errorf("%w: kind %d", model.ErrInvalidParameter, kind)
	}
}

func (a *Adapter) Kinds() []device.Kind {
	out := make([]device.Kind, 0, kindCount)
	for k := device.Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (a *Adapter) KindName(kind device.Kind) string {
	if kind < 0 || kind >= kindCount {
		return "unknown"
	}
	return kindNames[kind]
}

func (a *Adapter) Cooldown(kind device.Kind) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldowns[kind]
}

// DecodeParams lets the HTTP surface drive the mock.
func (a *Adapter) DecodeParams(kind device.Kind, raw json.RawMessage) (device.Params, error) {
	switch kind {
	case KindSet:
		var p SetParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidParameter, err)
		}
		return p, nil
	case KindEcho:
		var p EchoParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidParameter, err)
		}
		return p, nil
	case KindGet, KindFail:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", model.ErrInvalidParameter, kind)
	}
}

// Compile-time interface checks
var (
	_ device.Adapter       = (*Adapter)(nil)
	_ device.ParamsDecoder = (*Adapter)(nil)
)
