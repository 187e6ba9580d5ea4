// Package potentiostat is the worked instrument driver: an
// electrochemistry workstation speaking a synchronous line protocol
// over TCP. It exists to exercise the full adapter contract, technique
// state machine included; a bench deployment would swap in the vendor's
// real protocol inside wireClient.
package potentiostat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/webitel/device-gateway-service/internal/adapter/device"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// cooldowns give the analog front-end settling time after operations
// that disturb the cell.
var cooldowns = [kindCount]time.Duration{
	KindSetCell:      200 * time.Millisecond,
	KindRunOCV:       500 * time.Millisecond,
	KindRunImpedance: time.Second,
}

type Adapter struct {
	name   string
	client *wireClient
}

func New(name string) *Adapter {
	if name == "" {
		name = "potentiostat"
	}
	return &Adapter{
		name:   name,
		client: newWireClient(5 * time.Second),
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Connect(ctx context.Context, opts device.ConnectOptions) error {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := a.client.dial(ctx, opts.Address, timeout); err != nil {
		return err
	}
	// A connect is only good once the instrument answers.
	if _, err := a.client.exchange("*IDN?"); err != nil {
		a.client.close()
		return model.LinkError(err)
	}
	return nil
}

func (a *Adapter) Disconnect(context.Context) error {
	a.client.close()
	return nil
}

func (a *Adapter) Ping(context.Context) error {
	if _, err := a.client.exchange("*IDN?"); err != nil {
		return model.LinkError(err)
	}
	return nil
}

func (a *Adapter) Connected() bool { return a.client.connected() }

func (a *Adapter) Execute(ctx context.Context, kind device.Kind, params device.Params) (device.Result, error) {
	switch kind {
	case KindIdentify:
		return a.identify()
	case KindSetCell:
		p, ok := params.(SetCellParams)
		if !ok {
			return nil, fmt.Errorf("%w: set_cell needs SetCellParams", model.ErrInvalidParameter)
		}
		return a.setCell(p)
	case KindReadPotential:
		return a.readPotential()
	case KindRunOCV:
		p, ok := params.(OCVParams)
		if !ok {
			return nil, fmt.Errorf("%w: run_ocv needs OCVParams", model.ErrInvalidParameter)
		}
		return a.runOCV(ctx, p)
	case KindRunImpedance:
		p, ok := params.(ImpedanceParams)
		if !ok {
			return nil, fmt.Errorf("%w: run_impedance needs ImpedanceParams", model.ErrInvalidParameter)
		}
		return a.runImpedance(ctx, p)
	default:
		return nil, fmt.Errorf("%w: kind %d", model.ErrInvalidParameter, kind)
	}
}

func (a *Adapter) identify() (device.Result, error) {
	payload, err := a.client.exchange("*IDN?")
	if err != nil {
		return nil, err
	}
	// Vendor format: "<model>,<serial>,<firmware>"
	parts := strings.SplitN(payload, ",", 3)
	res := IdentifyResult{Model: parts[0]}
	if len(parts) > 1 {
		res.Serial = parts[1]
	}
	if len(parts) > 2 {
		res.Firmware = parts[2]
	}
	return res, nil
}

func (a *Adapter) setCell(p SetCellParams) (device.Result, error) {
	state := "OFF"
	if p.Enabled {
		state = "ON"
	}
	if _, err := a.client.exchange("CELL " + state); err != nil {
		return nil, err
	}
	return AckResult{}, nil
}

func (a *Adapter) readPotential() (device.Result, error) {
	payload, err := a.client.exchange("MEAS:POT?")
	if err != nil {
		return nil, err
	}
	var volts float64
	if _, err := fmt.Sscanf(payload, "%f", &volts); err != nil {
		return nil, model.CommandError(fmt.Errorf("potential: unparseable reading %q", payload))
	}
	return PotentialResult{Volts: volts}, nil
}

func (a *Adapter) runOCV(ctx context.Context, p OCVParams) (device.Result, error) {
	if p.Duration <= 0 || p.SampleInterval <= 0 {
		return nil, fmt.Errorf("%w: ocv needs positive duration and interval", model.ErrInvalidParameter)
	}
	args := fmt.Sprintf("%d %d", p.Duration.Milliseconds(), p.SampleInterval.Milliseconds())
	run := newTechniqueRun(a.client, "OCV", args, p.SampleInterval)
	lines, err := run.execute(ctx)
	if err != nil {
		return nil, err
	}
	return parseOCVData(lines)
}

func (a *Adapter) runImpedance(ctx context.Context, p ImpedanceParams) (device.Result, error) {
	if p.StartFreqHz <= 0 || p.EndFreqHz <= 0 || p.PointsPerDecade <= 0 {
		return nil, fmt.Errorf("%w: impedance needs positive frequencies and density", model.ErrInvalidParameter)
	}
	args := fmt.Sprintf("%g %g %d %g", p.StartFreqHz, p.EndFreqHz, p.PointsPerDecade, p.AmplitudeMV)
	run := newTechniqueRun(a.client, "PEIS", args, 0)
	lines, err := run.execute(ctx)
	if err != nil {
		return nil, err
	}
	return parseImpedanceData(lines)
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
	if kind < 0 || kind >= kindCount {
		return 0
	}
	return cooldowns[kind]
}

func (a *Adapter) DecodeParams(kind device.Kind, raw json.RawMessage) (device.Params, error) {
	decode := func(into device.Params) (device.Params, error) {
		if err := json.Unmarshal(raw, into); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidParameter, err)
		}
		return into, nil
	}
	switch kind {
	case KindIdentify, KindReadPotential:
		return nil, nil
	case KindSetCell:
		p := &SetCellParams{}
		res, err := decode(p)
		if err != nil {
			return nil, err
		}
		return *res.(*SetCellParams), nil
	case KindRunOCV:
		p := &OCVParams{}
		res, err := decode(p)
		if err != nil {
			return nil, err
		}
		return *res.(*OCVParams), nil
	case KindRunImpedance:
		p := &ImpedanceParams{}
		res, err := decode(p)
		if err != nil {
			return nil, err
		}
		return *res.(*ImpedanceParams), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", model.ErrInvalidParameter, kind)
	}
}

// Compile-time interface checks
var (
	_ device.Adapter       = (*Adapter)(nil)
	_ device.ParamsDecoder = (*Adapter)(nil)
)
