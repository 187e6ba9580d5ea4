package potentiostat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// techniquePhase tracks where a running technique is in its lifecycle
// on the instrument.
type techniquePhase int

const (
	phaseIdle techniquePhase = iota
	phaseLoaded
	phaseRunning
	phaseDone
)

// techniqueRun drives one technique through its wire state machine:
// load the program, start it, poll progress, fetch the data block.
// It blocks for the whole run; the engine's worker is the only caller.
type techniqueRun struct {
	client *wireClient
	name   string
	args   string

	pollInterval time.Duration
	phase        techniquePhase
	progressPct  int
}

func newTechniqueRun(client *wireClient, name, args string, poll time.Duration) *techniqueRun {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &techniqueRun{
		client:       client,
		name:         name,
		args:         args,
		pollInterval: poll,
	}
}

// execute walks the phases and returns the raw data lines.
func (r *techniqueRun) execute(ctx context.Context) ([]string, error) {
	if err := r.load(); err != nil {
		return nil, err
	}
	if err := r.start(); err != nil {
		return nil, err
	}
	if err := r.waitDone(ctx); err != nil {
		// Best effort: leave the instrument idle for the next command.
		_, _ = r.client.exchange("TECH:ABORT")
		return nil, err
	}
	return r.client.exchangeBlock("TECH:DATA?")
}

func (r *techniqueRun) load() error {
	if _, err := r.client.exchange(fmt.Sprintf("TECH:LOAD %s %s", r.name, r.args)); err != nil {
		return fmt.Errorf("load %s: %w", r.name, err)
	}
	r.phase = phaseLoaded
	return nil
}

func (r *techniqueRun) start() error {
	if r.phase != phaseLoaded {
		return fmt.Errorf("%w: start before load", model.ErrInvalidState)
	}
	if _, err := r.client.exchange("TECH:START"); err != nil {
		return fmt.Errorf("start %s: %w", r.name, err)
	}
	r.phase = phaseRunning
	return nil
}

// waitDone polls TECH:STATUS? until the instrument reports completion.
// Status replies: "RUNNING <pct>", "DONE", "ERROR <message>".
func (r *techniqueRun) waitDone(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return model.TimeoutError(ctx.Err())
		case <-time.After(r.pollInterval):
		}

		status, err := r.client.exchange("TECH:STATUS?")
		if err != nil {
			return err
		}

		fields := strings.Fields(status)
		if len(fields) == 0 {
			return model.CommandError(fmt.Errorf("empty status for %s", r.name))
		}
		switch fields[0] {
		case "RUNNING":
			if len(fields) > 1 {
				if pct, err := strconv.Atoi(fields[1]); err == nil {
					r.progressPct = pct
				}
			}
		case "DONE":
			r.phase = phaseDone
			r.progressPct = 100
			return nil
		case "ERROR":
			r.phase = phaseDone
			return model.CommandError(fmt.Errorf("technique %s: %s", r.name, strings.Join(fields[1:], " ")))
		default:
			return model.CommandError(fmt.Errorf("technique %s: unknown status %q", r.name, status))
		}
	}
}

// parseOCVData turns "offset_ms volts" lines into samples.
func parseOCVData(lines []string) (OCVResult, error) {
	res := OCVResult{Samples: make([]Sample, 0, len(lines))}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return OCVResult{}, model.CommandError(fmt.Errorf("ocv: bad data line %q", line))
		}
		off, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return OCVResult{}, model.CommandError(fmt.Errorf("ocv: bad offset %q", fields[0]))
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return OCVResult{}, model.CommandError(fmt.Errorf("ocv: bad voltage %q", fields[1]))
		}
		res.Samples = append(res.Samples, Sample{OffsetMS: off, Volts: v})
	}
	return res, nil
}

// parseImpedanceData turns "freq_hz re_z im_z" lines into sweep points.
func parseImpedanceData(lines []string) (ImpedanceResult, error) {
	res := ImpedanceResult{Points: make([]ImpedancePoint, 0, len(lines))}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return ImpedanceResult{}, model.CommandError(fmt.Errorf("impedance: bad data line %q", line))
		}
		var vals [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return ImpedanceResult{}, model.CommandError(fmt.Errorf("impedance: bad number %q", f))
			}
			vals[i] = v
		}
		res.Points = append(res.Points, ImpedancePoint{FreqHz: vals[0], ReZ: vals[1], ImZ: vals[2]})
	}
	return res, nil
}
