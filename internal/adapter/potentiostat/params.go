package potentiostat

import (
	"time"

	"github.com/webitel/device-gateway-service/internal/adapter/device"
)

// SetCellParams switches the cell relay.
type SetCellParams struct {
	Enabled bool `json:"enabled"`
}

func (SetCellParams) CommandKind() device.Kind { return KindSetCell }
func (p SetCellParams) Clone() device.Params   { return p }

// OCVParams configures an open-circuit-voltage run: sample the cell
// potential at rest for Duration.
type OCVParams struct {
	Duration       time.Duration `json:"duration"`
	SampleInterval time.Duration `json:"sample_interval"`
}

func (OCVParams) CommandKind() device.Kind { return KindRunOCV }
func (p OCVParams) Clone() device.Params   { return p }

// ImpedanceParams configures an impedance-spectroscopy sweep from
// StartFreqHz down to EndFreqHz.
type ImpedanceParams struct {
	StartFreqHz     float64 `json:"start_freq_hz"`
	EndFreqHz       float64 `json:"end_freq_hz"`
	PointsPerDecade int     `json:"points_per_decade"`
	AmplitudeMV     float64 `json:"amplitude_mv"`
}

func (ImpedanceParams) CommandKind() device.Kind { return KindRunImpedance }
func (p ImpedanceParams) Clone() device.Params   { return p }

// IdentifyResult is the parsed *IDN? answer.
type IdentifyResult struct {
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

func (IdentifyResult) CommandKind() device.Kind { return KindIdentify }

// AckResult acknowledges a command with no payload of its own.
type AckResult struct{}

func (AckResult) CommandKind() device.Kind { return KindSetCell }

// PotentialResult is a single instantaneous reading.
type PotentialResult struct {
	Volts float64 `json:"volts"`
}

func (PotentialResult) CommandKind() device.Kind { return KindReadPotential }

// Sample is one timestamped voltage point of an OCV run.
type Sample struct {
	OffsetMS int64   `json:"offset_ms"`
	Volts    float64 `json:"volts"`
}

// OCVResult is the sampled open-circuit curve.
type OCVResult struct {
	Samples []Sample `json:"samples"`
}

func (OCVResult) CommandKind() device.Kind { return KindRunOCV }

// ImpedancePoint is one frequency of the sweep, as a complex impedance.
type ImpedancePoint struct {
	FreqHz float64 `json:"freq_hz"`
	ReZ    float64 `json:"re_z"`
	ImZ    float64 `json:"im_z"`
}

// ImpedanceResult is the full sweep.
type ImpedanceResult struct {
	Points []ImpedancePoint `json:"points"`
}

func (ImpedanceResult) CommandKind() device.Kind { return KindRunImpedance }
