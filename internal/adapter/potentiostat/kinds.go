package potentiostat

import "github.com/webitel/device-gateway-service/internal/adapter/device"

// Command kinds of the potentiostat driver. Plain queries are cheap;
// the technique kinds run a multi-exchange state machine on the
// instrument and can take minutes.
const (
	KindIdentify device.Kind = iota
	KindSetCell
	KindReadPotential
	KindRunOCV
	KindRunImpedance
	kindCount
)

var kindNames = [kindCount]string{
	KindIdentify:      "identify",
	KindSetCell:       "set_cell",
	KindReadPotential: "read_potential",
	KindRunOCV:        "run_ocv",
	KindRunImpedance:  "run_impedance",
}
