package battery

import (
	"time"

	"github.com/teslashibe/go-volt/pkg/geofence"
)

// Reading is a normalized sensor report held in the engine's cache until
// a newer one replaces it.
type Reading struct {
	Location    *geofence.Point // nil when the client sent no usable fix
	DeviceCount uint32
	HRV         *float64 // nil when no physiological signal
	HomeHint    *bool    // client-side geofence decision, if any
	Seq         uint64
	ReceivedAt  time.Time
}
