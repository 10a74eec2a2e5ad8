package battery

import (
	"math"
	"time"

	"github.com/teslashibe/go-volt/pkg/protocol"
	"github.com/teslashibe/go-volt/pkg/stress"
)

// Level bounds.
const (
	MinLevel = 0.0
	MaxLevel = 100.0
)

var statusMessages = map[protocol.Status]string{
	protocol.StatusIdle:       "Fully charged",
	protocol.StatusRecharging: "Recharging at home",
	protocol.StatusDraining:   "Draining while away",
	protocol.StatusCritical:   "Battery critical, time to head home",
}

// Message returns the fixed annotation for status.
func Message(status protocol.Status) string {
	return statusMessages[status]
}

// State is a consistent snapshot of the battery.
type State struct {
	Level            float64
	Status           protocol.Status
	StressMultiplier float64
	IsHome           bool
	Message          string
	ZoneChanged      bool

	Ticks     uint64
	UpdatedAt time.Time
}

// DefaultState is the state of a new or reset session.
func DefaultState() State {
	return State{
		Level:            MaxLevel,
		Status:           protocol.StatusIdle,
		StressMultiplier: stress.Neutral,
		IsHome:           true,
		Message:          Message(protocol.StatusIdle),
	}
}

// Wire converts the state into the snapshot sent to clients.
func (s State) Wire() protocol.EnergyState {
	return protocol.EnergyState{
		CurrentLevel:     round2(s.Level),
		Status:           s.Status,
		StressMultiplier: round2(s.StressMultiplier),
		IsHome:           s.IsHome,
		Message:          s.Message,
		ZoneChanged:      s.ZoneChanged,
	}
}

// StatusFor derives the status from the home flag and level.
func StatusFor(isHome bool, level, critical float64) protocol.Status {
	switch {
	case isHome && level >= MaxLevel:
		return protocol.StatusIdle
	case isHome:
		return protocol.StatusRecharging
	case level <= critical:
		return protocol.StatusCritical
	default:
		return protocol.StatusDraining
	}
}

func clampLevel(v float64) float64 {
	return math.Max(MinLevel, math.Min(v, MaxLevel))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
