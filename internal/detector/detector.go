// Package detector implements the silence and dead air state machine.
//
// The machine is driven once per tick with the current and previous peak
// readings in dBFS. Two debounce counters track the silence and no-dynamic
// conditions independently; a fire from either starts a shared grace period
// during which neither condition is evaluated.
package detector

import "math"

// Kind identifies what caused a fire.
type Kind string

// Fire kinds.
const (
	KindSilence   Kind = "silence"
	KindNoDynamic Kind = "no_dynamic"
	// KindNoise and KindDynamic replace the two kinds above when the
	// machine runs inverted.
	KindNoise   Kind = "noise"
	KindDynamic Kind = "dynamic"
)

// Config holds the detection thresholds. Periods and grace are in ticks.
// A threshold of exactly zero disables that detector. A period of zero
// behaves like one: the first qualifying tick fires.
type Config struct {
	SilenceThresholdDB   float64
	SilencePeriod        int
	NoDynamicThresholdDB float64
	NoDynamicPeriod      int
	Grace                int

	// Invert fires on sustained signal above the silence threshold and on
	// sustained level changes at or above the no-dynamic threshold.
	Invert bool
}

// SilenceEnabled reports whether the silence detector is active.
func (c *Config) SilenceEnabled() bool {
	return c.SilenceThresholdDB != 0
}

// NoDynamicEnabled reports whether the no-dynamic detector is active.
func (c *Config) NoDynamicEnabled() bool {
	return c.NoDynamicThresholdDB != 0
}

// State is a snapshot of the machine counters.
type State struct {
	SilenceCount   int `json:"silence_count"`
	NoDynamicCount int `json:"no_dynamic_count"`
	GraceRemaining int `json:"grace_remaining"`
}

// InGrace reports whether evaluation is suspended.
func (s State) InGrace() bool {
	return s.GraceRemaining > 0
}

// Fires reports which detectors fired on a tick.
type Fires struct {
	Silence   bool
	NoDynamic bool
}

// Any reports whether at least one detector fired.
func (f Fires) Any() bool {
	return f.Silence || f.NoDynamic
}

// Machine is the detection state machine. It is not safe for concurrent use;
// the control loop owns it.
type Machine struct {
	cfg   Config
	state State
}

// New returns a machine in the evaluating state with zeroed counters.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Config returns the configuration the machine was built with.
func (m *Machine) Config() Config {
	return m.cfg
}

// State returns a copy of the current counters.
func (m *Machine) State() State {
	return m.state
}

// Kinds lists the fired kinds in evaluation order, silence first.
func (m *Machine) Kinds(f Fires) []Kind {
	var kinds []Kind
	if f.Silence {
		kinds = append(kinds, m.silenceKind())
	}
	if f.NoDynamic {
		kinds = append(kinds, m.noDynamicKind())
	}
	return kinds
}

// Tick advances the machine by one tick.
//
// While grace is pending the tick only counts grace down; counters are left
// untouched. Otherwise each enabled detector updates its counter and fires
// once the counter reaches its period. Grace is set once per tick even if
// both detectors fire.
func (m *Machine) Tick(current, previous float64) Fires {
	var fires Fires

	if m.state.GraceRemaining > 0 {
		m.state.GraceRemaining--
		return fires
	}

	if m.cfg.SilenceEnabled() {
		if m.silenceHolds(current) {
			m.state.SilenceCount++
		} else {
			m.state.SilenceCount = 0
		}
		if m.state.SilenceCount >= max(m.cfg.SilencePeriod, 1) {
			m.state.SilenceCount = 0
			fires.Silence = true
		}
	}

	if m.cfg.NoDynamicEnabled() {
		if m.noDynamicHolds(math.Abs(previous - current)) {
			m.state.NoDynamicCount++
		} else {
			m.state.NoDynamicCount = 0
		}
		if m.state.NoDynamicCount >= max(m.cfg.NoDynamicPeriod, 1) {
			m.state.NoDynamicCount = 0
			fires.NoDynamic = true
		}
	}

	if fires.Any() {
		m.state.GraceRemaining = m.cfg.Grace
	}
	return fires
}

func (m *Machine) silenceHolds(level float64) bool {
	if m.cfg.Invert {
		return level >= m.cfg.SilenceThresholdDB
	}
	return level < m.cfg.SilenceThresholdDB
}

func (m *Machine) noDynamicHolds(delta float64) bool {
	if m.cfg.Invert {
		return delta >= m.cfg.NoDynamicThresholdDB
	}
	return delta < m.cfg.NoDynamicThresholdDB
}

func (m *Machine) silenceKind() Kind {
	if m.cfg.Invert {
		return KindNoise
	}
	return KindSilence
}

func (m *Machine) noDynamicKind() Kind {
	if m.cfg.Invert {
		return KindDynamic
	}
	return KindNoDynamic
}
