package bpm

import "sync"

// AGCMode selects the automatic gain control.
type AGCMode int

const (
	AGCManual AGCMode = iota
	AGCOn
)

func (m AGCMode) String() string {
	if m == AGCOn {
		return "AGC on"
	}
	return "Manual"
}

// SwitchMode selects whether the input crossbar rotates.
type SwitchMode int

const (
	SwitchesManual SwitchMode = iota
	SwitchesAuto
)

func (m SwitchMode) String() string {
	if m == SwitchesAuto {
		return "Auto"
	}
	return "Manual"
}

// DSCMode selects digital signal conditioning.
type DSCMode int

const (
	DSCFixed DSCMode = iota
	DSCUnity
	DSCAutomatic
)

func (m DSCMode) String() string {
	switch m {
	case DSCFixed:
		return "Fixed gains"
	case DSCUnity:
		return "Unity gains"
	case DSCAutomatic:
		return "Automatic"
	default:
		return "Unknown"
	}
}

// FirstTurnMode enables the first turn capture path.
type FirstTurnMode int

const (
	FirstTurnDisabled FirstTurnMode = iota
	FirstTurnEnabled
)

func (m FirstTurnMode) String() string {
	if m == FirstTurnEnabled {
		return "Enabled"
	}
	return "Disabled"
}

// InternalState is the configurable part of a BPM.
type InternalState struct {
	AGC         AGCMode       `json:"agc"`
	Delta       float64       `json:"delta"`
	Offset      float64       `json:"offset"`
	Switches    SwitchMode    `json:"switches"`
	SwitchState int           `json:"switch_val"`
	Attenuation float64       `json:"attenuation"`
	DSC         DSCMode       `json:"dsc"`
	FirstTurn   FirstTurnMode `json:"first_turn"`
	// KX and KY are read back only; zero leaves the calibration untouched.
	KX float64 `json:"kx"`
	KY float64 `json:"ky"`
	// OffsetWaveform is the full per-step offset table of Libera devices.
	OffsetWaveform []float64 `json:"-"`
}

// DefaultState is the normal running configuration.
func DefaultState() InternalState {
	return InternalState{
		AGC:         AGCOn,
		Switches:    SwitchesAuto,
		SwitchState: 3,
		DSC:         DSCAutomatic,
		FirstTurn:   FirstTurnDisabled,
	}
}

// MeasurementState is the configuration most sequences measure with: no
// AGC, switches held straight through, unity gains and the given internal
// attenuation.
func MeasurementState(info Info, attenuation float64) InternalState {
	s := DefaultState()
	s.AGC = AGCManual
	s.Switches = SwitchesManual
	s.SwitchState = info.SwitchStraight
	s.Attenuation = attenuation
	s.DSC = DSCUnity
	return s
}

// memState keeps the internal state of backends that cannot configure it
// on the hardware.
type memState struct {
	mu    sync.Mutex
	state InternalState
}

func newMemState(switchStraight int) *memState {
	s := DefaultState()
	s.SwitchState = switchStraight
	return &memState{state: s}
}

func (m *memState) get() InternalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *memState) set(s InternalState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *memState) setAttenuation(db float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Attenuation = db
}
