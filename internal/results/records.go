package results

import (
	"time"

	"github.com/google/uuid"

	"github.com/rjboer/bpmtest/internal/bpm"
)

// Record file names inside a run directory.
const (
	FileInitialState      = "initial_BPM_state.json"
	FileADCBitCheck       = "ADC_bit_check_data.json"
	FileADCIntAttenSweep  = "ADC_int_atten_sweep_data.json"
	FileIntAttenSweep     = "int_atten_sweep_data.json"
	FilePowerDependence   = "beam_power_dependence_data.json"
	FileFixedFillPattern  = "fixed_voltage_amplitude_fill_pattern_data.json"
	FileScaledFillPattern = "scaled_voltage_amplitude_fill_pattern_data.json"
	FileRasterScan        = "beam_position_raster_scan_data.json"
	FileAttenPermutation  = "beam_position_attenuation_permutation_data.json"
	FileNoise             = "noise_test_data.json"
)

// Header is shared by every sequence record.
type Header struct {
	TestName     string         `json:"test_name"`
	RFID         string         `json:"rf_id"`
	BPMID        string         `json:"bpm_id"`
	AttenID      string         `json:"prog_atten_id"`
	GateID       string         `json:"gate_id,omitempty"`
	Frequency    float64        `json:"frequency"`
	SettlingTime float64        `json:"settling_time"`
	AGC          bpm.AGCMode    `json:"bpm_agc"`
	Switching    bpm.SwitchMode `json:"bpm_switching"`
	DSC          bpm.DSCMode    `json:"bpm_dsc"`
	Attenuation  float64        `json:"bpm_attenuation"`
}

// SetState copies the BPM configuration a sequence measured with.
func (h *Header) SetState(s bpm.InternalState) {
	h.AGC = s.AGC
	h.Switching = s.Switches
	h.DSC = s.DSC
	h.Attenuation = s.Attenuation
}

// Trace is one channel of slow acquisition data.
type Trace struct {
	Times []float64 `json:"times"`
	Data  []float64 `json:"data"`
}

// SASet holds slow acquisition data keyed by button name A to D.
type SASet map[string]Trace

// SAFromWaveform splits a four channel capture into an SASet.
func SAFromWaveform(w bpm.Waveform) SASet {
	out := make(SASet, len(w.Channels))
	for i, name := range []string{"A", "B", "C", "D"} {
		out[name] = Trace{Times: w.Times, Data: w.Channels[i]}
	}
	return out
}

// InitialState records the bench and the BPM configuration found before
// the run touched anything.
type InitialState struct {
	RunID     string `json:"run_id"`
	EpicsID   string `json:"epics_id"`
	MAC       string `json:"mac_address"`
	BPMID     string `json:"bpm_id"`
	RFID      string `json:"rf_id"`
	AttenID   string `json:"prog_atten_id"`
	GateID    string `json:"gate_id"`
	TriggerID string `json:"trigger_id"`
	bpm.InternalState
	// Spec is the performance specification the report draws limits from.
	Spec    bpm.PerformanceSpec `json:"performance_spec"`
	Created time.Time           `json:"created"`
}

// NewInitialState stamps a fresh run id and the creation time.
func NewInitialState(created time.Time) InitialState {
	return InitialState{RunID: uuid.NewString(), Created: created}
}

// ADCBitCheck is written by the ADC bit check.
type ADCBitCheck struct {
	Header
	NBits int         `json:"n_bits"`
	NADC  int         `json:"n_adc"`
	Times []float64   `json:"time"`
	Data  [][]float64 `json:"data"`
	// DataStd is the spread of every bit, indexed [adc][bit].
	DataStd [][]float64 `json:"data_std"`
}

// ADCIntAttenSweep is written by the ADC internal attenuator sweep.
type ADCIntAttenSweep struct {
	Header
	Attenuation   []float64 `json:"attenuation"`
	OutputPower   float64   `json:"output_power"`
	BPMInputPower []float64 `json:"bpm_input_power"`
	NBits         int       `json:"n_bits"`
	NADC          int       `json:"n_adc"`
	ADCStep       float64   `json:"adc_step"`
	// Data is indexed [level][adc][sample], in units of ADCStep.
	Data [][][]float64 `json:"data"`
}

// IntAttenSweep is written by the internal attenuator sweep.
type IntAttenSweep struct {
	Header
	OutputPower   []float64 `json:"output_power"`
	BPMInputPower []float64 `json:"bpm_input_power"`
	NBits         int       `json:"n_bits"`
	NADC          int       `json:"n_adc"`
	Data          []SASet   `json:"data"`
	AdjBefore     []SASet   `json:"adj_before"`
	AdjAfter      []SASet   `json:"adj_after"`
}

// PowerDependence is written by the beam power dependence sequence.
type PowerDependence struct {
	Header
	PowerLevels []float64   `json:"power_levels"`
	OutputPower []float64   `json:"output_power"`
	InputPower  []float64   `json:"input_power"`
	Current     []float64   `json:"current"`
	XPosRaw     [][]float64 `json:"x_pos_raw"`
	YPosRaw     [][]float64 `json:"y_pos_raw"`
	XPosMean    []float64   `json:"x_pos_mean"`
	YPosMean    []float64   `json:"y_pos_mean"`
	XPosStd     []float64   `json:"x_pos_std"`
	YPosStd     []float64   `json:"y_pos_std"`
	ADCSum      []float64   `json:"adc_sum"`
}

// FillPattern is written by both fill pattern sequences. Attenuation is
// only present for the scaled variant.
type FillPattern struct {
	Header
	DutyCycles  []float64   `json:"duty_cycles"`
	MaxPower    float64     `json:"max_power"`
	PulsePeriod float64     `json:"pulse_period"`
	Attenuation []float64   `json:"attenuation,omitempty"`
	OutputPower []float64   `json:"output_power"`
	InputPower  []float64   `json:"input_power"`
	Current     []float64   `json:"current"`
	XPosRaw     [][]float64 `json:"x_pos_raw"`
	YPosRaw     [][]float64 `json:"y_pos_raw"`
	XPosMean    []float64   `json:"x_pos_mean"`
	YPosMean    []float64   `json:"y_pos_mean"`
	XPosStd     []float64   `json:"x_pos_std"`
	YPosStd     []float64   `json:"y_pos_std"`
	ADCSum      []float64   `json:"adc_sum"`
}

// RasterScan is written by the equidistant grid raster scan.
type RasterScan struct {
	Header
	NominalAttenuation float64      `json:"nominal_attenuation"`
	XPoints            int          `json:"x_points"`
	YPoints            int          `json:"y_points"`
	Samples            int          `json:"number_of_samples"`
	MeasuredX          []float64    `json:"measured_x"`
	MeasuredY          []float64    `json:"measured_y"`
	PredictedX         []float64    `json:"predicted_x"`
	PredictedY         []float64    `json:"predicted_y"`
	Attenuations       [][4]float64 `json:"attenuations"`
}

// AttenPermutation is written by the attenuation permutation sequence.
type AttenPermutation struct {
	Header
	RFPower      float64      `json:"rf_power"`
	AttenMin     float64      `json:"attenuator_min"`
	AttenMax     float64      `json:"attenuator_max"`
	AttenSteps   int          `json:"attenuator_steps"`
	OutputPower  []float64    `json:"output_power"`
	MeasuredX    []float64    `json:"measured_x"`
	MeasuredY    []float64    `json:"measured_y"`
	PredictedX   []float64    `json:"predicted_x"`
	PredictedY   []float64    `json:"predicted_y"`
	Attenuations [][4]float64 `json:"attenuations"`
}

// Noise is written by the noise sequence. The baseline is taken with the
// RF off, the rest once per power level.
type Noise struct {
	Header
	PowerLevels   []float64   `json:"power_levels"`
	XTimeBaseline []float64   `json:"x_time_baseline"`
	XPosBaseline  []float64   `json:"x_pos_baseline"`
	YTimeBaseline []float64   `json:"y_time_baseline"`
	YPosBaseline  []float64   `json:"y_pos_baseline"`
	XTime         [][]float64 `json:"x_time"`
	XPos          [][]float64 `json:"x_pos"`
	YTime         [][]float64 `json:"y_time"`
	YPos          [][]float64 `json:"y_pos"`
	OutputPower   []float64   `json:"output_power"`
	InputPower    []float64   `json:"input_power"`
}
