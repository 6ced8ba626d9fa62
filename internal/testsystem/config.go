package testsystem

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/bpmtest/internal/hostinfo"
)

// Backend names accepted in the *_hw fields.
const (
	HWSimulated     = "Simulated"
	HWITech         = "ITechBL12HI"
	HWRigol         = "Rigol3030DSG"
	HWElectron      = "Electron"
	HWBrilliance    = "Brilliance"
	HWSparkER       = "SparkER"
	HWSparkERXR     = "SparkERXR"
	HWRC4DAT        = "MC_RC4DAT6G95"
	HWAgilent33220A = "Agilent33220A"
	HWNone          = ""
)

// DeviceConfig addresses one Telnet instrument.
type DeviceConfig struct {
	Address    string  `yaml:"address,omitempty"`
	Port       int     `yaml:"port,omitempty"`
	TimeoutSec float64 `yaml:"timeout_s,omitempty"`
	PowerLimit float64 `yaml:"power_limit,omitempty"`
}

// Addr joins the address with Port, or def when Port is unset.
func (d DeviceConfig) Addr(def int) string {
	port := d.Port
	if port == 0 {
		port = def
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// Timeout converts TimeoutSec; zero keeps the transport default.
func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec * float64(time.Second))
}

// BPMConfig selects the BPM under test.
type BPMConfig struct {
	DeviceConfig `yaml:",inline"`
	// EpicsID is the PV prefix of a Libera BPM.
	EpicsID string `yaml:"epics_id,omitempty"`
	// Database and DAQ build the SparkER-XR prefix <db>:signals:<daq>.
	Database    string `yaml:"database,omitempty"`
	DAQ         string `yaml:"daq,omitempty"`
	AutoTrigger bool   `yaml:"auto_trigger,omitempty"`
}

// Config is the declarative device selection persisted as YAML.
type Config struct {
	RFHW      string `yaml:"rf_hw"`
	BPMHW     string `yaml:"bpm_hw"`
	AttenHW   string `yaml:"atten_hw"`
	GateHW    string `yaml:"gate_hw"`
	TriggerHW string `yaml:"trigger_hw"`

	RF      DeviceConfig `yaml:"rf"`
	BPM     BPMConfig    `yaml:"bpm"`
	Atten   DeviceConfig `yaml:"atten"`
	Gate    DeviceConfig `yaml:"gate"`
	Trigger DeviceConfig `yaml:"trigger"`

	// SSH is used to read the BPM MAC address when arp has no entry.
	SSH hostinfo.SSHConfig `yaml:"ssh"`
	// ChannelLosses are the cable losses in dB from the RF source to
	// buttons A to D.
	ChannelLosses [4]float64 `yaml:"channel_losses"`
}

// DefaultLosses are the measured cable losses of the lab bench.
var DefaultLosses = [4]float64{16.55, 16.32, 16.40, 16.37}

// DefaultConfig is the lab bench: one BL12HI providing RF, gate and
// trigger, an RC4DAT attenuator and a Libera Electron.
func DefaultConfig() Config {
	return Config{
		RFHW:      HWITech,
		BPMHW:     HWElectron,
		AttenHW:   HWRC4DAT,
		GateHW:    HWITech,
		TriggerHW: HWITech,
		RF:        DeviceConfig{Address: "172.23.234.129", Port: 23, TimeoutSec: 20, PowerLimit: 10},
		Atten:     DeviceConfig{Address: "172.23.234.130", Port: 23, TimeoutSec: 10},
		Gate:      DeviceConfig{Address: "172.23.234.129", Port: 23, TimeoutSec: 20},
		Trigger:   DeviceConfig{Address: "172.23.234.129", Port: 23, TimeoutSec: 20},
		SSH:       hostinfo.SSHConfig{User: "root", Port: 22, Interface: "eth0"},

		ChannelLosses: DefaultLosses,
	}
}

// SimulatedConfig selects the simulated bench.
func SimulatedConfig() Config {
	return Config{
		RFHW:          HWSimulated,
		BPMHW:         HWSimulated,
		AttenHW:       HWSimulated,
		GateHW:        HWSimulated,
		TriggerHW:     HWSimulated,
		RF:            DeviceConfig{PowerLimit: -20},
		ChannelLosses: DefaultLosses,
	}
}

// LoadOrCreateConfig reads path, writing def there first when it does not exist.
func LoadOrCreateConfig(path string, def Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if saveErr := SaveConfig(path, def); saveErr != nil {
				return Config{}, saveErr
			}
			return def, nil
		}
		return Config{}, err
	}
	cfg := def
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
