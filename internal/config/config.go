// Package config loads the downlink daemon's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/downlink/internal/network"
	"github.com/banshee-data/downlink/internal/serialmux"
	"github.com/banshee-data/downlink/internal/sim"
	"github.com/banshee-data/downlink/internal/telemetry"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/downlink.example.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Transport types.
const (
	TransportNone   = "none"
	TransportSerial = "serial"
	TransportUDP    = "udp"
)

// Defaults applied by Normalise.
const (
	DefaultSystemID      = 1
	DefaultComponentID   = 1 // MAV_COMP_ID_AUTOPILOT1
	DefaultTickInterval  = 10 * time.Millisecond
	DefaultFramePeriodUs = 20000
	DefaultUDPLocal      = ":14555"
	DefaultDebugListen   = "127.0.0.1:8080"
	DefaultSerialPort    = "/dev/ttyUSB0"
	DefaultSimRadiusM    = 200
	DefaultSimSpeedMPS   = 20
	DefaultSimGNSSDrop   = 10
)

var (
	ErrInvalidTransport = errors.New("invalid transport")
	ErrInvalidRate      = errors.New("invalid stream rate")
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrInvalidEncoder   = errors.New("invalid encoder option")
)

// Config is the root of the YAML file.
type Config struct {
	Identity     Identity          `yaml:"identity"`
	Transport    Transport         `yaml:"transport"`
	Encoder      Encoder           `yaml:"encoder"`
	TickInterval string            `yaml:"tick_interval"` // duration string like "10ms"
	Rates        map[string]uint16 `yaml:"rates"`         // group name -> Hz
	Paths        Paths             `yaml:"paths"`
	Listen       Listen            `yaml:"listen"`
	Sim          Sim               `yaml:"sim"`
}

type Identity struct {
	SystemID    uint8 `yaml:"system_id"`
	ComponentID uint8 `yaml:"component_id"`
}

type Transport struct {
	Type   string `yaml:"type"`
	Serial Serial `yaml:"serial"`
	UDP    UDP    `yaml:"udp"`
}

type Serial struct {
	Port                  string `yaml:"port"`
	serialmux.PortOptions `yaml:",inline"`
}

type UDP struct {
	Local     string `yaml:"local"`
	Remote    string `yaml:"remote"`
	RcvBuf    int    `yaml:"rcvbuf"`
	QueueSize int    `yaml:"queue_size"`
}

// Encoder mirrors telemetry.Config. Enum values are the numeric MAVLink ids.
type Encoder struct {
	RawInceptors       bool   `yaml:"raw_inceptors"`
	RawEffectors       bool   `yaml:"raw_effectors"`
	ThrottleChannel    int    `yaml:"throttle_channel"`
	UseThrottlePercent bool   `yaml:"use_throttle_percent"`
	FramePeriodUs      uint32 `yaml:"frame_period_us"`
	ServoPort          uint8  `yaml:"servo_port"`
	BatteryID          uint8  `yaml:"battery_id"`
	BatteryFunction    uint8  `yaml:"battery_function"`
	BatteryType        uint8  `yaml:"battery_type"`
	VehicleType        uint8  `yaml:"vehicle_type"`
}

type Paths struct {
	LinkLog string `yaml:"link_log"`
	Capture string `yaml:"capture"`
	LogFile string `yaml:"log_file"`
}

type Listen struct {
	Debug  string `yaml:"debug"`
	Health string `yaml:"health"`
}

// Sim configures the dev-mode producer.
type Sim struct {
	RadiusM  float64 `yaml:"radius_m"`
	SpeedMPS float64 `yaml:"speed_mps"`
	// GNSSDropEvery is in seconds; negative never drops.
	GNSSDropEvery int `yaml:"gnss_drop_every"`
}

// Load reads, normalises and validates a YAML config file.
// The file must have a .yaml or .yml extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, then normalises and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a normalised config for a dev run with no file.
func Default() *Config {
	var cfg Config
	cfg.Normalise()
	return &cfg
}

// Normalise fills unset fields with defaults.
func (c *Config) Normalise() {
	if c.Identity.SystemID == 0 {
		c.Identity.SystemID = DefaultSystemID
	}
	if c.Identity.ComponentID == 0 {
		c.Identity.ComponentID = DefaultComponentID
	}
	if c.Transport.Type == "" {
		c.Transport.Type = TransportNone
	}
	if c.Transport.Serial.Port == "" {
		c.Transport.Serial.Port = DefaultSerialPort
	}
	if c.Transport.UDP.Local == "" {
		c.Transport.UDP.Local = DefaultUDPLocal
	}
	if c.Encoder.FramePeriodUs == 0 {
		c.Encoder.FramePeriodUs = DefaultFramePeriodUs
	}
	if c.Encoder.VehicleType == 0 {
		c.Encoder.VehicleType = uint8(common.MAV_TYPE_FIXED_WING)
	}
	if c.TickInterval == "" {
		c.TickInterval = DefaultTickInterval.String()
	}
	if c.Listen.Debug == "" {
		c.Listen.Debug = DefaultDebugListen
	}
	if c.Sim.RadiusM == 0 {
		c.Sim.RadiusM = DefaultSimRadiusM
	}
	if c.Sim.SpeedMPS == 0 {
		c.Sim.SpeedMPS = DefaultSimSpeedMPS
	}
	if c.Sim.GNSSDropEvery == 0 {
		c.Sim.GNSSDropEvery = DefaultSimGNSSDrop
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	switch c.Transport.Type {
	case TransportNone, TransportUDP:
	case TransportSerial:
		if _, err := c.Transport.Serial.PortOptions.Normalise(); err != nil {
			return fmt.Errorf("%w: serial: %w", ErrInvalidTransport, err)
		}
	default:
		return fmt.Errorf("%w: %q (want serial, udp or none)", ErrInvalidTransport, c.Transport.Type)
	}
	if c.Transport.UDP.QueueSize < 0 {
		return fmt.Errorf("%w: udp queue_size must be non-negative, got %d", ErrInvalidTransport, c.Transport.UDP.QueueSize)
	}

	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		return fmt.Errorf("%w: tick_interval '%s': %w", ErrInvalidInterval, c.TickInterval, err)
	}
	if d <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive, got %s", ErrInvalidInterval, d)
	}

	if c.Encoder.ThrottleChannel < 0 || c.Encoder.ThrottleChannel >= telemetry.MaxInceptors {
		return fmt.Errorf("%w: throttle_channel must be in [0, %d), got %d",
			ErrInvalidEncoder, telemetry.MaxInceptors, c.Encoder.ThrottleChannel)
	}

	for name := range c.Rates {
		if _, err := telemetry.ParseGroup(name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRate, err)
		}
	}

	if c.Sim.RadiusM <= 0 || c.Sim.SpeedMPS <= 0 {
		return fmt.Errorf("sim radius_m and speed_mps must be positive, got %g and %g", c.Sim.RadiusM, c.Sim.SpeedMPS)
	}
	return nil
}

// Tick returns the scheduler tick interval.
func (c *Config) Tick() time.Duration {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil || d <= 0 {
		return DefaultTickInterval
	}
	return d
}

// TelemetryConfig returns the encoder configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	e := c.Encoder
	return telemetry.Config{
		SystemID:           c.Identity.SystemID,
		ComponentID:        c.Identity.ComponentID,
		RawInceptors:       e.RawInceptors,
		RawEffectors:       e.RawEffectors,
		ThrottleChannel:    e.ThrottleChannel,
		UseThrottlePercent: e.UseThrottlePercent,
		FramePeriodUs:      e.FramePeriodUs,
		ServoPort:          e.ServoPort,
		BatteryID:          e.BatteryID,
		BatteryFunction:    common.MAV_BATTERY_FUNCTION(e.BatteryFunction),
		BatteryType:        common.MAV_BATTERY_TYPE(e.BatteryType),
		VehicleType:        common.MAV_TYPE(e.VehicleType),
	}
}

// LinkConfig returns the UDP link configuration.
func (c *Config) LinkConfig() network.LinkConfig {
	u := c.Transport.UDP
	return network.LinkConfig{
		LocalAddr:  u.Local,
		RemoteAddr: u.Remote,
		RcvBuf:     u.RcvBuf,
		QueueSize:  u.QueueSize,
	}
}

// Rate is an initial stream rate request.
type Rate struct {
	Group telemetry.Group
	Hz    uint16
}

// InitialRates returns the configured rates ordered by group.
func (c *Config) InitialRates() []Rate {
	rates := make([]Rate, 0, len(c.Rates))
	for name, hz := range c.Rates {
		g, err := telemetry.ParseGroup(name)
		if err != nil {
			continue
		}
		rates = append(rates, Rate{Group: g, Hz: hz})
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i].Group < rates[j].Group })
	return rates
}

// Flight returns the dev-mode flight matching the encoder's raw modes.
func (c *Config) Flight() sim.Flight {
	f := sim.DefaultFlight
	f.RadiusM = c.Sim.RadiusM
	f.SpeedMPS = c.Sim.SpeedMPS
	f.GNSSDropEvery = c.Sim.GNSSDropEvery
	f.RawInceptors = c.Encoder.RawInceptors
	f.RawEffectors = c.Encoder.RawEffectors
	return f
}
