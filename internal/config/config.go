package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSampleInterval = 5 * time.Second
	DefaultLEDHold        = time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultLogMaxSizeMB   = 1
	DefaultLogMaxBackups  = 5
)

// Known plugin types. The sensors, outputs and notify factories accept
// exactly these.
var (
	SensorTypes   = []string{"random", "raspi", "ds18b20", "htu21d", "bmp085", "dht22", "analogue", "raingauge", "prometheus", "gps"}
	OutputTypes   = []string{"print", "csv", "json", "prometheus", "mqtt", "kafka", "dashboard"}
	NotifierTypes = []string{"email", "sms", "webhook"}
)

// Config is the top-level configuration. Fields map 1:1 to airpi.example.yaml.
type Config struct {
	Sampling      Sampling          `yaml:"sampling"`
	LEDs          LEDs              `yaml:"leds"`
	Misc          Misc              `yaml:"misc"`
	Logging       Logging           `yaml:"logging"`
	Calibration   map[string]string `yaml:"calibration"`
	Limits        map[string]Limit  `yaml:"limits"`
	Sensors       []Plugin          `yaml:"sensors"`
	Outputs       []Output          `yaml:"outputs"`
	Notifications []Plugin          `yaml:"notifications"`
}

// Sampling holds the cadence settings.
type Sampling struct {
	// SampleInterval is the time between cycle starts.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// AverageInterval, when non-zero, averages readings over this period and
	// dispatches once per period. It must be at least twice SampleInterval.
	AverageInterval time.Duration `yaml:"average_interval"`

	// StopAfter ends the run after this many cycles. Zero runs forever.
	StopAfter int `yaml:"stop_after"`

	// Warmup reads sensors for this long before sampling starts.
	Warmup time.Duration `yaml:"warmup"`

	// WaitToStart aligns the first cycle to the top of a minute.
	WaitToStart bool `yaml:"wait_to_start"`
}

// AverageWindow is the number of cycles per averaged dispatch, or zero when
// averaging is off.
func (s Sampling) AverageWindow() int {
	if s.AverageInterval <= 0 || s.SampleInterval <= 0 {
		return 0
	}
	return int(s.AverageInterval / s.SampleInterval)
}

// LEDs configures the indicator lights. A zero pin means no light.
type LEDs struct {
	RedPin   int           `yaml:"red_pin"`
	GreenPin int           `yaml:"green_pin"`
	Success  string        `yaml:"success"`
	Failure  string        `yaml:"failure"`
	Hold     time.Duration `yaml:"hold"`
}

// Misc holds run-level settings that fit nowhere else.
type Misc struct {
	Operator    string `yaml:"operator"`
	PrintErrors bool   `yaml:"print_errors"`
}

// Logging configures the slog handler and the optional rotating log file.
type Logging struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: json | text.
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Limit is a threshold for one measurement name.
type Limit struct {
	Value float64 `yaml:"value"`
	Unit  string  `yaml:"unit"`
	Op    string  `yaml:"op"`
}

// Plugin is one sensor or notifier entry.
type Plugin struct {
	// Name labels the entry in logs; defaults to Type.
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled"`
	Params  Params `yaml:"params"`
}

// IsEnabled reports whether the entry is switched on. Entries are enabled
// unless they say otherwise.
func (p Plugin) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// Label is the name used in logs and errors.
func (p Plugin) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type
}

// Output is one output entry.
type Output struct {
	Plugin `yaml:",inline"`

	// Calibration sends calibrated rather than raw readings to this output.
	Calibration bool `yaml:"calibration"`
	// Limits marks readings that breach a configured limit.
	Limits bool `yaml:"limits"`
	// Metadata writes run metadata to this output at startup.
	Metadata bool `yaml:"metadata"`
	// Async decouples the output from the cycle through a bounded buffer.
	Async bool `yaml:"async"`
	// BufferSize bounds the async buffer.
	BufferSize int `yaml:"buffer_size"`
	// NeedsInternet skips the output at startup when there is no connectivity.
	NeedsInternet bool `yaml:"needs_internet"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a config document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Sampling: Sampling{SampleInterval: DefaultSampleInterval},
		LEDs: LEDs{
			Success: "all",
			Failure: "all",
			Hold:    DefaultLEDHold,
		},
		Misc: Misc{PrintErrors: true},
		Logging: Logging{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	s := cfg.Sampling
	if s.SampleInterval <= 0 {
		return fmt.Errorf("sampling.sample_interval must be positive")
	}
	if s.AverageInterval < 0 {
		return fmt.Errorf("sampling.average_interval must not be negative")
	}
	if s.AverageInterval > 0 && s.AverageWindow() < 2 {
		return fmt.Errorf("sampling.average_interval (%v) must be at least twice sample_interval (%v)",
			s.AverageInterval, s.SampleInterval)
	}
	if s.StopAfter < 0 {
		return fmt.Errorf("sampling.stop_after must not be negative")
	}
	if s.Warmup < 0 {
		return fmt.Errorf("sampling.warmup must not be negative")
	}

	switch cfg.LEDs.Success {
	case "all", "first":
	default:
		return fmt.Errorf("leds.success: unknown policy %q", cfg.LEDs.Success)
	}
	switch cfg.LEDs.Failure {
	case "all", "first", "constant":
	default:
		return fmt.Errorf("leds.failure: unknown policy %q", cfg.LEDs.Failure)
	}
	if cfg.LEDs.RedPin < 0 || cfg.LEDs.GreenPin < 0 {
		return fmt.Errorf("leds: pin numbers must not be negative")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}

	for name, l := range cfg.Limits {
		switch l.Op {
		case "", ">", ">=", "<", "<=", "==":
		default:
			return fmt.Errorf("limits.%s: unknown operator %q", name, l.Op)
		}
	}

	var sensors, locations int
	for i, p := range cfg.Sensors {
		if err := checkPlugin("sensors", i, p.Type, SensorTypes); err != nil {
			return err
		}
		if !p.IsEnabled() {
			continue
		}
		sensors++
		if p.Type == "gps" {
			locations++
		}
	}
	if sensors == 0 {
		return fmt.Errorf("at least one enabled sensor is required")
	}
	if locations > 1 {
		return fmt.Errorf("at most one gps sensor may be enabled, found %d", locations)
	}

	var outputs int
	for i, o := range cfg.Outputs {
		if err := checkPlugin("outputs", i, o.Type, OutputTypes); err != nil {
			return err
		}
		if o.BufferSize < 0 {
			return fmt.Errorf("outputs[%d] %q: buffer_size must not be negative", i, o.Label())
		}
		if o.IsEnabled() {
			outputs++
		}
	}
	if outputs == 0 {
		return fmt.Errorf("at least one enabled output is required")
	}

	for i, n := range cfg.Notifications {
		if err := checkPlugin("notifications", i, n.Type, NotifierTypes); err != nil {
			return err
		}
	}
	return nil
}

func checkPlugin(section string, i int, typ string, known []string) error {
	if typ == "" {
		return fmt.Errorf("%s[%d]: type is required", section, i)
	}
	for _, k := range known {
		if typ == k {
			return nil
		}
	}
	return fmt.Errorf("%s[%d]: unknown type %q", section, i, typ)
}
