package types

// TransportConfig selects and parameterizes the byte transport.
type TransportConfig struct {
	Kind    string `yaml:"kind"` // "serial" | "tcp"
	Port    string `yaml:"port"`
	Address string `yaml:"address"`
	Baud    int    `yaml:"baud"`
}

// FirmwareConfig carries the user's dialect hint, or "auto" to detect
// from the connect-time Welcome banner.
type FirmwareConfig struct {
	Hint string `yaml:"hint"`
}

// FlowConfig overrides the adapter's default receive-buffer capacity.
// Zero means "use the adapter default".
type FlowConfig struct {
	RxCapacity int `yaml:"rx_capacity"`
}

// PollConfig controls the Status Poller's real-time-byte interval.
type PollConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// TimeoutConfig controls the Watchdog's per-command deadline.
type TimeoutConfig struct {
	CommandMS int `yaml:"command_ms"`
}

// QueueConfig bounds the Streamer's inbound command queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// StreamConfig controls stream() behavior on a per-line Err.
type StreamConfig struct {
	HaltOnError bool `yaml:"halt_on_error"`
}

// MetricsConfig controls the optional Prometheus HTTP listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the listener
}

// Config is the fully resolved configuration surface (spec.md §6), loaded
// from YAML and overridable by CLI flags. Each top-level field is
// published individually on the Bus under config/<section> so the
// Session never imports the config loader directly.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Firmware  FirmwareConfig  `yaml:"firmware"`
	Flow      FlowConfig      `yaml:"flow"`
	Poll      PollConfig      `yaml:"poll"`
	Timeout   TimeoutConfig   `yaml:"timeout"`
	Queue     QueueConfig     `yaml:"queue"`
	Stream    StreamConfig    `yaml:"stream"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Defaults returns the configuration spec.md §6 names as defaults, before
// any YAML file or CLI flag is applied.
func Defaults() Config {
	return Config{
		Transport: TransportConfig{Kind: "serial", Baud: 115200},
		Firmware:  FirmwareConfig{Hint: "auto"},
		Flow:      FlowConfig{RxCapacity: 0},
		Poll:      PollConfig{IntervalMS: 200},
		Timeout:   TimeoutConfig{CommandMS: 10000},
		Queue:     QueueConfig{Capacity: 1024},
		Stream:    StreamConfig{HaltOnError: true},
		Metrics:   MetricsConfig{Listen: ""},
	}
}
