package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TLS points at the server certificate pair. Both paths must be set
// together.
type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLS) Enabled() bool { return t.CertFile != "" || t.KeyFile != "" }

// Logging selects the console level and an optional capture file.
type Logging struct {
	// Level is debug, info, warn, or error. Empty means info.
	Level string `yaml:"level"`

	// CaptureFile, when set, records every protocol event to a
	// replayable capture file.
	CaptureFile string `yaml:"capture_file"`
}

// Layout declares one assignable layout in the server file.
type Layout struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Content map[string]any `yaml:"content"`
}

// ServerDiscovery configures the server's announce surfaces.
type ServerDiscovery struct {
	// Enabled starts the UDP broadcast responder.
	Enabled bool `yaml:"enabled"`

	// ProbePort overrides the responder UDP port.
	ProbePort int `yaml:"probe_port"`

	// MDNS additionally advertises over mDNS.
	MDNS bool `yaml:"mdns"`

	// AdvertiseURL is an opaque endpoint hint for clients.
	AdvertiseURL string `yaml:"advertise_url"`
}

// Server is the daemon configuration file.
type Server struct {
	// Name identifies this server to discovering clients.
	Name string `yaml:"name"`

	// Listen is the TCP listen address, e.g. ":9570".
	Listen string `yaml:"listen"`

	// DataDir holds the identity database.
	DataDir string `yaml:"data_dir"`

	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`
	SweepInterval    Duration `yaml:"sweep_interval"`
	CommandTimeout   Duration `yaml:"command_timeout"`
	TokenTTL         Duration `yaml:"token_ttl"`

	Discovery ServerDiscovery `yaml:"discovery"`
	TLS       TLS             `yaml:"tls"`
	Logging   Logging         `yaml:"logging"`

	Layouts []Layout `yaml:"layouts"`
}

// DeviceDiscovery tunes the agent's server search.
type DeviceDiscovery struct {
	ProbePort   int      `yaml:"probe_port"`
	Rounds      int      `yaml:"rounds"`
	RoundDelay  Duration `yaml:"round_delay"`
	ScanWindow  Duration `yaml:"scan_window"`
	DisableMDNS bool     `yaml:"disable_mdns"`
}

// Device is the agent configuration file.
type Device struct {
	// HardwareID is the stable device identity. Required.
	HardwareID string `yaml:"hardware_id"`

	Name     string `yaml:"name"`
	Model    string `yaml:"model"`
	Firmware string `yaml:"firmware"`

	// ServerName filters discovery to one server; empty accepts any.
	ServerName string `yaml:"server_name"`

	// ServerAddress pins a static host:port and skips discovery.
	ServerAddress string `yaml:"server_address"`

	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// DataDir persists the last working server endpoint.
	DataDir string `yaml:"data_dir"`

	Discovery DeviceDiscovery `yaml:"discovery"`
	Logging   Logging         `yaml:"logging"`
}

// ParseServer parses and validates a server configuration.
func ParseServer(data []byte) (*Server, error) {
	var cfg Server
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadServer reads and parses a server configuration file.
func LoadServer(path string) (*Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}
	return ParseServer(data)
}

func (c *Server) validate() error {
	if c.TLS.Enabled() && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	seen := make(map[string]struct{}, len(c.Layouts))
	for _, l := range c.Layouts {
		if l.ID == "" {
			return fmt.Errorf("layout without id")
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("duplicate layout id %q", l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	return nil
}

// ParseDevice parses and validates a device configuration.
func ParseDevice(data []byte) (*Device, error) {
	var cfg Device
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse device config: %w", err)
	}
	if cfg.HardwareID == "" {
		return nil, fmt.Errorf("hardware_id is required")
	}
	return &cfg, nil
}

// LoadDevice reads and parses a device configuration file.
func LoadDevice(path string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device config: %w", err)
	}
	return ParseDevice(data)
}
