package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/microbit-uart/internal/ble"
	"github.com/chaz8081/microbit-uart/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	BLE      BLEConfig      `yaml:"ble"`
	Commands []string       `yaml:"commands"`
	Readback ReadbackConfig `yaml:"readback"`
	LogLevel string         `yaml:"log_level"`
}

// BLEConfig holds the UART profile and scan settings.
type BLEConfig struct {
	ServiceUUID    string   `yaml:"service_uuid"`
	NotifyCharUUID string   `yaml:"notify_char_uuid"` // micro:bit TX
	WriteCharUUID  string   `yaml:"write_char_uuid"`  // micro:bit RX
	ScanFilter     []string `yaml:"scan_filter"`      // empty accepts every advertiser
	MaxWriteBytes  int      `yaml:"max_write_bytes"`
}

// ReadbackConfig holds notification reassembly settings.
type ReadbackConfig struct {
	LineBuffer int `yaml:"line_buffer"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "microbit-uart")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			ServiceUUID:    ble.ServiceUUID,
			NotifyCharUUID: ble.TXCharUUID,
			WriteCharUUID:  ble.RXCharUUID,
			MaxWriteBytes:  protocol.MaxPayloadBytes,
		},
		Commands: []string{"A", "B"},
		Readback: ReadbackConfig{
			LineBuffer: protocol.DefaultLineBuffer,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. UUIDs are normalized to lowercase canonical form.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize canonicalizes UUIDs and command letters. Values that do not
// parse are left for Validate to report.
func (c *Config) normalize() {
	canon := func(s string) string {
		if u, err := uuid.Parse(s); err == nil {
			return u.String()
		}
		return s
	}
	c.BLE.ServiceUUID = canon(c.BLE.ServiceUUID)
	c.BLE.NotifyCharUUID = canon(c.BLE.NotifyCharUUID)
	c.BLE.WriteCharUUID = canon(c.BLE.WriteCharUUID)
	for i, f := range c.BLE.ScanFilter {
		c.BLE.ScanFilter[i] = canon(f)
	}
	for i, cmd := range c.Commands {
		c.Commands[i] = strings.ToUpper(cmd)
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"ble.service_uuid":     c.BLE.ServiceUUID,
		"ble.notify_char_uuid": c.BLE.NotifyCharUUID,
		"ble.write_char_uuid":  c.BLE.WriteCharUUID,
	} {
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("%s must be a 128-bit UUID, got %q", name, v)
		}
	}
	if ble.SameUUID(c.BLE.NotifyCharUUID, c.BLE.WriteCharUUID) {
		return errors.New("ble.notify_char_uuid and ble.write_char_uuid must differ")
	}
	for _, f := range c.BLE.ScanFilter {
		if _, err := uuid.Parse(f); err != nil {
			return fmt.Errorf("ble.scan_filter entry must be a 128-bit UUID, got %q", f)
		}
	}

	if c.BLE.MaxWriteBytes < 1 || c.BLE.MaxWriteBytes > 512 {
		return fmt.Errorf("ble.max_write_bytes must be between 1 and 512, got %d", c.BLE.MaxWriteBytes)
	}

	if len(c.Commands) == 0 {
		return errors.New("commands must not be empty")
	}
	for _, cmd := range c.Commands {
		if _, err := protocol.ParseCommand(cmd); err != nil {
			return fmt.Errorf("commands: %w", err)
		}
	}

	if c.Readback.LineBuffer < 16 {
		return fmt.Errorf("readback.line_buffer must be >= 16, got %d", c.Readback.LineBuffer)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Profile returns the UART profile the config describes.
func (c *Config) Profile() ble.Profile {
	return ble.Profile{
		Service: c.BLE.ServiceUUID,
		Notify:  c.BLE.NotifyCharUUID,
		Write:   c.BLE.WriteCharUUID,
	}
}

// CoordinatorOptions returns the ble.Options the config describes.
func (c *Config) CoordinatorOptions() ble.Options {
	opts := ble.DefaultOptions()
	opts.Profile = c.Profile()
	opts.ScanFilter = c.BLE.ScanFilter
	opts.MaxWriteBytes = c.BLE.MaxWriteBytes
	opts.LineBuffer = c.Readback.LineBuffer
	return opts
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// map to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# microbit-uart configuration
#
# The micro:bit UART service notifies on TX (0002) and accepts writes on
# RX (0003). Swap the two characteristic UUIDs for peripherals that use
# the stock Nordic UART role naming.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if a config file
// already existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader+"\n"), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
