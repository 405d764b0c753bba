package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/microbit-uart/internal/ble"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BLE.ServiceUUID != ble.ServiceUUID {
		t.Errorf("BLE.ServiceUUID = %q, want %q", cfg.BLE.ServiceUUID, ble.ServiceUUID)
	}
	if cfg.BLE.NotifyCharUUID != ble.TXCharUUID {
		t.Errorf("BLE.NotifyCharUUID = %q, want %q", cfg.BLE.NotifyCharUUID, ble.TXCharUUID)
	}
	if cfg.BLE.WriteCharUUID != ble.RXCharUUID {
		t.Errorf("BLE.WriteCharUUID = %q, want %q", cfg.BLE.WriteCharUUID, ble.RXCharUUID)
	}
	if len(cfg.BLE.ScanFilter) != 0 {
		t.Errorf("BLE.ScanFilter = %v, want empty", cfg.BLE.ScanFilter)
	}
	if cfg.BLE.MaxWriteBytes != 20 {
		t.Errorf("BLE.MaxWriteBytes = %d, want 20", cfg.BLE.MaxWriteBytes)
	}
	if len(cfg.Commands) != 2 || cfg.Commands[0] != "A" || cfg.Commands[1] != "B" {
		t.Errorf("Commands = %v, want [A B]", cfg.Commands)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
ble:
  service_uuid: 6E400001-B5A3-F393-E0A9-E50E24DCCA9E
  notify_char_uuid: 6E400003-B5A3-F393-E0A9-E50E24DCCA9E
  write_char_uuid: 6E400002-B5A3-F393-E0A9-E50E24DCCA9E
  scan_filter: ["6E400001-B5A3-F393-E0A9-E50E24DCCA9E"]
  max_write_bytes: 64
commands: [a, b, c]
readback:
  line_buffer: 128
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BLE.ServiceUUID != ble.ServiceUUID {
		t.Errorf("BLE.ServiceUUID = %q, want normalized %q", cfg.BLE.ServiceUUID, ble.ServiceUUID)
	}
	if cfg.BLE.NotifyCharUUID != ble.RXCharUUID {
		t.Errorf("BLE.NotifyCharUUID = %q, want %q", cfg.BLE.NotifyCharUUID, ble.RXCharUUID)
	}
	if cfg.BLE.WriteCharUUID != ble.TXCharUUID {
		t.Errorf("BLE.WriteCharUUID = %q, want %q", cfg.BLE.WriteCharUUID, ble.TXCharUUID)
	}
	if len(cfg.BLE.ScanFilter) != 1 || cfg.BLE.ScanFilter[0] != ble.ServiceUUID {
		t.Errorf("BLE.ScanFilter = %v, want [%s]", cfg.BLE.ScanFilter, ble.ServiceUUID)
	}
	if cfg.BLE.MaxWriteBytes != 64 {
		t.Errorf("BLE.MaxWriteBytes = %d, want 64", cfg.BLE.MaxWriteBytes)
	}
	if strings.Join(cfg.Commands, "") != "ABC" {
		t.Errorf("Commands = %v, want [A B C]", cfg.Commands)
	}
	if cfg.Readback.LineBuffer != 128 {
		t.Errorf("Readback.LineBuffer = %d, want 128", cfg.Readback.LineBuffer)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.BLE.ServiceUUID != ble.ServiceUUID {
		t.Errorf("BLE.ServiceUUID = %q, want default", cfg.BLE.ServiceUUID)
	}
	if len(cfg.Commands) != 2 {
		t.Errorf("Commands = %v, want defaults", cfg.Commands)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ble: [unterminated\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid service uuid",
			modify:  func(c *Config) { c.BLE.ServiceUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "short notify uuid",
			modify:  func(c *Config) { c.BLE.NotifyCharUUID = "2a37" },
			wantErr: true,
		},
		{
			name:    "same notify and write uuid",
			modify:  func(c *Config) { c.BLE.WriteCharUUID = c.BLE.NotifyCharUUID },
			wantErr: true,
		},
		{
			name:    "invalid scan filter",
			modify:  func(c *Config) { c.BLE.ScanFilter = []string{"nope"} },
			wantErr: true,
		},
		{
			name:    "zero max write bytes",
			modify:  func(c *Config) { c.BLE.MaxWriteBytes = 0 },
			wantErr: true,
		},
		{
			name:    "empty commands",
			modify:  func(c *Config) { c.Commands = nil },
			wantErr: true,
		},
		{
			name:    "multi-letter command",
			modify:  func(c *Config) { c.Commands = []string{"AB"} },
			wantErr: true,
		},
		{
			name:    "digit command",
			modify:  func(c *Config) { c.Commands = []string{"1"} },
			wantErr: true,
		},
		{
			name:    "tiny line buffer",
			modify:  func(c *Config) { c.Readback.LineBuffer = 4 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCoordinatorOptions(t *testing.T) {
	cfg := Default()
	cfg.BLE.ScanFilter = []string{ble.ServiceUUID}
	cfg.BLE.MaxWriteBytes = 40
	cfg.Readback.LineBuffer = 256

	opts := cfg.CoordinatorOptions()
	if opts.Profile != ble.DefaultProfile() {
		t.Errorf("Profile = %+v, want default", opts.Profile)
	}
	if len(opts.ScanFilter) != 1 {
		t.Errorf("ScanFilter = %v", opts.ScanFilter)
	}
	if opts.MaxWriteBytes != 40 {
		t.Errorf("MaxWriteBytes = %d, want 40", opts.MaxWriteBytes)
	}
	if opts.LineBuffer != 256 {
		t.Errorf("LineBuffer = %d, want 256", opts.LineBuffer)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "microbit-uart", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# microbit-uart") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BLE.WriteCharUUID != ble.RXCharUUID {
		t.Errorf("written config BLE.WriteCharUUID = %q, want %q", cfg.BLE.WriteCharUUID, ble.RXCharUUID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config Validate() error = %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "microbit-uart")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
