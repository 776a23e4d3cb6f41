package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
dali:
  rx_pin: 17
  tx_pin: 27
  half_bit_us: 417
  tolerance_pct: 25
  settle_us: 1800
  frame_bits: 16
bridge:
  enabled: true
  lights:
    - id: "hall"
      address: "broadcast"
    - id: "desk"
      address: "5"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.DALI.RXPin != 17 || cfg.DALI.TXPin != 27 {
		t.Errorf("pins = %d/%d, want 17/27", cfg.DALI.RXPin, cfg.DALI.TXPin)
	}
	if len(cfg.Bridge.Lights) != 2 {
		t.Fatalf("len(Bridge.Lights) = %d, want 2", len(cfg.Bridge.Lights))
	}
	if cfg.Bridge.Lights[1].Address != "5" {
		t.Errorf("Lights[1].Address = %q, want %q", cfg.Bridge.Lights[1].Address, "5")
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Minimal file: everything else falls back to defaults.
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DALI.Pigpiod.Host != "localhost" || cfg.DALI.Pigpiod.Port != 8888 {
		t.Errorf("pigpiod default = %s:%d, want localhost:8888", cfg.DALI.Pigpiod.Host, cfg.DALI.Pigpiod.Port)
	}
	if cfg.DALI.HalfBitUs != 417 {
		t.Errorf("HalfBitUs default = %d, want 417", cfg.DALI.HalfBitUs)
	}
	if cfg.DALI.TolerancePct != 25 {
		t.Errorf("TolerancePct default = %d, want 25", cfg.DALI.TolerancePct)
	}
	if cfg.DALI.SettleUs != 1800 {
		t.Errorf("SettleUs default = %d, want 1800", cfg.DALI.SettleUs)
	}
	if cfg.DALI.FrameBits != 16 {
		t.Errorf("FrameBits default = %d, want 16", cfg.DALI.FrameBits)
	}
	if !cfg.DALI.InvertTX {
		t.Error("InvertTX default = false, want true")
	}
	if cfg.DALI.GlitchFilterUs != 150 {
		t.Errorf("GlitchFilterUs default = %d, want 150", cfg.DALI.GlitchFilterUs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug (from file)", cfg.Logging.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DALICORE_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("DALICORE_MQTT_HOST", "env-broker")
	t.Setenv("DALICORE_PIGPIOD_HOST", "pi.local")
	t.Setenv("DALICORE_PIGPIOD_PORT", "9999")

	cfg, err := Load(writeConfig(t, "database:\n  path: \"/tmp/file.db\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.DALI.Pigpiod.Host != "pi.local" || cfg.DALI.Pigpiod.Port != 9999 {
		t.Errorf("pigpiod = %s:%d, want pi.local:9999", cfg.DALI.Pigpiod.Host, cfg.DALI.Pigpiod.Port)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"qos too high", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"same rx and tx pin", func(c *Config) { c.DALI.TXPin = c.DALI.RXPin }, true},
		{"zero half bit", func(c *Config) { c.DALI.HalfBitUs = 0 }, true},
		{"tolerance at band overlap", func(c *Config) { c.DALI.TolerancePct = 33 }, true},
		{"tolerance zero", func(c *Config) { c.DALI.TolerancePct = 0 }, true},
		{"settle under one bit", func(c *Config) { c.DALI.SettleUs = 500 }, true},
		{"negative glitch filter", func(c *Config) { c.DALI.GlitchFilterUs = -1 }, true},
		{"bad frame bits", func(c *Config) { c.DALI.FrameBits = 12 }, true},
		{"bad pigpiod port", func(c *Config) { c.DALI.Pigpiod.Port = 0 }, true},
		{"light without id", func(c *Config) {
			c.Bridge.Lights = []LightConfig{{Address: "1"}}
		}, true},
		{"duplicate light id", func(c *Config) {
			c.Bridge.Lights = []LightConfig{{ID: "a", Address: "1"}, {ID: "a", Address: "2"}}
		}, true},
		{"light address out of range", func(c *Config) {
			c.Bridge.Lights = []LightConfig{{ID: "a", Address: "64"}}
		}, true},
		{"broadcast light", func(c *Config) {
			c.Bridge.Lights = []LightConfig{{ID: "a", Address: "broadcast"}}
		}, false},
		{"disabled bridge skips light checks", func(c *Config) {
			c.Bridge.Enabled = false
			c.Bridge.Lights = []LightConfig{{Address: "junk"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.GetHalfBit(); got != 417*time.Microsecond {
		t.Errorf("GetHalfBit() = %v, want 417us", got)
	}
	if got := cfg.GetSettle(); got != 1800*time.Microsecond {
		t.Errorf("GetSettle() = %v, want 1800us", got)
	}
	if got := cfg.GetGlitchFilter(); got != 150*time.Microsecond {
		t.Errorf("GetGlitchFilter() = %v, want 150us", got)
	}
	if got := cfg.GetRampDelay(); got != 10*time.Millisecond {
		t.Errorf("GetRampDelay() = %v, want 10ms", got)
	}
}
