package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for DALI Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	DALI     DALIConfig     `yaml:"dali"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// DatabaseConfig contains SQLite database settings for the telegram log.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for bus telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DALIConfig contains the transceiver settings: where pigpiod lives,
// which pins carry the bus, and the bit-timing profile.
type DALIConfig struct {
	Pigpiod PigpiodConfig `yaml:"pigpiod"`

	// RXPin and TXPin are BCM GPIO numbers. They must differ; the
	// receive comparator and the transmit driver are separate stages.
	RXPin uint32 `yaml:"rx_pin"`
	TXPin uint32 `yaml:"tx_pin"`

	// InvertTX accounts for an inverting open-collector output stage:
	// when true, driving the GPIO high pulls the bus low.
	InvertTX bool `yaml:"invert_tx"`

	// GlitchFilterUs suppresses pulses shorter than this on the RX pin.
	GlitchFilterUs int `yaml:"glitch_filter_us"`

	// Bit-timing profile. HalfBitUs is the nominal Te.
	HalfBitUs    int `yaml:"half_bit_us"`
	TolerancePct int `yaml:"tolerance_pct"`
	SettleUs     int `yaml:"settle_us"`

	// FrameBits is the expected length of received frames: 8, 16 or 24.
	FrameBits int `yaml:"frame_bits"`
}

// PigpiodConfig locates the pigpio daemon.
type PigpiodConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BridgeConfig contains the MQTT light bridge settings.
type BridgeConfig struct {
	Enabled bool `yaml:"enabled"`

	// RampDelayMs is the pause between consecutive arc-power steps
	// when fading brightness.
	RampDelayMs int `yaml:"ramp_delay_ms"`

	Lights []LightConfig `yaml:"lights"`
}

// LightConfig declares one light exposed over MQTT.
type LightConfig struct {
	// ID is the topic segment identifying the light.
	ID string `yaml:"id"`

	// Address is "broadcast" or a short address 0-63.
	Address string `yaml:"address"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DALICORE_SECTION_KEY
// For example: DALICORE_DATABASE_PATH, DALICORE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults: the standard
// 1200 baud DALI profile on a local pigpiod.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/dalicore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dalicore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		DALI: DALIConfig{
			Pigpiod:        PigpiodConfig{Host: "localhost", Port: 8888},
			RXPin:          6,
			TXPin:          5,
			InvertTX:       true,
			GlitchFilterUs: 150,
			HalfBitUs:      417,
			TolerancePct:   25,
			SettleUs:       1800,
			FrameBits:      16,
		},
		Bridge: BridgeConfig{
			Enabled:     true,
			RampDelayMs: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DALICORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DALICORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DALICORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DALICORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DALICORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DALICORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("DALICORE_PIGPIOD_HOST"); v != "" {
		cfg.DALI.Pigpiod.Host = v
	}
	if v := os.Getenv("DALICORE_PIGPIOD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.DALI.Pigpiod.Port = port
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.DALI.Pigpiod.Port < 1 || c.DALI.Pigpiod.Port > 65535 {
		errs = append(errs, "dali.pigpiod.port must be between 1 and 65535")
	}
	if c.DALI.RXPin == c.DALI.TXPin {
		errs = append(errs, "dali.rx_pin and dali.tx_pin must differ")
	}
	if c.DALI.HalfBitUs <= 0 {
		errs = append(errs, "dali.half_bit_us must be positive")
	}
	// At 33% the half-bit and full-bit classification bands meet.
	if c.DALI.TolerancePct <= 0 || c.DALI.TolerancePct >= 33 {
		errs = append(errs, "dali.tolerance_pct must be between 1 and 32")
	}
	if c.DALI.SettleUs < 2*c.DALI.HalfBitUs {
		errs = append(errs, "dali.settle_us must cover at least one full bit")
	}
	if c.DALI.GlitchFilterUs < 0 {
		errs = append(errs, "dali.glitch_filter_us must not be negative")
	}
	switch c.DALI.FrameBits {
	case 8, 16, 24:
	default:
		errs = append(errs, "dali.frame_bits must be 8, 16, or 24")
	}

	if c.Bridge.Enabled {
		if c.Bridge.RampDelayMs < 0 {
			errs = append(errs, "bridge.ramp_delay_ms must not be negative")
		}
		seen := make(map[string]bool)
		for i, light := range c.Bridge.Lights {
			if light.ID == "" {
				errs = append(errs, fmt.Sprintf("bridge.lights[%d].id is required", i))
				continue
			}
			if seen[light.ID] {
				errs = append(errs, fmt.Sprintf("bridge.lights[%d].id %q duplicated", i, light.ID))
			}
			seen[light.ID] = true
			if light.Address != "broadcast" {
				addr, err := strconv.Atoi(light.Address)
				if err != nil || addr < 0 || addr > 63 {
					errs = append(errs, fmt.Sprintf("bridge.lights[%d].address must be \"broadcast\" or 0-63", i))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHalfBit returns the nominal half-bit period as a Duration.
func (c *Config) GetHalfBit() time.Duration {
	return time.Duration(c.DALI.HalfBitUs) * time.Microsecond
}

// GetSettle returns the inter-frame settling gap as a Duration.
func (c *Config) GetSettle() time.Duration {
	return time.Duration(c.DALI.SettleUs) * time.Microsecond
}

// GetGlitchFilter returns the RX glitch filter window as a Duration.
func (c *Config) GetGlitchFilter() time.Duration {
	return time.Duration(c.DALI.GlitchFilterUs) * time.Microsecond
}

// GetRampDelay returns the pause between brightness ramp steps.
func (c *Config) GetRampDelay() time.Duration {
	return time.Duration(c.Bridge.RampDelayMs) * time.Millisecond
}
