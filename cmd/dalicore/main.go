// DALI Core - two-wire lighting bus transceiver
//
// This is the main entry point for the DALI Core daemon. It turns a
// Raspberry Pi running pigpiod into a DALI bus interface:
//   - Decodes bus traffic from GPIO edge timestamps
//   - Transmits frames with DMA-accurate bit timing
//   - Bridges configured lights to MQTT (Home Assistant style topics)
//   - Logs telegrams to SQLite and telemetry to InfluxDB
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/dali-core/migrations"

	"github.com/nerrad567/dali-core/internal/bridge"
	"github.com/nerrad567/dali-core/internal/dali"
	"github.com/nerrad567/dali-core/internal/infrastructure/config"
	"github.com/nerrad567/dali-core/internal/infrastructure/database"
	"github.com/nerrad567/dali-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/dali-core/internal/infrastructure/logging"
	"github.com/nerrad567/dali-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/dali-core/internal/pigpiod"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// busStateInterval is how often the retained bus state is published.
const busStateInterval = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting DALI Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Bus timing shared by the decoder and transmitter
	timing := dali.Timing{
		HalfBit:      cfg.GetHalfBit(),
		TolerancePct: cfg.DALI.TolerancePct,
		Settle:       cfg.GetSettle(),
	}
	if err := timing.Validate(); err != nil {
		return fmt.Errorf("bus timing: %w", err)
	}

	// Open database and apply migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to pigpiod and configure the bus pins
	pig, err := pigpiod.Connect(ctx, pigpiod.Config{
		Host: cfg.DALI.Pigpiod.Host,
		Port: cfg.DALI.Pigpiod.Port,
	})
	if err != nil {
		return fmt.Errorf("connecting to pigpiod: %w", err)
	}
	defer func() {
		log.Info("closing pigpiod connection")
		if closeErr := pig.Close(); closeErr != nil {
			log.Error("error closing pigpiod", "error", closeErr)
		}
	}()
	pig.SetLogger(log)
	log.Info("pigpiod connected",
		"host", cfg.DALI.Pigpiod.Host,
		"port", cfg.DALI.Pigpiod.Port,
	)

	if err := pig.SetMode(cfg.DALI.RXPin, pigpiod.ModeInput); err != nil {
		return fmt.Errorf("configuring rx pin: %w", err)
	}
	if err := pig.SetGlitchFilter(cfg.DALI.RXPin, uint32(cfg.DALI.GlitchFilterUs)); err != nil { //nolint:gosec // validated non-negative
		return fmt.Errorf("setting glitch filter: %w", err)
	}

	// Receive path: edge stream -> monitor -> events
	stream, err := pig.OpenEdgeStream(ctx, cfg.DALI.RXPin)
	if err != nil {
		return fmt.Errorf("opening edge stream: %w", err)
	}
	defer func() {
		log.Info("closing edge stream")
		if closeErr := stream.Close(); closeErr != nil {
			log.Error("error closing edge stream", "error", closeErr)
		}
	}()
	stream.SetLogger(log)

	bus := dali.NewBus()
	monitor, err := dali.NewMonitor(stream, bus, timing, dali.FrameLength(cfg.DALI.FrameBits))
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}
	monitor.SetLogger(log)

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- monitor.Run(ctx)
	}()
	log.Info("bus monitor started", "rx_pin", cfg.DALI.RXPin)

	// Transmit path: transmitter -> wave driver -> pigpiod
	driver, err := pigpiod.NewWaveDriver(pig, cfg.DALI.TXPin, cfg.DALI.InvertTX)
	if err != nil {
		return fmt.Errorf("creating wave driver: %w", err)
	}
	transmitter, err := dali.NewTransmitter(driver, bus, timing)
	if err != nil {
		return fmt.Errorf("creating transmitter: %w", err)
	}
	transmitter.SetLogger(log)
	log.Info("transmitter ready", "tx_pin", cfg.DALI.TXPin, "invert", cfg.DALI.InvertTX)

	// Light bridge (optional)
	if cfg.Bridge.Enabled {
		var metrics bridge.Metrics
		if influxClient != nil {
			metrics = influxClient
		}

		lightBridge, err := bridge.NewBridge(bridge.Options{
			Config:    cfg.Bridge,
			MQTT:      &bridgeMQTTAdapter{client: mqttClient},
			Sender:    transmitter,
			Events:    monitor.Events(),
			Settle:    cfg.GetSettle(),
			RampDelay: cfg.GetRampDelay(),
			Log:       bridge.NewRecorder(db),
			Metrics:   metrics,
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("creating bridge: %w", err)
		}
		if err := lightBridge.Start(); err != nil {
			return fmt.Errorf("starting bridge: %w", err)
		}
		defer func() {
			log.Info("stopping bridge")
			lightBridge.Stop()
		}()
		log.Info("bridge started", "lights", len(cfg.Bridge.Lights))
	} else {
		// Without the bridge someone still has to drain the monitor;
		// log traffic so a bare deployment remains a useful bus sniffer.
		go drainEvents(monitor.Events(), log)
		log.Info("bridge disabled, logging bus traffic only")
	}

	// Periodic retained bus state for dashboards
	go publishBusState(ctx, bus, mqttClient, influxClient, log)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, pig); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-monitorDone:
		if err != nil {
			return fmt.Errorf("monitor stopped: %w", err)
		}
		log.Warn("monitor stopped, shutting down")
	}

	log.Info("DALI Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DALICORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DALICORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// drainEvents logs monitor output when no bridge is consuming it.
func drainEvents(events <-chan dali.Event, log *logging.Logger) {
	for ev := range events {
		switch {
		case ev.Frame != nil:
			log.Info("frame received", "frame", ev.Frame.String())
		case ev.Err != nil:
			log.Warn("decode error", "kind", ev.Err.Kind.String(), "position", ev.Err.Position)
		}
	}
}

// busStateMessage is the retained bus state JSON shape.
type busStateMessage struct {
	State        string    `json:"state"`
	LastActivity time.Time `json:"last_activity"`
}

// publishBusState periodically publishes the retained bus occupancy state
// and, when telemetry is enabled, an occupancy gauge point.
func publishBusState(ctx context.Context, bus *dali.Bus, client *mqtt.Client, influx *influxdb.Client, log *logging.Logger) {
	var topics mqtt.Topics
	ticker := time.NewTicker(busStateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, lastActivity := bus.Snapshot()
		payload := fmt.Sprintf(`{"state":%q,"last_activity":%q}`,
			state.String(), lastActivity.UTC().Format(time.RFC3339))
		if err := client.PublishRetained(topics.BusState(), []byte(payload)); err != nil {
			log.Warn("bus state publish failed", "error", err)
		}

		if influx != nil {
			influx.WritePoint("bus_state",
				map[string]string{"state": state.String()},
				map[string]interface{}{"idle_seconds": time.Since(lastActivity).Seconds()},
			)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, pig *pigpiod.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := pig.HealthCheck(ctx); err != nil {
		return fmt.Errorf("pigpiod: %w", err)
	}
	return nil
}

// bridgeMQTTAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The Subscribe handler signatures differ only in
// the handler's named type, so the adapter converts between them.
type bridgeMQTTAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *bridgeMQTTAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *bridgeMQTTAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, mqtt.MessageHandler(handler))
}
