// homeworksd bridges a Lutron Homeworks Series 4/8 processor to MQTT.
//
// It maintains the telnet-style controller session, derives relay and
// dimmer state from controller reports, publishes state changes to MQTT,
// and serves a small HTTP API for device management.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/homeworks-core/migrations"

	"github.com/nerrad567/homeworks-core/internal/api"
	"github.com/nerrad567/homeworks-core/internal/homeworks"
	"github.com/nerrad567/homeworks-core/internal/infrastructure/database"
	"github.com/nerrad567/homeworks-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/homeworks-core/internal/infrastructure/logging"
	"github.com/nerrad567/homeworks-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/homeworks-core/internal/store"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting homeworksd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := homeworks.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and run migrations
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry. Configured devices are seeded into the store so
	// they gain stable IDs; live edits through the API persist here.
	deviceStore := store.New(db)
	if seedErr := seedStore(ctx, deviceStore, cfg); seedErr != nil {
		return fmt.Errorf("seeding device store: %w", seedErr)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.GetMQTTClientID(), cfg.Controller.ID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", cfg.MQTT.Broker,
		"client_id", cfg.GetMQTTClientID(),
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to the Homeworks processor. A lost session reconnects with
	// backoff; an unreachable processor at startup is fatal.
	controller, err := homeworks.Dial(ctx, homeworks.ClientConfig{
		Endpoint:       cfg.Endpoint(),
		Username:       cfg.Controller.Username,
		Password:       cfg.Controller.Password,
		ConnectTimeout: time.Duration(cfg.Session.ConnectTimeout) * time.Second,
		LoginTimeout:   time.Duration(cfg.Session.LoginTimeout) * time.Second,
		ReconnectMin:   time.Duration(cfg.Session.ReconnectMin) * time.Second,
		ReconnectMax:   time.Duration(cfg.Session.ReconnectMax) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("dialling controller: %w", err)
	}
	defer func() {
		log.Info("closing controller session")
		if closeErr := controller.Close(); closeErr != nil {
			log.Error("error closing controller session", "error", closeErr)
		}
	}()
	controller.SetLogger(log)
	log.Info("controller session started", "endpoint", cfg.Endpoint())

	// Command dispatcher shares the session's counter block so health
	// reports see queue activity.
	dispatcher, err := homeworks.NewDispatcher(homeworks.DispatcherConfig{
		Session:     controller,
		RateLimit:   cfg.Dispatch.RateLimit,
		QueueSize:   cfg.Dispatch.QueueSize,
		MaxQueueAge: cfg.GetMaxQueueAge(),
		Stats:       controller.Counters(),
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	defer dispatcher.Close()

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var recorder homeworks.StateRecorder
	if cfg.Influx.Enabled {
		influxClient, err = influxdb.Connect(cfg.Influx)
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
		recorder = &influxRecorder{client: influxClient}
		log.Info("InfluxDB connected",
			"url", cfg.Influx.URL,
			"org", cfg.Influx.Org,
			"bucket", cfg.Influx.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// State engine
	engine, err := homeworks.NewEngine(homeworks.EngineOptions{
		Config:     cfg,
		MQTT:       &engineMQTT{client: mqttClient},
		Session:    controller,
		Dispatcher: dispatcher,
		Conn:       controller,
		Logger:     log,
		Store:      deviceStore,
		Recorder:   recorder,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping engine")
		engine.Stop()
	}()

	// HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Engine:     engine,
			Dispatcher: dispatcher,
			Store:      deviceStore,
			Conn:       controller,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "listen", cfg.API.Listen)
	} else {
		log.Info("API server disabled")
	}

	// Periodic controller health metrics alongside the MQTT health topic
	if influxClient != nil {
		go recordHealthMetrics(ctx, influxClient, controller, cfg)
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Engine (publishes offline health status)
	// 3. InfluxDB (if enabled)
	// 4. Dispatcher
	// 5. Controller session
	// 6. MQTT
	// 7. Database

	log.Info("homeworksd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMEWORKS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMEWORKS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedStore persists configured devices so they gain store IDs. Devices
// already present keep their stored definitions; live edits win over
// configuration on restart.
func seedStore(ctx context.Context, s *store.Store, cfg *homeworks.Config) error {
	ccos := make([]homeworks.CCODevice, 0, len(cfg.CCODevices))
	for i, dc := range cfg.CCODevices {
		dev, err := dc.ToDevice()
		if err != nil {
			return fmt.Errorf("cco_devices[%d]: %w", i, err)
		}
		ccos = append(ccos, dev)
	}

	dimmers := make([]homeworks.DimmerDevice, 0, len(cfg.Dimmers))
	for _, dc := range cfg.Dimmers {
		dimmers = append(dimmers, homeworks.DimmerDevice{
			Name: dc.Name,
			Addr: dc.Addr,
			Poll: dc.Poll,
		})
	}

	return s.Seed(ctx, ccos, dimmers)
}

// recordHealthMetrics writes controller session counters to InfluxDB on
// the health interval until the context is cancelled.
func recordHealthMetrics(ctx context.Context, influxClient *influxdb.Client, controller *homeworks.Client, cfg *homeworks.Config) {
	ticker := time.NewTicker(cfg.GetHealthInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			influxClient.WriteControllerHealth(cfg.Controller.ID, controller.IsConnected(), controller.Stats())
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

	// The controller session was verified by Dial and reconnects on its
	// own afterwards.

	return nil
}

// engineMQTT adapts the infrastructure MQTT client to the engine's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Engine expects: func(topic string, payload []byte)
type engineMQTT struct {
	client *mqtt.Client
}

// Publish implements homeworks.MQTTClient.
func (a *engineMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements homeworks.MQTTClient.
func (a *engineMQTT) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (engine handlers log
	// their own failures)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements homeworks.MQTTClient.
func (a *engineMQTT) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements homeworks.MQTTClient.
// No-op: the MQTT client lifecycle is managed by run()'s defer chain.
func (a *engineMQTT) Disconnect(_ uint) {}

// influxRecorder forwards engine state events to InfluxDB. Writes are
// batched and asynchronous; a broken InfluxDB connection never blocks the
// state pipeline.
type influxRecorder struct {
	client *influxdb.Client
}

// RecordCCOState implements homeworks.StateRecorder.
func (r *influxRecorder) RecordCCOState(ev homeworks.CCOStateEvent) {
	if !ev.State.Known() {
		return
	}
	r.client.WriteCCOState(ev.Device.Key(), string(ev.Device.Kind), ev.State.Bool())
}

// RecordDimmerLevel implements homeworks.StateRecorder.
func (r *influxRecorder) RecordDimmerLevel(ev homeworks.DimmerLevelEvent) {
	r.client.WriteDimmerLevel(ev.Addr, int(ev.Level))
}

// RecordButtonEvent implements homeworks.StateRecorder.
func (r *influxRecorder) RecordButtonEvent(ev homeworks.ButtonEvent) {
	r.client.WriteButtonEvent(ev.Addr, ev.Button, ev.Action.String())
}
