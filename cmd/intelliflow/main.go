// IntelliFlow Signal Core - Adaptive Traffic Signal Controller
//
// This is the main entry point for the IntelliFlow Signal Core application.
// The core runs the intersection control loop:
//   - Ingests per-lane vehicle counts from the detection pipeline (MQTT)
//   - Schedules the fixed phase cycle with demand-adaptive green times
//   - Handles emergency vehicle preemption requests (REST API)
//   - Drives the signal heads via MQTT command topics and the Arduino bridge
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	_ "github.com/intelliflow/signal-core/migrations"

	"github.com/intelliflow/signal-core/internal/api"
	"github.com/intelliflow/signal-core/internal/bridges/arduino"
	"github.com/intelliflow/signal-core/internal/detection"
	"github.com/intelliflow/signal-core/internal/infrastructure/config"
	"github.com/intelliflow/signal-core/internal/infrastructure/database"
	"github.com/intelliflow/signal-core/internal/infrastructure/influxdb"
	"github.com/intelliflow/signal-core/internal/infrastructure/logging"
	"github.com/intelliflow/signal-core/internal/infrastructure/mqtt"
	"github.com/intelliflow/signal-core/internal/signal"
	"github.com/intelliflow/signal-core/internal/topology"
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

// historyPruneInterval is how often expired history rows are pruned.
const historyPruneInterval = 6 * time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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
	log.Info("starting IntelliFlow Signal Core",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Resolve the intersection topology for the configured mode.
	// A missing lane source is a configuration error, not a runtime one.
	topo, err := resolveTopology(cfg)
	if err != nil {
		return fmt.Errorf("resolving topology: %w", err)
	}
	log.Info("topology resolved",
		"mode", topo.Mode(),
		"monitored_lanes", topo.AvailableLanes(),
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	history := signal.NewSQLiteHistoryRepository(db.DB)

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

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var telemetry signal.Telemetry
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	qos := byte(cfg.MQTT.QoS)
	topics := mqtt.Topics{}

	// Start the Arduino signal-head bridge (if enabled). It subscribes to
	// the same command topics the sink publishes on, so it must attach
	// before the scheduler emits its first commands.
	if cfg.Serial.Enabled {
		bridge := arduino.New(cfg.Serial, topo, log)
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting Arduino bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping Arduino bridge")
			if closeErr := bridge.Close(); closeErr != nil {
				log.Error("error closing Arduino bridge", "error", closeErr)
			}
		}()
		if attachErr := bridge.Attach(mqttClient, qos); attachErr != nil {
			return fmt.Errorf("attaching Arduino bridge: %w", attachErr)
		}
		log.Info("Arduino bridge started", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)
	} else {
		log.Info("Arduino bridge disabled")
	}

	// Build the control plane: green-time calculator, scheduler, preemption
	// manager. The scheduler commands its initial phase on construction, so
	// the command sink must exist first.
	sink := &mqttCommandSink{client: mqttClient, topics: topics, qos: qos, log: log}

	calc, err := signal.NewGreenTimeCalculator(cfg.Timing)
	if err != nil {
		return fmt.Errorf("building green time calculator: %w", err)
	}

	sched := signal.NewScheduler(topo, calc, cfg.Timing, sink)
	evp := signal.NewEvpManager(topo, sched, cfg.EVP)

	// The WebSocket hub is shared between the API server and the state
	// publisher, so it is created here and injected into both.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	bus := &mqttStateBus{client: mqttClient, qos: qos}
	publisher := signal.NewStatePublisher(hub, bus, topics.SignalState(), topics.EvpEvent(), log)

	controller, err := signal.NewController(signal.ControllerDeps{
		Topology:     topo,
		Scheduler:    sched,
		Evp:          evp,
		Publisher:    publisher,
		History:      history,
		Telemetry:    telemetry,
		Logger:       log,
		TickInterval: cfg.TickInterval(),
		StaleAfter:   cfg.StaleAfter(),
	})
	if err != nil {
		return fmt.Errorf("building controller: %w", err)
	}

	// Wire detection counts into the controller
	collector := detection.NewCollector(topo, controller, log)
	if attachErr := collector.Attach(mqttClient, qos); attachErr != nil {
		return fmt.Errorf("attaching detection collector: %w", attachErr)
	}

	// Start API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Controller:  controller,
		Topology:    topo,
		History:     history,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Run the control loop
	controllerErr := make(chan error, 1)
	go func() {
		controllerErr <- controller.Run(ctx)
	}()

	// Prune expired history rows periodically
	if retention := cfg.HistoryRetention(); retention > 0 {
		go pruneHistory(ctx, history, retention, log)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, control loop running")

	// Wait for shutdown signal or controller failure
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-controllerErr:
		if err != nil {
			return fmt.Errorf("control loop: %w", err)
		}
	}

	log.Info("IntelliFlow Signal Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses INTELLIFLOW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INTELLIFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// resolveTopology parses the configured system mode and resolves the lane
// topology from the mode's lane source entries.
func resolveTopology(cfg *config.Config) (*topology.Topology, error) {
	mode, err := topology.ParseMode(cfg.System.Mode)
	if err != nil {
		return nil, err
	}

	sources := make(map[topology.Lane]topology.Source)
	for lane, src := range cfg.ActiveLaneSources() {
		sources[topology.Lane(lane)] = topology.Source{
			Type: src.Type,
			Path: src.Path,
			URL:  src.URL,
			Host: src.Host,
		}
	}

	return topology.Resolve(mode, sources)
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

	return nil
}

// pruneHistoryTimeout bounds each prune pass.
const pruneHistoryTimeout = 30 * time.Second

// pruneHistory removes history rows older than the retention period, once
// at startup and then on a fixed interval until the context is cancelled.
func pruneHistory(ctx context.Context, history signal.HistoryRepository, retention time.Duration, log *logging.Logger) {
	prune := func() {
		pruneCtx, cancel := context.WithTimeout(ctx, pruneHistoryTimeout)
		defer cancel()

		pruned, err := history.Prune(pruneCtx, retention)
		if err != nil {
			log.Error("history prune failed", "error", err)
			return
		}
		if pruned > 0 {
			log.Info("history pruned", "rows", pruned, "retention", retention)
		}
	}

	prune()

	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// mqttCommandSink publishes signal head commands to per-lane MQTT topics.
// Emission is fire-and-forget: a broker outage must never stall the control
// loop, so publishes run on their own goroutine and failures are logged only.
// Scheduler state advances regardless of whether the hardware heard it.
type mqttCommandSink struct {
	client *mqtt.Client
	topics mqtt.Topics
	qos    byte
	log    *logging.Logger
}

// SendCommand implements signal.CommandSink.
func (s *mqttCommandSink) SendCommand(lane topology.Lane, color signal.Color) {
	payload, err := json.Marshal(map[string]string{"color": string(color)})
	if err != nil {
		s.log.Error("failed to marshal signal command", "lane", lane, "error", err)
		return
	}

	topic := s.topics.SignalCommand(string(lane))
	go func() {
		if pubErr := s.client.Publish(topic, payload, s.qos, false); pubErr != nil {
			s.log.Warn("signal command publish failed",
				"lane", lane,
				"color", color,
				"error", pubErr,
			)
		}
	}()
}

// mqttStateBus adapts the infrastructure MQTT client to the state
// publisher's interface. The primary difference is that the publisher's
// PublishString does not carry QoS/retained parameters, so the configured
// QoS is bound here.
type mqttStateBus struct {
	client *mqtt.Client
	qos    byte
}

// PublishRetained implements signal.RetainedPublisher.
func (b *mqttStateBus) PublishRetained(topic string, payload []byte) error {
	return b.client.PublishRetained(topic, payload)
}

// PublishString implements signal.RetainedPublisher.
func (b *mqttStateBus) PublishString(topic string, payload string) error {
	return b.client.PublishString(topic, payload, b.qos, false)
}
