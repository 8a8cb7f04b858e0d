// iohub - IO device hub
//
// This is the main entry point for the iohub daemon. iohub owns a set
// of hardware IO devices, giving each one a dedicated worker thread,
// and exposes their state through MQTT, InfluxDB and a local history
// log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/hallgrove/iohub/migrations"

	"github.com/hallgrove/iohub/internal/controller"
	"github.com/hallgrove/iohub/internal/history"
	"github.com/hallgrove/iohub/internal/infrastructure/config"
	"github.com/hallgrove/iohub/internal/infrastructure/database"
	"github.com/hallgrove/iohub/internal/infrastructure/influxdb"
	"github.com/hallgrove/iohub/internal/infrastructure/logging"
	"github.com/hallgrove/iohub/internal/infrastructure/mqtt"
	"github.com/hallgrove/iohub/internal/protocol"
	"github.com/hallgrove/iohub/internal/protocol/mdns"
	"github.com/hallgrove/iohub/internal/protocol/sim"
	"github.com/hallgrove/iohub/internal/telemetry"
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

// shutdownTimeout bounds the StopAll pass during shutdown.
const shutdownTimeout = 10 * time.Second

// historyPruneInterval is how often retained history is re-pruned.
const historyPruneInterval = 6 * time.Hour

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
	log.Info("starting iohub",
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

	// Open the history database (optional)
	var historyRepo *history.SQLiteRepository
	var db *database.DB
	if cfg.History.Enabled {
		db, err = database.Open(database.Config{
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

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		historyRepo = history.NewSQLiteRepository(db.DB)
		if cfg.History.RetentionDays > 0 {
			go pruneLoop(ctx, historyRepo, cfg.History.RetentionDays, log)
		}
	} else {
		log.Info("event history disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the device stack
	connector, discoverer := buildIO(cfg, log)

	ctrl := controller.New(connector, controller.Config{
		RefreshInterval: cfg.GetRefreshInterval(),
		IOTimeout:       cfg.GetIOTimeout(),
		RetryBudget:     cfg.Controller.RetryBudget,
		CommandBurst:    cfg.Controller.CommandBurst,
		DispatchTimeout: cfg.GetDispatchTimeout(),
		StopTimeout:     cfg.GetStopTimeout(),
		ObserverBuffer:  cfg.Controller.ObserverBuffer,
	})
	ctrl.SetLogger(log)
	ctrl.SetDiscoverer(discoverer)

	// Fan device events out to the configured sinks
	sub, err := ctrl.CreateStateObserver(controller.ObserverFilter{})
	if err != nil {
		return fmt.Errorf("creating state observer: %w", err)
	}

	pumpCfg := telemetry.Config{Logger: log}
	if mqttClient != nil {
		pumpCfg.MQTT = mqttClient
	}
	if influxClient != nil {
		pumpCfg.TSDB = influxClient
	}
	if historyRepo != nil {
		pumpCfg.History = historyRepo
	}
	pump := telemetry.NewPump(sub.Events(), pumpCfg)
	pump.Start()

	// Accept output writes from other MQTT services
	if mqttClient != nil {
		listener := telemetry.NewCommandListener(ctrl, mqttClient, log)
		if err := listener.Start(); err != nil {
			return fmt.Errorf("subscribing to command topics: %w", err)
		}
		defer func() {
			if stopErr := listener.Stop(); stopErr != nil {
				log.Warn("unsubscribing command topics", "error", stopErr)
			}
		}()
		log.Info("command listener subscribed")
	}

	// Start device threads
	startDevices(ctx, ctrl, cfg, log)

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Stop every device thread first so final status events still reach
	// the pump, then drain the pump before the sinks close.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if stopErr := ctrl.StopAll(stopCtx); stopErr != nil {
		log.Error("error stopping device threads", "error", stopErr)
	}
	pump.Stop()
	log.Info("dropped observer events", "count", sub.Dropped())

	log.Info("iohub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildIO assembles the connector and discoverer for the configured
// device stack.
//
// The only built-in connector today is the simulator; real devices are
// reachable once a wire driver implementing protocol.Connector is added.
// mDNS discovery still reports network devices either way.
func buildIO(cfg *config.Config, log *logging.Logger) (protocol.Connector, protocol.Discoverer) {
	simConn := sim.NewConnector()

	if cfg.Devices.Simulated {
		for _, id := range cfg.Devices.IDs {
			simConn.Add(protocol.DeviceID(id))
		}
		log.Info("running with simulated devices", "devices", len(cfg.Devices.IDs))
		return simConn, simConn
	}

	log.Warn("no hardware driver built in; only simulated devices can start threads")

	usbIDs := make([]protocol.DeviceID, 0, len(cfg.Devices.IDs))
	for _, id := range cfg.Devices.IDs {
		usbIDs = append(usbIDs, protocol.DeviceID(id))
	}
	discoverer := mdns.New(mdns.Config{
		Service: cfg.Discovery.Service,
		Domain:  cfg.Discovery.Domain,
		USBIDs:  usbIDs,
		Logger:  log,
	})
	return simConn, discoverer
}

// startDevices starts a thread for every configured device, plus every
// discovered one when autostart is enabled. Individual start failures
// are logged and do not abort startup.
func startDevices(ctx context.Context, ctrl *controller.Controller, cfg *config.Config, log *logging.Logger) {
	ids := make([]protocol.DeviceID, 0, len(cfg.Devices.IDs))
	for _, id := range cfg.Devices.IDs {
		ids = append(ids, protocol.DeviceID(id))
	}

	if cfg.Devices.Autostart {
		if cfg.Discovery.USB {
			found, err := ctrl.DiscoverUSB(ctx)
			if err != nil {
				log.Warn("USB discovery failed", "error", err)
			} else {
				ids = append(ids, found...)
			}
		}
		if cfg.Discovery.Network {
			found, err := ctrl.DiscoverNetwork(ctx, cfg.GetDiscoveryTimeout())
			if err != nil {
				log.Warn("network discovery failed", "error", err)
			} else {
				ids = append(ids, found...)
			}
		}
	}

	seen := make(map[protocol.DeviceID]bool, len(ids))
	started := 0
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := ctrl.StartThread(ctx, id); err != nil {
			log.Error("failed to start device thread", "device", id, "error", err)
			continue
		}
		log.Info("device thread started", "device", id)
		started++
	}
	log.Info("device startup complete", "started", started, "configured", len(cfg.Devices.IDs))
}

// pruneLoop deletes history entries past the retention window, once at
// startup and then periodically.
func pruneLoop(ctx context.Context, repo *history.SQLiteRepository, retentionDays int, log *logging.Logger) {
	retention := time.Duration(retentionDays) * 24 * time.Hour

	prune := func() {
		deleted, err := repo.Prune(ctx, retention)
		if err != nil {
			log.Warn("history prune failed", "error", err)
			return
		}
		if deleted > 0 {
			log.Info("pruned history entries", "deleted", deleted, "retention_days", retentionDays)
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

// healthCheck verifies all enabled infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if history disabled)
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
