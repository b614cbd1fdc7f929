// Solar Controller Core
//
// This is the main entry point for the Solar Controller Core service. It
// pairs users with networked relay controllers, keeps the live status of
// every controller in memory, and relays user commands to devices over MQTT.
//
// Devices talk MQTT only; users talk to the HTTP API and the WebSocket
// status feed it serves.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/solar-controller-core/migrations"

	"github.com/nerrad567/solar-controller-core/internal/access"
	"github.com/nerrad567/solar-controller-core/internal/api"
	"github.com/nerrad567/solar-controller-core/internal/audit"
	"github.com/nerrad567/solar-controller-core/internal/auth"
	"github.com/nerrad567/solar-controller-core/internal/coordinator"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/config"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/database"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/logging"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/solar-controller-core/internal/livestatus"
	"github.com/nerrad567/solar-controller-core/internal/pairing"
	"github.com/nerrad567/solar-controller-core/internal/telemetry"
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
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Solar Controller Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	if cfg.Security.DevTokens {
		log.Warn("development tokens enabled, do not expose this instance")
	}

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

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
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"namespace", cfg.MQTT.Namespace,
	)

	mirror, closeMirror, err := connectMirror(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	defer closeMirror()

	store := access.NewSQLiteStore(db.DB)
	cache := livestatus.New(livestatus.WithLogger(log))

	coord := coordinator.New(coordinator.Deps{
		Store:          store,
		Cache:          cache,
		Pairing:        pairing.NewRegistry(),
		Publisher:      mqttClient,
		Mirror:         mirror,
		Audit:          audit.NewSQLiteRepository(db.DB),
		Topics:         mqttClient.Topics(),
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0-2 by config
		StaleThreshold: cfg.StaleThreshold(),
		SweepInterval:  cfg.SweepInterval(),
		Logger:         log,
	})

	authenticator := newAuthenticator(cfg, store, log)
	if cfg.Security.SignIn.Enabled() {
		log.Info("identity provider sign-in enabled", "jwks_url", cfg.Security.SignIn.JWKSURL)
	} else {
		log.Warn("identity provider sign-in disabled, set security.sign_in.client_id")
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Coordinator: coord,
		Auth:        authenticator,
		Broker:      mqttClient,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	cache.SetOnChange(server.Hub().BroadcastStatus)

	if err := subscribeTelemetry(mqttClient, coord, byte(cfg.MQTT.QoS)); err != nil { //nolint:gosec // Validated to 0-2 by config
		return err
	}
	log.Info("subscribed to device telemetry",
		"status", mqttClient.Topics().AllStatus(),
		"online", mqttClient.Topics().AllOnline(),
	)

	go coord.RunSweeper(ctx)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB mirror (if enabled)
	// 3. MQTT (publishes the graceful offline presence)
	// 4. Database

	log.Info("Solar Controller Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SOLARCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SOLARCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMirror connects the optional InfluxDB telemetry mirror. With the
// mirror disabled it returns a nil Mirror and a no-op close.
func connectMirror(cfg config.InfluxDBConfig, log *logging.Logger) (telemetry.Mirror, func(), error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, func() {}, nil
	}

	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)

	return client, func() {
		log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}, nil
}

// telemetrySubscriber is the part of *mqtt.Client used for ingestion.
type telemetrySubscriber interface {
	Topics() mqtt.Topics
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// subscribeTelemetry routes every device's status and online topics into
// the coordinator.
func subscribeTelemetry(sub telemetrySubscriber, coord *coordinator.Coordinator, qos byte) error {
	topics := sub.Topics()
	for _, topic := range []string{topics.AllStatus(), topics.AllOnline()} {
		if err := sub.Subscribe(topic, qos, coord.IngestTelemetry); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

// healthCheck verifies the database, the broker and the API server.
// It returns the first failure.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// newAuthenticator builds the authenticator, enabling provider sign-in
// when security.sign_in.client_id is set.
func newAuthenticator(cfg *config.Config, users auth.UserProvisioner, log *logging.Logger) *auth.Authenticator {
	a := auth.NewAuthenticator(users, auth.Config{
		Secret:    cfg.Security.JWT.Secret,
		TokenTTL:  cfg.AccessTokenTTL(),
		DevTokens: cfg.Security.DevTokens,
	})
	a.SetLogger(log)

	if signIn := cfg.Security.SignIn; signIn.Enabled() {
		a.SetVerifier(auth.NewJWKSVerifier(auth.JWKSConfig{
			URL:             signIn.JWKSURL,
			Audience:        signIn.ClientID,
			Issuers:         signIn.Issuers,
			RefreshInterval: cfg.SignInKeyRefresh(),
		}))
	}
	return a
}
