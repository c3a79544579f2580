package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pipresencemon/internal/api"
	"github.com/nerrad567/pipresencemon/internal/history"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/config"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/database"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/influxdb"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/logging"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/mqtt"
	"github.com/nerrad567/pipresencemon/internal/monitor"
	"github.com/nerrad567/pipresencemon/internal/presence"
	"github.com/nerrad567/pipresencemon/internal/supervisor"
	_ "github.com/nerrad567/pipresencemon/migrations"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the presence daemon (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), *configPath)
		},
	}
}

// runDaemon wires every component and blocks until ctx is cancelled or the
// supervisor reports a crash loop.
//
// Teardown runs in reverse order of construction: API, monitor, supervisor
// (which stops every running command), sensor, event dispatcher, then the
// database and broker clients the sinks write to.
func runDaemon(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear wiring
	log := logging.Default()
	log.Info("starting pipresencemon", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
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
	}

	// Event history (optional)
	var repo history.Repository
	if cfg.Database.Enabled {
		db, err := database.Open(database.ConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		repo = history.NewSQLiteRepository(db.DB)
		log.Info("event history enabled", "path", cfg.Database.Path, "retention_days", cfg.Database.RetentionDays)
	}

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Event fan-out. Sinks get a context that survives shutdown so the
	// final stop events are still recorded.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	}
	events := presence.NewDispatcher(log.With("component", "events"), 0,
		buildSinks(cfg, log, repo, mqttClient, influxClient, hub)...)
	events.Start(context.WithoutCancel(ctx))
	defer events.Stop()

	reader, closeReader, err := openSensor(cfg, mqttClient, log.With("component", "sensor"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeReader(); closeErr != nil {
			log.Warn("error closing sensor", "error", closeErr)
		}
	}()

	sup, err := supervisor.New(supervisorConfig(cfg), supervisor.Deps{
		Logger:  log.With("component", "supervisor"),
		OnEvent: events.CommandEvent,
	})
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	defer func() {
		log.Info("stopping managed commands")
		if closeErr := sup.Close(); closeErr != nil {
			log.Error("error stopping managed commands", "error", closeErr)
		}
	}()

	mon, err := monitor.New(monitorConfig(cfg), reader, log.With("component", "monitor"))
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}
	defer mon.Stop()

	daemon := presence.New(presence.Deps{
		Monitor:    mon,
		Supervisor: sup,
		Events:     events,
		Logger:     log.With("component", "presence"),
		Interval:   presence.DefaultInterval,
	})

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Status:  daemon,
			History: repo,
			Hub:     hub,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete",
		"pin", cfg.Sensor.Pin,
		"driver", cfg.Sensor.Driver,
		"window_samples", mon.WindowLen(),
	)

	if err := daemon.Run(ctx); err != nil {
		var loop *supervisor.CrashLoopError
		if errors.As(err, &loop) {
			log.Error("crash loop detected, shutting down",
				"command", loop.Command, "set", loop.Set, "restarts", loop.RestartCount, "limit", loop.Threshold)
		}
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// buildSinks returns the event sinks for the enabled outputs. The log sink
// is always present.
func buildSinks(cfg *config.Config, log *logging.Logger, repo history.Repository,
	mqttClient *mqtt.Client, influxClient *influxdb.Client, hub *api.Hub) []presence.Sink {
	sinks := []presence.Sink{presence.NewLogSink(log)}
	if repo != nil {
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		sinks = append(sinks, presence.NewHistorySink(repo, retention, log.With("component", "history")))
	}
	if mqttClient != nil {
		sinks = append(sinks, presence.NewMQTTSink(mqttClient))
	}
	if influxClient != nil {
		sinks = append(sinks, presence.NewMetricsSink(influxClient))
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	return sinks
}

// healthCheck verifies the enabled broker connections before commands start.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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
