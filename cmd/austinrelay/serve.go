package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/austin-relay/internal/api"
	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
	"github.com/nerrad567/austin-relay/internal/infrastructure/database"
	"github.com/nerrad567/austin-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/austin-relay/internal/infrastructure/logging"
	"github.com/nerrad567/austin-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/austin-relay/internal/procinfo"
	"github.com/nerrad567/austin-relay/internal/relay"
	"github.com/nerrad567/austin-relay/internal/runs"
	"github.com/nerrad567/austin-relay/migrations"
)

func newServeCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run austin under supervision and relay its output",
		Long: `Runs austin with the configured arguments and publishes every run to the
enabled sinks: SQLite run history, MQTT, InfluxDB and the WebSocket API.
The command exits when the relay loop ends or on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := getConfigPath(*configFlag)
			return serve(cmd.Context(), path)
		},
	}
}

// serve is the daemon logic, separated from the command for testability.
//
// Returns:
//   - error: nil when austin exited cleanly, was stopped on request or the
//     process was signalled; the run or startup error otherwise
func serve(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Austin Relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

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
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", cfg.MQTT.TopicPrefix,
		)
	} else {
		log.Info("MQTT disabled")
	}

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	repo := runs.NewSQLiteRepository(db.DB)
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))

	deps := relay.Deps{
		Config:   relay.ConfigFrom(cfg.Sampler, cfg.MQTT),
		Logger:   log.Component("relay"),
		Runs:     repo,
		Hub:      hub,
		Resolver: procinfo.New(),
	}
	if mqttClient != nil {
		deps.Publisher = mqttClient
		deps.Topics = mqttClient.Topics()
		deps.QoS = mqttClient.DefaultQoS()
	}
	if influxClient != nil {
		deps.Summaries = influxClient
	}

	rel, err := relay.New(deps)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	if mqttClient != nil {
		stopTopic := mqttClient.Topics().ControlStop()
		if err := mqttClient.Subscribe(stopTopic, deps.QoS, func(_ string, _ []byte) error {
			log.Info("run stop requested via MQTT")
			rel.Stop()
			return nil
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", stopTopic, err)
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Relay:   rel,
			Runs:    repo,
			DB:      db,
			MQTT:    mqttClient,
			Influx:  influxClient,
			Hub:     hub,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	g.Go(func() error {
		// Everything else winds down once the relay is done.
		defer stop()

		err := rel.Run(gctx)
		switch {
		case err == nil:
			log.Info("austin finished")
			return nil
		case ctx.Err() != nil:
			log.Info("shutdown signal received, austin stopped", "outcome", relay.OutcomeOf(err))
			return nil
		case errors.Is(err, austin.ErrTerminated):
			log.Info("austin stopped on request")
			return nil
		default:
			return err
		}
	})

	log.Info("initialisation complete", "args", cfg.Sampler.Args)

	err = g.Wait()
	log.Info("Austin Relay stopped")
	return err
}

// openDatabase opens the run history database and applies migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		db.Close() //nolint:errcheck // Error path cleanup
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
