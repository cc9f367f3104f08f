package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/colourlab-core/internal/advisor"
	"github.com/nerrad567/colourlab-core/internal/api"
	"github.com/nerrad567/colourlab-core/internal/archive"
	"github.com/nerrad567/colourlab-core/internal/audit"
	"github.com/nerrad567/colourlab-core/internal/events"
	"github.com/nerrad567/colourlab-core/internal/experiment"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/config"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/database"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/logging"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/colourlab-core/internal/lab"
	"github.com/nerrad567/colourlab-core/internal/process"
	"github.com/nerrad567/colourlab-core/internal/scheduler"
	"github.com/nerrad567/colourlab-core/internal/strategy"
	"github.com/nerrad567/colourlab-core/migrations"
)

const (
	// eventBufferSize is the event bus queue length.
	eventBufferSize = 1024

	// simulatorStartTimeout bounds the wait for a managed simulator's
	// first successful health check.
	simulatorStartTimeout = 15 * time.Second
	simulatorPollInterval = 200 * time.Millisecond

	// shutdownTimeout is added to the grace period when waiting for the
	// running experiment to stop.
	shutdownTimeout = 10 * time.Second
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the experiment API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
}

// runServe wires every component, serves until ctx is cancelled and then
// shuts down in dependency order: API and scheduler first, then the event
// bus and audit writer, then the clients they write to.
func (a *app) runServe(ctx context.Context) error {
	cfg, log := a.cfg, a.log
	log.Info("starting Colour Lab Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	bus := events.NewBus(eventBufferSize, log.Component("events"))

	// Experiment archive (optional)
	var (
		db          *database.DB
		repo        archive.Repository
		sqliteRepo  *archive.SQLiteRepository
		auditWriter *audit.Writer
		err         error
	)
	if cfg.Database.Enabled {
		db, err = openArchive(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		sqliteRepo = archive.NewSQLiteRepository(db.DB)
		repo = sqliteRepo
		auditWriter = audit.NewWriter(audit.NewSQLiteRepository(db.DB), log.Component("audit"))
		log.Info("experiment archive ready", "path", db.Path())
	} else {
		log.Info("experiment archive disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
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
		bus.Subscribe(events.NewMQTTSink(mqttClient))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		bus.Subscribe(events.NewInfluxSink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	registry, err := buildStrategies(cfg.Advisor, log)
	if err != nil {
		return err
	}

	// Lab, optionally backed by a managed simulator
	labURL := cfg.Lab.BaseURL
	var simulator *process.Manager
	if cfg.Lab.Simulator.Managed {
		simulator, err = a.startSimulator(ctx)
		if err != nil {
			return fmt.Errorf("starting lab simulator: %w", err)
		}
		defer func() {
			log.Info("stopping lab simulator")
			if stopErr := simulator.Stop(); stopErr != nil {
				log.Error("error stopping lab simulator", "error", stopErr)
			}
		}()
		labURL = cfg.SimulatorURL()
	}
	labClient := lab.NewClient(labURL, cfg.GetLabTimeout())

	sched := scheduler.New(labClient, registry, scheduler.Options{
		Bounds:            experiment.Bounds{Min: cfg.Experiment.Bounds.Min, Max: cfg.Experiment.Bounds.Max},
		Seed:              cfg.Experiment.Seed,
		InitialPoints:     cfg.Experiment.InitialPoints,
		GracePeriod:       cfg.Experiment.GracePeriod,
		IterationDelay:    cfg.Experiment.IterationDelay,
		LabTimeout:        cfg.GetLabTimeout(),
		ClearPlateOnStart: cfg.Experiment.ClearPlateOnStart,
	}, bus, log.Component("scheduler"))

	if sqliteRepo != nil {
		bus.Subscribe(archive.NewRecorder(sqliteRepo, sched))
	}

	if mqttClient != nil {
		topic := mqtt.Topics{}.CancelCommand()
		canceller := audit.AuditedCanceller{Canceller: sched, Writer: auditWriter, Source: audit.SourceMQTT}
		if err := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), events.CancelHandler(canceller, log.Component("mqtt"))); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		log.Info("listening for remote cancel commands", "topic", topic)
	}

	srv, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Experiment: cfg.Experiment,
		Logger:     log.Component("api"),
		Scheduler:  sched,
		Archive:    repo,
		Audit:      auditWriter,
		DB:         db,
		Bus:        bus,
		MQTT:       mqttClient,
		Simulator:  simulator,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	bus.Subscribe(srv.Hub())

	// The bus outlives ctx so that events from the shutdown itself are
	// still delivered.
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBus()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(busCtx)
	})
	if auditWriter != nil {
		g.Go(func() error {
			auditWriter.Run(busCtx)
			return nil
		})
	}
	if simulator != nil {
		g.Go(func() error {
			return watchSimulator(gctx, simulator)
		})
	}

	if err := srv.Start(ctx); err != nil {
		stopBus()
		_ = g.Wait()
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Error("health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}
	if err := labClient.HealthCheck(ctx); err != nil {
		log.Warn("lab not reachable yet", "url", labURL, "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := srv.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Experiment.GracePeriod+shutdownTimeout)
	defer cancel()
	if err := sched.Close(closeCtx); err != nil {
		log.Error("error stopping scheduler", "error", err)
	}

	stopBus()
	err = g.Wait()
	log.Info("Colour Lab Core stopped", "events", bus.Stats())
	return err
}

// openArchive opens the archive database and applies migrations.
func openArchive(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// buildStrategies registers both strategies. Without a configured advisor
// the advisory strategy stays registered but refuses to start.
func buildStrategies(cfg config.AdvisorConfig, log *logging.Logger) (*strategy.Registry, error) {
	registry := strategy.NewRegistry()
	registry.Register(strategy.KindSurrogate, strategy.NewSurrogate)

	completer, err := advisor.New(cfg)
	switch {
	case errors.Is(err, advisor.ErrNotConfigured):
		log.Info("advisory strategy disabled", "reason", err)
		registry.Register(strategy.KindAdvisory, strategy.NewAdvisoryFactory(nil))
	case err != nil:
		return nil, fmt.Errorf("creating advisor: %w", err)
	default:
		log.Info("advisory strategy enabled", "provider", completer.Provider())
		registry.Register(strategy.KindAdvisory, strategy.NewAdvisoryFactory(completer))
	}
	return registry, nil
}

// startSimulator launches `colourlab labsim` under supervision and waits
// until it answers its health check.
func (a *app) startSimulator(ctx context.Context) (*process.Manager, error) {
	simCfg := a.cfg.Lab.Simulator
	binary := simCfg.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		binary = self
	}

	pcfg := process.SimulatorConfig(binary, simCfg.Host, simCfg.Port)
	pcfg.RestartOnFailure = simCfg.RestartOnFailure
	pcfg.RestartDelay = simCfg.RestartDelay
	pcfg.MaxRestartAttempts = simCfg.MaxRestarts
	if path, optional := a.resolveConfigPath(); !optional {
		pcfg.Env = []string{configEnv + "=" + path}
	}

	log := a.log.Component("labsim")
	pcfg.OnRestart = func(attempt int) {
		log.Warn("lab simulator restarting", "attempt", attempt)
	}

	manager := process.NewManager(pcfg)
	manager.SetLogger(log)
	log.Info("starting lab simulator", "binary", binary, "url", a.cfg.SimulatorURL())
	// Stopped explicitly after the scheduler, so it must not die with ctx.
	if err := manager.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, simulatorStartTimeout)
	defer cancel()
	if err := process.WaitHealthy(waitCtx, pcfg.HealthCheckFunc, simulatorPollInterval); err != nil {
		_ = manager.Stop()
		return nil, err
	}
	log.Info("lab simulator started", "pid", manager.PID())
	return manager, nil
}

// watchSimulator fails when supervision of the simulator ends before ctx,
// which means it exhausted its restart attempts.
func watchSimulator(ctx context.Context, m *process.Manager) error {
	select {
	case <-m.Done():
		if ctx.Err() != nil {
			return nil
		}
		if err := m.LastError(); err != nil {
			return fmt.Errorf("lab simulator exited: %w", err)
		}
		return errors.New("lab simulator exited")
	case <-ctx.Done():
		return nil
	}
}

// healthCheck verifies the optional infrastructure connections.
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
