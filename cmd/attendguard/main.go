package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"attendguard/internal/alerts"
	"attendguard/internal/api"
	"attendguard/internal/clock"
	"attendguard/internal/config"
	"attendguard/internal/directory"
	"attendguard/internal/engine"
	"attendguard/internal/ingest"
	"attendguard/internal/logging"
	"attendguard/internal/metrics"
	"attendguard/internal/model"
	"attendguard/internal/storage"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	root := &cli.Command{
		Name:    "attendguard",
		Usage:   "Badge-swipe attendance tracking and anomaly detection",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "attendguard.yaml",
				Usage:   "config file (yaml, json or toml)",
				Sources: cli.EnvVars("ATTENDGUARD_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "storage DSN, overrides storage.dsn",
				Sources: cli.EnvVars("ATTENDGUARD_DSN"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			trainCommand(),
			employeesCommand(),
			inspectCommand(),
		},
	}
	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run ingest listeners, the detection engine and the API",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "reload-interval", Value: 3 * time.Second, Usage: "config file poll interval"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServe(ctx, c)
		},
	}
}

func trainCommand() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Train the outlier model from stored records and report the result",
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := open(ctx, c)
			if err != nil {
				return err
			}
			defer app.close()
			res, err := app.engine.Train(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"trained": res.Trained, "samples": res.Samples})
		},
	}
}

func employeesCommand() *cli.Command {
	return &cli.Command{
		Name:  "employees",
		Usage: "Manage the employee directory",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Upsert employees from a yaml, json or csv file",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, c *cli.Command) error {
					path := c.Args().First()
					if path == "" {
						return fmt.Errorf("employees import: file argument required")
					}
					app, err := open(ctx, c)
					if err != nil {
						return err
					}
					defer app.close()
					n, err := importEmployees(ctx, app.dir, path)
					if err != nil {
						return err
					}
					app.logger.Info("employees imported", "file", path, "count", n)
					return nil
				},
			},
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Re-run detection rules on a stored record without writing",
		ArgsUsage: "<employee-code> <YYYY-MM-DD>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("inspect: expected <employee-code> <YYYY-MM-DD>")
			}
			app, err := open(ctx, c)
			if err != nil {
				return err
			}
			defer app.close()
			date, err := clock.ParseDate(c.Args().Get(1), app.cfg.Get().Detection.Location())
			if err != nil {
				return err
			}
			if _, err := app.engine.Train(ctx); err != nil {
				return err
			}
			res, err := app.engine.Inspect(ctx, c.Args().Get(0), date)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

type application struct {
	cfg      *config.Manager
	logger   *slog.Logger
	store    storage.Store
	dir      *directory.Directory
	feed     *alerts.Store
	presence *metrics.Store
	emitter  *alerts.Emitter
	engine   *engine.Engine
}

func loadConfig(c *cli.Command) (*config.Manager, error) {
	path := config.ResolvePath(c.String("config"))
	var (
		mgr *config.Manager
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		mgr, err = config.NewManager(path)
		if err != nil {
			return nil, err
		}
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	if dsn := c.String("dsn"); dsn != "" {
		cfg := *mgr.Get()
		cfg.Storage.Enabled = true
		cfg.Storage.DSN = dsn
		mgr = config.NewStaticManager(&cfg)
	}
	return mgr, nil
}

func open(ctx context.Context, c *cli.Command) (*application, error) {
	mgr, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	dir, err := directory.New(store, cfg.Directory.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	feed := alerts.NewStore(cfg.Alerts.StoreLimit)
	sinks := []alerts.Sink{feed}
	if cfg.Alerts.Kafka.Enabled {
		sinks = append(sinks, alerts.NewKafkaSink(cfg.Alerts.Kafka))
		logger.Info("alert kafka sink enabled", "topic", cfg.Alerts.Kafka.Topic)
	}
	emitter := alerts.NewEmitter(logger, sinks...)
	presence := metrics.NewStore(cfg.Metrics.StoreLimit)

	eng, err := engine.NewEngine(cfg, logger, engine.Deps{
		Store:     store,
		Directory: dir,
		Emitter:   emitter,
		Presence:  presence,
	})
	if err != nil {
		_ = emitter.Close()
		_ = store.Close()
		return nil, err
	}
	return &application{
		cfg:      mgr,
		logger:   logger,
		store:    store,
		dir:      dir,
		feed:     feed,
		presence: presence,
		emitter:  emitter,
		engine:   eng,
	}, nil
}

func (a *application) close() {
	if err := a.emitter.Close(); err != nil {
		a.logger.Warn("close alert sinks", "err", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close storage", "err", err)
	}
}

func importEmployees(ctx context.Context, dir *directory.Directory, path string) (int, error) {
	list, err := directory.LoadFile(path)
	if err != nil {
		return 0, err
	}
	return dir.Import(ctx, list)
}

func runServe(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := open(ctx, c)
	if err != nil {
		return err
	}
	defer app.close()
	cfg := app.cfg.Get()
	logger := app.logger
	logger.Info("starting attendguard", "version", version, "config", app.cfg.Path(), "storage", storageLabel(cfg.Storage))

	if seed := cfg.Directory.SeedFile; seed != "" {
		n, err := importEmployees(ctx, app.dir, seed)
		if err != nil {
			return fmt.Errorf("seed directory: %w", err)
		}
		logger.Info("directory seeded", "file", seed, "count", n)
	}
	if cfg.Model.TrainOnStart {
		if _, err := app.engine.Train(ctx); err != nil {
			logger.Warn("initial model training failed", "err", err)
		}
	}

	swipes := make(chan model.Swipe, cfg.Ingest.ChannelBuffer)
	app.engine.Start(ctx, swipes)

	ingest.StartREST(ctx, app.cfg, app.engine, logger)
	ingest.StartLines(ctx, app.cfg, swipes, logger)
	ingest.StartFileTail(ctx, app.cfg, swipes, logger)
	ingest.StartKafka(ctx, app.cfg, swipes, logger)
	api.Start(ctx, api.NewServer(app.cfg, app.presence, app.feed, app.store, app.engine, logger, version))

	done := make(chan struct{})
	go app.cfg.Watch(c.Duration("reload-interval"), func(next *config.Config) {
		app.engine.UpdateConfig(next)
		logger.Info("config reloaded", "path", app.cfg.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, done)

	<-ctx.Done()
	close(done)
	logger.Info("shutting down")
	return nil
}

func storageLabel(cfg config.StorageConfig) string {
	if !cfg.Enabled {
		return "memory"
	}
	return cfg.Driver
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
