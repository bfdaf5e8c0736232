package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/transitdelay/app/gtfs-importer/importer"
	"github.com/OpenTransitTools/transitdelay/business/data/ledger"
	"github.com/OpenTransitTools/transitdelay/business/data/reference"
	"github.com/OpenTransitTools/transitdelay/business/data/schema"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/OpenTransitTools/transitdelay/foundation/cache"
	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/OpenTransitTools/transitdelay/foundation/logger"
	"github.com/OpenTransitTools/transitdelay/foundation/queue"
	"github.com/OpenTransitTools/transitdelay/foundation/retry"
	"github.com/OpenTransitTools/transitdelay/foundation/web"
	"github.com/ardanlabs/conf"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var build = "develop"

func main() {
	// a missing .env file is normal outside local development
	_ = godotenv.Load()
	log := logger.New("gtfs-importer", os.Getenv("LOG_PRETTY") != "")
	if err := run(&log); err != nil {
		log.Error().Err(err).Msg("main: error")
		os.Exit(1)
	}
}

func run(log *zerolog.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,noprint"`
			Host         string `conf:"default:0.0.0.0"`
			Name         string `conf:"default:postgres"`
			DisableTLS   bool   `conf:"default:true"`
			MaxOpenConns int    `conf:"default:10"`
		}
		Schema struct {
			Production string `conf:"default:public"`
			Staging    string `conf:"default:staging"`
		}
		Redis struct {
			Address  string `conf:"default:0.0.0.0:6379"`
			Password string `conf:"noprint"`
			DB       int    `conf:"default:0"`
		}
		Queue struct {
			Name       string        `conf:"default:dataset-sections"`
			Consumers  int           `conf:"default:1"`
			Prefetch   int64         `conf:"default:10"`
			PollPeriod time.Duration `conf:"default:1s"`
			FatalCodes []string      `conf:"default:promotion_failed"`
		}
		Web struct {
			Port int `conf:"default:8081"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Stage reference datasets and promote them to production"
	const prefix = "GTFS_IMPORTER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			printUsage(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Info().Str("version", build).Msg("main: Started: Application initializing")
	defer log.Info().Msg("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Info().Msgf("main: Config :\n%v\n", out)

	registry, err := reference.LoadRegistry(reference.Namespace{
		Production: cfg.Schema.Production,
		Staging:    cfg.Schema.Staging,
	})
	if err != nil {
		return fmt.Errorf("loading reference catalogue: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Start Database

	log.Info().Msg("main: Initializing database support")

	db, err := database.Open(database.Config{
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		DisableTLS:   cfg.DB.DisableTLS,
		MaxOpenConns: cfg.DB.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Info().Str("host", cfg.DB.Host).Msg("main: Database Stopping")
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("main: error closing database")
		}
	}()
	err = retry.Do(ctx, log, "database", retry.DefaultConfig, func() error {
		return database.StatusCheck(ctx, db)
	})
	if err != nil {
		return fmt.Errorf("waiting for db: %w", err)
	}

	switch cfg.Args.Num(0) {
	case "migrate":
		return migrate(ctx, log, db, registry.Namespace())
	case "status":
		return status(ctx, log, db, registry)
	case "", "consume":
	default:
		return fmt.Errorf("unknown command %q, expected consume, migrate or status", cfg.Args.Num(0))
	}

	// =========================================================================
	// Start Redis

	log.Info().Msg("main: Initializing redis support")

	var redisClient *redis.Client
	err = retry.Do(ctx, log, "redis", retry.DefaultConfig, func() error {
		var openErr error
		redisClient, openErr = cache.Open(ctx, cache.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return openErr
	})
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("main: error closing redis")
		}
	}()

	// =========================================================================
	// Start Importer

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	im := importer.NewImporter(log, db, registry, reference.Postgres{}, importer.NewMetrics(promRegistry))

	queueErrors := make(chan error, 10)
	go logQueueErrors(ctx, log, queueErrors)
	conn, err := queue.OpenConnection("gtfs-importer", redisClient, queueErrors)
	if err != nil {
		return err
	}

	queueCfg := queue.Config{
		Queue:      cfg.Queue.Name,
		Consumers:  cfg.Queue.Consumers,
		Prefetch:   cfg.Queue.Prefetch,
		PollPeriod: cfg.Queue.PollPeriod,
		FatalCodes: cfg.Queue.FatalCodes,
	}
	shutdownReason := make(chan string, 1)
	consumer := queue.NewConsumer(ctx, log, queueCfg, im.Handle, failure.Disposition,
		func(reason string) {
			select {
			case shutdownReason <- reason:
			default:
			}
		})
	_, err = queue.Start(log, conn, queueCfg, consumer)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Web

	router := web.NewRouter(log, promRegistry, map[string]web.CheckFunc{
		"database": func(ctx context.Context) error {
			return database.StatusCheck(ctx, db)
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})
	im.RegisterRoutes(router)
	webCtx, stopWeb := context.WithCancel(context.Background())
	webDone := make(chan struct{})
	go func() {
		web.Run(webCtx, log, web.NewServer(router, cfg.Web.Port))
		close(webDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("main: shutdown signal received")
	case reason := <-shutdownReason:
		runErr = fmt.Errorf("stopping on fatal task failure: %s", reason)
	}

	log.Info().Msg("main: stopping consumers")
	<-conn.StopAllConsuming()
	stopWeb()
	<-webDone
	return runErr
}

func migrate(ctx context.Context, log *zerolog.Logger, db *sqlx.DB, ns reference.Namespace) error {
	log.Info().Msg("main: migrating schema")
	if err := schema.Migrate(ctx, db); err != nil {
		return err
	}
	return reference.Postgres{}.PrepareNamespace(ctx, db, ns)
}

func status(ctx context.Context, log *zerolog.Logger, db *sqlx.DB, registry *reference.Registry) error {
	for _, dataset := range registry.Datasets() {
		current := ledger.CurrentVersion(ctx, log, db, dataset)
		lastModified := "never"
		if current.LastModified != nil {
			lastModified = current.LastModified.Format(time.RFC3339)
		}
		fmt.Printf("%-16s version %-6d last modified %s\n", dataset, current.Version, lastModified)
	}
	return nil
}

func logQueueErrors(ctx context.Context, log *zerolog.Logger, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			log.Warn().Err(err).Msg("main: queue connection error")
		}
	}
}

func printUsage(confUsage string) {
	fmt.Println(confUsage)
}
