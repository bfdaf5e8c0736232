package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/OpenTransitTools/transitdelay/app/delay-monitor/monitor"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/OpenTransitTools/transitdelay/foundation/cache"
	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/OpenTransitTools/transitdelay/foundation/docstore"
	"github.com/OpenTransitTools/transitdelay/foundation/logger"
	"github.com/OpenTransitTools/transitdelay/foundation/queue"
	"github.com/OpenTransitTools/transitdelay/foundation/retry"
	"github.com/OpenTransitTools/transitdelay/foundation/web"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

var build = "develop"

func main() {
	// a missing .env file is normal outside local development
	_ = godotenv.Load()
	log := logger.New("delay-monitor", os.Getenv("LOG_PRETTY") != "")
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
			MaxOpenConns int    `conf:"default:20"`
		}
		Redis struct {
			Address  string `conf:"default:0.0.0.0:6379"`
			Password string `conf:"noprint"`
			DB       int    `conf:"default:0"`
		}
		Mongo struct {
			URI      string `conf:"noprint"`
			Database string `conf:"default:transitdelay"`
		}
		Nats struct {
			URL string
		}
		Queue struct {
			Name       string        `conf:"default:vehicle-positions"`
			Consumers  int           `conf:"default:2"`
			Prefetch   int64         `conf:"default:20"`
			PollPeriod time.Duration `conf:"default:500ms"`
		}
		Monitor struct {
			Timezone       string        `conf:"default:Europe/Prague"`
			MaxWorkers     int           `conf:"default:8"`
			AnchorInterval float64       `conf:"default:100"`
			DistanceScale  float64       `conf:"default:1"`
			AnchorTTL      time.Duration `conf:"default:24h"`
		}
		Web struct {
			Port int `conf:"default:8080"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Match observed vehicle trips to the timetable and estimate their delay"
	const prefix = "DELAY_MONITOR"
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

	location, err := time.LoadLocation(cfg.Monitor.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.Monitor.Timezone, err)
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

	checks := map[string]web.CheckFunc{
		"database": func(ctx context.Context) error {
			return database.StatusCheck(ctx, db)
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}

	// =========================================================================
	// Start Mongo

	var reports *mongo.Collection
	if cfg.Mongo.URI != "" {
		log.Info().Msg("main: Initializing mongo support")
		var store *docstore.Store
		err = retry.Do(ctx, log, "mongo", retry.DefaultConfig, func() error {
			var openErr error
			store, openErr = docstore.Open(ctx, docstore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
			return openErr
		})
		if err != nil {
			return fmt.Errorf("connecting to mongo: %w", err)
		}
		defer func() {
			if err := store.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("main: error closing mongo")
			}
		}()
		reports = store.Collection(monitor.ReportsCollection)
	} else {
		log.Info().Msg("main: no mongo uri, trip reports are not stored")
	}

	// =========================================================================
	// Start Nats

	var natsConnection *nats.Conn
	if cfg.Nats.URL != "" {
		log.Info().Msg("main: Initializing nats support")
		err = retry.Do(ctx, log, "nats", retry.DefaultConfig, func() error {
			var connectErr error
			natsConnection, connectErr = nats.Connect(cfg.Nats.URL,
				nats.Name("delay-monitor"),
				nats.MaxReconnects(-1))
			return connectErr
		})
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer natsConnection.Close()
		checks["nats"] = func(context.Context) error {
			if !natsConnection.IsConnected() {
				return fmt.Errorf("nats connection status %v", natsConnection.Status())
			}
			return nil
		}
	} else {
		log.Info().Msg("main: no nats url, delay summaries are not published")
	}

	// =========================================================================
	// Start Monitor

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(promRegistry)

	processor := monitor.NewProcessor(log,
		db,
		monitor.NewMatcher(log, db, location, metrics),
		monitor.NewAnchorCache(log, cache.NewStringCache(redisClient, cfg.Monitor.AnchorTTL)),
		monitor.NewEstimator(log, db, metrics),
		monitor.NewReportPublisher(log, natsConnection, reports, metrics),
		metrics,
		monitor.AnchorOptions{Interval: cfg.Monitor.AnchorInterval, DistanceScale: cfg.Monitor.DistanceScale},
		cfg.Monitor.MaxWorkers)

	queueErrors := make(chan error, 10)
	go logQueueErrors(ctx, log, queueErrors)
	conn, err := queue.OpenConnection("delay-monitor", redisClient, queueErrors)
	if err != nil {
		return err
	}
	queueCfg := queue.Config{
		Queue:      cfg.Queue.Name,
		Consumers:  cfg.Queue.Consumers,
		Prefetch:   cfg.Queue.Prefetch,
		PollPeriod: cfg.Queue.PollPeriod,
	}
	consumer := queue.NewConsumer(ctx, log, queueCfg, processor.Handle, failure.Disposition, nil)
	_, err = queue.Start(log, conn, queueCfg, consumer)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Web

	webCtx, stopWeb := context.WithCancel(context.Background())
	webDone := make(chan struct{})
	go func() {
		web.Run(webCtx, log, web.NewServer(web.NewRouter(log, promRegistry, checks), cfg.Web.Port))
		close(webDone)
	}()

	<-ctx.Done()
	log.Info().Msg("main: shutdown signal received, stopping consumers")
	<-conn.StopAllConsuming()
	stopWeb()
	<-webDone
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
