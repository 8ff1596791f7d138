package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/api"
	"main/internal/broker"
	"main/internal/bus"
	"main/internal/ledger"
	"main/internal/marketdata"
	"main/internal/obs"
	"main/internal/oms"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/strategy"
	"main/internal/tca"
	"main/internal/validate"
	"main/pkg/conn"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("executiond: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config directory (default: working directory)")
	migrate := flag.Bool("migrate", true, "run ledger schema migration on startup")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	pg, err := conn.New(conn.Option{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	})
	if err != nil {
		return err
	}
	defer func() { _ = pg.Close() }()

	store := ledger.New(pg.DB())
	if *migrate {
		if err := store.Migrate(); err != nil {
			return err
		}
	}

	var dedup validate.DedupStore
	if cfg.Redis.Addr != "" {
		redis, err := conn.NewRedis(ctx, conn.RedisOption{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = redis.Close() }()
		dedup = validate.NewRedisDedup(redis)
	}

	registry, err := ops.BuildRegistry(cfg.Calendar)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	riskEngine := risk.NewEngine(cfg.Risk)

	// Order events fan out through a bounded queue; a saturated consumer
	// drops events (and counts the drop) instead of stalling the manager.
	events := &bus.Fanout{}
	eventQueue := bus.NewQueue(1024)
	defer eventQueue.Close()
	events.Subscribe(func(e schema.Event) {
		if err := eventQueue.TryPublish(e); err != nil {
			metrics.IncQueueDrop()
		}
	})
	go eventQueue.Run(ctx, func(e schema.Event) {
		logs.Debugf("event %s order %s status %s", e.Type, e.OrderID, e.Status)
	})

	secrets := broker.EnvSecrets{Prefix: "EXEC_SECRET"}
	brokers, err := ops.BuildBrokers(cfg, secrets, metrics)
	if err != nil {
		return err
	}

	quotes := marketdata.NewCache(cfg.Market.MaxQuoteAge)
	if cfg.Market.Feed == "binance" {
		feed := marketdata.NewBinanceFeed(quotes, cfg.Market.Symbols)
		go feed.Run(ctx)
	}

	funds := validate.NewStaticFunds(cfg.Validate.Funds)

	manager := oms.NewManager(cfg.Manager, store, brokers, registry, events, riskEngine, metrics)
	engine := strategy.NewEngine(cfg.Strategy)
	scheduler := strategy.NewScheduler(engine, quotes, manager, manager)
	manager.SetExecutor(scheduler)
	manager.SetFunds(funds)

	if _, err := manager.Recover(ctx); err != nil {
		return err
	}

	managerDone := make(chan error, 1)
	go func() { managerDone <- manager.Run(ctx) }()

	journal, err := tca.NewJournal(cfg.TCA)
	if err != nil {
		return err
	}
	if err := journal.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()
	reporter := tca.NewReporter(store, journal)

	validator := validate.New(validate.Config{DedupWindow: cfg.Validate.DedupWindow},
		registry, funds, quotes, riskEngine, dedup)

	router := api.NewRouter(validator, manager, store, reporter, metrics)
	server := &http.Server{Addr: cfg.API.Addr, Handler: router}

	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe() }()
	logs.Infof("execution service listening on %s", cfg.API.Addr)

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		return err
	case err := <-managerDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("http shutdown, err: %+v", err)
	}
	scheduler.Shutdown()
	<-managerDone
	return nil
}
