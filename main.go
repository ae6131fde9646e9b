package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/activities"
	"github.com/colloquylab/colloquy/internal/config"
	"github.com/colloquylab/colloquy/internal/health"
	"github.com/colloquylab/colloquy/internal/invoker"
	"github.com/colloquylab/colloquy/internal/journal"
	"github.com/colloquylab/colloquy/internal/ratecontrol"
	"github.com/colloquylab/colloquy/internal/roster"
	"github.com/colloquylab/colloquy/internal/runstore"
	temporallog "github.com/colloquylab/colloquy/internal/temporal"
	"github.com/colloquylab/colloquy/internal/tracing"
	"github.com/colloquylab/colloquy/internal/workflows"
)

func main() {
	configPath := flag.String("config", os.Getenv("COLLOQUY_CONFIG"), "path to worker config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	team, err := roster.LoadFile(cfg.RosterPath)
	if err != nil {
		logger.Fatal("Failed to load specialist roster",
			zap.String("path", cfg.RosterPath),
			zap.Error(err),
		)
	}
	logger.Info("Specialist roster loaded",
		zap.String("path", cfg.RosterPath),
		zap.Strings("specialists", team.IDs()),
	)

	limits := ratecontrol.New()
	if cfg.RateLimitsPath != "" {
		if err := limits.LoadFile(cfg.RateLimitsPath); err != nil {
			logger.Warn("Failed to load rate limit overrides",
				zap.String("path", cfg.RateLimitsPath),
				zap.Error(err),
			)
		}
	}

	inv := invoker.NewHTTPInvoker(cfg.ModelServiceURL, limits, logger)
	events := journal.NewManager(256)

	checkers := []health.Checker{
		health.NewHTTPChecker("model_service", cfg.ModelServiceURL+"/health"),
	}

	opts := activities.Options{}
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts.DurableEvents = journal.NewRedisWriter(rdb, logger)
		checkers = append(checkers, health.CheckFunc{
			CheckName: "redis",
			Fn:        func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("Durable event journal enabled", zap.String("addr", cfg.Redis.Addr))
	}
	if cfg.Database.Host != "" {
		store, err := runstore.NewClient(&cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect run store", zap.Error(err))
		}
		defer store.Close()
		opts.Store = store
		checkers = append(checkers, health.CheckFunc{
			CheckName: "postgres",
			Fn:        store.Ping,
		})
		logger.Info("Run store enabled",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
		)
	}

	acts := activities.New(inv, team, cfg.Budgets, events, logger, opts)

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			health.NewHandler(logger, checkers...).RegisterRoutes(mux)
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("Admin HTTP server listening", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("Admin HTTP server failed", zap.Error(err))
			}
		}()
	}

	// Wait for the Temporal frontend before dialing; worker startup races
	// server startup in compose environments.
	for attempt := 1; attempt <= 60; attempt++ {
		c, err := net.DialTimeout("tcp", cfg.Temporal.HostPort, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal endpoint",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.Int("attempt", attempt),
		)
		time.Sleep(time.Second)
	}

	tClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tClient.Close()

	w := worker.New(tClient, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	w.RegisterWorkflow(workflows.ResearchPipelineWorkflow)
	w.RegisterWorkflow(workflows.ConsensusWorkflow)
	w.RegisterActivity(acts)

	go func() {
		logger.Info("Worker started",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal("Worker exited with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down worker")
	w.Stop()
}
