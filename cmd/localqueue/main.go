package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"localqueue/internal/api"
	"localqueue/internal/config"
	httphandler "localqueue/internal/handlers/http"
	"localqueue/internal/handlers/shell"
	"localqueue/internal/handlers/sim"
	"localqueue/internal/logging"
	"localqueue/internal/metrics"
	"localqueue/internal/queue"
	"localqueue/internal/scheduler"
	"localqueue/internal/service"
	"localqueue/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to a YAML config file")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		workers = flag.Int("workers", 0, "number of worker goroutines (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *workers > 0 {
		cfg.Worker.Count = *workers
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Console)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closer, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer closer.Close()

	handlers := worker.NewRegistry()
	handlers.MustRegister(sim.TypeDataProcessing, sim.DataProcessing{StepDelay: 50 * time.Millisecond})
	handlers.MustRegister(sim.TypeEmailSimulation, sim.EmailSimulation{StepDelay: 200 * time.Millisecond})
	handlers.MustRegister(sim.TypeImageProcessing, sim.ImageProcessing{StepDelay: 300 * time.Millisecond})
	handlers.MustRegister(httphandler.Type, httphandler.HTTP{})
	if cfg.Worker.EnableShell {
		handlers.MustRegister(shell.Type, shell.Shell{})
	}

	q := queue.New()
	pool := worker.NewPool(st, handlers, q, cfg.Worker.Count, worker.WithLogger(logger.With().Str("component", "worker").Logger()))
	svc := service.New(st, handlers, q, pool, service.WithLogger(logger.With().Str("component", "service").Logger()))

	if _, _, err := svc.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("recover tasks from previous run")
	}

	sched, err := scheduler.NewService(svc, cfg.DomainSchedules(), scheduler.WithLogger(logger.With().Str("component", "scheduler").Logger()))
	if err != nil {
		logger.Fatal().Err(err).Msg("configure schedules")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("schedule service")
		}
	}()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(svc,
			api.WithLogger(logger.With().Str("component", "http").Logger()),
			api.WithSchedules(sched),
			api.WithMetrics(metrics.NewCollector(svc, svc.QueueDepth, pool)),
			api.WithDebug(cfg.Server.Debug),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Driver).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	q.Close()
	wg.Wait()
}
