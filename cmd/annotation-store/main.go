// Command annotation-store serves the annotation record API the overlay's
// rest persistence backend talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/annotation-overlay/internal/bootstrap"
	"github.com/menta2k/annotation-overlay/internal/config"
	"github.com/menta2k/annotation-overlay/internal/logger"
	"github.com/menta2k/annotation-overlay/internal/server"
)

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "", "config file (json or yaml)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides the config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Persistence.Backend == "rest" {
		fmt.Fprintln(os.Stderr, "annotation-store cannot use the rest backend as its own store")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("annotation store stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	repo, closeRepo, err := bootstrap.Repository(ctx, cfg.Persistence, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			log.Warn("failed to close repository", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(server.Config{Addr: cfg.Server.Addr, BodyLimit: cfg.Server.BodyLimit}, repo, log, reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
