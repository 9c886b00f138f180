package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/iTrooz/tiercache/internal/cache"
	"github.com/iTrooz/tiercache/internal/config"
	"github.com/iTrooz/tiercache/internal/manager"
	"github.com/iTrooz/tiercache/internal/observe"
	"github.com/iTrooz/tiercache/internal/proxy"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "tiercache",
		Usage: "multi-tier client cache with a caching proxy host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   "configs/config.yaml",
				Sources: cli.EnvVars("TIERCACHE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the caching proxy",
				Action: serve,
			},
			{
				Name:   "sweep",
				Usage:  "remove expired entries from the durable tier and exit",
				Action: sweep,
			},
			{
				Name:   "config",
				Usage:  "print the effective configuration",
				Action: dumpConfig,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cmd.IsSet("config") {
		logrus.Debugf("No config file at %s, using defaults", path)
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := configureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configureLogging(cfg config.LogConfig) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hook := observe.NewHook(reg, cache.ErrQuotaExceeded, nil)

	m := manager.New(cfg, manager.WithReporter(hook))
	m.Init(ctx)
	defer m.Close()

	server, err := proxy.New(cfg, m)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	if cfg.Server.MetricsPort > 0 {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Server.MetricsPort, reg)
		})
	}
	return g.Wait()
}

func serveMetrics(ctx context.Context, port int, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("Serving metrics on port %d", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sweep(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store := cache.NewDisk(cfg.Local.Folder, cfg.LocalQuota())
	if err := store.Init(); err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Local.Folder, err)
	}
	before := store.Used()

	m := manager.New(cfg, manager.WithLocalStore(store))
	_, local := m.Sweep()

	fmt.Printf("Removed %d expired entries, %d remain, %s freed\n",
		local, m.Local.Len(), humanize.IBytes(uint64(max(before-store.Used(), 0))))
	return nil
}

func dumpConfig(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
