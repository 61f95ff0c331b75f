// Command radiacode-exporter polls a RadiaCode detector and serves its readings as Prometheus
// metrics.
//
// Usage:
//
//	radiacode-exporter run [-config radiacode.yaml] [-demo]
//	radiacode-exporter validate [-config radiacode.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-radiacode/config"
	"github.com/arloliu/go-radiacode/coordinator"
	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/metrics"
	"github.com/arloliu/go-radiacode/session"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		// the default logger is the configured one once run has loaded its config
		logger.Error("radiacode-exporter failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: radiacode-exporter <command> [flags]

commands:
  run       poll the detector and serve metrics
  validate  check a configuration file
  help      show this message`)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	return config.Load(path)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "radiacode.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	desc, _ := cfg.Descriptor()
	fmt.Printf("config %s is valid: device=%s metrics=%s%s\n", *cfgPath, desc, cfg.Metrics.Addr, cfg.Metrics.Path)

	return nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file; built-in defaults when empty")
	demo := fs.Bool("demo", false, "Use the simulated detector instead of real hardware")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *demo {
		cfg.Emulator.Enabled = true
		if cfg.Emulator.DoseRate == 0 {
			cfg.Emulator.DoseRate = 0.12
		}
	}

	l, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	logger.SetDefault(l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, l)
}

func run(ctx context.Context, cfg *config.Config, l logger.Logger) error {
	desc, err := cfg.Descriptor()
	if err != nil {
		return err
	}

	sessOpts := cfg.SessionOptions(l)
	if dev := cfg.NewEmulator(); dev != nil {
		l.Warn("using simulated detector", "serial", dev.Descriptor().Serial(), "dose_rate", cfg.Emulator.DoseRate)
		sessOpts = append(sessOpts, session.WithTransportFactory(dev.Factory()))
	}

	sess, err := session.New(desc, sessOpts...)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	coord, err := coordinator.New(sess, cfg.CoordinatorOptions(l)...)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := metrics.New(coord, reg)
	if err != nil {
		return err
	}

	srv := newServer(cfg, reg, coord)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		exporter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		l.Info("serving metrics", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	l.Info("exporter stopped", "error", err)

	return err
}

func newServer(cfg *config.Config, reg *prometheus.Registry, coord *coordinator.Coordinator) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if coord.Snapshot().Stale {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stale"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
