package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fakelaghq/fakelag/internal/config"
	"github.com/fakelaghq/fakelag/internal/delayqueue"
	"github.com/fakelaghq/fakelag/internal/events"
	"github.com/fakelaghq/fakelag/internal/health"
	"github.com/fakelaghq/fakelag/internal/logging"
	"github.com/fakelaghq/fakelag/internal/metrics"
	"github.com/fakelaghq/fakelag/internal/netcond"
	"github.com/fakelaghq/fakelag/internal/relay"
	"github.com/fakelaghq/fakelag/internal/session"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "check":
		err = check(ctx, os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("FakeLag - UDP lag-injection proxy for testing under degraded networks")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fakelag run [--config path] [--local-port N] [--target-host H] [--target-port N]")
	fmt.Println("              [--latency ms] [--jitter ms] [--packet-loss p] [--bind-host addr]")
	fmt.Println("  fakelag check --config path")
}

func parseRunFlags(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	localPort := fs.Int("local-port", 0, "Local port to listen on")
	bindHost := fs.String("bind-host", "", "Host address to bind to")
	targetHost := fs.String("target-host", "", "Target server hostname or IP")
	targetPort := fs.Int("target-port", 0, "Target server port")
	latency := fs.Int("latency", -1, "Additional latency in milliseconds")
	jitter := fs.Int("jitter", -1, "Random jitter variation in milliseconds")
	loss := fs.Float64("packet-loss", -1, "Packet loss probability 0.0-1.0")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(context.Background(), *configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	// Flags override whatever the file said.
	if *localPort != 0 {
		cfg.Listen.Port = *localPort
	}
	if *bindHost != "" {
		cfg.Listen.Host = *bindHost
	}
	if *targetHost != "" {
		cfg.Target.Host = *targetHost
	}
	if *targetPort != 0 {
		cfg.Target.Port = *targetPort
	}
	if *latency >= 0 {
		cfg.Conditions.LatencyMs = *latency
	}
	if *jitter >= 0 {
		cfg.Conditions.JitterMs = *jitter
	}
	if *loss >= 0 {
		cfg.Conditions.Loss = *loss
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseRunFlags(args)
	if err != nil {
		return err
	}

	logger := logging.New()

	profile, err := netcond.NewProfile(cfg.Latency(), cfg.Jitter(), cfg.Conditions.Loss)
	if err != nil {
		return err
	}

	store := metrics.NewStore()
	ring := events.NewRing(512)

	sampler := netcond.NewSampler(profile)
	serverBound := delayqueue.New(sampler,
		delayqueue.WithMaxDepth(cfg.Run.QueueDepthCap),
		delayqueue.WithMetricsRecorder(store.QueueRecorder(metrics.ToServer)),
		delayqueue.WithEventRecorder(ring),
	)
	clientBound := delayqueue.New(sampler,
		delayqueue.WithMaxDepth(cfg.Run.QueueDepthCap),
		delayqueue.WithMetricsRecorder(store.QueueRecorder(metrics.ToClient)),
		delayqueue.WithEventRecorder(ring),
	)

	registry := session.NewRegistry(
		session.WithIdleTimeout(cfg.Run.SessionIdleTimeout),
		session.WithMaxSessions(cfg.Run.MaxSessions),
		session.WithMetricsRecorder(store.SessionRecorder()),
		session.WithEventRecorder(ring),
	)

	checker := health.NewChecker(store, cfg.Run.QueueDepthCap)

	proxyOpts := []relay.Option{
		relay.WithDrainTick(cfg.Run.DrainTick),
		relay.WithReadTimeout(cfg.Run.ReadTimeout),
		relay.WithLogger(logger),
		relay.WithMetricsRecorder(store.RelayRecorder()),
		relay.WithBoundCallback(checker.SetBound),
	}
	if cfg.Run.PPSCap > 0 {
		proxyOpts = append(proxyOpts, relay.WithRateLimit(cfg.Run.PPSCap))
	}

	proxy, err := relay.New(
		relay.Config{ListenAddr: cfg.ListenAddr(), TargetAddr: cfg.TargetAddr()},
		serverBound, clientBound, registry,
		proxyOpts...,
	)
	if err != nil {
		return err
	}

	logger.Printf("proxy starting on %s", cfg.ListenAddr())
	logger.Printf("forwarding to %s", cfg.TargetAddr())
	logger.Printf("conditions: %s", profile)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		defer stop()
		if err := proxy.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Monitoring.Enabled {
		grp.Go(func() error {
			return serveMonitoring(groupCtx, cfg.Monitoring.Addr, store, checker, ring, logger)
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Printf("proxy stopped")
	return nil
}

func check(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Printf("%s: ok (listen %s, target %s)\n", *configPath, cfg.ListenAddr(), cfg.TargetAddr())
	return nil
}

func serveMonitoring(ctx context.Context, addr string, store *metrics.Store, checker *health.Checker, ring *events.Ring, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewHTTPHandler(store))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ready, reasons := checker.Ready()
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ring.Snapshot())
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("monitoring listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
