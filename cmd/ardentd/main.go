// Command ardentd runs the outbound call worker: it claims tasks from the
// shared backlog slice owned by this pod, places calls through Retell, and
// resolves completion signals into the CRM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	ardent "github.com/IvanSScrobot/ardent-ms-call-retell"
	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog/postgres"
	"github.com/IvanSScrobot/ardent-ms-call-retell/backoff"
	"github.com/IvanSScrobot/ardent-ms-call-retell/crm"
	"github.com/IvanSScrobot/ardent-ms-call-retell/fleet"
	"github.com/IvanSScrobot/ardent-ms-call-retell/fleet/k8s"
	"github.com/IvanSScrobot/ardent-ms-call-retell/gateway/retell"
	"github.com/IvanSScrobot/ardent-ms-call-retell/metrics"
	"github.com/IvanSScrobot/ardent-ms-call-retell/partition"
	"github.com/IvanSScrobot/ardent-ms-call-retell/poller"
	"github.com/IvanSScrobot/ardent-ms-call-retell/retry"
	"github.com/IvanSScrobot/ardent-ms-call-retell/server"
	signalpkg "github.com/IvanSScrobot/ardent-ms-call-retell/signal"
	"github.com/IvanSScrobot/ardent-ms-call-retell/track"
)

const shutdownGrace = 30 * time.Second

func main() {
	// Local development convenience; inside a pod there is no .env file.
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ardentd",
		Short: "Outbound call worker",
		Long:  "ardentd polls the shared call backlog, dials its partition slice through Retell, and records outcomes.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ARDENT_CONFIG"), "path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ardent.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	rootCmd.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply backlog schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ardent.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return runMigrate(cfg)
		},
	}
	rootCmd.AddCommand(migrateCmd)

	partitionCmd := &cobra.Command{
		Use:   "partition <key> <total>",
		Short: "Print which member index owns a partition key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("key must be an integer: %w", err)
			}
			total, err := strconv.Atoi(args[1])
			if err != nil || total < 1 {
				return errors.New("total must be a positive integer")
			}
			fmt.Printf("key %d in a fleet of %d belongs to member index %d\n", key, total, partition.Owner(key, total))
			return nil
		},
	}
	rootCmd.AddCommand(partitionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(cfg ardent.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := postgres.New(ctx, cfg.Backlog.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Migrate(ctx)
}

func runServe(cfg ardent.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Backlog store.
	store, err := postgres.New(ctx, cfg.Backlog.DSN, postgres.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("backlog store unreachable: %w", err)
	}

	// Fleet membership via the Kubernetes API.
	clientset, err := newKubeClient()
	if err != nil {
		return err
	}
	source := k8s.New(clientset, cfg.Fleet.Namespace,
		k8s.WithLabelSelector(cfg.Fleet.Selector),
		k8s.WithLogger(logger),
	)
	fleetTracker := fleet.NewTracker(source, cfg.Fleet.Identity,
		fleet.WithCacheTTL(cfg.Fleet.CacheTTL),
		fleet.WithLogger(logger),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricSet := metrics.New(registry)

	tracker := track.New()
	dispatchPolicy := retry.Policy{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Strategy: backoff.NewJittered(
			backoff.NewExponential(cfg.Dispatch.BaseDelay, cfg.Dispatch.MaxDelay),
			cfg.Dispatch.JitterCeiling,
		),
	}

	gw := retell.New(cfg.Telephony.BaseURL, cfg.Telephony.APIKey, cfg.Telephony.FromNumber, cfg.Telephony.AgentID,
		retell.WithRateLimit(cfg.Dispatch.RateLimit, cfg.Dispatch.RateBurst),
		retell.WithLogger(logger),
	)

	// Completion path.
	handlerOpts := []signalpkg.HandlerOption{
		signalpkg.WithLogger(logger),
		signalpkg.WithMetrics(metricSet),
		signalpkg.WithRetryPolicy(dispatchPolicy),
	}
	if cfg.CRM.Enabled {
		handlerOpts = append(handlerOpts, signalpkg.WithLeadCreator(
			crm.New(cfg.CRM.BaseURL, cfg.CRM.APIKey, cfg.CRM.PipelineID, crm.WithLogger(logger)),
		))
	}
	completions := signalpkg.NewHandler(tracker, store, handlerOpts...)

	loop := poller.New(fleetTracker, store, tracker, gw,
		poller.WithInterval(cfg.Poll.Interval),
		poller.WithMonitorInterval(cfg.Fleet.MonitorInterval),
		poller.WithSweep(cfg.Poll.SweepInterval, cfg.Poll.StaleAfter),
		poller.WithDispatchPolicy(dispatchPolicy),
		poller.WithLogger(logger),
		poller.WithMetrics(metricSet),
	)

	httpSrv := server.New(cfg.Server.Addr, store, fleetTracker,
		server.WithLogger(logger),
		server.WithMetricsRegistry(registry),
		server.WithWebhook("/webhooks/retell", completions.HTTPHandler()),
	)

	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.Signals.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Signals.RedisAddr})
		ingress := signalpkg.NewRedisIngress(redisClient, cfg.Signals.RedisChannel, completions, logger)
		go func() {
			if err := ingress.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("redis ingress: %w", err)
			}
		}()
	}

	if err := loop.Start(); err != nil {
		return err
	}

	logger.Info("worker running",
		slog.String("identity", cfg.Fleet.Identity),
		slog.String("namespace", cfg.Fleet.Namespace),
		slog.String("addr", cfg.Server.Addr),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("fatal component error", slog.String("error", err.Error()))
		cancel()
	}

	// Stop claiming before tearing down the ingress surfaces, so nothing new
	// enters the pipeline while completion signals can still land.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := loop.Stop(shutdownCtx); err != nil {
		logger.Error("poller stop timed out", slog.String("error", err.Error()))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("worker stopped")
	return nil
}

// newKubeClient prefers in-cluster credentials and falls back to the local
// kubeconfig for development.
func newKubeClient() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		if !errors.Is(err, rest.ErrNotInCluster) {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, nil).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("kubeconfig: %w", err)
		}
	}
	return kubernetes.NewForConfig(restCfg)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
