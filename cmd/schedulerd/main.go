// Command schedulerd is a thin cobra-based wrapper around the scheduler
// package: it loads tunables from YAML, wires a store (in-memory or a
// real database via gorm), starts the Prometheus /metrics endpoint, and
// runs until SIGINT/SIGTERM, shutting down gracefully.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/paulhilliar/db-scheduler/config"
	"github.com/paulhilliar/db-scheduler/logging"
	"github.com/paulhilliar/db-scheduler/scheduler"
	"github.com/paulhilliar/db-scheduler/stats"
	"github.com/paulhilliar/db-scheduler/store"
	"github.com/paulhilliar/db-scheduler/task"
)

var (
	configFile  string
	dsn         string
	metricsAddr string
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "schedulerd",
		Short:   "schedulerd runs a db-scheduler node",
		Version: "0.1.0",
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML tunables file (defaults applied if omitted)")
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "sqlite DSN for the durable store; empty uses an in-memory store")

	root.AddCommand(buildRunCommand())
	root.AddCommand(buildStatusCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler node and block until a shutdown signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the effective tunables and a summary of the store's executions, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
}

func loadTunables() (config.Tunables, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func showStatus() error {
	t, err := loadTunables()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("schedulerName:            %s\n", valueOrGenerated(t.SchedulerName))
	fmt.Printf("threadpoolSize:           %d\n", t.ThreadpoolSize)
	fmt.Printf("pollingLimit:             %d\n", t.PollingLimit)
	fmt.Printf("pollInterval:             %s\n", t.PollInterval.Duration())
	fmt.Printf("heartbeatInterval:        %s\n", t.HeartbeatInterval.Duration())
	fmt.Printf("shutdownWait:             %s\n", t.ShutdownWait.Duration())
	fmt.Printf("enableImmediateExecution: %v\n", t.EnableImmediateExecution)
	fmt.Printf("store:                    %s\n", storeDescription())

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	scheduled, err := db.GetAll()
	if err != nil {
		return fmt.Errorf("reading scheduled executions: %w", err)
	}
	failing, err := db.GetExecutionsFailingLongerThan(t.HeartbeatInterval.Duration(), time.Now())
	if err != nil {
		return fmt.Errorf("reading failing executions: %w", err)
	}

	fmt.Printf("scheduledExecutions:      %d\n", len(scheduled))
	fmt.Printf("failingLongerThan %-8s %d\n", t.HeartbeatInterval.Duration().String()+":", len(failing))
	for _, e := range failing {
		fmt.Printf("  - %s (consecutiveFailures=%d)\n", e.TaskInstanceID, e.ConsecutiveFailures)
	}
	return nil
}

func valueOrGenerated(name string) string {
	if name == "" {
		return "(generated at startup)"
	}
	return name
}

func storeDescription() string {
	if dsn == "" {
		return "in-memory (not suitable for multiple nodes)"
	}
	return fmt.Sprintf("sqlite: %s", dsn)
}

func runNode() error {
	t, err := loadTunables()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer zl.Sync()
	log := logging.NewZapLogger(zl)

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	registry := task.NewRegistry(demoTasks(log)...)

	promRegistry := prometheus.NewRegistry()
	statsRegistry := stats.NewPrometheusRegistry(promRegistry)

	opts := []scheduler.Option{
		scheduler.WithLogger(log),
		scheduler.WithStatsRegistry(statsRegistry),
		scheduler.WithThreadpoolSize(t.ThreadpoolSize),
		scheduler.WithPollingLimit(t.PollingLimit),
		scheduler.WithHeartbeatInterval(t.HeartbeatInterval.Duration()),
		scheduler.WithShutdownWait(t.ShutdownWait.Duration()),
		scheduler.WithImmediateExecution(t.EnableImmediateExecution),
	}
	if t.SchedulerName != "" {
		opts = append(opts, scheduler.WithSchedulerName(t.SchedulerName))
	}
	if t.PollInterval.Duration() > 0 {
		opts = append(opts, scheduler.WithPollInterval(t.PollInterval.Duration()))
	}

	s := scheduler.New(db, registry, opts...)

	// Queue one instance of the demo task; CreateIfNotExists makes this a
	// no-op when a durable store already holds it.
	if err := s.Schedule(task.TaskInstance{TaskName: "heartbeat-log", InstanceID: "demo"}, time.Now()); err != nil {
		return fmt.Errorf("scheduling demo task: %w", err)
	}

	metricsServer := startMetricsServer(log, promRegistry)
	defer shutdownMetricsServer(log, metricsServer)

	s.Start()
	log.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal")
	s.Stop()
	log.Info("scheduler stopped")
	return nil
}

func openStore() (store.ExecutionStore, error) {
	if dsn == "" {
		return store.NewMemoryStore(), nil
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&store.ExecutionRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return store.NewGormStore(db), nil
}

func startMetricsServer(log logging.Logger, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped unexpectedly", logging.Err(err))
		}
	}()
	log.Info("metrics server listening", logging.Field{Key: "addr", Val: metricsAddr})
	return srv
}

func shutdownMetricsServer(log logging.Logger, srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("metrics server did not shut down cleanly", logging.Err(err))
	}
}
