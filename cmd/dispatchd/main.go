package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskforge/dispatchd/pkg/config"
	"github.com/taskforge/dispatchd/pkg/console"
	"github.com/taskforge/dispatchd/pkg/log"
	"github.com/taskforge/dispatchd/pkg/metrics"
	"github.com/taskforge/dispatchd/pkg/server"
	"github.com/taskforge/dispatchd/pkg/storage"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dispatchd",
	Short:   "dispatchd runs the task-dispatch server",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dispatchd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Path to a YAML configuration file")
	rootCmd.Flags().String("bind-addr", "", "TCP address to accept worker connections on")
	rootCmd.Flags().String("data-dir", "./data", "Directory holding persisted state")
	rootCmd.Flags().Bool("file-storage", false, "Use the file-based store instead of the embedded document store")
	rootCmd.Flags().Int("max-retries", 0, "Maximum retry count before a task is dead-lettered")
	rootCmd.Flags().String("metrics-addr", "", "Address to expose /metrics and /healthz on (disabled if empty)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	fileStorage, _ := cmd.Flags().GetBool("file-storage")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if fileCfg.DataDir != "" && dataDir == "./data" {
		dataDir = fileCfg.DataDir
	}
	if fileCfg.FileStorage {
		fileStorage = true
	}
	if metricsAddr == "" {
		metricsAddr = fileCfg.MetricsAddr
	}

	srvCfg := fileCfg.ServerConfig()
	if bindAddr != "" {
		srvCfg.BindAddr = bindAddr
	}
	if maxRetries > 0 {
		srvCfg.MaxRetries = maxRetries
	}

	metrics.SetVersion(Version)

	store, err := openStore(dataDir, fileStorage)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("open store: %w", err)
	}
	metrics.RegisterComponent("storage", true, "")
	defer store.Close()

	auditLog, err := storage.NewDeadLetterAuditLog(dataDir)
	if err != nil {
		return fmt.Errorf("open dead-letter audit log: %w", err)
	}

	srv := server.New(srvCfg, store)
	srv.SetAuditLog(auditLog)
	if err := srv.Start(); err != nil {
		metrics.RegisterComponent("dispatcher", false, err.Error())
		return fmt.Errorf("start server: %w", err)
	}
	metrics.RegisterComponent("dispatcher", true, "")
	metrics.SetQueueSnapshotFunc(func() metrics.QueueSnapshot {
		ready, deadLetter := srv.QueueDepths()
		return metrics.QueueSnapshot{
			ReadyDepth:       ready,
			DeadLetterDepth:  deadLetter,
			ConnectedWorkers: len(srv.Workers()),
		}
	})
	defer srv.Shutdown()

	if metricsAddr != "" {
		startMetricsServer(metricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	consoleDone := make(chan int, 1)
	go func() {
		c := console.New(srv, os.Stdin, os.Stdout)
		consoleDone <- c.Run()
	}()

	select {
	case code := <-consoleDone:
		os.Exit(code)
	case <-sigCh:
		log.Info("received shutdown signal")
	}
	return nil
}

func openStore(dataDir string, fileStorage bool) (storage.Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if fileStorage {
		return storage.NewFileStore(dataDir)
	}
	return storage.NewBoltStore(dataDir)
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server stopped", err)
		}
	}()
}
