/*
main.go - Application entry point

PURPOSE:
  Starts the visit order balance engine. Two subcommands:

    visitorderd serve                  Run the HTTP API and the allocation
                                       scheduler
    visitorderd allocate --prison MDI  Run one batch allocation pass and
                                       exit (for cron/manual runs)

STARTUP SEQUENCE (serve):
  1. Load TOML config (flags override port/db path)
  2. Open the SQLite store
  3. Wire the upstream collaborator clients
  4. Build the engine and API router
  5. Start the scheduler and the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler, drain active requests (30s
  timeout), close the database, exit.
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehouse/visit-order-engine/api"
	"github.com/gatehouse/visit-order-engine/config"
	"github.com/gatehouse/visit-order-engine/engine"
	"github.com/gatehouse/visit-order-engine/store/sqlite"
	"github.com/gatehouse/visit-order-engine/upstream"
)

var (
	configPath string
	port       int
	dbPath     string
	prisonID   string
)

func main() {
	root := &cobra.Command{
		Use:   "visitorderd",
		Short: "Visit order balance engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "visitorders.toml", "path to TOML config")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the allocation scheduler",
		RunE:  runServe,
	}
	serve.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")

	allocate := &cobra.Command{
		Use:   "allocate",
		Short: "Run one batch allocation pass for a prison and exit",
		RunE:  runAllocate,
	}
	allocate.Flags().StringVar(&prisonID, "prison", "", "prison identifier")
	_ = allocate.MarkFlagRequired("prison")

	root.AddCommand(serve, allocate)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildEngine() (*engine.Engine, *sqlite.Store, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, config.Config{}, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, config.Config{}, fmt.Errorf("failed to open store: %w", err)
	}

	eng := engine.New(
		store,
		upstream.Incentives{Client: upstream.New(cfg.Upstreams.IncentivesURL)},
		upstream.Prisoners{Client: upstream.New(cfg.Upstreams.PrisonersURL)},
		upstream.Visits{Client: upstream.New(cfg.Upstreams.VisitsURL)},
		nil, // notifications wired by the deployment's queue adapter
		cfg.Rules(),
	)
	return eng, store, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, store, cfg, err := buildEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	handler := api.NewHandler(eng)
	router := api.NewRouter(handler)

	var scheduler *api.AllocationScheduler
	if cfg.Scheduler.Enabled {
		scheduler = api.NewAllocationScheduler(eng, cfg.Scheduler.Prisons, cfg.Scheduler.Interval())
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("[Server] Received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func runAllocate(cmd *cobra.Command, args []string) error {
	eng, store, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := eng.RunPrisonAllocation(context.Background(), prisonID)
	if err != nil {
		return err
	}

	log.Printf("[Allocate] %s: %d processed, %d changed, %d skipped, %d failed",
		report.PrisonID, report.Processed, report.Changed, report.Skipped, len(report.Failed))
	for prisoner, ferr := range report.Failed {
		log.Printf("[Allocate]   failed %s: %v", prisoner, ferr)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d prisoners failed allocation", len(report.Failed))
	}
	return nil
}
