package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/depsdash/depsdash/internal/config"
	"github.com/depsdash/depsdash/internal/dashboard"
	"github.com/depsdash/depsdash/internal/gateway"
	"github.com/depsdash/depsdash/internal/logging"
	"github.com/depsdash/depsdash/internal/poller"
	"github.com/depsdash/depsdash/internal/retention"
	"github.com/depsdash/depsdash/internal/store"
	"github.com/depsdash/depsdash/internal/suggest"
)

func newServeCmd() *cobra.Command {
	var withDashboard bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the polling scheduler and gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runServe(cfg, withDashboard)
		},
	}

	cmd.Flags().BoolVar(&withDashboard, "dashboard", false, "Run the terminal dashboard instead of log output")
	return cmd
}

// runServe is the composition root: store, suggestion engine, scheduler,
// gateway, and retention wired together, torn down in reverse on signal.
func runServe(cfg *config.Config, withDashboard bool) error {
	if withDashboard {
		// The TUI owns the terminal; log lines would corrupt it.
		logging.Suppress()
	} else if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}

	registry, err := store.NewStore(cfg.Data.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer registry.Close()

	suggestStore, err := suggest.NewStore(cfg.Data.Path)
	if err != nil {
		return fmt.Errorf("failed to open suggestion store: %w", err)
	}
	defer suggestStore.Close()
	suggester := suggest.NewEngine(registry, suggestStore)

	sched := poller.NewScheduler(registry, poller.NewBus(), suggester, poller.SchedulerConfig{
		CycleInterval:        time.Duration(cfg.Polling.CycleMS) * time.Millisecond,
		FetchTimeout:         time.Duration(cfg.Polling.FetchTimeoutMS) * time.Millisecond,
		MaxConcurrentPerHost: cfg.Polling.MaxConcurrentPerHost,
		BreakerThreshold:     cfg.Polling.BreakerThreshold,
		BreakerCooldown:      time.Duration(cfg.Polling.BreakerCooldownMS) * time.Millisecond,
		BackoffBase:          time.Duration(cfg.Polling.BackoffBaseMS) * time.Millisecond,
		BackoffMax:           time.Duration(cfg.Polling.BackoffMaxMS) * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	gw := gateway.NewServer(&gateway.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
	}, registry, sched)
	if err := gw.Start(); err != nil {
		sched.Shutdown()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	pruner := retention.NewPruner(registry, &retention.Config{
		Enabled:  cfg.Retention.Enabled,
		Schedule: cfg.Retention.Schedule,
		MaxDays:  cfg.Retention.MaxDays,
	})
	if err := pruner.Start(); err != nil {
		logging.Warn("Failed to start retention pruner", "error", err)
	}

	if withDashboard {
		err := dashboard.Run(version, registry, sched)
		shutdownAll(pruner, gw, sched, suggester)
		return err
	}

	fmt.Printf("depsdash v%s serving on http://%s:%d\n", version, cfg.Gateway.Host, cfg.Gateway.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	shutdownAll(pruner, gw, sched, suggester)
	return nil
}

// shutdownAll tears components down in reverse start order.
func shutdownAll(pruner *retention.Pruner, gw *gateway.Server, sched *poller.Scheduler, suggester *suggest.Engine) {
	pruner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logging.Warn("Gateway shutdown error", "error", err)
	}

	sched.Shutdown()
	suggester.Wait()
}
