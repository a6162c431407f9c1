package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/alerts"
	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/discovery"
	"github.com/cuemby/burrow/pkg/dns"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/scrape"
	"github.com/cuemby/burrow/pkg/tsdb"
)

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run a burrow manager",
	Long: `Run the burrow control plane: Raft-replicated cluster state, the
scheduler and reconciler loops, service discovery, the metrics scrape
engine, the alert evaluator, and the HTTP control API.

A single manager bootstraps its own cluster. Additional managers join an
existing one with --join.`,
	RunE: runManager,
}

func init() {
	managerCmd.Flags().StringP("config", "c", "", "Config file path")
	managerCmd.Flags().String("node-id", "", "Unique node ID (default: hostname)")
	managerCmd.Flags().String("data-dir", "", "Data directory for cluster state")
	managerCmd.Flags().String("api-addr", "", "HTTP API listen address")
	managerCmd.Flags().String("raft-addr", "", "Raft bind address")
	managerCmd.Flags().String("join", "", "API address of an existing manager to join")
}

func runManager(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	if cfg.Node.ID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("node id not set and hostname unavailable: %w", err)
		}
		cfg.Node.ID = hostname
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), Pretty: cfg.Log.Pretty})
	logger := log.WithComponent("main")

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:           cfg.Node.ID,
		BindAddr:         cfg.Raft.BindAddr,
		DataDir:          cfg.Node.DataDir,
		HeartbeatTimeout: cfg.Scheduler.HeartbeatTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	joinAddr, _ := cmd.Flags().GetString("join")
	if joinAddr == "" {
		joinAddr = cfg.Raft.JoinAddr
	}
	if joinAddr != "" {
		if err := mgr.Join(); err != nil {
			return fmt.Errorf("failed to start raft: %w", err)
		}
		leader := client.NewClient(joinAddr)
		if err := leader.ClusterJoin(context.Background(), cfg.Node.ID, cfg.Raft.BindAddr); err != nil {
			return fmt.Errorf("failed to join cluster via %s: %w", joinAddr, err)
		}
		logger.Info().Str("leader", joinAddr).Msg("Joined existing cluster")
	} else {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		logger.Info().Msg("Cluster bootstrapped")
	}

	// Register this process as a cluster node once it can reach the leader.
	go registerSelf(mgr, cfg, joinAddr)

	ts := tsdb.NewStore(tsdb.Options{
		Retention:  cfg.TSDB.Retention,
		MaxSamples: cfg.TSDB.MaxSamples,
	})
	resolver := discovery.NewResolver(mgr.Store())

	sched := scheduler.NewScheduler(mgr, scheduler.Config{Interval: cfg.Scheduler.Interval})
	sched.Start()

	recon := reconciler.NewReconciler(mgr, reconciler.Config{
		Interval: cfg.Scheduler.ReconcileEvery,
		Grace:    cfg.Scheduler.TaskGrace,
	})
	recon.Start()

	monitor := health.NewMonitor(mgr, 0)
	monitor.Start()

	engine := scrape.NewEngine(resolver, ts, mgr.Broker(), scrape.Config{
		Interval:   cfg.Scrape.Interval,
		Timeout:    cfg.Scrape.Timeout,
		DownAfter:  cfg.Scrape.DownAfter,
		MaxBackoff: cfg.Scrape.MaxBackoff,
	})
	engine.Start()

	evaluator := alerts.NewEvaluator(mgr.Store(), ts, mgr.Broker(), alerts.Config{
		Interval: cfg.Alerts.Interval,
		Window:   cfg.Alerts.Window,
	})
	evaluator.Start()

	var dnsServer *dns.Server
	if cfg.DNS.Enabled {
		dnsServer = dns.NewServer(resolver, &dns.Config{
			ListenAddr: cfg.DNS.ListenAddr,
			Domain:     cfg.DNS.Domain,
			Upstream:   cfg.DNS.Upstream,
		})
		if err := dnsServer.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start DNS server: %w", err)
		}
	}

	apiServer := api.NewServer(mgr, resolver, ts, evaluator, engine, api.Config{
		ListenAddr: cfg.API.ListenAddr,
	})
	if err := apiServer.Start(); err != nil {
		return err
	}

	logger.Info().
		Str("node_id", cfg.Node.ID).
		Str("api", cfg.API.ListenAddr).
		Msg("Manager running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown error")
	}
	if dnsServer != nil {
		if err := dnsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("DNS shutdown error")
		}
	}
	evaluator.Stop()
	engine.Stop()
	monitor.Stop()
	recon.Stop()
	sched.Stop()
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}
	return nil
}

// applyFlagOverrides lets command-line flags win over config file values
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		cfg.Node.ID = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Node.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("api-addr"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("raft-addr"); v != "" {
		cfg.Raft.BindAddr = v
	}
}
