package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/cluster"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/ha"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/simulator"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one management peer",
	Long: `Run one Burrow management peer: the HA worker pool, the cleanup
task, and the peer membership layer.

The first peer bootstraps the membership group; later peers are added
from the leader with the peers shown by raft. This build wires the
coordinator to the built-in simulator backend, which stands in for the
VM orchestrator during development; production deployments embed
pkg/ha against their own orchestration services.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		configPath, _ := cmd.Flags().GetString("config")
		bootstrap, _ := cmd.Flags().GetBool("bootstrap")

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		log.Init(log.Config{Level: log.Level(cfg.Logger.Level), JSONOutput: cfg.Logger.JSON})
		logger := log.WithComponent("serve")

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open work store: %w", err)
		}
		defer store.Close()

		backend := simulator.NewBackend()
		seedBackend(backend)

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		gates := config.NewGates(cfg.HA)
		mgr := ha.NewManager(nodeID, cfg.HA, gates, ha.Deps{
			Store:         store,
			Inventory:     backend,
			Orchestrator:  backend,
			Alerts:        &simulator.LogAlerter{},
			Volumes:       backend,
			Resources:     backend,
			Investigators: []ha.Investigator{&simulator.AgentInvestigator{Backend: backend}},
			Fencers:       []ha.Fencer{&simulator.NullFencer{}},
			HAPlanners:    []ha.Planner{&simulator.FirstFitPlanner{}},
			Events:        broker,
		})
		if err := mgr.Configure(); err != nil {
			return err
		}

		peers, err := cluster.New(&cluster.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create membership layer: %w", err)
		}
		peers.Subscribe(mgr)
		if bootstrap {
			if err := peers.Bootstrap(); err != nil {
				return err
			}
		}
		peers.Start()

		if err := mgr.Start(); err != nil {
			return err
		}

		go func() {
			http.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()

		logger.Info().Str("node_id", nodeID).Str("instance", cfg.Instance).Str("bind_addr", bindAddr).Msg("management peer running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		if err := mgr.Stop(); err != nil {
			logger.Error().Err(err).Msg("error stopping coordinator")
		}
		if err := peers.Stop(); err != nil {
			logger.Error().Err(err).Msg("error stopping membership layer")
		}
		return nil
	},
}

// seedBackend gives the simulator a small topology to work against.
func seedBackend(b *simulator.Backend) {
	b.AddZone(&types.Zone{ID: 1, Name: "zone1"})
	b.AddPod(&types.Pod{ID: 1, Name: "pod1", ZoneID: 1})
	b.AddHost(&types.Host{ID: 1, Name: "host1", Type: types.HostTypeRouting, Hypervisor: types.HypervisorSimulator, Status: types.HostUp, ZoneID: 1, PodID: 1})
	b.AddHost(&types.Host{ID: 2, Name: "host2", Type: types.HostTypeRouting, Hypervisor: types.HypervisorSimulator, Status: types.HostUp, ZoneID: 1, PodID: 1})
}

func init() {
	serveCmd.Flags().String("node-id", "peer-1", "Unique peer identifier")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7380", "Membership bind address")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9380", "Prometheus metrics address")
	serveCmd.Flags().String("data-dir", "/var/lib/burrow", "Data directory")
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().Bool("bootstrap", false, "Bootstrap a new membership group")
}
