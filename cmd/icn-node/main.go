// Command icn-node runs a single ICN node: mesh networking, the mesh job
// pipeline, the governance state machine, the WASM executor, and the mana
// and reputation ledgers, wired together behind core.RuntimeContext. It is
// deliberately thin: no CLI surface beyond start-up flags, no HTTP/router
// front end, no CCL compiler (all out of scope per SPEC_FULL.md).
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	icnconfig "icn-node/cmd/config"

	"icn-node/core"
)

func main() {
	log := logrus.WithField("component", "main")

	var env string
	root := &cobra.Command{
		Use:   "icn-node",
		Short: "run an InterCooperative Network node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), env, log)
		},
	}
	root.Flags().StringVar(&env, "env", "", "environment overlay config name (e.g. bootstrap)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		log.WithError(err).Fatal("icn-node exited with error")
	}
}

func run(ctx context.Context, env string, log *logrus.Entry) error {
	icnconfig.LoadConfig(env)
	cfg := icnconfig.AppConfig

	kp, err := core.NewKeyPair()
	if err != nil {
		return err
	}
	log.WithField("did", kp.Did).Info("node identity generated")

	resolver := core.NewStaticResolver()

	if err := os.MkdirAll(cfg.DAG.RootDir, 0o755); err != nil {
		return err
	}
	dag, err := core.NewFileDagStore(cfg.DAG.RootDir)
	if err != nil {
		return err
	}

	dataDir := filepath.Dir(cfg.DAG.RootDir)
	events, err := core.NewEventStore(filepath.Join(dataDir, "events.log"))
	if err != nil {
		return err
	}

	mesh, err := core.NewLibp2pMeshNetwork(ctx, cfg.Mesh.ListenAddr, cfg.Mesh.GossipTopic, resolver)
	if err != nil {
		log.WithError(err).Warn("libp2p mesh network unavailable, falling back to in-memory mesh")
		mesh = nil
	}
	var meshSvc core.MeshNetworkService
	if mesh != nil {
		defer mesh.Close()
		meshSvc = mesh
	} else {
		meshSvc = core.NewInMemoryMeshNetwork(resolver)
	}

	rc := core.NewRuntimeContext(core.RuntimeContextConfig{
		Resolver: resolver,
		Dag:      dag,
		Mesh:     meshSvc,
		Events:   events,
		ParameterSnapshot: filepath.Join(dataDir, "params.snapshot.json"),
		MaxSpendLimit:     cfg.Mana.MaxSpendLimit,
		ExecutorLimits: core.ExecutorLimits{
			MaxMemoryPages: uint32(cfg.Executor.MaxMemoryPages),
			MaxFunctions:   uint32(cfg.Executor.MaxFunctions),
			MaxTablePages:  uint32(cfg.Executor.MaxTablePages),
			FuelPerMana:    cfg.Executor.FuelPerMana,
		},
		GovernanceConfig: core.GovernanceConfig{
			MinSponsors:     cfg.Governance.MinSponsors,
			Quorum:          cfg.Governance.Quorum,
			Threshold:       cfg.Governance.Threshold,
			VotingWindow:    time.Duration(cfg.Governance.VotingWindowSecs) * time.Second,
			VetoGracePeriod: time.Duration(cfg.Governance.VetoGracePeriodSec) * time.Second,
			TimelockDelay:   time.Duration(cfg.Governance.TimelockDelaySecs) * time.Second,
		},
		NetworkHealthFactor: cfg.Mana.NetworkHealthFactor,
		RegenInterval:       time.Duration(cfg.Mana.RegenIntervalSecs) * time.Second,
	})

	rc.Governance.AddMember(kp.Did)

	if err := rc.Bootstrap(ctx); err != nil {
		return err
	}

	log.Info("icn-node running")
	return rc.Run(ctx)
}
