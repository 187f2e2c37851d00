package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baserock/morph/pkg/distbuild"
	"github.com/baserock/morph/pkg/distbuild/claims"
)

var controllerDaemonCmd = &cobra.Command{
	Use:   "controller-daemon",
	Short: "Run the distributed build controller",
	Long: `controller-daemon accepts initiator connections on --listen-initiators
and worker connections, dialing each address in --workers, then drives every
incoming build-request through Resolving, Scheduling and Running to
completion.`,
	Args: func(cmd *cobra.Command, args []string) error {
		return usage(cobra.NoArgs(cmd, args))
	},
	RunE: runControllerDaemon,
}

var (
	controllerListenInitiators string
	controllerWorkers          []string
	controllerClaimDB          string
)

func init() {
	controllerDaemonCmd.Flags().StringVar(&controllerListenInitiators, "listen-initiators", ":9400", "address to accept initiator connections on")
	controllerDaemonCmd.Flags().StringSliceVar(&controllerWorkers, "workers", nil, "worker-id=addr pairs to dial at startup")
	controllerDaemonCmd.Flags().StringVar(&controllerClaimDB, "claim-db", "", "path to the claim table's bbolt file (default <cache-dir>/claims.db)")
}

func runControllerDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	comp, err := wireComponents(cfg)
	if err != nil {
		return err
	}

	claimPath := controllerClaimDB
	if claimPath == "" {
		claimPath = filepath.Join(comp.local.Dir(), "claims.db")
	}
	claimTable, err := claims.Open(claimPath)
	if err != nil {
		return fmt.Errorf("open claim table: %w", err)
	}
	defer claimTable.Close()

	ctrl := distbuild.NewController(log, comp.shared, claimTable, comp.builder.BuildGraph)

	for _, pair := range controllerWorkers {
		id, addr, ok := strings.Cut(pair, "=")
		if !ok {
			return usage(fmt.Errorf("malformed --workers entry %q, want id=addr", pair))
		}
		if err := ctrl.ConnectWorker(id, addr); err != nil {
			log.WithError(err).WithField("worker", id).Warn("could not connect to worker at startup")
		}
	}

	log.WithField("addr", controllerListenInitiators).Info("controller listening for initiators")
	if err := ctrl.ListenInitiators(controllerListenInitiators); err != nil {
		return failed(err)
	}
	return nil
}
