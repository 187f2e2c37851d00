package main

import (
	"github.com/spf13/cobra"

	"github.com/baserock/morph/pkg/distbuild"
)

var workerDaemonCmd = &cobra.Command{
	Use:   "worker-daemon",
	Short: "Run a distributed build worker",
	Long: `worker-daemon accepts a single controller connection on --listen and
executes the exec-request frames it receives via the exec helper, one
subprocess per request, streaming output back as exec-output frames.`,
	Args: func(cmd *cobra.Command, args []string) error {
		return usage(cobra.NoArgs(cmd, args))
	},
	RunE: runWorkerDaemon,
}

var workerListen string

func init() {
	workerDaemonCmd.Flags().StringVar(&workerListen, "listen", ":9401", "address to accept the controller connection on")
}

func runWorkerDaemon(cmd *cobra.Command, args []string) error {
	w := distbuild.NewWorker(log)
	log.WithField("addr", workerListen).Info("worker listening for controller")
	if err := w.ListenAndServe(workerListen); err != nil {
		return failed(err)
	}
	return nil
}
