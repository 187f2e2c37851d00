package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baserock/morph/pkg/distbuild"
)

var distbuildCmd = &cobra.Command{
	Use:   "distbuild <system.morph>",
	Short: "Submit a build to a controller and stream its progress",
	Args: func(cmd *cobra.Command, args []string) error {
		return usage(cobra.ExactArgs(1)(cmd, args))
	},
	RunE: runDistbuild,
}

var (
	distbuildController string
	distbuildRepo        string
	distbuildRef         string
)

func init() {
	distbuildCmd.Flags().StringVar(&distbuildController, "controller", "", "controller address (default from config controller_addr)")
	distbuildCmd.Flags().StringVar(&distbuildRepo, "repo", ".", "git repository containing the morphology")
	distbuildCmd.Flags().StringVar(&distbuildRef, "ref", "HEAD", "git ref to build at")
}

func runDistbuild(cmd *cobra.Command, args []string) error {
	morphPath := args[0]

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	addr := distbuildController
	if addr == "" {
		addr = cfg.ControllerAddr
	}
	if addr == "" {
		return usage(fmt.Errorf("no controller address: pass --controller or set controller_addr in config"))
	}

	if err := distbuild.RequestBuild(addr, distbuildRepo, distbuildRef, morphPath, cmd.OutOrStdout()); err != nil {
		return failed(err)
	}
	return nil
}
