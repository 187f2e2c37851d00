package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build <system.morph>",
	Short: "Build a system image from a morphology",
	Args: func(cmd *cobra.Command, args []string) error {
		return usage(cobra.ExactArgs(1)(cmd, args))
	},
	RunE: runBuild,
}

var (
	buildRepo string
	buildRef  string
)

func init() {
	buildCmd.Flags().StringVar(&buildRepo, "repo", ".", "git repository containing the morphology (local path or URL)")
	buildCmd.Flags().StringVar(&buildRef, "ref", "HEAD", "git ref to build at")
}

func runBuild(cmd *cobra.Command, args []string) error {
	morphPath := args[0]

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	comp, err := wireComponents(cfg)
	if err != nil {
		return err
	}

	g, err := comp.builder.BuildGraph(buildRepo, buildRef, morphPath)
	if err != nil {
		return failed(err)
	}

	ctx, cancel := contextWithSignals()
	defer cancel()

	if err := comp.exec.Run(ctx, g); err != nil {
		return failed(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", morphPath)
	return nil
}
