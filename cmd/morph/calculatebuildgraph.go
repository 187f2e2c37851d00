package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var calculateBuildGraphCmd = &cobra.Command{
	Use:   "calculate-build-graph <system.morph>",
	Short: "Resolve a system morphology into its build graph and print it as JSON",
	Long: `calculate-build-graph performs just the Resolving step: it loads the
system morphology, its strata and chunks, computes every unit's cache key,
and prints the resulting graph as JSON without building anything. The
distributed controller can delegate Resolving to a worker by running this
subcommand remotely.`,
	Args: func(cmd *cobra.Command, args []string) error {
		return usage(cobra.ExactArgs(1)(cmd, args))
	},
	RunE: runCalculateBuildGraph,
}

var (
	graphRepo string
	graphRef  string
)

func init() {
	calculateBuildGraphCmd.Flags().StringVar(&graphRepo, "repo", ".", "git repository containing the morphology")
	calculateBuildGraphCmd.Flags().StringVar(&graphRef, "ref", "HEAD", "git ref to resolve at")
}

// graphUnitView is the JSON-friendly projection of a graph.Unit printed by
// calculate-build-graph: just enough to drive scheduling (key, kind,
// dependency keys), not the full internal morphology structures.
type graphUnitView struct {
	CacheKey     string   `json:"cache_key"`
	Kind         string   `json:"kind"`
	Name         string   `json:"name"`
	Dependencies []string `json:"dependencies"`
}

func runCalculateBuildGraph(cmd *cobra.Command, args []string) error {
	morphPath := args[0]

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	comp, err := wireComponents(cfg)
	if err != nil {
		return err
	}

	g, err := comp.builder.BuildGraph(graphRepo, graphRef, morphPath)
	if err != nil {
		return failed(err)
	}

	views := make([]graphUnitView, 0, len(g.All))
	for _, u := range g.All {
		depKeys := make([]string, 0, len(u.Dependencies))
		for _, d := range u.Dependencies {
			depKeys = append(depKeys, d.CacheKey)
		}
		views = append(views, graphUnitView{
			CacheKey:     u.CacheKey,
			Kind:         string(u.Kind),
			Name:         u.String(),
			Dependencies: depKeys,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(views); err != nil {
		return fmt.Errorf("encode build graph: %w", err)
	}
	return nil
}
