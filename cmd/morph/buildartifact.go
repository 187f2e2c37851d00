package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/baserock/morph/pkg/build"
	"github.com/baserock/morph/pkg/graph"
)

var buildArtifactCmd = &cobra.Command{
	Use:   "build-artifact <cache-key>",
	Short: "Build a single unit already present in a resolved graph",
	Long: `build-artifact builds exactly one unit, identified by its cache key,
assuming its dependencies are already available in the local or remote
cache. It is what the distributed controller dispatches to a worker via
exec-request; --repo/--ref/--morphology let it re-derive the same build
graph the controller resolved so it can look the unit up by key.`,
	Args: func(cmd *cobra.Command, args []string) error {
		return usage(cobra.ExactArgs(1)(cmd, args))
	},
	RunE: runBuildArtifact,
}

var (
	artifactRepo       string
	artifactRef        string
	artifactMorphology string
)

func init() {
	buildArtifactCmd.Flags().StringVar(&artifactRepo, "repo", ".", "git repository containing the morphology")
	buildArtifactCmd.Flags().StringVar(&artifactRef, "ref", "HEAD", "git ref to build at")
	buildArtifactCmd.Flags().StringVar(&artifactMorphology, "morphology", "", "path to the system morphology")
}

func runBuildArtifact(cmd *cobra.Command, args []string) error {
	cacheKey := args[0]

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	comp, err := wireComponents(cfg)
	if err != nil {
		return err
	}

	g, err := comp.builder.BuildGraph(artifactRepo, artifactRef, artifactMorphology)
	if err != nil {
		return failed(err)
	}

	var unit *graph.Unit
	for _, u := range g.All {
		if u.CacheKey == cacheKey {
			unit = u
			break
		}
	}
	if unit == nil {
		return usage(fmt.Errorf("no unit with cache key %s in the resolved graph", cacheKey))
	}

	ctx, cancel := contextWithSignals()
	defer cancel()

	if unit.Kind == graph.UnitChunk {
		err = comp.bld.Build(ctx, unit)
	} else {
		err = build.BuildAggregate(comp.local, unit)
	}
	if err != nil {
		return failed(err)
	}

	if err := uploadToSharedCache(ctx, comp, unit); err != nil {
		return failed(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", cacheKey)
	return nil
}

// uploadToSharedCache pushes every artifact file build-artifact just
// committed locally out to the shared cache, so the controller's
// post-exec-response Has check (the dispatcher's own verification that a
// worker actually did what it reported) finds it there. A no-op when no
// remote cache is configured.
func uploadToSharedCache(ctx context.Context, comp *components, unit *graph.Unit) error {
	uploader, ok := comp.shared.(Uploader)
	if !ok {
		return nil
	}

	artifacts, err := comp.local.ListArtifacts(unit.CacheKey)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		data, err := os.ReadFile(comp.local.ArtifactPath(unit.CacheKey, a.Kind, a.Name))
		if err != nil {
			return err
		}
		filename := fmt.Sprintf("%s.%s.%s", unit.CacheKey, a.Kind, a.Name)
		if err := uploader.Put(ctx, filename, data); err != nil {
			return err
		}
	}
	return nil
}
