package build

import (
	"os"
	"time"

	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/graph"
)

// BuildAggregate produces a stratum or system artifact by unioning its
// already-built dependency artifacts into one tarball — no subprocess is
// involved, unlike a chunk build.
func BuildAggregate(local *cache.Local, unit *graph.Unit) error {
	status, claim, err := local.Claim(unit.CacheKey)
	if err != nil {
		return err
	}
	if status == cache.StatusDone {
		return nil
	}
	if status == cache.StatusBusy {
		return nil
	}

	logPath := claim.PartialBuildLogPath()
	os.WriteFile(logPath, []byte("aggregate build: unioning dependency artifacts\n"), 0o644)

	unionDir, err := os.MkdirTemp("", "morph-union-*")
	if err != nil {
		claim.FinalizeLogOnly()
		return err
	}
	defer os.RemoveAll(unionDir)

	for _, dep := range unit.Dependencies {
		tarPath := local.ArtifactPath(dep.CacheKey, cache.Kind(dep.Kind), dep.ArtifactName)
		if err := cache.UnpackTar(tarPath, unionDir); err != nil {
			claim.FinalizeLogOnly()
			return err
		}
	}

	partial := claim.PartialArtifactPath(cache.Kind(unit.Kind), unit.ArtifactName)
	if err := cache.PackTar(unionDir, partial); err != nil {
		claim.FinalizeLogOnly()
		return err
	}

	meta := &cache.Meta{
		Key:        unit.CacheKey,
		Kind:       cache.Kind(unit.Kind),
		Name:       unit.ArtifactName,
		SourceSHA:  unit.SourceSHA,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		LastAccess: time.Now(),
	}
	for _, d := range unit.Dependencies {
		meta.Dependencies = append(meta.Dependencies, d.CacheKey)
	}

	if err := claim.Commit([]cache.ArtifactFile{{Kind: cache.Kind(unit.Kind), Name: unit.ArtifactName, PartialPath: partial}}, meta); err != nil {
		return err
	}

	attestSystem(local, unit, unionDir)
	return nil
}
