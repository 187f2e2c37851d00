// Package stage implements the staging-area assembler: given a build unit
// whose dependencies are satisfied in the cache, it constructs the staging
// root their artifacts are unpacked into.
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/baserock/morph/internal/morpherrors"
	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/graph"
	"github.com/baserock/morph/pkg/morph"
)

// Assembler builds a fresh staging root per build unit from its dependency
// artifacts.
type Assembler struct {
	local      *cache.Local
	toolPrefix string
}

// New constructs an Assembler over local, unpacking bootstrap-mode
// dependencies under toolPrefix (default /tools).
func New(local *cache.Local, toolPrefix string) *Assembler {
	return &Assembler{local: local, toolPrefix: toolPrefix}
}

// Assemble creates rootDir fresh (removing any prior contents) and unpacks
// every transitive dependency of unit into it: bootstrap-mode dependencies
// under toolPrefix, everything else under /. Ordering is topological with
// ties broken by cache-key, so the staging root's construction order is
// deterministic across hosts.
func (a *Assembler) Assemble(rootDir string, unit *graph.Unit) error {
	if err := os.RemoveAll(rootDir); err != nil {
		return morpherrors.CacheIOError(unit.CacheKey, err)
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return morpherrors.CacheIOError(unit.CacheKey, err)
	}

	order := transitiveTopoOrder(unit)
	for _, dep := range order {
		if dep.Kind != graph.UnitChunk {
			continue // only chunk artifacts are unpacked into a build staging root
		}
		target := rootDir
		if dep.BuildMode == morph.ModeBootstrap {
			target = filepath.Join(rootDir, a.toolPrefix)
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return morpherrors.CacheIOError(dep.CacheKey, err)
		}

		tarPath := a.local.ArtifactPath(dep.CacheKey, cache.Kind(dep.Kind), dep.ArtifactName)
		if err := cache.UnpackTar(tarPath, target); err != nil {
			return err
		}
	}
	return nil
}

// transitiveTopoOrder flattens unit's full dependency closure (excluding
// unit itself) into a deterministic build order: dependencies before
// dependents, ties among unordered siblings broken by cache-key.
func transitiveTopoOrder(unit *graph.Unit) []*graph.Unit {
	visited := make(map[*graph.Unit]bool)
	var order []*graph.Unit

	var visit func(u *graph.Unit)
	visit = func(u *graph.Unit) {
		deps := append([]*graph.Unit{}, u.Dependencies...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].CacheKey < deps[j].CacheKey })
		for _, d := range deps {
			if !visited[d] {
				visited[d] = true
				visit(d)
				order = append(order, d)
			}
		}
	}
	visit(unit)
	return order
}

// CheckoutSource materialises the chunk's source tree under
// rootDir/<name>.build via the GitRepoCache checkout, including submodules.
type GitChecker interface {
	Checkout(repo, sha, destDir string) error
}

func CheckoutSource(git GitChecker, unit *graph.Unit, rootDir string) (string, error) {
	if unit.Kind != graph.UnitChunk {
		return "", fmt.Errorf("CheckoutSource called on non-chunk unit %s", unit)
	}
	dest := filepath.Join(rootDir, unit.Chunk.Name+".build")
	if err := git.Checkout(unit.ChunkSpec.Repo, unit.SourceSHA, dest); err != nil {
		return "", err
	}
	return dest, nil
}
