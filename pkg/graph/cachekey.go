package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/baserock/morph/pkg/morph"
)

// Policy carries the environment-dependent inputs that must be folded into
// every cache key so that rebuilding for a different architecture or
// compiler flag set never collides with a previous key.
type Policy struct {
	Arch   string
	CFLAGS string
	Prefix string // not read when computing keys; each chunk's key uses its ChunkSpec.Prefix
}

// target returns the policy's contribution to a leaf chunk's key, per
// spec.md 4.3: "relevant environment policy (target CFLAGS, prefix,
// bootstrap flag)".
func (p Policy) target(prefix string, mode morph.BuildMode) string {
	return fmt.Sprintf("arch=%s;cflags=%s;prefix=%s;mode=%s", p.Arch, p.CFLAGS, prefix, mode)
}

// ComputeCacheKeys walks the DAG bottom-up (post-order, memoised) and fills
// in CacheKey for every unit reachable from root. toolingClosureKey is the
// cache key of the transitive closure of build-essential bootstrap tooling
// in effect for this build; it is folded into every non-bootstrap chunk's
// key so that a toolchain change invalidates every chunk built with it.
func ComputeCacheKeys(root *Unit, policy Policy, toolingClosureKey string) {
	visited := make(map[*Unit]bool)
	var visit func(u *Unit)
	visit = func(u *Unit) {
		if visited[u] {
			return
		}
		visited[u] = true
		for _, dep := range u.Dependencies {
			visit(dep)
		}
		u.CacheKey = computeKey(u, policy, toolingClosureKey)
	}
	visit(root)
}

func computeKey(u *Unit, policy Policy, toolingClosureKey string) string {
	h := sha256.New()

	fmt.Fprintf(h, "artifact-name=%s\n", u.ArtifactName)
	fmt.Fprintf(h, "kind=%s\n", u.Kind)
	fmt.Fprintf(h, "source-sha=%s\n", u.Identity.SourceSHA)

	switch u.Kind {
	case UnitChunk:
		canon, _ := morph.Canonical(u.Chunk)
		h.Write(canon)
		fmt.Fprintf(h, "target=%s\n", policy.target(u.Prefix, u.BuildMode))
		if u.BuildMode != morph.ModeBootstrap {
			fmt.Fprintf(h, "tooling-closure=%s\n", toolingClosureKey)
		}
	case UnitStratum, UnitSystem:
		fmt.Fprintf(h, "arch=%s\n", policy.Arch)
	}

	depKeys := make([]string, 0, len(u.Dependencies))
	for _, dep := range u.Dependencies {
		depKeys = append(depKeys, dep.CacheKey)
	}
	sort.Strings(depKeys)
	for _, k := range depKeys {
		fmt.Fprintf(h, "dep=%s\n", k)
	}

	splitKeys := make([]string, 0, len(u.Products))
	for _, p := range u.Products {
		splitKeys = append(splitKeys, p.Artifact+":"+fmt.Sprint(p.Include))
	}
	sort.Strings(splitKeys)
	for _, s := range splitKeys {
		fmt.Fprintf(h, "split=%s\n", s)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// ToolingClosureKey folds the sorted cache keys of a set of bootstrap-mode
// units (the build-essential tooling closure) into a single stable digest.
func ToolingClosureKey(bootstrapUnits []*Unit) string {
	keys := make([]string, 0, len(bootstrapUnits))
	for _, u := range bootstrapUnits {
		keys = append(keys, u.CacheKey)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s\n", k)
	}
	return hex.EncodeToString(h.Sum(nil))
}
