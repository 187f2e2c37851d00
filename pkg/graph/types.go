// Package graph implements the artifact graph builder: it expands a system
// morphology reference into a DAG of build units and computes each node's
// cache key.
package graph

import "github.com/baserock/morph/pkg/morph"

// UnitKind mirrors morph.Kind but is restricted to the three kinds that can
// appear as a build unit (clusters never produce artifacts).
type UnitKind string

const (
	UnitChunk   UnitKind = "chunk"
	UnitStratum UnitKind = "stratum"
	UnitSystem  UnitKind = "system"
)

// Identity is the (source-sha, morph-name, artifact-name, kind) tuple that
// names a build unit, independent of its cache key.
type Identity struct {
	SourceSHA    string
	MorphName    string
	ArtifactName string
	Kind         UnitKind
}

// Unit is one node of the artifact DAG: a single artifact to produce.
type Unit struct {
	Identity

	Dependencies []*Unit
	CacheKey     string

	// Chunk-only fields.
	BuildMode morph.BuildMode
	Prefix    string
	Chunk     *morph.Chunk
	ChunkSpec *morph.ChunkSpec

	// Split rules: a chunk unit carries its chunk's products, which the
	// builder's split-tar step (captureOutputs) applies; a stratum unit
	// carries its stratum's products. Both are folded into the cache key.
	Products []morph.ProductRule
}

func (u *Unit) String() string {
	return string(u.Kind) + ":" + u.ArtifactName + "@" + u.SourceSHA[:min(8, len(u.SourceSHA))]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Graph is the full DAG produced from one top-level system reference.
type Graph struct {
	System *Unit
	// All is every unit in the graph, including System, listed once each
	// (populated after ComputeCacheKeys, so every entry has its CacheKey).
	All []*Unit
}
