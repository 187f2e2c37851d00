package graph

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/baserock/morph/internal/morpherrors"
	"github.com/baserock/morph/pkg/morph"
	"github.com/baserock/morph/pkg/resolver"
)

// Builder expands a system morphology reference into a DAG of build units.
// Strata and chunk morphologies referenced from a stratum/system spec are
// assumed to live in the same repository and commit as their referencing
// morphology — the common definitions-repo layout — while a ChunkSpec's
// own repo/ref may point anywhere.
type Builder struct {
	resolver *resolver.Resolver
	policy   Policy
}

// New constructs a Builder using r to resolve and fetch morphology text.
func New(r *resolver.Resolver, policy Policy) *Builder {
	return &Builder{resolver: r, policy: policy}
}

// chunkBuild bundles a loaded chunk with the stratum-local context needed to
// build its dependency edges.
type chunkBuild struct {
	spec   morph.ChunkSpec
	chunk  *morph.Chunk
	sha    string
	units  map[string]*Unit // artifact-name -> unit, this chunk's own artifacts
}

// BuildGraph loads the system at (repo, ref, morphPath) and produces its
// full build-unit DAG with cache keys computed.
func (b *Builder) BuildGraph(repo, ref, morphPath string) (*Graph, error) {
	sysResolved, err := b.resolver.Resolve(repo, ref, morphPath)
	if err != nil {
		return nil, err
	}
	sys, err := morph.Load(sysResolved.Text, morph.KindSystem, morph.StemName(morphPath))
	if err != nil {
		return nil, err
	}
	system := sys.(*morph.System)

	strataCycleAdj := map[string][]string{}
	for _, sr := range system.Strata {
		strataCycleAdj[sr.Name] = nil // filled in below once loaded
	}

	loadedStrata := make(map[string]*morph.Stratum)
	strataSHA := make(map[string]string)
	for _, sr := range system.Strata {
		stratumPath := sr.Morph
		if stratumPath == "" {
			stratumPath = sr.Name
		}
		res, err := b.resolver.Resolve(repo, ref, stratumPath+".morph")
		if err != nil {
			return nil, err
		}
		st, err := morph.Load(res.Text, morph.KindStratum, sr.Name)
		if err != nil {
			return nil, err
		}
		stratum := st.(*morph.Stratum)
		loadedStrata[sr.Name] = stratum
		strataSHA[sr.Name] = res.SHA
		strataCycleAdj[sr.Name] = append([]string{}, stratum.BuildDepends...)
	}

	if cyc := findCycle(strataCycleAdj); cyc != nil {
		return nil, morpherrors.DependencyCycle(cyc)
	}

	// Build chunk units stratum by stratum, in an order where a stratum's
	// build-depends strata are processed first.
	order, err := topoOrder(strataCycleAdj)
	if err != nil {
		return nil, err
	}

	chunkUnitsByStratum := make(map[string]map[string][]*Unit) // stratum -> chunk name -> its artifact units
	exposedArtifactsByStratum := make(map[string][]*Unit)       // stratum -> all exposed (unfiltered) chunk artifact units, for system aggregation

	var bootstrapUnits []*Unit

	for _, stratumName := range order {
		stratum := loadedStrata[stratumName]
		sha := strataSHA[stratumName]

		chunkAdj := map[string][]string{}
		for _, cs := range stratum.Chunks {
			chunkAdj[cs.Name] = append([]string{}, cs.BuildDepends...)
		}
		if cyc := findCycle(chunkAdj); cyc != nil {
			return nil, morpherrors.DependencyCycle(cyc)
		}
		chunkTopoOrder, err := topoOrder(chunkAdj)
		if err != nil {
			return nil, err
		}

		builtChunks := make(map[string]*chunkBuild)
		for _, chunkName := range chunkTopoOrder {
			var spec *morph.ChunkSpec
			for i := range stratum.Chunks {
				if stratum.Chunks[i].Name == chunkName {
					spec = &stratum.Chunks[i]
					break
				}
			}
			if spec == nil {
				return nil, morpherrors.UnsatisfiedDependency(chunkName)
			}

			morphPath := spec.Morph
			if morphPath == "" {
				morphPath = spec.Name
			}
			res, err := b.resolver.Resolve(spec.Repo, spec.Ref, morphPath+".morph")
			if err != nil {
				return nil, err
			}
			cm, err := morph.Load(res.Text, morph.KindChunk, spec.Name)
			if err != nil {
				return nil, err
			}
			chunk := cm.(*morph.Chunk)

			units := makeChunkUnits(chunk, spec, res.SHA, b.policy)

			// Wire within-stratum build-depends: runtime depends on
			// runtime, devel depends on devel+runtime, per the default
			// split-dependency convention.
			for _, depName := range spec.BuildDepends {
				dep, ok := builtChunks[depName]
				if !ok {
					return nil, morpherrors.UnsatisfiedDependency(depName)
				}
				wireChunkDependency(units, dep.units)
			}

			// Wire cross-stratum build-depends: every unit a build-depends
			// stratum produced (all its chunk artifacts and its stratum
			// artifacts) becomes a dependency; no artifact subset is applied.
			for _, depStratumName := range stratum.BuildDepends {
				for _, u := range exposedArtifactsByStratum[depStratumName] {
					for _, myUnit := range units {
						myUnit.Dependencies = append(myUnit.Dependencies, u)
					}
				}
			}

			cb := &chunkBuild{spec: *spec, chunk: chunk, sha: res.SHA, units: units}
			builtChunks[chunkName] = cb

			if chunkUnitsByStratum[stratumName] == nil {
				chunkUnitsByStratum[stratumName] = make(map[string][]*Unit)
			}
			for _, u := range units {
				chunkUnitsByStratum[stratumName][chunkName] = append(chunkUnitsByStratum[stratumName][chunkName], u)
				exposedArtifactsByStratum[stratumName] = append(exposedArtifactsByStratum[stratumName], u)
				if u.BuildMode == morph.ModeBootstrap {
					bootstrapUnits = append(bootstrapUnits, u)
				}
			}
		}

		// Aggregate stratum artifact(s) from this stratum's chunk artifacts.
		stratumArtifactUnits := aggregateStratum(stratum, sha, exposedArtifactsByStratum[stratumName])
		exposedArtifactsByStratum[stratumName] = append(exposedArtifactsByStratum[stratumName], stratumArtifactUnits...)
	}

	// System aggregation: for each referenced stratum, select its exposed
	// artifact subset (default: every artifact it produces) and fold into
	// one system build unit.
	systemUnit := &Unit{
		Identity: Identity{
			SourceSHA:    sysResolved.SHA,
			MorphName:    system.Name,
			ArtifactName: system.Name,
			Kind:         UnitSystem,
		},
	}
	for _, sr := range system.Strata {
		stratumUnits := stratumArtifactsOnly(exposedArtifactsByStratum[sr.Name])
		selected := selectArtifacts(stratumUnits, sr.Artifacts)
		systemUnit.Dependencies = append(systemUnit.Dependencies, selected...)
	}
	sort.Slice(systemUnit.Dependencies, func(i, j int) bool {
		return systemUnit.Dependencies[i].ArtifactName < systemUnit.Dependencies[j].ArtifactName
	})

	// Two-pass cache key computation: first pass computes bootstrap unit
	// keys (tooling closure key is not yet known and is omitted for
	// bootstrap units themselves, by construction), second pass folds the
	// resulting tooling closure key into every non-bootstrap chunk.
	ComputeCacheKeys(systemUnit, b.policy, "")
	toolingKey := ToolingClosureKey(bootstrapUnits)
	ComputeCacheKeys(systemUnit, b.policy, toolingKey)

	return &Graph{System: systemUnit, All: collectAll(systemUnit)}, nil
}

func makeChunkUnits(chunk *morph.Chunk, spec *morph.ChunkSpec, sha string, policy Policy) map[string]*Unit {
	units := make(map[string]*Unit)
	if len(chunk.Products) == 0 {
		units[chunk.Name] = &Unit{
			Identity: Identity{SourceSHA: sha, MorphName: chunk.Name, ArtifactName: chunk.Name, Kind: UnitChunk},
			BuildMode: spec.BuildMode, Prefix: spec.Prefix, Chunk: chunk, ChunkSpec: spec,
		}
		return units
	}
	for _, p := range chunk.Products {
		units[p.Artifact] = &Unit{
			Identity:  Identity{SourceSHA: sha, MorphName: chunk.Name, ArtifactName: p.Artifact, Kind: UnitChunk},
			BuildMode: spec.BuildMode, Prefix: spec.Prefix, Chunk: chunk, ChunkSpec: spec,
			Products: chunk.Products,
		}
	}
	return units
}

// wireChunkDependency applies the default split-dependency convention:
// an artifact whose name ends in "-devel" depends on the dependency
// chunk's own "-devel" artifact (if any) plus its runtime/default artifact;
// every other artifact depends only on the dependency's runtime/default
// artifact.
func wireChunkDependency(units, depUnits map[string]*Unit) {
	runtime := pickRuntime(depUnits)
	devel, hasDevel := pickNamed(depUnits, "-devel")

	for name, u := range units {
		if isDevel(name) && hasDevel {
			u.Dependencies = append(u.Dependencies, devel)
		}
		if runtime != nil {
			u.Dependencies = append(u.Dependencies, runtime)
		}
	}
}

func isDevel(artifactName string) bool {
	return len(artifactName) > 6 && artifactName[len(artifactName)-6:] == "-devel"
}

func pickNamed(units map[string]*Unit, suffix string) (*Unit, bool) {
	for name, u := range units {
		if len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix {
			return u, true
		}
	}
	return nil, false
}

func pickRuntime(units map[string]*Unit) *Unit {
	if u, ok := pickNamed(units, "-runtime"); ok {
		return u
	}
	// No split rules: the single default artifact is its own runtime.
	for _, u := range units {
		if !isDevel(u.ArtifactName) {
			return u
		}
	}
	return nil
}

func aggregateStratum(stratum *morph.Stratum, sha string, chunkArtifacts []*Unit) []*Unit {
	if len(stratum.Products) == 0 {
		u := &Unit{
			Identity: Identity{SourceSHA: sha, MorphName: stratum.Name, ArtifactName: stratum.Name, Kind: UnitStratum},
			Dependencies: append([]*Unit{}, chunkArtifacts...),
		}
		sortDeps(u)
		return []*Unit{u}
	}

	buckets := make(map[string][]*Unit)
	for _, artifactUnit := range chunkArtifacts {
		for _, rule := range stratum.Products {
			matched, err := regexp.MatchString(anchorPattern(rule.Include), artifactUnit.ArtifactName)
			if err == nil && matched {
				buckets[rule.Artifact] = append(buckets[rule.Artifact], artifactUnit)
				break
			}
		}
	}
	var units []*Unit
	for _, rule := range stratum.Products {
		deps := buckets[rule.Artifact]
		u := &Unit{
			Identity:     Identity{SourceSHA: sha, MorphName: stratum.Name, ArtifactName: rule.Artifact, Kind: UnitStratum},
			Dependencies: append([]*Unit{}, deps...),
			Products:     stratum.Products,
		}
		sortDeps(u)
		units = append(units, u)
	}
	return units
}

func anchorPattern(patterns []string) string {
	if len(patterns) == 0 {
		return "$^" // matches nothing
	}
	out := ""
	for i, p := range patterns {
		if i > 0 {
			out += "|"
		}
		out += "(?:" + p + ")"
	}
	return out
}

func sortDeps(u *Unit) {
	sort.Slice(u.Dependencies, func(i, j int) bool {
		return u.Dependencies[i].ArtifactName < u.Dependencies[j].ArtifactName
	})
}

func stratumArtifactsOnly(units []*Unit) []*Unit {
	var out []*Unit
	for _, u := range units {
		if u.Kind == UnitStratum {
			out = append(out, u)
		}
	}
	return out
}

func selectArtifacts(units []*Unit, names []string) []*Unit {
	if len(names) == 0 {
		return units
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*Unit
	for _, u := range units {
		if want[u.ArtifactName] {
			out = append(out, u)
		}
	}
	return out
}

func collectAll(root *Unit) []*Unit {
	seen := make(map[*Unit]bool)
	var all []*Unit
	var visit func(u *Unit)
	visit = func(u *Unit) {
		if seen[u] {
			return
		}
		seen[u] = true
		all = append(all, u)
		for _, d := range u.Dependencies {
			visit(d)
		}
	}
	visit(root)
	return all
}

// topoOrder returns a topological ordering of adj (node -> its
// dependencies), assuming adj is already known acyclic.
func topoOrder(adj map[string][]string) ([]string, error) {
	visited := make(map[string]int) // 0=unvisited,1=visiting,2=done
	var order []string
	var visit func(n string) error
	visit = func(n string) error {
		switch visited[n] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("cycle involving %q", n)
		}
		visited[n] = 1
		for _, c := range adj[n] {
			if err := visit(c); err != nil {
				return err
			}
		}
		visited[n] = 2
		order = append(order, n)
		return nil
	}
	for n := range adj {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}
