package graph

import (
	"testing"

	"github.com/baserock/morph/internal/gitcache"
	"github.com/baserock/morph/pkg/resolver"
)

// fakeGitRepoCache serves fixed morphology texts keyed by (repo, path), with
// ref resolution treated as the identity function: the test repos have no
// real commit history, so "ref" and "sha" are the same opaque string.
type fakeGitRepoCache struct {
	texts map[string]map[string][]byte // repo -> path -> contents
}

func (f *fakeGitRepoCache) ResolveRef(repo, ref string) (string, error) {
	return ref, nil
}

func (f *fakeGitRepoCache) CatFile(repo, sha, path string) ([]byte, error) {
	return f.texts[repo][path], nil
}

func (f *fakeGitRepoCache) SubmodulesAt(repo, sha string) ([]gitcache.Submodule, error) {
	return nil, nil
}

func simpleSystemFixture() *fakeGitRepoCache {
	return &fakeGitRepoCache{
		texts: map[string]map[string][]byte{
			"definitions": {
				"systems/devel-system-x86_64.morph": []byte(`
name: devel-system-x86_64
arch: x86_64
strata:
  - name: core
`),
				"core.morph": []byte(`
name: core
chunks:
  - name: zlib
    repo: upstream:zlib
    ref: v1.2.13
`),
			},
			"upstream:zlib": {
				"zlib.morph": []byte(`
name: zlib
build-system: autotools
`),
			},
		},
	}
}

func newTestBuilder(fake *fakeGitRepoCache) *Builder {
	r := resolver.New(fake)
	return New(r, Policy{Arch: "x86_64", CFLAGS: "-O2"})
}

func TestBuildGraphProducesSystemChunkAndStratumUnits(t *testing.T) {
	b := newTestBuilder(simpleSystemFixture())

	g, err := b.BuildGraph("definitions", "master", "systems/devel-system-x86_64.morph")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	if g.System.Kind != UnitSystem {
		t.Fatalf("System.Kind = %v, want system", g.System.Kind)
	}
	if g.System.CacheKey == "" {
		t.Error("System.CacheKey should be set")
	}

	var sawStratum, sawChunk bool
	for _, u := range g.All {
		switch u.Kind {
		case UnitStratum:
			sawStratum = true
		case UnitChunk:
			sawChunk = true
			if u.ArtifactName != "zlib" {
				t.Errorf("chunk artifact name = %q, want zlib", u.ArtifactName)
			}
		}
		if u.CacheKey == "" {
			t.Errorf("unit %s has an empty cache key", u)
		}
	}
	if !sawStratum {
		t.Error("expected a stratum unit in the graph")
	}
	if !sawChunk {
		t.Error("expected a chunk unit in the graph")
	}
}

func TestBuildGraphIsDeterministicAcrossCalls(t *testing.T) {
	fake := simpleSystemFixture()
	g1, err := newTestBuilder(fake).BuildGraph("definitions", "master", "systems/devel-system-x86_64.morph")
	if err != nil {
		t.Fatalf("BuildGraph 1: %v", err)
	}
	g2, err := newTestBuilder(fake).BuildGraph("definitions", "master", "systems/devel-system-x86_64.morph")
	if err != nil {
		t.Fatalf("BuildGraph 2: %v", err)
	}
	if g1.System.CacheKey != g2.System.CacheKey {
		t.Errorf("system cache key differs across calls: %s != %s", g1.System.CacheKey, g2.System.CacheKey)
	}
}

func TestBuildGraphWiresCrossStratumBuildDepends(t *testing.T) {
	fake := &fakeGitRepoCache{
		texts: map[string]map[string][]byte{
			"definitions": {
				"systems/devel-system-x86_64.morph": []byte(`
name: devel-system-x86_64
strata:
  - name: bootstrap
  - name: core
`),
				"bootstrap.morph": []byte(`
name: bootstrap
chunks:
  - name: gcc-pass1
    repo: upstream:gcc
    ref: v1
`),
				"core.morph": []byte(`
name: core
build-depends:
  - bootstrap
chunks:
  - name: zlib
    repo: upstream:zlib
    ref: v1
`),
			},
			"upstream:gcc": {"gcc-pass1.morph": []byte("name: gcc-pass1\n")},
			"upstream:zlib": {"zlib.morph": []byte("name: zlib\n")},
		},
	}

	b := newTestBuilder(fake)
	g, err := b.BuildGraph("definitions", "master", "systems/devel-system-x86_64.morph")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	var zlibUnit *Unit
	for _, u := range g.All {
		if u.Kind == UnitChunk && u.ArtifactName == "zlib" {
			zlibUnit = u
		}
	}
	if zlibUnit == nil {
		t.Fatal("expected a zlib chunk unit")
	}

	var dependsOnGcc bool
	for _, d := range zlibUnit.Dependencies {
		if d.ArtifactName == "gcc-pass1" {
			dependsOnGcc = true
		}
	}
	if !dependsOnGcc {
		t.Error("zlib (in core, which build-depends on bootstrap) should depend on bootstrap's exposed gcc-pass1 artifact")
	}
}

func TestBuildGraphDetectsStratumDependencyCycle(t *testing.T) {
	fake := &fakeGitRepoCache{
		texts: map[string]map[string][]byte{
			"definitions": {
				"systems/devel-system-x86_64.morph": []byte(`
name: devel-system-x86_64
strata:
  - name: a
  - name: b
`),
				"a.morph": []byte("name: a\nbuild-depends:\n  - b\n"),
				"b.morph": []byte("name: b\nbuild-depends:\n  - a\n"),
			},
		},
	}

	b := newTestBuilder(fake)
	_, err := b.BuildGraph("definitions", "master", "systems/devel-system-x86_64.morph")
	if err == nil {
		t.Fatal("expected an error: stratum dependency cycle a -> b -> a")
	}
}

func TestBuildGraphSplitArtifactsWireRuntimeAndDevelDependenciesSeparately(t *testing.T) {
	fake := &fakeGitRepoCache{
		texts: map[string]map[string][]byte{
			"definitions": {
				"systems/devel-system-x86_64.morph": []byte(`
name: devel-system-x86_64
strata:
  - name: core
`),
				"core.morph": []byte(`
name: core
chunks:
  - name: zlib
    repo: upstream:zlib
    ref: v1
  - name: app
    repo: upstream:app
    ref: v1
    build-depends:
      - zlib
`),
			},
			"upstream:zlib": {"zlib.morph": []byte(`
name: zlib
products:
  - artifact: zlib-runtime
    include:
      - ^usr/lib/
  - artifact: zlib-devel
    include:
      - ^usr/include/
`)},
			"upstream:app": {"app.morph": []byte("name: app\n")},
		},
	}

	b := newTestBuilder(fake)
	g, err := b.BuildGraph("definitions", "master", "systems/devel-system-x86_64.morph")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	var appUnit *Unit
	for _, u := range g.All {
		if u.Kind == UnitChunk && u.ArtifactName == "app" {
			appUnit = u
		}
	}
	if appUnit == nil {
		t.Fatal("expected an app chunk unit")
	}

	var dependsOnRuntime, dependsOnDevel bool
	for _, d := range appUnit.Dependencies {
		if d.ArtifactName == "zlib-runtime" {
			dependsOnRuntime = true
		}
		if d.ArtifactName == "zlib-devel" {
			dependsOnDevel = true
		}
	}
	if !dependsOnRuntime {
		t.Error("app should depend on zlib-runtime (the default split-dependency convention)")
	}
	if dependsOnDevel {
		t.Error("app (not itself a -devel artifact) should not depend on zlib-devel")
	}
}
