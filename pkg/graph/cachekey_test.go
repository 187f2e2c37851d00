package graph

import (
	"testing"

	"github.com/baserock/morph/pkg/morph"
)

func leafChunkUnit(name, sha string) *Unit {
	return &Unit{
		Identity: Identity{SourceSHA: sha, ArtifactName: name, Kind: UnitChunk},
		Chunk:    &morph.Chunk{Name: name, BuildSystem: "manual"},
		Prefix:   "/usr",
	}
}

func TestComputeCacheKeysIsDeterministic(t *testing.T) {
	policy := Policy{Arch: "x86_64", CFLAGS: "-O2"}

	root1 := leafChunkUnit("glibc", "sha1")
	ComputeCacheKeys(root1, policy, "tooling-key")

	root2 := leafChunkUnit("glibc", "sha1")
	ComputeCacheKeys(root2, policy, "tooling-key")

	if root1.CacheKey == "" {
		t.Fatal("CacheKey should be set")
	}
	if root1.CacheKey != root2.CacheKey {
		t.Errorf("identical inputs produced different keys: %s != %s", root1.CacheKey, root2.CacheKey)
	}
	if len(root1.CacheKey) != 64 {
		t.Errorf("CacheKey length = %d, want 64 (hex sha256)", len(root1.CacheKey))
	}
}

func TestComputeCacheKeysDiffersByArch(t *testing.T) {
	u1 := leafChunkUnit("glibc", "sha1")
	ComputeCacheKeys(u1, Policy{Arch: "x86_64", CFLAGS: "-O2"}, "tooling-key")

	u2 := leafChunkUnit("glibc", "sha1")
	ComputeCacheKeys(u2, Policy{Arch: "armv7", CFLAGS: "-O2"}, "tooling-key")

	if u1.CacheKey == u2.CacheKey {
		t.Error("different architectures must not share a cache key")
	}
}

func TestComputeCacheKeysDiffersByToolingClosure(t *testing.T) {
	policy := Policy{Arch: "x86_64", CFLAGS: "-O2"}

	u1 := leafChunkUnit("glibc", "sha1")
	ComputeCacheKeys(u1, policy, "tooling-a")

	u2 := leafChunkUnit("glibc", "sha1")
	ComputeCacheKeys(u2, policy, "tooling-b")

	if u1.CacheKey == u2.CacheKey {
		t.Error("a different tooling closure must invalidate the chunk's cache key")
	}
}

func TestComputeCacheKeysBootstrapModeIgnoresToolingClosure(t *testing.T) {
	policy := Policy{Arch: "x86_64", CFLAGS: "-O2"}

	u1 := leafChunkUnit("gcc-pass1", "sha1")
	u1.BuildMode = morph.ModeBootstrap
	ComputeCacheKeys(u1, policy, "tooling-a")

	u2 := leafChunkUnit("gcc-pass1", "sha1")
	u2.BuildMode = morph.ModeBootstrap
	ComputeCacheKeys(u2, policy, "tooling-b")

	if u1.CacheKey != u2.CacheKey {
		t.Error("bootstrap-mode chunks must not depend on the tooling closure they are building")
	}
}

func TestComputeCacheKeysDependencyOrderDoesNotMatter(t *testing.T) {
	policy := Policy{Arch: "x86_64", CFLAGS: "-O2"}

	dep1 := leafChunkUnit("dep1", "shadep1")
	dep2 := leafChunkUnit("dep2", "shadep2")
	root := &Unit{
		Identity:     Identity{SourceSHA: "root", ArtifactName: "root", Kind: UnitChunk},
		Chunk:        &morph.Chunk{Name: "root"},
		Dependencies: []*Unit{dep1, dep2},
	}
	ComputeCacheKeys(root, policy, "tooling")
	want := root.CacheKey

	dep1b := leafChunkUnit("dep1", "shadep1")
	dep2b := leafChunkUnit("dep2", "shadep2")
	rootB := &Unit{
		Identity:     Identity{SourceSHA: "root", ArtifactName: "root", Kind: UnitChunk},
		Chunk:        &morph.Chunk{Name: "root"},
		Dependencies: []*Unit{dep2b, dep1b}, // reversed order
	}
	ComputeCacheKeys(rootB, policy, "tooling")

	if rootB.CacheKey != want {
		t.Error("dependency cache keys are sorted before hashing, so declaration order must not affect the result")
	}
}
