package morph

import (
	"strings"
	"testing"
)

func TestLoadChunkParsesPhaseCommandsAndDefaults(t *testing.T) {
	text := `
name: zlib
build-system: autotools
configure-commands:
  - ./configure --prefix=/usr
build-commands:
  - make
install-commands:
  - make DESTDIR="$DESTDIR" install
`
	m, err := Load([]byte(text), KindChunk, "zlib")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, ok := m.(*Chunk)
	if !ok {
		t.Fatalf("Load returned %T, want *Chunk", m)
	}
	if c.Name != "zlib" {
		t.Errorf("Name = %q, want zlib", c.Name)
	}
	if c.BuildSystem != "autotools" {
		t.Errorf("BuildSystem = %q, want autotools", c.BuildSystem)
	}
	if c.MaxJobs != 1 {
		t.Errorf("MaxJobs = %d, want default of 1", c.MaxJobs)
	}
	if len(c.Commands[PhaseConfigure]) != 1 || len(c.Commands[PhaseBuild]) != 1 || len(c.Commands[PhaseInstall]) != 1 {
		t.Errorf("Commands = %+v, want one command in configure/build/install", c.Commands)
	}
	if _, ok := c.Commands[PhasePreBuild]; ok {
		t.Error("unspecified phases must not appear in Commands")
	}
}

func TestLoadChunkDefaultsToManualBuildSystem(t *testing.T) {
	m, err := Load([]byte("name: my-chunk\n"), KindChunk, "my-chunk")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.(*Chunk)
	if c.BuildSystem != "manual" {
		t.Errorf("BuildSystem = %q, want manual default", c.BuildSystem)
	}
}

func TestLoadChunkRejectsUnknownBuildSystem(t *testing.T) {
	_, err := Load([]byte("name: x\nbuild-system: cargo\n"), KindChunk, "x")
	if err == nil {
		t.Fatal("expected an error for an unknown build-system")
	}
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := Load([]byte("name: x\nbogus-field: true\n"), KindChunk, "x")
	if err == nil {
		t.Fatal("expected an error for an unknown top-level key")
	}
}

func TestLoadNameDefaultsToFilenameStem(t *testing.T) {
	m, err := Load([]byte("build-system: manual\n"), KindChunk, "gawk")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.MorphName() != "gawk" {
		t.Errorf("MorphName() = %q, want gawk (the filename stem)", m.MorphName())
	}
}

func TestLoadUsesKindFieldOverHintWhenPresent(t *testing.T) {
	text := "kind: stratum\nname: core\n"
	m, err := Load([]byte(text), KindChunk, "core")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Kind() != KindStratum {
		t.Errorf("Kind() = %v, want stratum (declared kind overrides hint)", m.Kind())
	}
}

func TestLoadStratumParsesChunkSpecsWithDefaults(t *testing.T) {
	text := `
name: core
chunks:
  - name: zlib
    repo: upstream:zlib
    ref: v1.2.13
  - name: glibc
    repo: upstream:glibc
    ref: abc123
    morph: glibc-bootstrap
    prefix: /tools
    build-mode: bootstrap
    build-depends:
      - zlib
`
	m, err := Load([]byte(text), KindStratum, "core")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := m.(*Stratum)
	if len(s.Chunks) != 2 {
		t.Fatalf("len(Chunks) = %d, want 2", len(s.Chunks))
	}

	zlib := s.Chunks[0]
	if zlib.Morph != "zlib" {
		t.Errorf("zlib.Morph = %q, want zlib (defaults to chunk name)", zlib.Morph)
	}
	if zlib.Prefix != "/usr" {
		t.Errorf("zlib.Prefix = %q, want /usr default", zlib.Prefix)
	}
	if zlib.BuildMode != ModeNormal {
		t.Errorf("zlib.BuildMode = %q, want normal default", zlib.BuildMode)
	}

	glibc := s.Chunks[1]
	if glibc.Morph != "glibc-bootstrap" {
		t.Errorf("glibc.Morph = %q, want explicit glibc-bootstrap", glibc.Morph)
	}
	if glibc.Prefix != "/tools" {
		t.Errorf("glibc.Prefix = %q, want /tools", glibc.Prefix)
	}
	if glibc.BuildMode != ModeBootstrap {
		t.Errorf("glibc.BuildMode = %q, want bootstrap", glibc.BuildMode)
	}
	if len(glibc.BuildDepends) != 1 || glibc.BuildDepends[0] != "zlib" {
		t.Errorf("glibc.BuildDepends = %v, want [zlib]", glibc.BuildDepends)
	}
}

func TestLoadChunkSpecRequiresRepoAndRef(t *testing.T) {
	text := `
name: core
chunks:
  - name: zlib
`
	_, err := Load([]byte(text), KindStratum, "core")
	if err == nil {
		t.Fatal("expected an error: chunk spec is missing repo and ref")
	}
}

func TestLoadChunkSpecRejectsUnknownBuildMode(t *testing.T) {
	text := `
name: core
chunks:
  - name: zlib
    repo: upstream:zlib
    ref: v1.2.13
    build-mode: sideways
`
	_, err := Load([]byte(text), KindStratum, "core")
	if err == nil {
		t.Fatal("expected an error for an unknown build-mode")
	}
}

func TestLoadSystemParsesStrataAndArch(t *testing.T) {
	text := `
name: my-system
arch: armv7
strata:
  - name: core
  - name: extras
    morph: extras-morph
    artifacts:
      - extras-runtime
`
	m, err := Load([]byte(text), KindSystem, "my-system")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := m.(*System)
	if s.Arch != "armv7" {
		t.Errorf("Arch = %q, want armv7", s.Arch)
	}
	if len(s.Strata) != 2 {
		t.Fatalf("len(Strata) = %d, want 2", len(s.Strata))
	}
	if s.Strata[0].Morph != "core" {
		t.Errorf("core.Morph = %q, want core (defaults to name)", s.Strata[0].Morph)
	}
	if s.Strata[1].Morph != "extras-morph" {
		t.Errorf("extras.Morph = %q, want extras-morph", s.Strata[1].Morph)
	}
	if len(s.Strata[1].Artifacts) != 1 || s.Strata[1].Artifacts[0] != "extras-runtime" {
		t.Errorf("extras.Artifacts = %v, want [extras-runtime]", s.Strata[1].Artifacts)
	}
}

func TestLoadSystemDefaultsArchToX86_64(t *testing.T) {
	m, err := Load([]byte("name: s\n"), KindSystem, "s")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.(*System).Arch != "x86_64" {
		t.Errorf("Arch = %q, want x86_64 default", m.(*System).Arch)
	}
}

func TestLoadClusterParsesSystemsList(t *testing.T) {
	text := "name: my-cluster\nsystems:\n  - systems/devel-system-x86_64.morph\n"
	m, err := Load([]byte(text), KindCluster, "my-cluster")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.(*Cluster)
	if len(c.Systems) != 1 || !strings.Contains(c.Systems[0], "devel-system") {
		t.Errorf("Systems = %v, want the devel system entry", c.Systems)
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	_, err := Load([]byte("kind: widget\nname: x\n"), KindChunk, "x")
	if err == nil {
		t.Fatal("expected an error for an unknown morphology kind")
	}
}

func TestLoadProductRulesRequireArtifactName(t *testing.T) {
	text := `
name: x
products:
  - include:
      - usr/bin/*
`
	_, err := Load([]byte(text), KindChunk, "x")
	if err == nil {
		t.Fatal("expected an error: product rule missing artifact name")
	}
}

func TestCanonicalIsStableUnderMapKeyOrder(t *testing.T) {
	a, err := Load([]byte("name: x\nbuild-system: manual\nbuild-commands:\n  - make\n"), KindChunk, "x")
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	b, err := Load([]byte("build-commands:\n  - make\nname: x\nbuild-system: manual\n"), KindChunk, "x")
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}

	ca, err := Canonical(a)
	if err != nil {
		t.Fatalf("Canonical a: %v", err)
	}
	cb, err := Canonical(b)
	if err != nil {
		t.Fatalf("Canonical b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Errorf("Canonical forms differ despite equivalent source order:\na=%s\nb=%s", ca, cb)
	}
}

func TestStemNameStripsDirectoryAndExtension(t *testing.T) {
	got := StemName("/srv/morphs/strata/core.morph")
	if got != "core" {
		t.Errorf("StemName = %q, want core", got)
	}
}
