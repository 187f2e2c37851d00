package buildplan

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/baserock/morph/internal/buildenv"
	"github.com/baserock/morph/pkg/build"
	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/graph"
	"github.com/baserock/morph/pkg/morph"
	"github.com/baserock/morph/pkg/stage"
)

type fakeGit struct{}

func (fakeGit) Checkout(repo, sha, destDir string) error {
	return os.MkdirAll(destDir, 0o755)
}

func newTestExecutor(t *testing.T, workers int) (*Executor, *cache.Local) {
	t.Helper()
	local, err := cache.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	assembler := stage.New(local, "/tools")
	builder := build.New(local, assembler, fakeGit{}, "/usr", "x86_64", buildenv.Policy{ToolPrefix: "/usr"}, 1)
	return New(builder, local, workers), local
}

func installingChunk(name, key string, cmd string) *graph.Unit {
	return &graph.Unit{
		Identity:  graph.Identity{ArtifactName: name, Kind: graph.UnitChunk, SourceSHA: "sha-" + name},
		CacheKey:  key,
		BuildMode: morph.ModeNormal,
		Prefix:    "/usr",
		Chunk:     &morph.Chunk{Name: name, BuildSystem: "manual", Commands: map[morph.Phase][]string{morph.PhaseInstall: {cmd}}},
		ChunkSpec: &morph.ChunkSpec{Name: name, Repo: "upstream:" + name, Ref: "master"},
	}
}

func TestRunBuildsIndependentUnitsToDone(t *testing.T) {
	e, local := newTestExecutor(t, 2)

	a := installingChunk("a", "keya00000000000000000000000000000000000000000000000000000000", `true`)
	b := installingChunk("b", "keyb00000000000000000000000000000000000000000000000000000000", `true`)
	g := &graph.Graph{All: []*graph.Unit{a, b}}

	if err := e.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, u := range []*graph.Unit{a, b} {
		if e.state[u] != StateDone {
			t.Errorf("%s state = %v, want StateDone", u.ArtifactName, e.state[u])
		}
		has, err := local.Has(u.CacheKey, cache.KindChunk, u.ArtifactName)
		if err != nil || !has {
			t.Errorf("%s: expected artifact committed, has=%v err=%v", u.ArtifactName, has, err)
		}
	}
}

func TestRunRespectsDependencyOrder(t *testing.T) {
	e, _ := newTestExecutor(t, 1)

	dep := installingChunk("dep", "keydep0000000000000000000000000000000000000000000000000000000", `true`)
	root := installingChunk("root", "keyroot000000000000000000000000000000000000000000000000000000", `true`)
	root.Dependencies = []*graph.Unit{dep}
	g := &graph.Graph{System: root, All: []*graph.Unit{dep, root}}

	if err := e.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.state[dep] != StateDone || e.state[root] != StateDone {
		t.Errorf("states = dep:%v root:%v, want both StateDone", e.state[dep], e.state[root])
	}
}

func TestRunCascadesCancelOnFailure(t *testing.T) {
	e, _ := newTestExecutor(t, 1)

	failing := installingChunk("failing", "keyfail00000000000000000000000000000000000000000000000000000", `exit 1`)
	dependent := installingChunk("dependent", "keydep2000000000000000000000000000000000000000000000000000", `true`)
	dependent.Dependencies = []*graph.Unit{failing}
	g := &graph.Graph{System: dependent, All: []*graph.Unit{failing, dependent}}

	err := e.Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected Run to report the failing unit's error")
	}

	if e.state[failing] != StateFailed {
		t.Errorf("failing unit state = %v, want StateFailed", e.state[failing])
	}
	if e.state[dependent] != StateCancelled {
		t.Errorf("dependent unit state = %v, want StateCancelled", e.state[dependent])
	}
}

func TestRunCancelsRemainingUnitsWhenContextIsCancelled(t *testing.T) {
	e, _ := newTestExecutor(t, 1)

	slow := installingChunk("slow", "keyslow00000000000000000000000000000000000000000000000000000", `sleep 5`)
	other := installingChunk("other", "keyother0000000000000000000000000000000000000000000000000000", `true`)
	g := &graph.Graph{All: []*graph.Unit{slow, other}}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := e.Run(ctx, g)
	if err == nil {
		t.Fatal("expected Run to report a cancellation-driven error")
	}
}

func TestRunAggregatesStratumFromChunkDependencies(t *testing.T) {
	e, local := newTestExecutor(t, 1)

	chunkUnit := installingChunk("zlib", "keyzlib00000000000000000000000000000000000000000000000000000", `mkdir -p "$DESTDIR/usr/lib" && echo x > "$DESTDIR/usr/lib/libz.so"`)
	stratumUnit := &graph.Unit{
		Identity:     graph.Identity{ArtifactName: "core", Kind: graph.UnitStratum, SourceSHA: "sha-core"},
		CacheKey:     "keycore000000000000000000000000000000000000000000000000000000",
		Dependencies: []*graph.Unit{chunkUnit},
	}
	g := &graph.Graph{System: stratumUnit, All: []*graph.Unit{chunkUnit, stratumUnit}}

	if err := e.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	has, err := local.Has(stratumUnit.CacheKey, cache.KindStratum, stratumUnit.ArtifactName)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Error("expected the stratum aggregate artifact to be committed")
	}
}
