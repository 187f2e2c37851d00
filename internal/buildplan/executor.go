// Package buildplan implements the local build plan executor: it schedules
// ready build units onto a worker pool, honours dependency order, aborts
// downstream on failure, and respects cancellation, per spec.md 4.6.
package buildplan

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baserock/morph/internal/morpherrors"
	"github.com/baserock/morph/pkg/build"
	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/graph"
)

// State is one of a build unit's lifecycle states.
type State int

const (
	StatePending State = iota
	StateReady
	StateClaimed
	StateBuilding
	StateSkippedCached
	StateDone
	StateFailed
	StateCancelled
)

// Executor runs a build plan's units to completion against a parallelism
// budget W.
type Executor struct {
	builder   *build.Builder
	local     *cache.Local
	workers   int

	mu           sync.Mutex
	state        map[*graph.Unit]State
	pendingDeps  map[*graph.Unit]int
	dependents   map[*graph.Unit][]*graph.Unit
	queue        unitHeap
	readyCh      chan *graph.Unit
	firstErr     error
	remaining    int
}

func isTerminal(s State) bool {
	return s == StateDone || s == StateSkippedCached || s == StateFailed || s == StateCancelled
}

// setState transitions u to s, decrementing the outstanding-unit counter
// exactly once when a unit first becomes terminal. Callers must hold e.mu.
func (e *Executor) setState(u *graph.Unit, s State) {
	wasTerminal := isTerminal(e.state[u])
	e.state[u] = s
	if !wasTerminal && isTerminal(s) {
		e.remaining--
	}
}

// New constructs an Executor over all units in g, building chunks with
// builder and aggregating stratum/system artifacts directly against local.
func New(builder *build.Builder, local *cache.Local, workers int) *Executor {
	return &Executor{builder: builder, local: local, workers: workers}
}

// Run executes every unit in g to a terminal state. It returns the first
// unit-fatal error encountered (after cascading Cancelled to all dependent
// units), or nil if every unit reached Done or SkippedCached.
func (e *Executor) Run(ctx context.Context, g *graph.Graph) error {
	e.state = make(map[*graph.Unit]State)
	e.pendingDeps = make(map[*graph.Unit]int)
	e.dependents = make(map[*graph.Unit][]*graph.Unit)
	e.readyCh = make(chan *graph.Unit, len(g.All))
	e.remaining = len(g.All)

	for _, u := range g.All {
		e.state[u] = StatePending
		e.pendingDeps[u] = len(u.Dependencies)
		for _, dep := range u.Dependencies {
			e.dependents[dep] = append(e.dependents[dep], u)
		}
	}

	for _, u := range g.All {
		if e.pendingDeps[u] == 0 {
			e.markReady(u)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		group.Go(func() error {
			return e.workerLoop(gctx)
		})
	}

	done := make(chan struct{})
	go func() {
		e.drainQueueUntilTerminal(gctx, g.All)
		close(done)
		close(e.readyCh)
	}()

	<-done
	group.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.firstErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return e.firstErr
}

// drainQueueUntilTerminal feeds ready units into readyCh, pulled from the
// priority queue (kind priority chunk<stratum<system, then cache-key), and
// blocks until every unit has reached a terminal state or the context is
// cancelled.
func (e *Executor) drainQueueUntilTerminal(ctx context.Context, all []*graph.Unit) {
	for {
		e.mu.Lock()
		if e.remaining == 0 {
			e.mu.Unlock()
			return
		}
		var next *graph.Unit
		if e.queue.Len() > 0 {
			next = heap.Pop(&e.queue).(*graph.Unit)
		}
		e.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				e.cancelAllReady(all)
				return
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}

		select {
		case e.readyCh <- next:
		case <-ctx.Done():
			e.cancelAllReady(all)
			return
		}
	}
}

func (e *Executor) cancelAllReady(all []*graph.Unit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range all {
		if e.state[u] == StateReady || e.state[u] == StatePending {
			e.setState(u, StateCancelled)
		}
	}
}

func (e *Executor) markReady(u *graph.Unit) {
	e.state[u] = StateReady
	heap.Push(&e.queue, u)
}

func (e *Executor) workerLoop(ctx context.Context) error {
	for {
		select {
		case u, ok := <-e.readyCh:
			if !ok {
				return nil
			}
			e.runUnit(ctx, u)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) runUnit(ctx context.Context, u *graph.Unit) {
	e.mu.Lock()
	if e.state[u] == StateCancelled {
		e.mu.Unlock()
		return
	}
	e.state[u] = StateClaimed
	e.mu.Unlock()

	var err error
	if u.Kind == graph.UnitChunk {
		e.mu.Lock()
		e.state[u] = StateBuilding
		e.mu.Unlock()
		err = e.builder.Build(ctx, u)
	} else {
		err = build.BuildAggregate(e.local, u)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		if morpherrors.Is(err, context.Canceled) {
			e.setState(u, StateCancelled)
		} else {
			e.setState(u, StateFailed)
			if e.firstErr == nil {
				e.firstErr = err
			}
			e.cascadeCancel(u)
		}
		return
	}

	e.setState(u, StateDone)
	for _, dep := range e.dependents[u] {
		e.pendingDeps[dep]--
		if e.pendingDeps[dep] == 0 && e.state[dep] == StatePending {
			e.markReady(dep)
		}
	}
}

// cascadeCancel transitions every transitive dependent of a failed unit to
// Cancelled without running it.
func (e *Executor) cascadeCancel(failed *graph.Unit) {
	var walk func(u *graph.Unit)
	walk = func(u *graph.Unit) {
		for _, dep := range e.dependents[u] {
			if e.state[dep] == StateDone || e.state[dep] == StateCancelled {
				continue
			}
			e.setState(dep, StateCancelled)
			walk(dep)
		}
	}
	walk(failed)
}

// unitHeap orders Ready units by (kind priority chunk<stratum<system, then
// cache-key), a deterministic tie-break.
type unitHeap []*graph.Unit

func kindPriority(k graph.UnitKind) int {
	switch k {
	case graph.UnitChunk:
		return 0
	case graph.UnitStratum:
		return 1
	default:
		return 2
	}
}

func (h unitHeap) Len() int { return len(h) }
func (h unitHeap) Less(i, j int) bool {
	pi, pj := kindPriority(h[i].Kind), kindPriority(h[j].Kind)
	if pi != pj {
		return pi < pj
	}
	return h[i].CacheKey < h[j].CacheKey
}
func (h unitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *unitHeap) Push(x interface{}) { *h = append(*h, x.(*graph.Unit)) }
func (h *unitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
