package distbuild

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/baserock/morph/internal/morpherrors"
	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/distbuild/claims"
	"github.com/baserock/morph/pkg/graph"
)

// SharedCache is the subset of the shared artifact cache server the
// controller needs: existence checks, used to short-circuit already-built
// units during Scheduling (spec.md 4.7 step 2).
type SharedCache interface {
	Has(key string, kind cache.Kind, name string) (bool, error)
}

// workerConn is one of the controller's N worker connections, tracked with
// its current in-flight unit count for the least-loaded scheduling rule.
type workerConn struct {
	id   string
	conn *Conn

	mu      sync.Mutex
	inFlight map[string]string // cache key -> exec-request id, units this worker currently holds
}

func (w *workerConn) load() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inFlight)
}

// requestState tracks one initiator build-request's graph and per-unit
// status as the controller's state machine (spec.md 4.7) advances it.
type requestState struct {
	id   string
	init *Conn

	repo, ref, morphology string

	graph *graph.Graph

	mu      sync.Mutex
	status  map[string]unitStatus     // cache key -> status
	worker  map[string]string         // cache key -> worker id it was dispatched to
	execID  map[string]string         // cache key -> exec-request id, to cancel by id
	pending map[string]*graph.Unit    // cache key -> unit, units not yet terminal
	failed  bool
	doneCh  chan<- string // wakes the scheduling loop on reassignment-worthy events
}

type unitStatus int

const (
	unitPending unitStatus = iota
	unitReady
	unitRunning
	unitDone
	unitFailed
	unitCancelled
)

// Controller implements the distributed build controller of spec.md 4.7: it
// accepts initiator connections, maintains N worker connections and a claim
// table, and drives each build request's Resolving/Scheduling/Running state
// machine to completion.
type Controller struct {
	log    *logrus.Entry
	shared SharedCache
	claims *claims.Table

	buildGraph func(repo, ref, morphology string) (*graph.Graph, error)

	mu      sync.Mutex
	workers []*workerConn
	reqs    map[string]*requestState
	pending map[string]*execWait // exec-request id -> in-flight unit
}

// NewController constructs a Controller. buildGraph resolves a system
// reference into a build graph — normally graph.Builder.BuildGraph, kept as
// a function value so Resolving can later be delegated to a worker's
// `morph calculate-build-graph` without changing this type's shape.
func NewController(log *logrus.Entry, shared SharedCache, claimTable *claims.Table, buildGraph func(repo, ref, morphology string) (*graph.Graph, error)) *Controller {
	return &Controller{
		log:        log,
		shared:     shared,
		claims:     claimTable,
		buildGraph: buildGraph,
		reqs:       make(map[string]*requestState),
	}
}

// ConnectWorker dials a worker daemon at addr and registers it under id for
// scheduling.
func (c *Controller) ConnectWorker(id, addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return morpherrors.WorkerDisconnected(id, err)
	}
	wc := &workerConn{id: id, conn: NewConn(conn), inFlight: make(map[string]string)}

	c.mu.Lock()
	c.workers = append(c.workers, wc)
	c.mu.Unlock()

	go c.serveWorker(wc)
	return nil
}

// ListenInitiators accepts initiator connections on addr, handling each on
// its own goroutine until the connection closes.
func (c *Controller) ListenInitiators(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go c.serveInitiator(NewConn(conn))
	}
}

func (c *Controller) serveInitiator(conn *Conn) {
	defer conn.Close()
	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		switch msg.Type {
		case TypeBuildRequest:
			go c.handleBuildRequest(conn, msg)
		case TypeBuildCancel:
			c.cancelRequest(msg.ID)
		}
	}
}

func (c *Controller) handleBuildRequest(conn *Conn, msg *Message) {
	log := c.log.WithField("request_id", msg.ID)

	// Resolving.
	g, err := c.buildGraph(msg.Repo, msg.Ref, msg.Morphology)
	if err != nil {
		log.WithError(err).Warn("resolving failed")
		conn.Send(&Message{Type: TypeBuildFailed, ID: msg.ID, Reason: err.Error()})
		return
	}

	req := &requestState{
		id:         msg.ID,
		init:       conn,
		repo:       msg.Repo,
		ref:        msg.Ref,
		morphology: msg.Morphology,
		graph:      g,
		status:  make(map[string]unitStatus),
		worker:  make(map[string]string),
		execID:  make(map[string]string),
		pending: make(map[string]*graph.Unit),
	}
	for _, u := range g.All {
		req.status[u.CacheKey] = unitPending
		req.pending[u.CacheKey] = u
	}

	c.mu.Lock()
	c.reqs[msg.ID] = req
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.reqs, msg.ID)
		c.mu.Unlock()
	}()

	conn.Send(&Message{Type: TypeBuildProgress, ID: msg.ID, Message: "resolved build graph", Total: len(g.All)})

	// Scheduling + Running, driven unit by unit as dependencies clear.
	c.schedule(req)

	req.mu.Lock()
	failed := req.failed
	req.mu.Unlock()

	if failed {
		conn.Send(&Message{Type: TypeBuildFailed, ID: msg.ID, Reason: "one or more build units failed"})
	} else {
		conn.Send(&Message{Type: TypeBuildFinished, ID: msg.ID})
	}
}

// schedule walks ready units (all dependencies Done) and dispatches them
// until every unit is terminal. This is a simplified, synchronous scheduling
// loop: each pass dispatches every currently-ready unit and waits for at
// least one to finish before re-evaluating readiness. Completion is judged
// by terminal unit status, not by dispatch count, so the loop does not
// return while workers still have units in flight. Once a unit fails, no
// further units are dispatched and every not-yet-dispatched unit is marked
// Cancelled immediately; units already running are waited out so their
// exec-response still has a request to report to.
func (c *Controller) schedule(req *requestState) {
	done := make(chan string, len(req.graph.All)+1)
	req.mu.Lock()
	req.doneCh = done
	req.mu.Unlock()

	total := len(req.graph.All)

	for {
		req.mu.Lock()
		failed := req.failed
		if failed {
			for key := range req.pending {
				req.status[key] = unitCancelled
				delete(req.pending, key)
			}
		}

		terminal := 0
		for _, s := range req.status {
			if s == unitDone || s == unitFailed || s == unitCancelled {
				terminal++
			}
		}
		if terminal >= total {
			req.mu.Unlock()
			return
		}

		var ready []*graph.Unit
		if !failed {
			ready = readyUnits(req)
			for _, u := range ready {
				delete(req.pending, u.CacheKey)
			}
		}
		req.mu.Unlock()

		for _, u := range ready {
			c.dispatch(req, u, done)
		}

		if len(ready) == 0 {
			<-done
		}
	}
}

// readyUnits returns pending units whose dependencies are all Done. Callers
// must hold req.mu.
func readyUnits(req *requestState) []*graph.Unit {
	var ready []*graph.Unit
	for key, u := range req.pending {
		if req.status[key] != unitPending {
			continue
		}
		allDepsDone := true
		for _, dep := range u.Dependencies {
			if req.status[dep.CacheKey] != unitDone {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, u)
		}
	}
	return ready
}

func (c *Controller) dispatch(req *requestState, u *graph.Unit, done chan<- string) {
	req.mu.Lock()
	req.status[u.CacheKey] = unitReady
	req.mu.Unlock()

	// Already in the shared cache: skip straight to done.
	if has, _ := c.shared.Has(u.CacheKey, cache.Kind(u.Kind), u.ArtifactName); has {
		req.mu.Lock()
		req.status[u.CacheKey] = unitDone
		req.mu.Unlock()
		req.init.Send(&Message{Type: TypeBuildProgress, ID: req.id, Message: fmt.Sprintf("%s already cached", u), N: 1})
		done <- u.CacheKey
		return
	}

	wc := c.leastLoadedWorker()
	if wc == nil {
		req.mu.Lock()
		req.status[u.CacheKey] = unitFailed
		req.failed = true
		req.mu.Unlock()
		done <- u.CacheKey
		return
	}

	claim, claimed := c.claims.TryClaim(u.CacheKey, wc.id, req.id)
	if !claimed {
		// Another request is already building this key; wait for it rather
		// than re-running, per spec.md 4.7's claim table semantics.
		go c.waitForClaim(req, u, claim.Key, done)
		return
	}

	execID := uuid.NewString()
	req.mu.Lock()
	req.status[u.CacheKey] = unitRunning
	req.worker[u.CacheKey] = wc.id
	req.execID[u.CacheKey] = execID
	req.mu.Unlock()

	wc.mu.Lock()
	wc.inFlight[u.CacheKey] = execID
	wc.mu.Unlock()

	c.trackExec(execID, req, u, wc, done)

	wc.conn.Send(&Message{
		Type: TypeExecRequest,
		ID:   execID,
		Argv: []string{
			"morph", "build-artifact", u.CacheKey,
			"--repo", req.repo, "--ref", req.ref, "--morphology", req.morphology,
		},
	})
}

// waitForClaim polls the claim table until the holder releases the key
// (artifact lands in the shared cache or its builder fails and releases the
// claim), then re-checks the shared cache.
func (c *Controller) waitForClaim(req *requestState, u *graph.Unit, key string, done chan<- string) {
	for {
		if _, stillClaimed := c.claims.Lookup(key); !stillClaimed {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	has, _ := c.shared.Has(u.CacheKey, cache.Kind(u.Kind), u.ArtifactName)
	req.mu.Lock()
	if has {
		req.status[u.CacheKey] = unitDone
	} else {
		req.status[u.CacheKey] = unitFailed
		req.failed = true
	}
	req.mu.Unlock()
	done <- u.CacheKey
}

func (c *Controller) trackExec(execID string, req *requestState, u *graph.Unit, wc *workerConn, done chan<- string) {
	c.mu.Lock()
	if c.pending == nil {
		c.pending = make(map[string]*execWait)
	}
	c.pending[execID] = &execWait{req: req, unit: u, worker: wc, done: done}
	c.mu.Unlock()
}

type execWait struct {
	req    *requestState
	unit   *graph.Unit
	worker *workerConn
	done   chan<- string
}

// serveWorker reads exec-output/exec-response frames from one worker
// connection for the lifetime of that connection, routing each to the
// in-flight request that dispatched it. On disconnect, every unit this
// worker held reverts to Ready (spec.md 4.7 "Worker disconnect").
func (c *Controller) serveWorker(wc *workerConn) {
	defer func() {
		c.handleWorkerDisconnect(wc)
		wc.conn.Close()
	}()

	for {
		msg, err := wc.conn.Recv()
		if err != nil {
			return
		}

		c.mu.Lock()
		wait, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			continue
		}

		switch msg.Type {
		case TypeExecOutput:
			wait.req.init.Send(&Message{Type: TypeBuildOutput, ID: wait.req.id, Stream: msg.Stream, Text: msg.Text})

		case TypeExecResponse:
			c.finishUnit(msg.ID, wait, msg.Exit)
		}
	}
}

func (c *Controller) finishUnit(execID string, wait *execWait, exit int) {
	key := wait.unit.CacheKey

	wc := wait.worker
	wc.mu.Lock()
	delete(wc.inFlight, key)
	wc.mu.Unlock()

	c.mu.Lock()
	delete(c.pending, execID)
	c.mu.Unlock()

	if exit == 0 {
		// The worker is expected to have uploaded to the shared cache;
		// verify before trusting it, per spec.md 4.7 step 3.
		has, _ := c.shared.Has(key, cache.Kind(wait.unit.Kind), wait.unit.ArtifactName)
		c.claims.Release(key)
		wait.req.mu.Lock()
		if has {
			wait.req.status[key] = unitDone
		} else {
			wait.req.status[key] = unitFailed
			wait.req.failed = true
		}
		wait.req.mu.Unlock()
	} else {
		c.claims.Release(key)
		wait.req.mu.Lock()
		wait.req.status[key] = unitFailed
		wait.req.failed = true
		wait.req.mu.Unlock()
		c.cancelDependents(wait.req, wait.unit)
	}

	wait.done <- key
}

// cancelDependents sends exec-cancel for every still-running unit of the
// same request once one unit has failed (spec.md 4.7 step 3).
func (c *Controller) cancelDependents(req *requestState, failed *graph.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for execID, wait := range c.pending {
		if wait.req.id != req.id {
			continue
		}
		wait.worker.conn.Send(&Message{Type: TypeExecCancel, ID: execID})
	}
}

// cancelRequest handles an initiator's build-cancel: exec-cancel goes to
// every worker with an in-flight unit for that request.
func (c *Controller) cancelRequest(requestID string) {
	c.mu.Lock()
	req, ok := c.reqs[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	req.mu.Lock()
	req.failed = true
	req.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for execID, wait := range c.pending {
		if wait.req.id == requestID {
			wait.worker.conn.Send(&Message{Type: TypeExecCancel, ID: execID})
		}
	}
}

func (c *Controller) handleWorkerDisconnect(wc *workerConn) {
	wc.mu.Lock()
	inFlight := make(map[string]string, len(wc.inFlight)) // cache key -> exec-request id
	for k, v := range wc.inFlight {
		inFlight[k] = v
	}
	wc.mu.Unlock()

	c.claims.ReleaseWorker(wc.id)

	c.mu.Lock()
	for key, execID := range inFlight {
		if wait, ok := c.pending[execID]; ok {
			req := wait.req
			req.mu.Lock()
			req.status[key] = unitPending
			req.pending[key] = wait.unit
			doneCh := req.doneCh
			req.mu.Unlock()
			delete(c.pending, execID)
			if doneCh != nil {
				select {
				case doneCh <- key:
				default:
				}
			}
		}
	}
	for i, w := range c.workers {
		if w == wc {
			c.workers = append(c.workers[:i], c.workers[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

func (c *Controller) leastLoadedWorker() *workerConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *workerConn
	for _, w := range c.workers {
		if best == nil || w.load() < best.load() {
			best = w
		}
	}
	return best
}
