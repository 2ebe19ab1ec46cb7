package storyloom

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/storyloom-ai/storyloom/story"
)

// Execution drives one thread through the workflow graph. Scheduling is
// token-based: routers emit sends, a node runs when its sends are
// dispatchable, and a fan-in node waits until no declared predecessor can
// still contribute. A per-thread merge lock serializes patch commits and
// snapshot writes, so snapshots are linearized per thread.
type Execution struct {
	engine   *Engine
	threadID string
	logger   *slog.Logger

	// Merge lock. Guards everything below plus snapshot writes.
	mu          sync.Mutex
	state       *State
	completed   map[string]bool
	pending     map[string][]Send
	inflight    map[string]int
	scalarOwner map[string]string // scalar field -> node that wrote it
	seq         int64
	lastStatus  story.JobStatus
	startTime   time.Time
	suspension  *Suspension
	failure     *Error
	terminal    story.JobStatus

	results chan unitResult
	wg      sync.WaitGroup
}

type unitResult struct {
	node      string
	patch     *Patch
	err       error
	startTime time.Time
	endTime   time.Time
}

// newExecution builds a fresh execution for a submitted thread.
func newExecution(engine *Engine, threadID string, initial *State) *Execution {
	x := &Execution{
		engine:      engine,
		threadID:    threadID,
		logger:      engine.logger.With("thread_id", threadID),
		state:       initial,
		completed:   map[string]bool{},
		pending:     map[string][]Send{},
		inflight:    map[string]int{},
		scalarOwner: map[string]string{},
		startTime:   time.Now(),
		results:     make(chan unitResult, 64),
	}
	start := engine.registry.Start()
	x.pending[start] = []Send{{Node: start}}
	return x
}

// newExecutionFromSnapshot rebuilds an execution from a checkpoint. The
// caller injects the resume send for a suspended node before running.
func newExecutionFromSnapshot(engine *Engine, snapshot *Snapshot) (*Execution, error) {
	x := &Execution{
		engine:      engine,
		threadID:    snapshot.ThreadID,
		logger:      engine.logger.With("thread_id", snapshot.ThreadID),
		state:       snapshot.State,
		completed:   map[string]bool{},
		pending:     map[string][]Send{},
		inflight:    map[string]int{},
		scalarOwner: map[string]string{},
		seq:         snapshot.Seq,
		startTime:   snapshot.StartTime,
		results:     make(chan unitResult, 64),
	}
	for _, name := range snapshot.Completed {
		if _, ok := engine.registry.Get(name); !ok {
			return nil, Errorf(ErrorKindInternal,
				"checkpoint references unknown node %q; registry mismatch", name)
		}
		x.completed[name] = true
	}
	for _, send := range snapshot.PendingSends {
		if _, ok := engine.registry.Get(send.Node); !ok {
			return nil, Errorf(ErrorKindInternal,
				"checkpoint references unknown node %q; registry mismatch", send.Node)
		}
		x.pending[send.Node] = append(x.pending[send.Node], send)
	}
	return x, nil
}

// injectResume queues the suspended node for re-entry with the reviewer's
// decision in its overlay.
func (x *Execution) injectResume(node string, decision story.ReviewDecision) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pending[node] = append(x.pending[node], Send{
		Node:    node,
		Overlay: Overlay{Resume: &decision},
	})
}

// run drives the thread until it terminates, suspends, or fails. It blocks
// until all outstanding handlers have unwound.
func (x *Execution) run(ctx context.Context) *Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	x.logger.Info("thread run starting")

	for {
		x.dispatchReady(ctx)

		x.mu.Lock()
		running := x.inflightTotal()
		pendingCount := len(x.pending)
		suspended := x.suspension != nil
		failed := x.failure != nil
		x.mu.Unlock()

		if running == 0 {
			if suspended || failed || pendingCount == 0 {
				break
			}
			// Sends exist but nothing is dispatchable and nothing is
			// running: the graph cannot make progress.
			x.mu.Lock()
			x.failure = Errorf(ErrorKindInternal, "graph deadlock: %d undispatchable sends", pendingCount)
			x.mu.Unlock()
			break
		}

		select {
		case <-ctx.Done():
			return x.unwindCancelled(ctx, cancel)
		case result := <-x.results:
			x.commit(ctx, result)
		}
	}

	x.wg.Wait()
	return x.finalize(ctx)
}

// unwindCancelled propagates cancellation to outstanding handlers, merges
// any completions that still arrive, and records the cancelled terminal.
func (x *Execution) unwindCancelled(ctx context.Context, cancel context.CancelFunc) *Result {
	cancel()
	nctx := context.WithoutCancel(ctx)
	go func() {
		x.wg.Wait()
		close(x.results)
	}()
	for result := range x.results {
		x.commit(nctx, result)
	}

	x.mu.Lock()
	if x.failure == nil {
		x.failure = &Error{Kind: ErrorKindCancelled, Cause: ctx.Err().Error(), Wrapped: ctx.Err()}
	}
	x.mu.Unlock()
	x.logger.Warn("thread cancelled")
	return x.finalize(context.WithoutCancel(ctx))
}

// dispatchReady moves dispatchable sends into running units.
func (x *Execution) dispatchReady(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.suspension != nil || x.failure != nil {
		return
	}

	for name, sends := range x.pending {
		node, ok := x.engine.registry.Get(name)
		if !ok {
			x.failure = Errorf(ErrorKindInternal, "send targets unknown node %q", name)
			return
		}

		if len(node.Predecessors) == 0 {
			// Each send is an independent dispatch unit.
			delete(x.pending, name)
			for _, send := range sends {
				x.startUnit(ctx, node, send.Overlay)
			}
			continue
		}

		// Fan-in: wait until no declared predecessor can still contribute,
		// then collapse all accumulated sends into one invocation.
		if !x.predecessorsSettled(node) {
			continue
		}
		delete(x.pending, name)
		overlay := Overlay{}
		for _, send := range sends {
			if !send.Overlay.Zero() {
				overlay = send.Overlay
				break
			}
		}
		x.startUnit(ctx, node, overlay)
	}
}

// predecessorsSettled reports whether every declared predecessor is inactive:
// no queued sends and no running units. Predecessors that were never
// activated satisfy this trivially, which is what makes an empty fan-out
// collapse correctly.
func (x *Execution) predecessorsSettled(node *Node) bool {
	for _, pred := range node.Predecessors {
		if x.inflight[pred] > 0 || len(x.pending[pred]) > 0 {
			return false
		}
	}
	return true
}

func (x *Execution) inflightTotal() int {
	total := 0
	for _, n := range x.inflight {
		total += n
	}
	return total
}

// startUnit launches one handler invocation on the shared worker pool.
// Caller holds the merge lock.
func (x *Execution) startUnit(ctx context.Context, node *Node, overlay Overlay) {
	x.inflight[node.Name]++
	snapshot := x.state.Clone()

	x.wg.Add(1)
	go func() {
		defer x.wg.Done()

		startTime := time.Now()
		if err := x.engine.sem.Acquire(ctx, 1); err != nil {
			x.results <- unitResult{node: node.Name, err: err, startTime: startTime, endTime: time.Now()}
			return
		}
		defer x.engine.sem.Release(1)

		logger := x.logger.With("node", node.Name)
		inv := &Invocation{State: snapshot, Overlay: overlay, Logger: logger}

		event := &NodeEvent{
			ThreadID:  x.threadID,
			Node:      node.Name,
			UnitIndex: overlay.Index,
			StartTime: startTime,
		}
		x.engine.callbacks.BeforeNodeExecution(ctx, event)
		if x.engine.formatter != nil {
			x.engine.formatter.PrintNodeStart(node.Name)
		}

		patch, err := node.Handler(ctx, inv)
		endTime := time.Now()

		event.EndTime = endTime
		event.Duration = endTime.Sub(startTime)
		event.Err = err
		x.engine.callbacks.AfterNodeExecution(ctx, event)

		if x.engine.formatter != nil {
			if err != nil {
				if _, suspended := AsSuspend(err); !suspended {
					x.engine.formatter.PrintNodeError(node.Name, err)
				}
			} else {
				x.engine.formatter.PrintNodeDone(node.Name, endTime.Sub(startTime))
			}
		}

		entry := &NodeLogEntry{
			ThreadID:  x.threadID,
			Node:      node.Name,
			UnitIndex: overlay.Index,
			StartTime: startTime,
			Duration:  endTime.Sub(startTime).Seconds(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if logErr := x.engine.nodeLogger.LogNode(ctx, entry); logErr != nil {
			logger.Error("failed to log node execution", "error", logErr)
		}

		x.results <- unitResult{
			node:      node.Name,
			patch:     patch,
			err:       err,
			startTime: startTime,
			endTime:   endTime,
		}
	}()
}

// commit folds one unit result into the canonical state under the merge
// lock and writes a snapshot. Successful sibling completions are merged even
// after a failure has been recorded; routers only run while the thread is
// healthy.
func (x *Execution) commit(ctx context.Context, result unitResult) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.inflight[result.node]--

	if result.err != nil {
		if signal, ok := AsSuspend(result.err); ok {
			x.suspension = &Suspension{
				Node:     result.node,
				Payload:  signal.Payload,
				Deadline: time.Now().Add(x.engine.config.ReviewDeadline),
			}
			x.logger.Info("thread suspended awaiting review", "node", result.node)
			if err := x.snapshotLocked(ctx); err != nil {
				x.failure = ClassifyError(err)
			}
			return
		}

		classified := ClassifyError(result.err)
		if x.failure == nil {
			x.failure = classified
		}
		x.logger.Error("node failed",
			"node", result.node, "kind", classified.Kind, "error", classified.Cause)
		if err := x.snapshotLocked(ctx); err != nil && x.failure == nil {
			x.failure = ClassifyError(err)
		}
		return
	}

	if conflict := x.recordScalarWrites(result.node, result.patch); conflict != nil {
		if x.failure == nil {
			x.failure = conflict
		}
		x.logger.Error("scalar conflict", "node", result.node, "error", conflict.Cause)
		_ = x.snapshotLocked(ctx)
		return
	}

	x.state.Apply(result.patch)

	nodeDone := x.inflight[result.node] == 0 && len(x.pending[result.node]) == 0
	if nodeDone {
		x.completed[result.node] = true
		node, _ := x.engine.registry.Get(result.node)
		if node.Terminal {
			x.terminal = node.TerminalStatus
		} else if node.Router != nil && x.failure == nil {
			// Routing still happens while suspended so a sibling's progress
			// is not lost: the sends sit in pending, go into the snapshot,
			// and dispatch after resume.
			for _, send := range node.Router.Route(x.state) {
				x.pending[send.Node] = append(x.pending[send.Node], send)
			}
		}
	}

	if err := x.snapshotLocked(ctx); err != nil {
		if x.failure == nil {
			x.failure = ClassifyError(err)
		}
		return
	}

	x.logger.Debug("node unit committed",
		"node", result.node,
		"node_done", nodeDone,
		"inflight", x.inflightTotal())
}

// recordScalarWrites detects two units of the same fan-out writing one
// scalar field, a programming error that fails the thread. A different node
// overwriting the scalar later is allowed.
func (x *Execution) recordScalarWrites(node string, patch *Patch) *Error {
	for _, field := range patch.ScalarFieldsSet() {
		if owner, taken := x.scalarOwner[field]; taken && owner == node {
			return Errorf(ErrorKindScalarConflict,
				"scalar field %q written by two dispatch units of node %q", field, node)
		}
		x.scalarOwner[field] = node
	}
	return nil
}

// statusLocked derives the externally visible status from execution state.
func (x *Execution) statusLocked() story.JobStatus {
	switch {
	case x.failure != nil && x.failure.Kind == ErrorKindCancelled:
		return story.StatusCancelled
	case x.failure != nil:
		return story.StatusFailed
	case x.suspension != nil:
		return story.StatusAwaitingReview
	case x.terminal != "":
		return x.terminal
	default:
		return story.StatusRunning
	}
}

// snapshotLocked persists the current execution state. The caller holds the
// merge lock, so snapshot writes are serialized and seq is monotonic.
func (x *Execution) snapshotLocked(ctx context.Context) error {
	x.seq++
	status := x.statusLocked()

	snapshot := &Snapshot{
		ThreadID:     x.threadID,
		Seq:          x.seq,
		Status:       status,
		State:        x.state.Clone(),
		Completed:    sortedNames(x.completed),
		PendingSends: flattenSends(x.pending),
		Suspension:   x.suspension,
		StartTime:    x.startTime,
		CheckpointAt: time.Now(),
	}
	if x.failure != nil {
		snapshot.ErrorKind = x.failure.Kind
		snapshot.Error = x.failure.Cause
	}
	if status.Terminal() {
		snapshot.EndTime = time.Now()
	}
	if err := x.engine.store.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	x.lastStatus = status
	return nil
}

// finalize writes the terminal bookkeeping and builds the caller-visible
// result.
func (x *Execution) finalize(ctx context.Context) *Result {
	x.mu.Lock()
	defer x.mu.Unlock()

	status := x.statusLocked()

	// The run loop can exit without the final status ever hitting the store
	// (immediate cancellation, deadlock); make sure a snapshot records it.
	if x.seq == 0 || x.lastStatus != status {
		if err := x.snapshotLocked(ctx); err != nil {
			x.logger.Error("failed to save final snapshot", "error", err)
		}
	}

	result := &Result{
		ThreadID: x.threadID,
		Status:   status,
		State:    x.state.Clone(),
	}
	if x.suspension != nil {
		payload := x.suspension.Payload
		result.Review = &payload
	}
	if x.failure != nil {
		result.Err = x.failure
	}

	switch {
	case status == story.StatusAwaitingReview:
		x.logger.Info("thread awaiting review")
	case status.Terminal():
		x.logger.Info("thread finished", "status", status)
	}
	return result
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func flattenSends(pending map[string][]Send) []Send {
	var sends []Send
	for _, list := range pending {
		sends = append(sends, list...)
	}
	sort.SliceStable(sends, func(i, j int) bool {
		if sends[i].Node != sends[j].Node {
			return sends[i].Node < sends[j].Node
		}
		return sends[i].Overlay.Index < sends[j].Overlay.Index
	})
	return sends
}
