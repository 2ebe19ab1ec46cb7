package storyloom

import (
	"context"
	"time"

	"github.com/storyloom-ai/storyloom/story"
)

// ThreadEvent describes a thread-level execution event. ExecutionCallbacks
// has no thread-level hook, so the engine does not emit it.
type ThreadEvent struct {
	ThreadID  string
	JobID     string
	Status    story.JobStatus
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Error     error
}

// NodeEvent provides context for node execution events. One event is emitted
// per dispatch unit; UnitIndex distinguishes fan-out siblings.
type NodeEvent struct {
	ThreadID  string
	Node      string
	UnitIndex int
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Err       error
}

// ExecutionCallbacks is the hook interface observability integrations
// implement. Callbacks run on the worker goroutine; keep them fast.
type ExecutionCallbacks interface {
	BeforeNodeExecution(ctx context.Context, event *NodeEvent)
	AfterNodeExecution(ctx context.Context, event *NodeEvent)
}

// BaseExecutionCallbacks is a no-op implementation to embed.
type BaseExecutionCallbacks struct{}

func (*BaseExecutionCallbacks) BeforeNodeExecution(ctx context.Context, event *NodeEvent) {}

func (*BaseExecutionCallbacks) AfterNodeExecution(ctx context.Context, event *NodeEvent) {}

// CallbackChain fans events out to multiple callback implementations in
// order.
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain builds a chain from the given callbacks.
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

func (c *CallbackChain) BeforeNodeExecution(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeNodeExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterNodeExecution(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.AfterNodeExecution(ctx, event)
	}
}
