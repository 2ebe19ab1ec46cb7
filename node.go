package storyloom

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/storyloom-ai/storyloom/story"
)

// Invocation is what a handler receives: an immutable snapshot of the merged
// state, the unit's overlay, and a logger enriched with thread and node
// attributes.
type Invocation struct {
	State   *State
	Overlay Overlay
	Logger  *slog.Logger
}

// Handler executes one node against a state snapshot and returns a patch.
// Handlers must be pure with respect to state: all effects go through
// provider ports, all state changes through the returned patch. A handler
// signals suspension by returning a *SuspendSignal error.
type Handler func(ctx context.Context, inv *Invocation) (*Patch, error)

// Node declares one vertex of the workflow graph.
type Node struct {
	// Name uniquely identifies the node within the registry.
	Name string

	// Handler runs the node's work.
	Handler Handler

	// Router decides the sends emitted after the node completes. Nil for
	// terminal nodes.
	Router Router

	// Predecessors declares the fan-in wait set. A node with predecessors is
	// scheduled exactly once, after every activated predecessor has
	// committed; its accumulated sends collapse into a single invocation.
	// A node without predecessors runs one unit per send (fan-out targets).
	Predecessors []string

	// Terminal marks the node as an end state; TerminalStatus is the job
	// status the thread records when this node completes.
	Terminal       bool
	TerminalStatus story.JobStatus
}

// Registry is the immutable set of nodes for one engine version. Checkpoints
// are validated against it on resume.
type Registry struct {
	nodes map[string]*Node
	start string
}

// NewRegistry builds a registry and validates the graph: unique names, a
// known start node, and predecessor references that resolve.
func NewRegistry(start string, nodes ...*Node) (*Registry, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("nodes required")
	}
	byName := make(map[string]*Node, len(nodes))
	for _, node := range nodes {
		if node.Name == "" {
			return nil, fmt.Errorf("node name required")
		}
		if node.Handler == nil {
			return nil, fmt.Errorf("node %q: handler required", node.Name)
		}
		if _, exists := byName[node.Name]; exists {
			return nil, fmt.Errorf("duplicate node name %q", node.Name)
		}
		if node.Terminal && node.Router != nil {
			return nil, fmt.Errorf("node %q: terminal nodes have no router", node.Name)
		}
		if node.Terminal && !node.TerminalStatus.Terminal() {
			return nil, fmt.Errorf("node %q: terminal node needs a terminal status", node.Name)
		}
		byName[node.Name] = node
	}
	if _, ok := byName[start]; !ok {
		return nil, fmt.Errorf("start node %q not found", start)
	}
	for _, node := range nodes {
		for _, pred := range node.Predecessors {
			if _, ok := byName[pred]; !ok {
				return nil, fmt.Errorf("node %q: predecessor %q not found", node.Name, pred)
			}
		}
	}
	return &Registry{nodes: byName, start: start}, nil
}

// Start returns the entry node name.
func (r *Registry) Start() string {
	return r.start
}

// Get returns a node by name.
func (r *Registry) Get(name string) (*Node, bool) {
	node, ok := r.nodes[name]
	return node, ok
}

// NodeNames returns all node names in sorted order.
func (r *Registry) NodeNames() []string {
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
