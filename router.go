package storyloom

// Send is one routing output: run Node with the given overlay on top of the
// merged state. A router returning multiple sends to the same fan-out target
// produces that many independent dispatch units.
type Send struct {
	Node    string  `json:"node"`
	Overlay Overlay `json:"overlay,omitzero"`
}

// Router computes the sends emitted after a node commits. Routers are pure:
// deterministic given the state, no side effects, no provider calls.
type Router interface {
	Route(s *State) []Send
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(s *State) []Send

func (f RouterFunc) Route(s *State) []Send {
	return f(s)
}

// To returns a static router that always emits one send per named successor.
func To(names ...string) Router {
	return RouterFunc(func(*State) []Send {
		sends := make([]Send, len(names))
		for i, name := range names {
			sends[i] = Send{Node: name}
		}
		return sends
	})
}
