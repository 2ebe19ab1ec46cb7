package storyloom

import (
	"errors"

	"github.com/storyloom-ai/storyloom/story"
)

// SuspendSignal is returned (as an error) by a handler that needs an
// external human decision. The executor does not treat it as a failure: it
// records the payload in the snapshot, marks the thread awaiting resume, and
// unwinds. Resume re-enters the same node with the decision in its overlay.
type SuspendSignal struct {
	Payload story.ReviewPayload
}

func (s *SuspendSignal) Error() string {
	return "execution suspended awaiting review decision"
}

// Suspend builds the suspension signal for a review payload.
func Suspend(payload story.ReviewPayload) error {
	return &SuspendSignal{Payload: payload}
}

// AsSuspend extracts a suspension signal from a handler error, if present.
func AsSuspend(err error) (*SuspendSignal, bool) {
	var signal *SuspendSignal
	if errors.As(err, &signal) {
		return signal, true
	}
	return nil, false
}
