package storyloom

import "github.com/storyloom-ai/storyloom/story"

// Overlay carries the per-dispatch transient values for one work unit. It is
// visible only to the node the unit invokes and is never persisted into the
// canonical state: transients live on dispatch units inside snapshots, not
// on State.
type Overlay struct {
	// Index is the display-order position of the media item this unit works
	// on. Meaningful only for fan-out units.
	Index int `json:"index,omitempty"`

	// Prompt is the generation prompt for this unit.
	Prompt string `json:"prompt,omitempty"`

	// MediaURL is the media reference a guardrail unit checks.
	MediaURL string `json:"media_url,omitempty"`

	// Resume carries the reviewer decision when a suspended node re-enters.
	Resume *story.ReviewDecision `json:"resume,omitempty"`
}

// Zero reports whether the overlay carries nothing.
func (o Overlay) Zero() bool {
	return o.Index == 0 && o.Prompt == "" && o.MediaURL == "" && o.Resume == nil
}
