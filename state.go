package storyloom

import (
	"encoding/json"
	"sort"

	"github.com/storyloom-ai/storyloom/story"
)

// State is the canonical workflow state for one thread. Scalar fields are
// last-writer-wins; two dispatch units of one node never both write the same
// scalar, while different nodes may overwrite one in turn (the assembler and
// the aggregator both write the media URL lists). Reducer fields are
// append-only lists that accumulate contributions from parallel dispatch
// units. The struct is fully JSON serializable for checkpointing.
type State struct {
	JobID            string         `json:"job_id"`
	Prompt           string         `json:"prompt"`
	AgeGroup         story.AgeGroup `json:"age_group"`
	NumIllustrations int            `json:"num_illustrations"`
	GenerateImages   bool           `json:"generate_images"`
	GenerateVideos   bool           `json:"generate_videos"`

	StoryText  string `json:"story_text,omitempty"`
	StoryTitle string `json:"story_title,omitempty"`

	ImagePrompts []string `json:"image_prompts,omitempty"`
	VideoPrompts []string `json:"video_prompts,omitempty"`

	InputModerationPassed *bool `json:"input_moderation_passed,omitempty"`

	// Canonical, display-ordered media URL lists. Written by the assembler
	// from the sorted asset reducers, then refreshed by the aggregator from
	// the post-guardrail bindings.
	ImageURLs []string `json:"image_urls,omitempty"`
	VideoURLs []string `json:"video_urls,omitempty"`

	EvaluationScores *story.EvaluationScores `json:"evaluation_scores,omitempty"`
	GuardrailPassed  *bool                   `json:"guardrail_passed,omitempty"`
	GuardrailSummary string                  `json:"guardrail_summary,omitempty"`

	ReviewDecision string `json:"review_decision,omitempty"`
	ReviewComment  string `json:"review_comment,omitempty"`
	ReviewerID     string `json:"reviewer_id,omitempty"`

	// Reducer fields. Entries carry their own Index; ordering across
	// dispatch units is not meaningful and downstream nodes sort explicitly.
	ImageAssets         []story.MediaAsset   `json:"image_assets,omitempty"`
	VideoAssets         []story.MediaAsset   `json:"video_assets,omitempty"`
	GuardrailViolations []story.Violation    `json:"guardrail_violations,omitempty"`
	ImageBindings       []story.MediaBinding `json:"image_bindings,omitempty"`
	VideoBindings       []story.MediaBinding `json:"video_bindings,omitempty"`
}

// Patch is a partial state update returned by a node handler. Nil scalar
// fields leave the existing value unchanged; reducer fields are concatenated
// onto the canonical lists. A handler never mutates the State it was given.
type Patch struct {
	StoryText  *string `json:"story_text,omitempty"`
	StoryTitle *string `json:"story_title,omitempty"`

	ImagePrompts *[]string `json:"image_prompts,omitempty"`
	VideoPrompts *[]string `json:"video_prompts,omitempty"`

	InputModerationPassed *bool `json:"input_moderation_passed,omitempty"`

	ImageURLs *[]string `json:"image_urls,omitempty"`
	VideoURLs *[]string `json:"video_urls,omitempty"`

	EvaluationScores *story.EvaluationScores `json:"evaluation_scores,omitempty"`
	GuardrailPassed  *bool                   `json:"guardrail_passed,omitempty"`
	GuardrailSummary *string                 `json:"guardrail_summary,omitempty"`

	ReviewDecision *string `json:"review_decision,omitempty"`
	ReviewComment  *string `json:"review_comment,omitempty"`
	ReviewerID     *string `json:"reviewer_id,omitempty"`

	ImageAssets         []story.MediaAsset   `json:"image_assets,omitempty"`
	VideoAssets         []story.MediaAsset   `json:"video_assets,omitempty"`
	GuardrailViolations []story.Violation    `json:"guardrail_violations,omitempty"`
	ImageBindings       []story.MediaBinding `json:"image_bindings,omitempty"`
	VideoBindings       []story.MediaBinding `json:"video_bindings,omitempty"`
}

// FieldKind distinguishes the two merge rules.
type FieldKind int

const (
	// ScalarField overwrites on merge; two units of one node must not both
	// write it.
	ScalarField FieldKind = iota
	// ReducerField concatenates on merge; order across units is undefined.
	ReducerField
)

// FieldDescriptor declares one state field's merge behavior. The descriptor
// table drives Apply without reflection: each entry knows how to test
// whether a patch sets the field and how to fold it into the state.
type FieldDescriptor struct {
	Name  string
	Kind  FieldKind
	isSet func(*Patch) bool
	apply func(*State, *Patch)
}

// stateFields is the full descriptor table. Merges dispatch through it, so
// adding a state field means adding exactly one entry here.
var stateFields = []FieldDescriptor{
	{"story_text", ScalarField,
		func(p *Patch) bool { return p.StoryText != nil },
		func(s *State, p *Patch) { s.StoryText = *p.StoryText }},
	{"story_title", ScalarField,
		func(p *Patch) bool { return p.StoryTitle != nil },
		func(s *State, p *Patch) { s.StoryTitle = *p.StoryTitle }},
	{"image_prompts", ScalarField,
		func(p *Patch) bool { return p.ImagePrompts != nil },
		func(s *State, p *Patch) { s.ImagePrompts = *p.ImagePrompts }},
	{"video_prompts", ScalarField,
		func(p *Patch) bool { return p.VideoPrompts != nil },
		func(s *State, p *Patch) { s.VideoPrompts = *p.VideoPrompts }},
	{"input_moderation_passed", ScalarField,
		func(p *Patch) bool { return p.InputModerationPassed != nil },
		func(s *State, p *Patch) { s.InputModerationPassed = p.InputModerationPassed }},
	{"image_urls", ScalarField,
		func(p *Patch) bool { return p.ImageURLs != nil },
		func(s *State, p *Patch) { s.ImageURLs = *p.ImageURLs }},
	{"video_urls", ScalarField,
		func(p *Patch) bool { return p.VideoURLs != nil },
		func(s *State, p *Patch) { s.VideoURLs = *p.VideoURLs }},
	{"evaluation_scores", ScalarField,
		func(p *Patch) bool { return p.EvaluationScores != nil },
		func(s *State, p *Patch) { s.EvaluationScores = p.EvaluationScores }},
	{"guardrail_passed", ScalarField,
		func(p *Patch) bool { return p.GuardrailPassed != nil },
		func(s *State, p *Patch) { s.GuardrailPassed = p.GuardrailPassed }},
	{"guardrail_summary", ScalarField,
		func(p *Patch) bool { return p.GuardrailSummary != nil },
		func(s *State, p *Patch) { s.GuardrailSummary = *p.GuardrailSummary }},
	{"review_decision", ScalarField,
		func(p *Patch) bool { return p.ReviewDecision != nil },
		func(s *State, p *Patch) { s.ReviewDecision = *p.ReviewDecision }},
	{"review_comment", ScalarField,
		func(p *Patch) bool { return p.ReviewComment != nil },
		func(s *State, p *Patch) { s.ReviewComment = *p.ReviewComment }},
	{"reviewer_id", ScalarField,
		func(p *Patch) bool { return p.ReviewerID != nil },
		func(s *State, p *Patch) { s.ReviewerID = *p.ReviewerID }},

	{"image_assets", ReducerField,
		func(p *Patch) bool { return len(p.ImageAssets) > 0 },
		func(s *State, p *Patch) { s.ImageAssets = append(s.ImageAssets, p.ImageAssets...) }},
	{"video_assets", ReducerField,
		func(p *Patch) bool { return len(p.VideoAssets) > 0 },
		func(s *State, p *Patch) { s.VideoAssets = append(s.VideoAssets, p.VideoAssets...) }},
	{"guardrail_violations", ReducerField,
		func(p *Patch) bool { return len(p.GuardrailViolations) > 0 },
		func(s *State, p *Patch) {
			s.GuardrailViolations = append(s.GuardrailViolations, p.GuardrailViolations...)
		}},
	{"image_bindings", ReducerField,
		func(p *Patch) bool { return len(p.ImageBindings) > 0 },
		func(s *State, p *Patch) { s.ImageBindings = append(s.ImageBindings, p.ImageBindings...) }},
	{"video_bindings", ReducerField,
		func(p *Patch) bool { return len(p.VideoBindings) > 0 },
		func(s *State, p *Patch) { s.VideoBindings = append(s.VideoBindings, p.VideoBindings...) }},
}

// Apply merges a patch into the state: scalars overwrite, reducers append.
// Unset patch fields leave existing state untouched. Reducer merges are
// associative and commutative as multisets, so the executor may apply
// sibling patches in any completion order.
func (s *State) Apply(p *Patch) {
	if p == nil {
		return
	}
	for _, field := range stateFields {
		if field.isSet(p) {
			field.apply(s, p)
		}
	}
}

// ScalarFieldsSet lists the scalar fields a patch writes. The executor uses
// this to detect two sibling dispatch units targeting the same scalar, which
// is a programming error.
func (p *Patch) ScalarFieldsSet() []string {
	if p == nil {
		return nil
	}
	var names []string
	for _, field := range stateFields {
		if field.Kind == ScalarField && field.isSet(p) {
			names = append(names, field.Name)
		}
	}
	return names
}

// Clone deep-copies the state through JSON, which is cheap relative to the
// provider calls a handler makes and guarantees handlers cannot alias the
// canonical state.
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		panic("state not serializable: " + err.Error())
	}
	var clone State
	if err := json.Unmarshal(data, &clone); err != nil {
		panic("state not round-trippable: " + err.Error())
	}
	return &clone
}

// SortedAssets returns the assets ordered by display index.
func SortedAssets(assets []story.MediaAsset) []story.MediaAsset {
	sorted := make([]story.MediaAsset, len(assets))
	copy(sorted, assets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return sorted
}

// SortedBindings returns the bindings ordered by display index.
func SortedBindings(bindings []story.MediaBinding) []story.MediaBinding {
	sorted := make([]story.MediaBinding, len(bindings))
	copy(sorted, bindings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return sorted
}
