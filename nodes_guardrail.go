package storyloom

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloom-ai/storyloom/guardrail"
	"github.com/storyloom-ai/storyloom/provider"
	"github.com/storyloom-ai/storyloom/story"
)

// evalOutputSchema validates the story evaluator's structured output.
var evalOutputSchema = provider.Schema{
	Name: "story_evaluation",
	Definition: `{
		"type": "object",
		"required": ["moral_score", "theme_appropriateness", "emotional_positivity",
			"age_appropriateness", "educational_value", "evaluation_summary"],
		"properties": {
			"moral_score": {"type": "number", "minimum": 1, "maximum": 10},
			"theme_appropriateness": {"type": "number", "minimum": 1, "maximum": 10},
			"emotional_positivity": {"type": "number", "minimum": 1, "maximum": 10},
			"age_appropriateness": {"type": "number", "minimum": 1, "maximum": 10},
			"educational_value": {"type": "number", "minimum": 1, "maximum": 10},
			"evaluation_summary": {"type": "string"}
		}
	}`,
}

const evalSystemPrompt = `You are a children's content quality evaluator.
Score the following story on each dimension from 1 to 10.
Target age group: %s.

- moral_score: does the story teach positive values?
- theme_appropriateness: is the theme suitable and engaging for the age group?
- emotional_positivity: does the story evoke warmth, joy, hope, comfort?
- age_appropriateness: are vocabulary and complexity right for the age?
- educational_value: does the child learn something valuable?

Be strict. Provide an honest evaluation_summary with specific examples.`

// Weights for the overall quality score.
var evalWeights = struct {
	moral, theme, emotional, age, educational float64
}{0.25, 0.20, 0.25, 0.20, 0.10}

// storyEvaluatorHandler scores story quality. It is the only writer of the
// evaluation_scores scalar.
func (e *Engine) storyEvaluatorHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		s := inv.State
		raw, err := e.providers.Text.GenerateJSON(ctx,
			fmt.Sprintf(evalSystemPrompt, s.AgeGroup),
			fmt.Sprintf("Title: %s\n\n%s", s.StoryTitle, s.StoryText),
			evalOutputSchema)
		if err != nil {
			return nil, fmt.Errorf("story evaluation: %w", err)
		}
		var out struct {
			Moral       float64 `json:"moral_score"`
			Theme       float64 `json:"theme_appropriateness"`
			Emotional   float64 `json:"emotional_positivity"`
			Age         float64 `json:"age_appropriateness"`
			Educational float64 `json:"educational_value"`
			Summary     string  `json:"evaluation_summary"`
		}
		if err := provider.Decode(evalOutputSchema, raw, &out); err != nil {
			return nil, err
		}

		overall := out.Moral*evalWeights.moral +
			out.Theme*evalWeights.theme +
			out.Emotional*evalWeights.emotional +
			out.Age*evalWeights.age +
			out.Educational*evalWeights.educational

		scores := &story.EvaluationScores{
			Moral:       out.Moral,
			Theme:       out.Theme,
			Emotional:   out.Emotional,
			Age:         out.Age,
			Educational: out.Educational,
			Overall:     float64(int(overall*100+0.5)) / 100,
			Summary:     out.Summary,
		}
		inv.Logger.Info("story evaluated", "overall", scores.Overall)
		return &Patch{EvaluationScores: scores}, nil
	}
}

// storyGuardrailHandler runs the three-layer text cascade on the story.
func (e *Engine) storyGuardrailHandler(checker *guardrail.Checker) Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		violations, err := checker.CheckText(ctx, inv.State.StoryText, inv.State.AgeGroup, "story", nil)
		if err != nil {
			return nil, fmt.Errorf("story guardrail: %w", err)
		}
		return &Patch{GuardrailViolations: violations}, nil
	}
}

// imageGuardrailHandler checks one image, regenerating on a hard violation
// up to the configured retry budget. The retry loop lives inside the node so
// each image retries independently and the graph stays acyclic. Exhausting
// the budget is a permanent error that fails the whole thread.
func (e *Engine) imageGuardrailHandler(checker *guardrail.Checker) Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		index := inv.Overlay.Index
		url := inv.Overlay.MediaURL
		attempts := e.config.MediaRetryMax + 1

		var history []story.Violation
		for attempt := 0; attempt < attempts; attempt++ {
			violations, err := checker.CheckImage(ctx, url, inv.State.AgeGroup, index)
			if err != nil {
				return nil, fmt.Errorf("image guardrail (index %d): %w", index, err)
			}

			if !guardrail.HasHard(violations) {
				inv.Logger.Info("image passed guardrails",
					"index", index, "attempt", attempt+1, "soft", len(violations))
				history = append(history, guardrail.MarkFinal(violations)...)
				return &Patch{
					GuardrailViolations: history,
					ImageBindings:       []story.MediaBinding{{Index: index, URL: url}},
				}, nil
			}

			if attempt+1 < attempts {
				// The failed attempt's findings stay in the audit trail but
				// are superseded by the regeneration.
				history = append(history, guardrail.MarkNonFinal(violations)...)
				inv.Logger.Warn("image failed guardrails, regenerating",
					"index", index, "attempt", attempt+1)
				url, err = e.providers.Images.Generate(ctx, inv.Overlay.Prompt)
				if err != nil {
					return nil, fmt.Errorf("image regeneration (index %d): %w", index, err)
				}
				continue
			}
			history = append(history, guardrail.MarkFinal(violations)...)
		}

		return nil, Errorf(ErrorKindMediaGuardrailExhausted,
			"image %d failed guardrails after %d attempt(s)", index, attempts)
	}
}

// videoGuardrailHandler moderates one video's generation prompt through the
// text cascade, regenerating the clip on a hard violation. Frame sampling is
// an extension point; the prompt check is the required baseline.
func (e *Engine) videoGuardrailHandler(checker *guardrail.Checker) Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		index := inv.Overlay.Index
		url := inv.Overlay.MediaURL
		attempts := e.config.MediaRetryMax + 1

		var history []story.Violation
		for attempt := 0; attempt < attempts; attempt++ {
			violations, err := checker.CheckText(ctx, inv.Overlay.Prompt, inv.State.AgeGroup, "video", &index)
			if err != nil {
				return nil, fmt.Errorf("video guardrail (index %d): %w", index, err)
			}

			if !guardrail.HasHard(violations) {
				history = append(history, guardrail.MarkFinal(violations)...)
				return &Patch{
					GuardrailViolations: history,
					VideoBindings:       []story.MediaBinding{{Index: index, URL: url}},
				}, nil
			}

			if attempt+1 < attempts {
				history = append(history, guardrail.MarkNonFinal(violations)...)
				inv.Logger.Warn("video prompt failed guardrails, regenerating",
					"index", index, "attempt", attempt+1)
				url, err = e.providers.Videos.Generate(ctx, inv.Overlay.Prompt)
				if err != nil {
					return nil, fmt.Errorf("video regeneration (index %d): %w", index, err)
				}
				continue
			}
			history = append(history, guardrail.MarkFinal(violations)...)
		}

		return nil, Errorf(ErrorKindMediaGuardrailExhausted,
			"video %d failed guardrails after %d attempt(s)", index, attempts)
	}
}

// guardrailAggregatorHandler is the evaluation fan-in. It derives the
// aggregate pass flag from final-pass findings, rebuilds the canonical media
// URL lists from the post-guardrail bindings (regenerated media replaces the
// original refs), and renders the reviewer summary.
func (e *Engine) guardrailAggregatorHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		s := inv.State

		var hard, soft, finalHard []story.Violation
		for _, v := range s.GuardrailViolations {
			if v.Hard() {
				hard = append(hard, v)
				if v.Final {
					finalHard = append(finalHard, v)
				}
			} else {
				soft = append(soft, v)
			}
		}
		passed := len(finalHard) == 0

		imageURLs := make([]string, 0, len(s.ImageBindings))
		for _, binding := range SortedBindings(s.ImageBindings) {
			imageURLs = append(imageURLs, binding.URL)
		}
		videoURLs := make([]string, 0, len(s.VideoBindings))
		for _, binding := range SortedBindings(s.VideoBindings) {
			videoURLs = append(videoURLs, binding.URL)
		}

		summary := buildGuardrailSummary(s.EvaluationScores, finalHard, soft)

		inv.Logger.Info("guardrail aggregation complete",
			"passed", passed,
			"hard", len(hard),
			"final_hard", len(finalHard),
			"soft", len(soft))

		return &Patch{
			GuardrailPassed:  &passed,
			GuardrailSummary: &summary,
			ImageURLs:        &imageURLs,
			VideoURLs:        &videoURLs,
		}, nil
	}
}

// buildGuardrailSummary renders the human-readable package header shown to
// reviewers.
func buildGuardrailSummary(scores *story.EvaluationScores, hard, soft []story.Violation) string {
	var parts []string

	if scores != nil {
		parts = append(parts, fmt.Sprintf("Overall Quality Score: %.2f/10", scores.Overall))
		if scores.Summary != "" {
			parts = append(parts, "   "+scores.Summary)
		}
		parts = append(parts, "")
	}

	if len(hard) > 0 {
		parts = append(parts, fmt.Sprintf("%d HARD violation(s):", len(hard)))
		for _, v := range hard {
			parts = append(parts, fmt.Sprintf("  - [%s] (%s) confidence=%.2f: %s",
				v.Guardrail, v.Label(), v.Confidence, v.Detail))
		}
	}
	if len(soft) > 0 {
		parts = append(parts, fmt.Sprintf("%d SOFT warning(s) for reviewer awareness:", len(soft)))
		for _, v := range soft {
			parts = append(parts, fmt.Sprintf("  - [%s] (%s): %s", v.Guardrail, v.Label(), v.Detail))
		}
	}
	if len(hard) == 0 && len(soft) == 0 {
		parts = append(parts, "All guardrails passed. No violations detected.")
	}
	return strings.Join(parts, "\n")
}
