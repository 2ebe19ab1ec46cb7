package guardrail

import (
	"context"
	"fmt"

	"github.com/storyloom-ai/storyloom/provider"
	"github.com/storyloom-ai/storyloom/story"
)

// ImageAnalysis is the structured output of the vision safety check.
type ImageAnalysis struct {
	NSFWDetected             bool    `json:"nsfw_detected"`
	NSFWConfidence           float64 `json:"nsfw_confidence"`
	WeaponDetected           bool    `json:"weapon_detected"`
	WeaponConfidence         float64 `json:"weapon_confidence"`
	RealisticChild           bool    `json:"realistic_child"`
	RealisticChildConfidence float64 `json:"realistic_child_confidence"`
	HorrorElements           bool    `json:"horror_elements"`
	HorrorConfidence         float64 `json:"horror_confidence"`
	SafeForChildren          bool    `json:"safe_for_children"`
	Explanation              string  `json:"explanation"`
}

// ImageAnalysisSchema validates the vision output document.
var ImageAnalysisSchema = provider.Schema{
	Name: "image_safety_analysis",
	Definition: `{
		"type": "object",
		"required": ["nsfw_detected", "weapon_detected", "realistic_child", "horror_elements"],
		"properties": {
			"nsfw_detected": {"type": "boolean"},
			"nsfw_confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"weapon_detected": {"type": "boolean"},
			"weapon_confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"realistic_child": {"type": "boolean"},
			"realistic_child_confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"horror_elements": {"type": "boolean"},
			"horror_confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"safe_for_children": {"type": "boolean"},
			"explanation": {"type": "string"}
		}
	}`,
}

const imageSafetySystemPrompt = `You are a children's content image safety moderator.
Analyze this image for the following safety concerns:

1. NSFW content: nudity, sexual content, graphic content of any kind
2. Weapons: guns, knives, swords, bombs, any type of weapon
3. Realistic human children: photorealistic depictions of real children
4. Horror elements: gore, blood, skeletons, genuinely scary monsters, dark imagery

This image was generated for a children's story platform targeting ages %s.
Be thorough and strict. Score confidence from 0.0 (definitely not present) to 1.0 (clearly present).`

// CheckImage runs the single-stage vision check on one image and scores the
// findings against the thresholds. The index attributes violations to the
// image's display position.
func (c *Checker) CheckImage(ctx context.Context, imageURL string, age story.AgeGroup, index int) ([]story.Violation, error) {
	if c.vision == nil {
		return nil, fmt.Errorf("vision llm is required for image checks")
	}
	raw, err := c.vision.AnalyzeJSON(ctx, imageURL,
		fmt.Sprintf(imageSafetySystemPrompt, age), ImageAnalysisSchema)
	if err != nil {
		return nil, fmt.Errorf("image safety analysis: %w", err)
	}
	var analysis ImageAnalysis
	if err := provider.Decode(ImageAnalysisSchema, raw, &analysis); err != nil {
		return nil, err
	}
	return c.scoreImageAnalysis(analysis, index), nil
}

func (c *Checker) scoreImageAnalysis(a ImageAnalysis, index int) []story.Violation {
	var violations []story.Violation
	idx := index
	add := func(v story.Violation) {
		v.Source = "image"
		v.MediaIndex = &idx
		violations = append(violations, v)
	}

	if a.NSFWDetected {
		add(story.Violation{
			Guardrail:  "image_nsfw",
			Severity:   story.SeverityHard,
			Confidence: a.NSFWConfidence,
			Detail:     fmt.Sprintf("NSFW content detected in image %d", index),
		})
	}
	if a.WeaponDetected && a.WeaponConfidence > c.thresholds.WeaponConfidence {
		add(story.Violation{
			Guardrail:  "image_weapon",
			Severity:   story.SeverityHard,
			Confidence: a.WeaponConfidence,
			Detail:     fmt.Sprintf("weapon detected in image %d", index),
		})
	}
	if a.RealisticChild {
		add(story.Violation{
			Guardrail:  "image_realistic_child",
			Severity:   story.SeveritySoft,
			Confidence: a.RealisticChildConfidence,
			Detail:     fmt.Sprintf("realistic human child depiction in image %d", index),
		})
	}
	if a.HorrorElements && a.HorrorConfidence > c.thresholds.HorrorConfidence {
		add(story.Violation{
			Guardrail:  "image_horror",
			Severity:   story.SeverityHard,
			Confidence: a.HorrorConfidence,
			Detail:     fmt.Sprintf("horror elements in image %d: %s", index, a.Explanation),
		})
	}
	return violations
}

// HasHard reports whether any violation in the list is hard.
func HasHard(violations []story.Violation) bool {
	for _, v := range violations {
		if v.Hard() {
			return true
		}
	}
	return false
}

// MarkNonFinal flags every violation in the list as superseded. Used when a
// failed media attempt is replaced by a clean regeneration: the findings stay
// in the audit trail but no longer count against guardrail_passed.
func MarkNonFinal(violations []story.Violation) []story.Violation {
	marked := make([]story.Violation, len(violations))
	for i, v := range violations {
		v.Final = false
		marked[i] = v
	}
	return marked
}

// MarkFinal flags every violation in the list as applying to shipped content.
func MarkFinal(violations []story.Violation) []story.Violation {
	marked := make([]story.Violation, len(violations))
	for i, v := range violations {
		v.Final = true
		marked[i] = v
	}
	return marked
}
