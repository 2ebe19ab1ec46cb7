package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloom-ai/storyloom/provider"
	"github.com/storyloom-ai/storyloom/story"
)

// TextAnalysis is the structured output of the L2 safety analysis.
type TextAnalysis struct {
	ViolenceDetected  bool     `json:"violence_detected"`
	ViolenceSeverity  float64  `json:"violence_severity"`
	FearIntensity     float64  `json:"fear_intensity"`
	PoliticalDetected bool     `json:"political_detected"`
	PoliticalDetail   string   `json:"political_detail"`
	BrandMentions     []string `json:"brand_mentions"`
	ReligiousDetected bool     `json:"religious_detected"`
	ReligiousDetail   string   `json:"religious_detail"`
	Explanation       string   `json:"explanation"`
}

// TextAnalysisSchema validates the L2 analysis document.
var TextAnalysisSchema = provider.Schema{
	Name: "text_safety_analysis",
	Definition: `{
		"type": "object",
		"required": ["violence_detected", "violence_severity", "fear_intensity",
			"political_detected", "brand_mentions", "religious_detected"],
		"properties": {
			"violence_detected": {"type": "boolean"},
			"violence_severity": {"type": "number", "minimum": 0, "maximum": 1},
			"fear_intensity": {"type": "number", "minimum": 0, "maximum": 1},
			"political_detected": {"type": "boolean"},
			"political_detail": {"type": "string"},
			"brand_mentions": {"type": "array", "items": {"type": "string"}},
			"religious_detected": {"type": "boolean"},
			"religious_detail": {"type": "string"},
			"explanation": {"type": "string"}
		}
	}`,
}

const textSafetySystemPrompt = `You are a children's content safety moderator.
Analyze the text for the following safety concerns:

1. Violence: Any physical harm, fighting, weapons, threats (even fantasy violence)
2. Fear intensity: Scary elements, monsters, dark themes, abandonment, death
3. Political content: Political figures, parties, ideologies, propaganda
4. Brand mentions: Real company/product names
5. Religious references: Specific religious figures, practices, texts, holidays

Score violence_severity and fear_intensity from 0.0 (none) to 1.0 (extreme).
Be thorough. This content is for children aged %s.
If something is borderline, err on the side of caution and flag it.`

// CheckText runs the full three-layer text cascade: moderation, PII
// detection, and LLM safety analysis. Source tags the violations ("story",
// "video") so the aggregator can attribute them.
func (c *Checker) CheckText(ctx context.Context, text string, age story.AgeGroup, source string, mediaIndex *int) ([]story.Violation, error) {
	var violations []story.Violation

	// Layer 0: moderation pre-filter.
	moderated, err := c.ModerateOnly(ctx, text, source)
	if err != nil {
		return nil, err
	}
	for i := range moderated {
		moderated[i].MediaIndex = mediaIndex
	}
	violations = append(violations, moderated...)

	// Layer 1: PII. Detection is deterministic; every hit is hard.
	for _, hit := range c.pii.Detect(text) {
		violations = append(violations, story.Violation{
			Guardrail:  "pii_" + hit.Kind,
			Source:     source,
			MediaIndex: mediaIndex,
			Severity:   story.SeverityHard,
			Confidence: 1.0,
			Detail:     fmt.Sprintf("PII detected (%s): %d occurrence(s)", hit.Kind, hit.Count),
			Final:      true,
		})
	}

	// Layer 2: LLM deep safety analysis.
	raw, err := c.text.GenerateJSON(ctx,
		fmt.Sprintf(textSafetySystemPrompt, age), text, TextAnalysisSchema)
	if err != nil {
		return nil, fmt.Errorf("text safety analysis: %w", err)
	}
	var analysis TextAnalysis
	if err := provider.Decode(TextAnalysisSchema, raw, &analysis); err != nil {
		return nil, err
	}
	violations = append(violations, c.scoreTextAnalysis(analysis, age, source, mediaIndex)...)

	c.logger.Info("text guardrail cascade complete",
		"source", source,
		"violations", len(violations),
		"hard", countHard(violations))
	return violations, nil
}

// scoreTextAnalysis compares the analysis to the age-group thresholds and
// produces hard/soft violations.
func (c *Checker) scoreTextAnalysis(a TextAnalysis, age story.AgeGroup, source string, mediaIndex *int) []story.Violation {
	var violations []story.Violation
	add := func(v story.Violation) {
		v.Source = source
		v.MediaIndex = mediaIndex
		v.Final = true
		violations = append(violations, v)
	}

	if a.ViolenceDetected {
		severity := story.SeveritySoft
		if a.ViolenceSeverity > c.thresholds.ViolenceHardThreshold(age) {
			severity = story.SeverityHard
		}
		add(story.Violation{
			Guardrail:  "violence",
			Severity:   severity,
			Confidence: a.ViolenceSeverity,
			Detail:     fmt.Sprintf("violence detected (severity %.2f): %s", a.ViolenceSeverity, a.Explanation),
		})
	}

	if fearThreshold := c.thresholds.FearThreshold(age); a.FearIntensity > fearThreshold {
		severity := story.SeveritySoft
		if a.FearIntensity > c.thresholds.FearHardCeiling {
			severity = story.SeverityHard
		}
		add(story.Violation{
			Guardrail:  "fear_intensity",
			Severity:   severity,
			Confidence: a.FearIntensity,
			Detail:     fmt.Sprintf("fear intensity %.2f exceeds threshold %.2f for ages %s", a.FearIntensity, fearThreshold, age),
		})
	}

	if a.PoliticalDetected {
		add(story.Violation{
			Guardrail:  "political_content",
			Severity:   story.SeverityHard,
			Confidence: 1.0,
			Detail:     "political content: " + a.PoliticalDetail,
		})
	}

	if len(a.BrandMentions) > 0 {
		add(story.Violation{
			Guardrail:  "brand_mentions",
			Severity:   story.SeveritySoft,
			Confidence: 0.9,
			Detail:     "brand mentions found: " + strings.Join(a.BrandMentions, ", "),
		})
	}

	if a.ReligiousDetected {
		add(story.Violation{
			Guardrail:  "religious_references",
			Severity:   story.SeveritySoft,
			Confidence: 0.9,
			Detail:     "religious references: " + a.ReligiousDetail,
		})
	}

	return violations
}

func countHard(violations []story.Violation) int {
	n := 0
	for _, v := range violations {
		if v.Hard() {
			n++
		}
	}
	return n
}
