// Package guardrail implements the multi-layer safety cascade for generated
// story content: fast moderation, deterministic PII detection, LLM safety
// analysis for text, and a vision check for images. Nodes in the workflow
// call a Checker and append the resulting violations to the shared reducer
// field.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storyloom-ai/storyloom/provider"
	"github.com/storyloom-ai/storyloom/story"
)

// Thresholds bundle the age-dependent and fixed scoring cutoffs.
type Thresholds struct {
	FearByAge         map[story.AgeGroup]float64 `yaml:"fear_threshold_by_age"`
	ViolenceHardByAge map[story.AgeGroup]float64 `yaml:"violence_hard_threshold_by_age"`

	// Fixed cutoffs for vision findings.
	WeaponConfidence float64 `yaml:"weapon_confidence"`
	HorrorConfidence float64 `yaml:"horror_confidence"`

	// Fear above this value is hard regardless of age group.
	FearHardCeiling float64 `yaml:"fear_hard_ceiling"`
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FearByAge: map[story.AgeGroup]float64{
			story.Ages3to5:  0.3,
			story.Ages6to8:  0.4,
			story.Ages9to12: 0.5,
		},
		ViolenceHardByAge: map[story.AgeGroup]float64{
			story.Ages3to5:  0.4,
			story.Ages6to8:  0.6,
			story.Ages9to12: 0.7,
		},
		WeaponConfidence: 0.5,
		HorrorConfidence: 0.4,
		FearHardCeiling:  0.7,
	}
}

// FearThreshold returns the fear cutoff for an age group.
func (t Thresholds) FearThreshold(age story.AgeGroup) float64 {
	if v, ok := t.FearByAge[age]; ok {
		return v
	}
	return t.FearByAge[story.DefaultAgeGroup]
}

// ViolenceHardThreshold returns the violence severity above which a finding
// is hard for an age group.
func (t Thresholds) ViolenceHardThreshold(age story.AgeGroup) float64 {
	if v, ok := t.ViolenceHardByAge[age]; ok {
		return v
	}
	return t.ViolenceHardByAge[story.DefaultAgeGroup]
}

// Checker runs the safety cascades against the injected provider ports.
type Checker struct {
	text       provider.TextLLM
	vision     provider.VisionLLM
	moderation provider.Moderator
	pii        provider.PIIDetector
	thresholds Thresholds
	logger     *slog.Logger
}

// CheckerOptions configure a Checker. Text, Vision, Moderation and PII are
// required by the full cascade; a nil PII detector falls back to the
// built-in regex detector.
type CheckerOptions struct {
	Text       provider.TextLLM
	Vision     provider.VisionLLM
	Moderation provider.Moderator
	PII        provider.PIIDetector
	Thresholds Thresholds
	Logger     *slog.Logger
}

// NewChecker builds a Checker.
func NewChecker(opts CheckerOptions) (*Checker, error) {
	if opts.Text == nil {
		return nil, fmt.Errorf("text llm is required")
	}
	if opts.Moderation == nil {
		return nil, fmt.Errorf("moderation provider is required")
	}
	if opts.PII == nil {
		opts.PII = NewRegexPIIDetector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Thresholds.FearByAge == nil {
		opts.Thresholds = DefaultThresholds()
	}
	return &Checker{
		text:       opts.Text,
		vision:     opts.Vision,
		moderation: opts.Moderation,
		pii:        opts.PII,
		thresholds: opts.Thresholds,
		logger:     opts.Logger,
	}, nil
}

// Thresholds returns the cutoffs the checker scores against.
func (c *Checker) Thresholds() Thresholds {
	return c.thresholds
}

// ModerateOnly runs just the L0 moderation layer. Used by the input
// moderator, which checks the raw user prompt before any generation.
func (c *Checker) ModerateOnly(ctx context.Context, text, source string) ([]story.Violation, error) {
	categories, err := c.moderation.Moderate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("moderation check: %w", err)
	}
	var violations []story.Violation
	for _, category := range categories {
		violations = append(violations, story.Violation{
			Guardrail:  "moderation",
			Source:     source,
			Severity:   story.SeverityHard,
			Confidence: 1.0,
			Detail:     fmt.Sprintf("moderation flagged category %q", category),
			Final:      true,
		})
	}
	return violations, nil
}
