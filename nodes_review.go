package storyloom

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storyloom-ai/storyloom/story"
)

// humanReviewGateHandler suspends the thread with a review package. On
// resume the same node re-enters with the decision in its overlay and
// commits it to state; the router then picks the terminal.
func (e *Engine) humanReviewGateHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		if decision := inv.Overlay.Resume; decision != nil {
			resolved := decision.Decision
			if resolved != story.DecisionApproved {
				resolved = story.DecisionRejected
			}
			comment := decision.Comment
			if decision.Reason != "" && comment == "" {
				comment = decision.Reason
			}
			inv.Logger.Info("review decision received",
				"decision", resolved, "reviewer", decision.ReviewerID)
			return &Patch{
				ReviewDecision: &resolved,
				ReviewComment:  &comment,
				ReviewerID:     &decision.ReviewerID,
			}, nil
		}

		s := inv.State
		payload := story.ReviewPayload{
			JobID:               s.JobID,
			StoryTitle:          s.StoryTitle,
			StoryText:           s.StoryText,
			AgeGroup:            s.AgeGroup,
			EvaluationScores:    s.EvaluationScores,
			GuardrailSummary:    s.GuardrailSummary,
			GuardrailViolations: s.GuardrailViolations,
			ImageURLs:           s.ImageURLs,
			VideoURLs:           s.VideoURLs,
		}
		if s.GuardrailPassed != nil {
			payload.GuardrailPassed = *s.GuardrailPassed
		}
		inv.Logger.Info("entering human review gate")
		return nil, Suspend(payload)
	}
}

// publisherHandler persists the published story artifact and records the
// completed status.
func (e *Engine) publisherHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		s := inv.State
		if e.providers.Blobs != nil {
			artifact := map[string]any{
				"job_id":            s.JobID,
				"story_title":       s.StoryTitle,
				"story_text":        s.StoryText,
				"age_group":         s.AgeGroup,
				"image_urls":        s.ImageURLs,
				"video_urls":        s.VideoURLs,
				"evaluation_scores": s.EvaluationScores,
				"reviewer_id":       s.ReviewerID,
			}
			data, err := json.Marshal(artifact)
			if err != nil {
				return nil, Errorf(ErrorKindInternal, "artifact marshal: %v", err)
			}
			key := fmt.Sprintf("stories/%s/published.json", s.JobID)
			if _, err := e.providers.Blobs.Put(ctx, key, data, "application/json"); err != nil {
				return nil, fmt.Errorf("artifact upload: %w", err)
			}
		}
		e.recordStatus(ctx, s.JobID, story.StatusCompleted, "")
		inv.Logger.Info("story published", "job_id", s.JobID)
		return &Patch{}, nil
	}
}

// markRejectedHandler records a reviewer rejection.
func (e *Engine) markRejectedHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		s := inv.State
		e.recordStatus(ctx, s.JobID, story.StatusRejected, s.ReviewComment)
		inv.Logger.Info("story rejected",
			"job_id", s.JobID, "reviewer", s.ReviewerID, "comment", s.ReviewComment)
		return &Patch{}, nil
	}
}

// markAutoRejectedHandler records an automatic rejection from input
// moderation or aggregated hard violations.
func (e *Engine) markAutoRejectedHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		s := inv.State
		e.recordStatus(ctx, s.JobID, story.StatusAutoRejected, s.GuardrailSummary)
		inv.Logger.Info("story auto-rejected", "job_id", s.JobID)
		return &Patch{}, nil
	}
}
