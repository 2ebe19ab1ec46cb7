package storyloom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storyloom-ai/storyloom/guardrail"
	"github.com/storyloom-ai/storyloom/provider"
	"github.com/storyloom-ai/storyloom/story"
)

// storyOutputSchema validates the story writer's structured output.
var storyOutputSchema = provider.Schema{
	Name: "story_output",
	Definition: `{
		"type": "object",
		"required": ["story_text", "story_title"],
		"properties": {
			"story_text": {"type": "string", "minLength": 1},
			"story_title": {"type": "string", "minLength": 1}
		}
	}`,
}

// promptListSchema validates both prompter outputs.
var promptListSchema = provider.Schema{
	Name: "prompt_list",
	Definition: `{
		"type": "object",
		"required": ["prompts"],
		"properties": {
			"prompts": {"type": "array", "items": {"type": "string", "minLength": 1}}
		}
	}`,
}

const storyWriterSystemPrompt = `You are a children's story author.
Write an original story for children aged %s based on the user's idea.
The story should teach a gentle, positive lesson, use vocabulary suited to
the age group, and end warmly. Return JSON with story_text and story_title.`

const imagePrompterSystemPrompt = `You create illustration prompts for a children's
story. Given the story, produce exactly %d image generation prompts, one per key
scene, in story order. Style: warm, colorful children's book illustration, no
text in the image. Return JSON with a "prompts" array.`

const videoPrompterSystemPrompt = `You create short animation prompts for a
children's story. Given the story, produce one prompt per key scene (at most %d),
in story order, each describing a gentle 5-second animated clip. Return JSON
with a "prompts" array.`

// inputModeratorHandler checks the raw user prompt before any generation
// spend. A flagged prompt routes the thread straight to auto-rejection.
func (e *Engine) inputModeratorHandler(checker *guardrail.Checker) Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		violations, err := checker.ModerateOnly(ctx, inv.State.Prompt, "input")
		if err != nil {
			return nil, err
		}

		passed := !guardrail.HasHard(violations)
		patch := &Patch{
			InputModerationPassed: &passed,
			GuardrailViolations:   violations,
		}
		if !passed {
			summary := fmt.Sprintf("input prompt blocked: %d moderation violation(s)", len(violations))
			patch.GuardrailSummary = &summary
			inv.Logger.Warn("input moderation failed", "violations", len(violations))
		} else {
			inv.Logger.Info("input moderation passed")
		}
		return patch, nil
	}
}

// storyWriterHandler produces the story text and title.
func (e *Engine) storyWriterHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		raw, err := e.providers.Text.GenerateJSON(ctx,
			fmt.Sprintf(storyWriterSystemPrompt, inv.State.AgeGroup),
			inv.State.Prompt, storyOutputSchema)
		if err != nil {
			return nil, fmt.Errorf("story generation: %w", err)
		}
		var out struct {
			StoryText  string `json:"story_text"`
			StoryTitle string `json:"story_title"`
		}
		if err := provider.Decode(storyOutputSchema, raw, &out); err != nil {
			return nil, err
		}
		inv.Logger.Info("story written",
			"title", out.StoryTitle, "chars", len(out.StoryText))
		return &Patch{StoryText: &out.StoryText, StoryTitle: &out.StoryTitle}, nil
	}
}

// imagePrompterHandler derives one illustration prompt per requested image.
// With images disabled it commits an empty list so the fan-out is empty.
func (e *Engine) imagePrompterHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		if !inv.State.GenerateImages {
			empty := []string{}
			return &Patch{ImagePrompts: &empty}, nil
		}
		prompts, err := e.generatePrompts(ctx,
			fmt.Sprintf(imagePrompterSystemPrompt, inv.State.NumIllustrations),
			inv.State, inv.State.NumIllustrations)
		if err != nil {
			return nil, fmt.Errorf("image prompting: %w", err)
		}
		inv.Logger.Info("image prompts generated", "count", len(prompts))
		return &Patch{ImagePrompts: &prompts}, nil
	}
}

// videoPrompterHandler derives animation prompts, capped at the illustration
// count. With videos disabled it commits an empty list.
func (e *Engine) videoPrompterHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		if !inv.State.GenerateVideos {
			empty := []string{}
			return &Patch{VideoPrompts: &empty}, nil
		}
		prompts, err := e.generatePrompts(ctx,
			fmt.Sprintf(videoPrompterSystemPrompt, inv.State.NumIllustrations),
			inv.State, inv.State.NumIllustrations)
		if err != nil {
			return nil, fmt.Errorf("video prompting: %w", err)
		}
		inv.Logger.Info("video prompts generated", "count", len(prompts))
		return &Patch{VideoPrompts: &prompts}, nil
	}
}

func (e *Engine) generatePrompts(ctx context.Context, system string, s *State, max int) ([]string, error) {
	user := fmt.Sprintf("Title: %s\n\n%s", s.StoryTitle, s.StoryText)
	raw, err := e.providers.Text.GenerateJSON(ctx, system, user, promptListSchema)
	if err != nil {
		return nil, err
	}
	var out struct {
		Prompts []string `json:"prompts"`
	}
	if err := provider.Decode(promptListSchema, raw, &out); err != nil {
		return nil, err
	}
	if len(out.Prompts) > max {
		out.Prompts = out.Prompts[:max]
	}
	return out.Prompts, nil
}

// generateImageHandler renders one image for its dispatch unit's prompt and
// appends the asset through the reducer field.
func (e *Engine) generateImageHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		if e.providers.Images == nil {
			return nil, NewError(ErrorKindInternal, "image generator not configured")
		}
		url, err := e.providers.Images.Generate(ctx, inv.Overlay.Prompt)
		if err != nil {
			return nil, fmt.Errorf("image generation (index %d): %w", inv.Overlay.Index, err)
		}
		inv.Logger.Info("image generated", "index", inv.Overlay.Index, "url", url)
		return &Patch{ImageAssets: []story.MediaAsset{{
			Index:       inv.Overlay.Index,
			URL:         url,
			Prompt:      inv.Overlay.Prompt,
			Model:       e.providers.Images.Model(),
			GeneratedAt: time.Now().UTC(),
		}}}, nil
	}
}

// generateVideoHandler renders one video clip for its dispatch unit.
func (e *Engine) generateVideoHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		if e.providers.Videos == nil {
			return nil, NewError(ErrorKindInternal, "video generator not configured")
		}
		url, err := e.providers.Videos.Generate(ctx, inv.Overlay.Prompt)
		if err != nil {
			return nil, fmt.Errorf("video generation (index %d): %w", inv.Overlay.Index, err)
		}
		inv.Logger.Info("video generated", "index", inv.Overlay.Index, "url", url)
		return &Patch{VideoAssets: []story.MediaAsset{{
			Index:       inv.Overlay.Index,
			URL:         url,
			Prompt:      inv.Overlay.Prompt,
			Model:       e.providers.Videos.Model(),
			GeneratedAt: time.Now().UTC(),
		}}}, nil
	}
}

// assemblerHandler is the media fan-in: it validates that every dispatched
// generation landed, sorts assets into display order, writes the canonical
// URL lists, and persists a draft manifest through the blob store.
func (e *Engine) assemblerHandler() Handler {
	return func(ctx context.Context, inv *Invocation) (*Patch, error) {
		s := inv.State
		if len(s.ImageAssets) != len(s.ImagePrompts) {
			return nil, Errorf(ErrorKindInternal,
				"assembler expected %d images, found %d", len(s.ImagePrompts), len(s.ImageAssets))
		}
		if len(s.VideoAssets) != len(s.VideoPrompts) {
			return nil, Errorf(ErrorKindInternal,
				"assembler expected %d videos, found %d", len(s.VideoPrompts), len(s.VideoAssets))
		}

		imageURLs := make([]string, 0, len(s.ImageAssets))
		for _, asset := range SortedAssets(s.ImageAssets) {
			imageURLs = append(imageURLs, asset.URL)
		}
		videoURLs := make([]string, 0, len(s.VideoAssets))
		for _, asset := range SortedAssets(s.VideoAssets) {
			videoURLs = append(videoURLs, asset.URL)
		}

		if e.providers.Blobs != nil {
			manifest := map[string]any{
				"job_id":      s.JobID,
				"story_title": s.StoryTitle,
				"story_text":  s.StoryText,
				"age_group":   s.AgeGroup,
				"image_urls":  imageURLs,
				"video_urls":  videoURLs,
			}
			data, err := json.Marshal(manifest)
			if err != nil {
				return nil, Errorf(ErrorKindInternal, "manifest marshal: %v", err)
			}
			key := fmt.Sprintf("stories/%s/draft-%s.json", s.JobID, uuid.NewString())
			if _, err := e.providers.Blobs.Put(ctx, key, data, "application/json"); err != nil {
				return nil, fmt.Errorf("manifest upload: %w", err)
			}
		}

		inv.Logger.Info("media assembled",
			"images", len(imageURLs), "videos", len(videoURLs))
		return &Patch{ImageURLs: &imageURLs, VideoURLs: &videoURLs}, nil
	}
}
