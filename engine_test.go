package storyloom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storyloom-ai/storyloom/provider"
	"github.com/storyloom-ai/storyloom/provider/mock"
	"github.com/storyloom-ai/storyloom/status"
	"github.com/storyloom-ai/storyloom/story"
	"github.com/stretchr/testify/require"
)

// recordedEvent is one callback firing, in arrival order.
type recordedEvent struct {
	phase string // "before" or "after"
	node  string
}

// recordingCallbacks captures the node execution sequence for ordering and
// at-most-once assertions.
type recordingCallbacks struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingCallbacks) BeforeNodeExecution(ctx context.Context, event *NodeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{phase: "before", node: event.Node})
}

func (r *recordingCallbacks) AfterNodeExecution(ctx context.Context, event *NodeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{phase: "after", node: event.Node})
}

func (r *recordingCallbacks) invocations(node string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, event := range r.events {
		if event.phase == "before" && event.node == node {
			count++
		}
	}
	return count
}

// firstBeforeIndex returns the sequence position of the node's first
// invocation, or -1.
func (r *recordingCallbacks) firstBeforeIndex(node string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, event := range r.events {
		if event.phase == "before" && event.node == node {
			return i
		}
	}
	return -1
}

func (r *recordingCallbacks) lastAfterIndex(node string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := -1
	for i, event := range r.events {
		if event.phase == "after" && event.node == node {
			last = i
		}
	}
	return last
}

// fixture configures a fully scripted engine.
type fixture struct {
	imagePrompts []string
	videoPrompts []string

	// moderate returns flagged categories for a text.
	moderate func(text string) []string

	// vision returns the analysis document for an image URL; nil means
	// all-clear for every image.
	vision func(url string) json.RawMessage

	// textAnalysis overrides the L2 safety document; nil means clean.
	textAnalysis json.RawMessage

	config *Config
}

type testEnv struct {
	engine    *Engine
	store     *MemoryStore
	status    *status.MemoryRecorder
	images    *mock.ImageGenerator
	videos    *mock.VideoGenerator
	callbacks *recordingCallbacks

	mu        sync.Mutex
	textCalls int
}

func cleanAnalysisJSON() json.RawMessage {
	return json.RawMessage(`{
		"violence_detected": false, "violence_severity": 0,
		"fear_intensity": 0,
		"political_detected": false, "political_detail": "",
		"brand_mentions": [], "religious_detected": false,
		"religious_detail": "", "explanation": ""
	}`)
}

func cleanVisionJSON() json.RawMessage {
	return json.RawMessage(`{
		"nsfw_detected": false, "nsfw_confidence": 0,
		"weapon_detected": false, "weapon_confidence": 0,
		"realistic_child": false, "realistic_child_confidence": 0,
		"horror_elements": false, "horror_confidence": 0,
		"safe_for_children": true, "explanation": ""
	}`)
}

func evalJSON() json.RawMessage {
	return json.RawMessage(`{
		"moral_score": 8, "theme_appropriateness": 8,
		"emotional_positivity": 8, "age_appropriateness": 8,
		"educational_value": 7,
		"evaluation_summary": "A gentle, well-paced story."
	}`)
}

func newTestEnv(t *testing.T, f fixture) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     NewMemoryStore(),
		status:    status.NewMemoryRecorder(),
		callbacks: &recordingCallbacks{},
	}

	text := &mock.TextLLM{
		GenerateJSONFunc: func(ctx context.Context, system, user string, schema provider.Schema) (json.RawMessage, error) {
			env.mu.Lock()
			env.textCalls++
			env.mu.Unlock()
			switch schema.Name {
			case "story_output":
				return json.RawMessage(`{
					"story_text": "Once upon a time, a small mouse found a big wheel of cheese and shared it with all her friends.",
					"story_title": "The Mouse and the Cheese"
				}`), nil
			case "prompt_list":
				// The prompters share one schema; tell them apart by the
				// system prompt.
				prompts := f.imagePrompts
				if contains(system, "animation") {
					prompts = f.videoPrompts
				}
				doc, _ := json.Marshal(map[string]any{"prompts": prompts})
				return doc, nil
			case "text_safety_analysis":
				if f.textAnalysis != nil {
					return f.textAnalysis, nil
				}
				return cleanAnalysisJSON(), nil
			case "story_evaluation":
				return evalJSON(), nil
			}
			return nil, fmt.Errorf("unexpected schema %q", schema.Name)
		},
	}

	vision := &mock.VisionLLM{
		AnalyzeJSONFunc: func(ctx context.Context, imageURL, system string, schema provider.Schema) (json.RawMessage, error) {
			if f.vision != nil {
				if doc := f.vision(imageURL); doc != nil {
					return doc, nil
				}
			}
			return cleanVisionJSON(), nil
		},
	}

	// Refs are derived from the prompt and a per-prompt attempt counter, so
	// they are deterministic under any sibling completion order.
	perPrompt := map[string]int{}
	var genMu sync.Mutex
	env.images = &mock.ImageGenerator{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			genMu.Lock()
			perPrompt[prompt]++
			attempt := perPrompt[prompt]
			genMu.Unlock()
			return fmt.Sprintf("img://%s/%d", prompt, attempt), nil
		},
	}
	env.videos = &mock.VideoGenerator{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			genMu.Lock()
			perPrompt[prompt]++
			attempt := perPrompt[prompt]
			genMu.Unlock()
			return fmt.Sprintf("vid://%s/%d", prompt, attempt), nil
		},
	}

	moderator := &mock.Moderator{
		ModerateFunc: func(ctx context.Context, text string) ([]string, error) {
			if f.moderate != nil {
				return f.moderate(text), nil
			}
			return nil, nil
		},
	}

	engine, err := New(Options{
		Providers: Providers{
			Text:       text,
			Vision:     vision,
			Images:     env.images,
			Videos:     env.videos,
			Moderation: moderator,
		},
		Store:     env.store,
		Config:    f.config,
		Status:    env.status,
		Callbacks: env.callbacks,
	})
	require.NoError(t, err)
	env.engine = engine
	return env
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func (env *testEnv) textCallCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.textCalls
}

func mouseSubmission(threadID string) Submission {
	return Submission{
		ThreadID:         threadID,
		JobID:            "job-" + threadID,
		Prompt:           "a mouse finds cheese",
		AgeGroup:         story.Ages6to8,
		NumIllustrations: 2,
		GenerateImages:   true,
	}
}

func TestCleanApproval(t *testing.T) {
	env := newTestEnv(t, fixture{imagePrompts: []string{"prompt-0", "prompt-1"}})
	ctx := context.Background()

	result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	require.NotNil(t, result.Review)
	require.Equal(t, "The Mouse and the Cheese", result.Review.StoryTitle)
	require.True(t, result.Review.GuardrailPassed)
	require.NotNil(t, result.Review.EvaluationScores)
	require.InDelta(t, 7.9, result.Review.EvaluationScores.Overall, 0.001)
	require.Len(t, result.Review.ImageURLs, 2)

	latest, ok := env.status.Latest("job-t1")
	require.True(t, ok)
	require.Equal(t, story.StatusAwaitingReview, latest.Status)

	final, err := env.engine.Resume(ctx, "t1", story.ReviewDecision{
		Decision:   story.DecisionApproved,
		ReviewerID: "reviewer-7",
	})
	require.NoError(t, err)
	require.Equal(t, story.StatusCompleted, final.Status)
	require.Len(t, final.State.ImageURLs, 2)
	require.Equal(t, []string{"img://prompt-0/1", "img://prompt-1/1"}, final.State.ImageURLs)
	require.NotNil(t, final.State.GuardrailPassed)
	require.True(t, *final.State.GuardrailPassed)
	require.Equal(t, "reviewer-7", final.State.ReviewerID)

	latest, ok = env.status.Latest("job-t1")
	require.True(t, ok)
	require.Equal(t, story.StatusCompleted, latest.Status)
}

func TestInputAutoRejected(t *testing.T) {
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0"},
		moderate: func(text string) []string {
			if text == "a mouse finds cheese" {
				return []string{"violence"}
			}
			return nil
		},
	})

	result, err := env.engine.Submit(context.Background(), mouseSubmission("t1"))
	require.NoError(t, err)
	require.Equal(t, story.StatusAutoRejected, result.Status)
	require.Empty(t, result.State.StoryText)

	// No provider calls after the input moderator.
	require.Zero(t, env.textCallCount())
	require.Zero(t, env.images.Calls())
	require.Zero(t, env.callbacks.invocations(NodeStoryWriter))
	require.Equal(t, 1, env.callbacks.invocations(NodeMarkAutoRejected))

	latest, ok := env.status.Latest("job-t1")
	require.True(t, ok)
	require.Equal(t, story.StatusAutoRejected, latest.Status)
}

func TestImageRetrySucceeds(t *testing.T) {
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0", "prompt-1"},
		vision: func(url string) json.RawMessage {
			if url == "img://prompt-1/1" {
				return json.RawMessage(`{
					"nsfw_detected": false, "nsfw_confidence": 0,
					"weapon_detected": true, "weapon_confidence": 0.9,
					"realistic_child": false, "realistic_child_confidence": 0,
					"horror_elements": false, "horror_confidence": 0,
					"safe_for_children": false, "explanation": "weapon"
				}`)
			}
			return nil
		},
	})
	ctx := context.Background()

	result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	final, err := env.engine.Resume(ctx, "t1", story.ReviewDecision{Decision: story.DecisionApproved})
	require.NoError(t, err)
	require.Equal(t, story.StatusCompleted, final.Status)

	// The final binding for image 1 is the regenerated ref.
	require.Equal(t, []string{"img://prompt-0/1", "img://prompt-1/2"}, final.State.ImageURLs)

	// The first-pass hard violation is retained for audit but is not final,
	// so the aggregate still passes.
	var hardSeen bool
	for _, v := range final.State.GuardrailViolations {
		if v.Guardrail == "image_weapon" {
			hardSeen = true
			require.False(t, v.Final)
		}
	}
	require.True(t, hardSeen)
	require.True(t, *final.State.GuardrailPassed)
}

func TestImageRetryExhaustedFailsThread(t *testing.T) {
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0", "prompt-1"},
		vision: func(url string) json.RawMessage {
			if contains(url, "prompt-1") {
				return json.RawMessage(`{
					"nsfw_detected": false, "nsfw_confidence": 0,
					"weapon_detected": true, "weapon_confidence": 0.9,
					"realistic_child": false, "realistic_child_confidence": 0,
					"horror_elements": false, "horror_confidence": 0,
					"safe_for_children": false, "explanation": "weapon"
				}`)
			}
			return nil
		},
	})

	result, err := env.engine.Submit(context.Background(), mouseSubmission("t1"))
	require.NoError(t, err)
	require.Equal(t, story.StatusFailed, result.Status)
	require.Error(t, result.Err)

	var classified *Error
	require.ErrorAs(t, result.Err, &classified)
	require.Equal(t, ErrorKindMediaGuardrailExhausted, classified.Kind)

	snapshot, err := env.store.LatestSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, story.StatusFailed, snapshot.Status)
	require.Equal(t, ErrorKindMediaGuardrailExhausted, snapshot.ErrorKind)
}

func TestReviewerRejects(t *testing.T) {
	// Only a soft violation: brand mentions.
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0"},
		textAnalysis: json.RawMessage(`{
			"violence_detected": false, "violence_severity": 0,
			"fear_intensity": 0,
			"political_detected": false, "political_detail": "",
			"brand_mentions": ["Cheese Corp"], "religious_detected": false,
			"religious_detail": "", "explanation": ""
		}`),
	})
	ctx := context.Background()

	result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	require.True(t, result.Review.GuardrailPassed)

	final, err := env.engine.Resume(ctx, "t1", story.ReviewDecision{
		Decision: story.DecisionRejected,
		Comment:  "too scary",
	})
	require.NoError(t, err)
	require.Equal(t, story.StatusRejected, final.Status)
	require.Equal(t, "too scary", final.State.ReviewComment)

	latest, ok := env.status.Latest("job-t1")
	require.True(t, ok)
	require.Equal(t, story.StatusRejected, latest.Status)
	require.Equal(t, "too scary", latest.Detail)
}

func TestResumeAcrossRestart(t *testing.T) {
	env := newTestEnv(t, fixture{imagePrompts: []string{"prompt-0", "prompt-1"}})
	ctx := context.Background()

	result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	callsBeforeResume := env.textCallCount()

	// "Restart": a brand new engine over the same checkpoint store.
	restarted := newTestEnv(t, fixture{imagePrompts: []string{"prompt-0", "prompt-1"}})
	engine2, err := New(Options{
		Providers: restarted.engine.providers,
		Store:     env.store,
		Status:    env.status,
	})
	require.NoError(t, err)

	final, err := engine2.Resume(ctx, "t1", story.ReviewDecision{Decision: story.DecisionApproved})
	require.NoError(t, err)
	require.Equal(t, story.StatusCompleted, final.Status)
	require.Equal(t, []string{"img://prompt-0/1", "img://prompt-1/1"}, final.State.ImageURLs)
	require.Equal(t, "The Mouse and the Cheese", final.State.StoryTitle)

	// Nodes completed before suspension are not re-executed: neither the
	// original nor the restarted engine's text provider is called again.
	require.Equal(t, callsBeforeResume, env.textCallCount())
	require.Zero(t, restarted.textCallCount())
}

func TestHardViolationAutoRejects(t *testing.T) {
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0"},
		textAnalysis: json.RawMessage(`{
			"violence_detected": false, "violence_severity": 0,
			"fear_intensity": 0,
			"political_detected": true, "political_detail": "a senator appears",
			"brand_mentions": [], "religious_detected": false,
			"religious_detail": "", "explanation": ""
		}`),
	})

	result, err := env.engine.Submit(context.Background(), mouseSubmission("t1"))
	require.NoError(t, err)
	require.Equal(t, story.StatusAutoRejected, result.Status)
	require.NotNil(t, result.State.GuardrailPassed)
	require.False(t, *result.State.GuardrailPassed)

	// With auto-reject enabled the review gate is never invoked.
	require.Zero(t, env.callbacks.invocations(NodeHumanReviewGate))
}

func TestAutoRejectDisabledRoutesToReview(t *testing.T) {
	autoReject := false
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0"},
		textAnalysis: json.RawMessage(`{
			"violence_detected": false, "violence_severity": 0,
			"fear_intensity": 0,
			"political_detected": true, "political_detail": "a senator appears",
			"brand_mentions": [], "religious_detected": false,
			"religious_detail": "", "explanation": ""
		}`),
		config: &Config{AutoRejectOnHardFail: &autoReject},
	})
	ctx := context.Background()

	result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	require.False(t, result.Review.GuardrailPassed)

	final, err := env.engine.Resume(ctx, "t1", story.ReviewDecision{Decision: story.DecisionRejected})
	require.NoError(t, err)
	require.Equal(t, story.StatusRejected, final.Status)
}

func TestEmptyFanOutCollapses(t *testing.T) {
	env := newTestEnv(t, fixture{})
	ctx := context.Background()

	sub := mouseSubmission("t1")
	sub.GenerateImages = false

	result, err := env.engine.Submit(ctx, sub)
	require.NoError(t, err)
	require.True(t, result.Suspended())
	require.Empty(t, result.Review.ImageURLs)

	require.Zero(t, env.callbacks.invocations(NodeGenerateImage))
	require.Zero(t, env.callbacks.invocations(NodeGenerateVideo))
	require.Equal(t, 1, env.callbacks.invocations(NodeAssembler))

	final, err := env.engine.Resume(ctx, "t1", story.ReviewDecision{Decision: story.DecisionApproved})
	require.NoError(t, err)
	require.Equal(t, story.StatusCompleted, final.Status)
}

func TestCancellation(t *testing.T) {
	blocked := make(chan struct{})
	env := newTestEnv(t, fixture{imagePrompts: []string{"prompt-0"}})
	env.engine.providers.Moderation = &mock.Moderator{
		ModerateFunc: func(ctx context.Context, text string) ([]string, error) {
			close(blocked)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	// The engine's registry captured the original moderator; rebuild.
	registry, err := env.engine.buildWorkflow()
	require.NoError(t, err)
	env.engine.registry = registry

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result, 1)
	go func() {
		result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
		require.NoError(t, err)
		done <- result
	}()

	<-blocked
	cancel()

	select {
	case result := <-done:
		require.Equal(t, story.StatusCancelled, result.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not unwind after cancellation")
	}

	snapshot, err := env.store.LatestSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, story.StatusCancelled, snapshot.Status)
}

func TestVideosGenerated(t *testing.T) {
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0"},
		videoPrompts: []string{"scene-0"},
	})
	ctx := context.Background()

	sub := mouseSubmission("t1")
	sub.GenerateVideos = true

	result, err := env.engine.Submit(ctx, sub)
	require.NoError(t, err)
	require.True(t, result.Suspended())
	require.Equal(t, []string{"vid://scene-0/1"}, result.Review.VideoURLs)

	final, err := env.engine.Resume(ctx, "t1", story.ReviewDecision{Decision: story.DecisionApproved})
	require.NoError(t, err)
	require.Equal(t, story.StatusCompleted, final.Status)
	require.Equal(t, []string{"vid://scene-0/1"}, final.State.VideoURLs)
	require.Len(t, final.State.VideoBindings, 1)
	require.Equal(t, 1, env.videos.Calls())
}

func TestSubmitDuplicateThreadRejected(t *testing.T) {
	env := newTestEnv(t, fixture{imagePrompts: []string{"prompt-0"}})
	ctx := context.Background()

	_, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)

	_, err = env.engine.Submit(ctx, mouseSubmission("t1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestResumeRequiresSuspension(t *testing.T) {
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0"},
		moderate:     func(text string) []string { return []string{"violence"} },
	})
	ctx := context.Background()

	result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)
	require.Equal(t, story.StatusAutoRejected, result.Status)

	_, err = env.engine.Resume(ctx, "t1", story.ReviewDecision{Decision: story.DecisionApproved})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not awaiting review")

	_, err = env.engine.Resume(ctx, "missing", story.ReviewDecision{Decision: story.DecisionApproved})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, fixture{})
	ctx := context.Background()

	_, err := env.engine.Submit(ctx, Submission{ThreadID: "t1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "prompt is required")

	_, err = env.engine.Submit(ctx, Submission{ThreadID: "t1", Prompt: "p", AgeGroup: "13-99"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid age group")

	_, err = env.engine.Submit(ctx, Submission{ThreadID: "t1", Prompt: "p", NumIllustrations: 99})
	require.Error(t, err)
	require.Contains(t, err.Error(), "num_illustrations")
}

func TestReviewDeadlineSweeper(t *testing.T) {
	env := newTestEnv(t, fixture{
		imagePrompts: []string{"prompt-0"},
		config:       &Config{ReviewDeadline: -time.Second},
	})
	ctx := context.Background()

	result, err := env.engine.Submit(ctx, mouseSubmission("t1"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	sweeper, err := NewSweeper(SweeperOptions{Engine: env.engine})
	require.NoError(t, err)

	expired, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	snapshot, err := env.store.LatestSnapshot(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, story.StatusRejected, snapshot.Status)
	require.Equal(t, story.TimeoutReviewerID, snapshot.State.ReviewerID)
	require.Contains(t, snapshot.State.ReviewComment, "auto-rejected")

	// Nothing left to sweep.
	expired, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, expired)
}
