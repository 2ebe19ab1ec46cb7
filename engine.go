package storyloom

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/storyloom-ai/storyloom/provider"
	"github.com/storyloom-ai/storyloom/status"
	"github.com/storyloom-ai/storyloom/story"
	"go.jetify.com/typeid"
	"golang.org/x/sync/semaphore"
)

// NewThreadID returns a new unique thread identifier.
func NewThreadID() string {
	id, err := typeid.WithPrefix("thread")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Providers bundles the capability ports injected at engine construction.
type Providers struct {
	Text       provider.TextLLM
	Vision     provider.VisionLLM
	Images     provider.ImageGenerator
	Videos     provider.VideoGenerator
	Moderation provider.Moderator
	PII        provider.PIIDetector
	Blobs      provider.BlobStore
}

// Options configure a new Engine.
type Options struct {
	Providers  Providers
	Store      CheckpointStore
	Config     *Config
	Status     status.Recorder
	Logger     *slog.Logger
	Callbacks  ExecutionCallbacks
	NodeLogger NodeLogger
	Formatter  NodeFormatter
}

// Engine executes story-generation threads against the fixed workflow graph.
// One engine serves many concurrent threads; handlers share a bounded worker
// pool.
type Engine struct {
	registry   *Registry
	providers  Providers
	store      CheckpointStore
	config     *Config
	status     status.Recorder
	logger     *slog.Logger
	callbacks  ExecutionCallbacks
	nodeLogger NodeLogger
	formatter  NodeFormatter
	sem        *semaphore.Weighted
}

// New builds an Engine. The checkpoint store and the text and moderation
// providers are required. The other providers may be nil: a nil PII detector
// falls back to the built-in regex detector, a nil blob store skips artifact
// uploads, and a nil image, video, or vision provider makes the node that
// needs it fail when it runs.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if opts.Providers.Text == nil {
		return nil, fmt.Errorf("text llm provider is required")
	}
	if opts.Providers.Moderation == nil {
		return nil, fmt.Errorf("moderation provider is required")
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Status == nil {
		opts.Status = status.NewNullRecorder()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.NodeLogger == nil {
		opts.NodeLogger = NewNullNodeLogger()
	}

	engine := &Engine{
		providers:  opts.Providers,
		store:      opts.Store,
		config:     opts.Config,
		status:     opts.Status,
		logger:     opts.Logger,
		callbacks:  opts.Callbacks,
		nodeLogger: opts.NodeLogger,
		formatter:  opts.Formatter,
		sem:        semaphore.NewWeighted(int64(opts.Config.WorkerPoolSize)),
	}

	registry, err := engine.buildWorkflow()
	if err != nil {
		return nil, err
	}
	engine.registry = registry
	return engine, nil
}

// Submission is the input for a new thread.
type Submission struct {
	ThreadID         string
	JobID            string
	Prompt           string
	AgeGroup         story.AgeGroup
	NumIllustrations int
	GenerateImages   bool
	GenerateVideos   bool
}

// Result is the caller-visible outcome of Submit or Resume: either the
// thread suspended with a review payload, or it reached a terminal status
// (with Err populated for FAILED and CANCELLED).
type Result struct {
	ThreadID string
	Status   story.JobStatus
	Review   *story.ReviewPayload
	State    *State
	Err      error
}

// Suspended reports whether the thread is awaiting a review decision.
func (r *Result) Suspended() bool {
	return r.Status == story.StatusAwaitingReview
}

// Submit validates the submission, creates the initial state, and drives the
// thread until it terminates or suspends. The snapshot for an already-known
// thread id is rejected: callers retry with a fresh id.
func (e *Engine) Submit(ctx context.Context, sub Submission) (*Result, error) {
	initial, err := e.initialState(sub)
	if err != nil {
		return nil, err
	}
	threadID := sub.ThreadID
	if threadID == "" {
		threadID = NewThreadID()
	}

	existing, err := e.store.LatestSnapshot(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint store: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("thread %q already exists; submit with a fresh thread id", threadID)
	}

	e.recordStatus(ctx, initial.JobID, story.StatusRunning, "")

	execution := newExecution(e, threadID, initial)
	result := execution.run(ctx)
	e.reportResult(ctx, result)
	return result, nil
}

// Resume loads a suspended thread from the checkpoint store, supplies the
// reviewer's decision to the suspended node, and continues scheduling from
// the same frontier. It works across process restarts: everything needed is
// in the snapshot.
func (e *Engine) Resume(ctx context.Context, threadID string, decision story.ReviewDecision) (*Result, error) {
	snapshot, err := e.store.LatestSnapshot(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint store: %w", err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("thread %q not found", threadID)
	}
	if !snapshot.Suspended() {
		return nil, fmt.Errorf("thread %q is not awaiting review (status %s)", threadID, snapshot.Status)
	}

	execution, err := newExecutionFromSnapshot(e, snapshot)
	if err != nil {
		return nil, err
	}
	execution.injectResume(snapshot.Suspension.Node, decision)

	e.logger.Info("resuming thread",
		"thread_id", threadID,
		"node", snapshot.Suspension.Node,
		"decision", decision.Decision)

	result := execution.run(ctx)
	e.reportResult(ctx, result)
	return result, nil
}

// initialState validates and normalizes a submission into the thread's
// starting state.
func (e *Engine) initialState(sub Submission) (*State, error) {
	prompt := strings.TrimSpace(sub.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if len(prompt) > story.MaxPromptLength {
		return nil, fmt.Errorf("prompt exceeds %d characters", story.MaxPromptLength)
	}
	age := sub.AgeGroup
	if age == "" {
		age = story.DefaultAgeGroup
	}
	if !age.Valid() {
		return nil, fmt.Errorf("invalid age group %q", age)
	}
	illustrations := sub.NumIllustrations
	if illustrations == 0 {
		illustrations = story.DefaultIllustrations
	}
	if illustrations < story.MinIllustrations || illustrations > story.MaxIllustrations {
		return nil, fmt.Errorf("num_illustrations must be between %d and %d",
			story.MinIllustrations, story.MaxIllustrations)
	}
	jobID := sub.JobID
	if jobID == "" {
		jobID = NewThreadID()
	}
	return &State{
		JobID:            jobID,
		Prompt:           prompt,
		AgeGroup:         age,
		NumIllustrations: illustrations,
		GenerateImages:   sub.GenerateImages,
		GenerateVideos:   sub.GenerateVideos,
	}, nil
}

// recordStatus publishes a job status transition, logging but not failing on
// recorder errors: the checkpoint store is the source of truth.
func (e *Engine) recordStatus(ctx context.Context, jobID string, jobStatus story.JobStatus, detail string) {
	if err := e.status.Record(ctx, jobID, jobStatus, detail); err != nil {
		e.logger.Error("failed to record job status",
			"job_id", jobID, "status", jobStatus, "error", err)
	}
}

func (e *Engine) reportResult(ctx context.Context, result *Result) {
	switch {
	case result.Suspended():
		e.recordStatus(ctx, result.State.JobID, story.StatusAwaitingReview, "")
	case result.Status == story.StatusFailed || result.Status == story.StatusCancelled:
		detail := ""
		if result.Err != nil {
			detail = result.Err.Error()
		}
		e.recordStatus(ctx, result.State.JobID, result.Status, detail)
	}
	// The terminal nodes record COMPLETED / REJECTED / AUTO_REJECTED
	// themselves so the transition happens inside the node commit.
}

// Store exposes the checkpoint store, mainly for the sweeper and job layer.
func (e *Engine) Store() CheckpointStore {
	return e.store
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}
