package storyloom

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyloom-ai/storyloom/story"
)

// Sweeper enforces review deadlines. It periodically scans the checkpoint
// store for suspended threads whose resume deadline has passed and resumes
// them with a synthetic timeout rejection, so no thread waits on a reviewer
// forever.
type Sweeper struct {
	engine   *Engine
	lister   SuspensionLister
	interval time.Duration
	logger   *slog.Logger
}

// SweeperOptions configure a Sweeper.
type SweeperOptions struct {
	Engine   *Engine
	Interval time.Duration
	Logger   *slog.Logger
}

// NewSweeper builds a sweeper. The engine's checkpoint store must implement
// SuspensionLister.
func NewSweeper(opts SweeperOptions) (*Sweeper, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	lister, ok := opts.Engine.Store().(SuspensionLister)
	if !ok {
		return nil, fmt.Errorf("checkpoint store does not support listing suspensions")
	}
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = opts.Engine.logger
	}
	return &Sweeper{
		engine:   opts.Engine,
		lister:   lister,
		interval: opts.Interval,
		logger:   opts.Logger,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("review deadline sweep failed", "error", err)
			}
		}
	}
}

// Sweep resumes every expired suspension with a timeout rejection and
// returns how many threads it rejected.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	suspended, err := s.lister.ListSuspended(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list suspended threads: %w", err)
	}

	now := time.Now()
	expired := 0
	for _, snapshot := range suspended {
		if snapshot.Suspension.Deadline.After(now) {
			continue
		}
		deadline := snapshot.Suspension.Deadline
		s.logger.Info("review deadline exceeded, rejecting",
			"thread_id", snapshot.ThreadID,
			"deadline", deadline)

		_, err := s.engine.Resume(ctx, snapshot.ThreadID, story.ReviewDecision{
			Decision:   story.DecisionRejected,
			Reason:     "timeout",
			ReviewerID: story.TimeoutReviewerID,
			Comment:    fmt.Sprintf("auto-rejected: no review received by %s", deadline.Format(time.RFC3339)),
		})
		if err != nil {
			s.logger.Error("failed to timeout-reject thread",
				"thread_id", snapshot.ThreadID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}
