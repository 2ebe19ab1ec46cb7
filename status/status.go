// Package status publishes externally visible job status transitions. The
// checkpoint store remains the source of truth; recorders are a fast read
// path for the job API.
package status

import (
	"context"

	"github.com/storyloom-ai/storyloom/story"
)

// Recorder publishes a job's status for external collaborators.
type Recorder interface {
	Record(ctx context.Context, jobID string, jobStatus story.JobStatus, detail string) error
}

// NullRecorder discards all transitions.
type NullRecorder struct{}

func NewNullRecorder() *NullRecorder {
	return &NullRecorder{}
}

func (*NullRecorder) Record(ctx context.Context, jobID string, jobStatus story.JobStatus, detail string) error {
	return nil
}
