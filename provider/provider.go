// Package provider defines the abstract capability ports the workflow engine
// drives: text and vision LLMs, media generators, moderation, PII detection,
// and blob storage. Ports hide transport entirely; retry and backoff live in
// the adapter layer (see the WithRetry* wrappers), never in the engine.
package provider

import (
	"context"
	"encoding/json"
)

// TextLLM generates free-form or structured text.
type TextLLM interface {
	// Generate returns plain text for the given prompts.
	Generate(ctx context.Context, system, user string) (string, error)

	// GenerateJSON returns a JSON document that the caller validates against
	// the given schema with Decode. Providers that support native structured
	// output should request it; others may rely on prompting.
	GenerateJSON(ctx context.Context, system, user string, schema Schema) (json.RawMessage, error)
}

// VisionLLM analyzes an image and returns a structured result.
type VisionLLM interface {
	AnalyzeJSON(ctx context.Context, imageURL, system string, schema Schema) (json.RawMessage, error)
}

// ImageGenerator renders a single image and returns an opaque reference
// (typically a URL) to the result.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// Model identifies the backing model for asset metadata.
	Model() string
}

// VideoGenerator renders a single video clip. Implementations may poll a
// remote job internally; callers only see the final reference.
type VideoGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Moderator runs a fast content moderation pass over text and returns the
// flagged category names, empty when the text is clean.
type Moderator interface {
	Moderate(ctx context.Context, text string) ([]string, error)
}

// PIIHit is one class of personally identifying information found in text.
type PIIHit struct {
	Kind  string
	Count int
}

// PIIDetector finds personally identifying information in text. Detection is
// deterministic, so there is no error path and no context.
type PIIDetector interface {
	Detect(text string) []PIIHit
}

// BlobStore persists opaque artifacts under caller-chosen keys and returns a
// stable URL for each.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}
