// Package mock provides scriptable in-memory implementations of every
// provider port, for tests and local development.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/storyloom-ai/storyloom/provider"
)

// TextLLM is a scriptable text LLM. Unset funcs return zero values.
type TextLLM struct {
	GenerateFunc     func(ctx context.Context, system, user string) (string, error)
	GenerateJSONFunc func(ctx context.Context, system, user string, schema provider.Schema) (json.RawMessage, error)
}

func (m *TextLLM) Generate(ctx context.Context, system, user string) (string, error) {
	if m.GenerateFunc == nil {
		return "", nil
	}
	return m.GenerateFunc(ctx, system, user)
}

func (m *TextLLM) GenerateJSON(ctx context.Context, system, user string, schema provider.Schema) (json.RawMessage, error) {
	if m.GenerateJSONFunc == nil {
		return json.RawMessage(`{}`), nil
	}
	return m.GenerateJSONFunc(ctx, system, user, schema)
}

// VisionLLM is a scriptable vision LLM.
type VisionLLM struct {
	AnalyzeJSONFunc func(ctx context.Context, imageURL, system string, schema provider.Schema) (json.RawMessage, error)
}

func (m *VisionLLM) AnalyzeJSON(ctx context.Context, imageURL, system string, schema provider.Schema) (json.RawMessage, error) {
	if m.AnalyzeJSONFunc == nil {
		return json.RawMessage(`{}`), nil
	}
	return m.AnalyzeJSONFunc(ctx, imageURL, system, schema)
}

// ImageGenerator returns deterministic fake refs and counts its calls.
type ImageGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	ModelName    string

	mu    sync.Mutex
	calls int
}

func (m *ImageGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return fmt.Sprintf("mock://image/%d", n), nil
}

func (m *ImageGenerator) Model() string {
	if m.ModelName == "" {
		return "mock-image-model"
	}
	return m.ModelName
}

// Calls returns how many generations were requested.
func (m *ImageGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// VideoGenerator returns deterministic fake refs.
type VideoGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	ModelName    string

	mu    sync.Mutex
	calls int
}

func (m *VideoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return fmt.Sprintf("mock://video/%d", n), nil
}

func (m *VideoGenerator) Model() string {
	if m.ModelName == "" {
		return "mock-video-model"
	}
	return m.ModelName
}

func (m *VideoGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Moderator flags nothing unless scripted.
type Moderator struct {
	ModerateFunc func(ctx context.Context, text string) ([]string, error)
}

func (m *Moderator) Moderate(ctx context.Context, text string) ([]string, error) {
	if m.ModerateFunc == nil {
		return nil, nil
	}
	return m.ModerateFunc(ctx, text)
}

// PIIDetector finds nothing unless scripted.
type PIIDetector struct {
	DetectFunc func(text string) []provider.PIIHit
}

func (m *PIIDetector) Detect(text string) []provider.PIIHit {
	if m.DetectFunc == nil {
		return nil
	}
	return m.DetectFunc(text)
}
