package storyloom

import (
	"fmt"

	"github.com/storyloom-ai/storyloom/guardrail"
	"github.com/storyloom-ai/storyloom/story"
)

// Node names of the fixed story-generation graph. The topology is static per
// engine version; checkpoints are validated against it on resume.
const (
	NodeInputModerator      = "input_moderator"
	NodeStoryWriter         = "story_writer"
	NodeImagePrompter       = "image_prompter"
	NodeVideoPrompter       = "video_prompter"
	NodeGenerateImage       = "generate_single_image"
	NodeGenerateVideo       = "generate_single_video"
	NodeAssembler           = "assembler"
	NodeStoryEvaluator      = "story_evaluator"
	NodeStoryGuardrail      = "story_guardrail"
	NodeImageGuardrail      = "image_guardrail_with_retry"
	NodeVideoGuardrail      = "video_guardrail_with_retry"
	NodeGuardrailAggregator = "guardrail_aggregator"
	NodeHumanReviewGate     = "human_review_gate"
	NodePublisher           = "publisher"
	NodeMarkRejected        = "mark_rejected"
	NodeMarkAutoRejected    = "mark_auto_rejected"
)

// buildWorkflow wires the story graph:
//
//	input_moderator ─┬─(blocked)→ mark_auto_rejected
//	                 └─→ story_writer → {image_prompter, video_prompter}
//	prompters fan out to generate_single_image/video (one unit per prompt)
//	all media → assembler → fan-out {evaluator, story_guardrail,
//	                                 image/video guardrails per item}
//	→ guardrail_aggregator ─┬─(hard fail)→ mark_auto_rejected
//	                        └─→ human_review_gate ─┬─(approved)→ publisher
//	                                               └─→ mark_rejected
func (e *Engine) buildWorkflow() (*Registry, error) {
	checker, err := guardrail.NewChecker(guardrail.CheckerOptions{
		Text:       e.providers.Text,
		Vision:     e.providers.Vision,
		Moderation: e.providers.Moderation,
		PII:        e.providers.PII,
		Thresholds: e.config.Thresholds,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build guardrail checker: %w", err)
	}

	return NewRegistry(NodeInputModerator,
		&Node{
			Name:    NodeInputModerator,
			Handler: e.inputModeratorHandler(checker),
			Router: RouterFunc(func(s *State) []Send {
				if s.InputModerationPassed != nil && !*s.InputModerationPassed {
					return []Send{{Node: NodeMarkAutoRejected}}
				}
				return []Send{{Node: NodeStoryWriter}}
			}),
		},
		&Node{
			Name:    NodeStoryWriter,
			Handler: e.storyWriterHandler(),
			Router:  To(NodeImagePrompter, NodeVideoPrompter),
		},
		&Node{
			Name:    NodeImagePrompter,
			Handler: e.imagePrompterHandler(),
			Router:  mediaFanOut(NodeGenerateImage, func(s *State) []string { return s.ImagePrompts }),
		},
		&Node{
			Name:    NodeVideoPrompter,
			Handler: e.videoPrompterHandler(),
			Router:  mediaFanOut(NodeGenerateVideo, func(s *State) []string { return s.VideoPrompts }),
		},
		&Node{
			Name:    NodeGenerateImage,
			Handler: e.generateImageHandler(),
			Router:  To(NodeAssembler),
		},
		&Node{
			Name:    NodeGenerateVideo,
			Handler: e.generateVideoHandler(),
			Router:  To(NodeAssembler),
		},
		&Node{
			Name:    NodeAssembler,
			Handler: e.assemblerHandler(),
			Predecessors: []string{
				NodeImagePrompter, NodeVideoPrompter,
				NodeGenerateImage, NodeGenerateVideo,
			},
			Router: RouterFunc(routeToGuardrails),
		},
		&Node{
			Name:    NodeStoryEvaluator,
			Handler: e.storyEvaluatorHandler(),
			Router:  To(NodeGuardrailAggregator),
		},
		&Node{
			Name:    NodeStoryGuardrail,
			Handler: e.storyGuardrailHandler(checker),
			Router:  To(NodeGuardrailAggregator),
		},
		&Node{
			Name:    NodeImageGuardrail,
			Handler: e.imageGuardrailHandler(checker),
			Router:  To(NodeGuardrailAggregator),
		},
		&Node{
			Name:    NodeVideoGuardrail,
			Handler: e.videoGuardrailHandler(checker),
			Router:  To(NodeGuardrailAggregator),
		},
		&Node{
			Name:    NodeGuardrailAggregator,
			Handler: e.guardrailAggregatorHandler(),
			Predecessors: []string{
				NodeStoryEvaluator, NodeStoryGuardrail,
				NodeImageGuardrail, NodeVideoGuardrail,
			},
			Router: RouterFunc(func(s *State) []Send {
				if s.GuardrailPassed != nil && !*s.GuardrailPassed && e.config.AutoReject() {
					return []Send{{Node: NodeMarkAutoRejected}}
				}
				return []Send{{Node: NodeHumanReviewGate}}
			}),
		},
		&Node{
			Name:         NodeHumanReviewGate,
			Handler:      e.humanReviewGateHandler(),
			Predecessors: []string{NodeGuardrailAggregator},
			Router: RouterFunc(func(s *State) []Send {
				if s.ReviewDecision == story.DecisionApproved {
					return []Send{{Node: NodePublisher}}
				}
				return []Send{{Node: NodeMarkRejected}}
			}),
		},
		&Node{
			Name:           NodePublisher,
			Handler:        e.publisherHandler(),
			Terminal:       true,
			TerminalStatus: story.StatusCompleted,
		},
		&Node{
			Name:           NodeMarkRejected,
			Handler:        e.markRejectedHandler(),
			Terminal:       true,
			TerminalStatus: story.StatusRejected,
		},
		&Node{
			Name:           NodeMarkAutoRejected,
			Handler:        e.markAutoRejectedHandler(),
			Terminal:       true,
			TerminalStatus: story.StatusAutoRejected,
		},
	)
}

// mediaFanOut emits one send per prompt, each carrying its index and prompt
// in the overlay. An empty prompt list routes straight to the assembler; the
// fan-in collapses once the other branch settles.
func mediaFanOut(target string, prompts func(*State) []string) Router {
	return RouterFunc(func(s *State) []Send {
		list := prompts(s)
		if len(list) == 0 {
			return []Send{{Node: NodeAssembler}}
		}
		sends := make([]Send, len(list))
		for i, prompt := range list {
			sends[i] = Send{Node: target, Overlay: Overlay{Index: i, Prompt: prompt}}
		}
		return sends
	})
}

// routeToGuardrails fans out from the assembler to the evaluation cluster:
// the story evaluator, the text guardrail, and one unit per media item.
func routeToGuardrails(s *State) []Send {
	sends := []Send{
		{Node: NodeStoryEvaluator},
		{Node: NodeStoryGuardrail},
	}
	for i, url := range s.ImageURLs {
		prompt := ""
		if i < len(s.ImagePrompts) {
			prompt = s.ImagePrompts[i]
		}
		sends = append(sends, Send{
			Node:    NodeImageGuardrail,
			Overlay: Overlay{Index: i, MediaURL: url, Prompt: prompt},
		})
	}
	for i, url := range s.VideoURLs {
		prompt := ""
		if i < len(s.VideoPrompts) {
			prompt = s.VideoPrompts[i]
		}
		sends = append(sends, Send{
			Node:    NodeVideoGuardrail,
			Overlay: Overlay{Index: i, MediaURL: url, Prompt: prompt},
		})
	}
	return sends
}
