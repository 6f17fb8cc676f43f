package gateway

import (
	"fmt"
	"strings"
)

const (
	DefaultLanguage   = "Brazilian Portuguese"
	DefaultTopicCount = 12
)

// Prompts builds the instructions sent to the text model.
type Prompts struct {
	Language   string
	TopicCount int
}

func (p Prompts) withDefaults() Prompts {
	if strings.TrimSpace(p.Language) == "" {
		p.Language = DefaultLanguage
	}
	if p.TopicCount <= 0 {
		p.TopicCount = DefaultTopicCount
	}
	return p
}

func (p Prompts) Topics() string {
	p = p.withDefaults()
	return fmt.Sprintf(
		"Generate a list of %d common home repair topics written in %s, suitable for a beginner at DIY. "+
			"Examples: 'Fix a leaking toilet', 'Patch a small hole in drywall'.",
		p.TopicCount, p.Language,
	)
}

func (p Prompts) Steps(topic string) string {
	p = p.withDefaults()
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a step-by-step tutorial on how to %q. The instructions must be written in %s.\n", strings.TrimSpace(topic), p.Language)
	b.WriteString("Keep the instructions simple, clear and concise for a complete beginner.\n")
	b.WriteString("For each step, provide:\n")
	b.WriteString("1. A 'stepNumber'.\n")
	b.WriteString("2. A short 'instruction' text.\n")
	b.WriteString("3. A simple, descriptive 'imagePrompt' for an AI image generator to create a clear, minimalist, " +
		"instructional diagram-style picture of the step. Focus on the action and the tools. " +
		"Example: 'A hand using a screwdriver to tighten a loose cabinet handle'.\n")
	return b.String()
}

// ImagePrompt wraps a step's imagePrompt in the house illustration style.
func ImagePrompt(stepPrompt string) string {
	return fmt.Sprintf(
		"A minimalist, clean instructional illustration showing: %s. White background, simple lines, limited color palette. Diagram style.",
		strings.TrimSpace(stepPrompt),
	)
}

// TopicsSchema describes {topics:[string]}.
func TopicsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"topics"},
		"properties": map[string]any{
			"topics": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

// StepsSchema describes {steps:[{stepNumber,instruction,imagePrompt}]}, all fields required.
func StepsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"steps"},
		"properties": map[string]any{
			"steps": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"stepNumber", "instruction", "imagePrompt"},
					"properties": map[string]any{
						"stepNumber":  map[string]any{"type": "integer"},
						"instruction": map[string]any{"type": "string"},
						"imagePrompt": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}
