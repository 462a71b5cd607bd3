package llm

import (
	"context"
	"strings"
)

// Options tune a single generation call.
type Options struct {
	Model   string
	Context []string
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend produces free text for a prompt.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Streamer delivers a completion chunk by chunk. Returning an error from fn aborts the stream.
type Streamer interface {
	Stream(ctx context.Context, prompt string, opts Options, fn func(chunk string) error) error
}

// ChatStreamer runs a multi-turn conversation and streams the reply.
type ChatStreamer interface {
	Chat(ctx context.Context, messages []Message, model string, fn func(chunk string) error) error
}

const (
	contextPreamble = "Use the following reference articles to inform your answer:"
	contextDivider  = "\n\n---\n\nQuestion: "
)

// AugmentPrompt prepends reference snippets to prompt, followed by the original question.
// Without usable snippets the prompt is returned unchanged.
func AugmentPrompt(prompt string, snippets []string) string {
	kept := make([]string, 0, len(snippets))
	for _, snippet := range snippets {
		if trimmed := strings.TrimSpace(snippet); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(contextPreamble)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(kept, "\n\n---\n\n"))
	b.WriteString(contextDivider)
	b.WriteString(prompt)
	return b.String()
}
