// Package composer builds the answer-generation prompt from retrieved chunks.
package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/docqa/internal/retrieval"
)

const defaultMaxContextTokens = 4000

// NotFound is the answer the model is told to give when the context does not
// contain one. The stub also returns it when retrieval finds nothing.
const NotFound = "Not found in the document."

const promptTemplate = `You are a helpful assistant.
Answer the question ONLY using the context below.
If the answer is not contained in the context, say %q

CONTEXT:
%s

QUESTION:
%s

ANSWER:`

// Composer assembles RAG prompts under a token budget for injected context.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the prompt for question. Chunks are kept in the given
// (rank) order; a chunk that would overflow the budget is skipped. The
// chunks that made it into the prompt are returned alongside it.
func (c *Composer) Compose(question string, chunks []retrieval.ContextChunk) (string, []retrieval.ContextChunk) {
	remaining := c.MaxContextTokens - EstimateTokens(question) - EstimateTokens(promptTemplate)

	var (
		parts []string
		used  []retrieval.ContextChunk
	)
	for _, ch := range chunks {
		text := strings.TrimSpace(ch.Text)
		if text == "" {
			continue
		}
		tokens := EstimateTokens(text)
		if tokens > remaining {
			continue
		}
		parts = append(parts, text)
		used = append(used, ch)
		remaining -= tokens
	}

	prompt := fmt.Sprintf(promptTemplate, NotFound, strings.Join(parts, "\n\n"), strings.TrimSpace(question))
	return prompt, used
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
