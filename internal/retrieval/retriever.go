// Package retrieval ranks stored chunks against a question.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kalambet/docqa/internal/storage"
)

// BM25 parameters.
const (
	k1 = 1.2
	b  = 0.75
)

// ContextChunk is a retrieved chunk with its relevance score.
type ContextChunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Score      float64
}

// ChunkSource supplies the corpus to rank. *storage.Store implements it.
type ChunkSource interface {
	ListChunks() ([]storage.Chunk, error)
}

// Retriever scores chunks lexically with BM25.
type Retriever struct {
	source ChunkSource
	topK   int
}

// NewRetriever creates a Retriever returning at most topK chunks.
func NewRetriever(source ChunkSource, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{source: source, topK: topK}
}

// Retrieve returns the best matching chunks for query, highest score first.
// Chunks sharing no term with the query are never returned, so an empty
// result means nothing matched.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]ContextChunk, error) {
	terms := uniqueTerms(tokenize(query))
	if len(terms) == 0 {
		return nil, nil
	}

	chunks, err := r.source.ListChunks()
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs := make([][]string, len(chunks))
	df := make(map[string]int, len(terms))
	var totalLen int
	for i, c := range chunks {
		docs[i] = tokenize(c.Content)
		totalLen += len(docs[i])
		seen := make(map[string]bool)
		for _, tok := range docs[i] {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	avgLen := float64(totalLen) / float64(len(chunks))
	if avgLen == 0 {
		avgLen = 1
	}
	n := float64(len(chunks))

	var results []ContextChunk
	for i, c := range chunks {
		tf := make(map[string]int)
		for _, tok := range docs[i] {
			tf[tok]++
		}
		var score float64
		for _, term := range terms {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
			norm := k1 * (1 - b + b*float64(len(docs[i]))/avgLen)
			score += idf * f * (k1 + 1) / (f + norm)
		}
		if score > 0 {
			results = append(results, ContextChunk{
				ID:         c.ID,
				DocumentID: c.DocumentID,
				Index:      c.Index,
				Text:       c.Content,
				Score:      score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > r.topK {
		results = results[:r.topK]
	}
	return results, nil
}

// Texts returns the chunk texts in rank order.
func Texts(chunks []ContextChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "does": true, "do": true, "for": true, "from": true,
	"how": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "with": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
