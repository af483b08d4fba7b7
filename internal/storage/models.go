package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is one ingested upload.
type Document struct {
	ID        string
	Name      string
	NumChunks int
	SizeBytes int64
	CreatedAt time.Time
}

// Chunk is a slice of a document's text, ordered by Index within it.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
}

// QueryRecord logs one answered question.
type QueryRecord struct {
	ID        string
	CreatedAt time.Time
	Question  string
	Answer    string
	Sources   string // JSON array stored as text
	Model     string // empty when the answer was extractive
}
