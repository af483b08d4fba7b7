package session

import (
	"encoding/json"
	"time"
)

// UploadStatus is the lifecycle of the most recent upload.
type UploadStatus int

const (
	UploadIdle UploadStatus = iota
	UploadInFlight
	UploadSucceeded
	UploadFailed
)

func (s UploadStatus) String() string {
	switch s {
	case UploadIdle:
		return "idle"
	case UploadInFlight:
		return "in_flight"
	case UploadSucceeded:
		return "succeeded"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// QueryStatus governs whether a new question may be submitted.
type QueryStatus int

const (
	QueryIdle QueryStatus = iota
	QueryInFlight
)

func (s QueryStatus) String() string {
	if s == QueryInFlight {
		return "in_flight"
	}
	return "idle"
}

// Fixed user-facing strings.
const (
	MessageProcessing    = "Processing PDF... this may take a moment."
	MessageUploadFailed  = "Upload failed"
	MessageQueryApology  = "Sorry, I encountered an error answering your question. Please try again."
	messageUploadSuccess = "Successfully processed %s (%d chunks)."
)

// Document is a file selected for upload.
type Document struct {
	Name    string
	Payload []byte
}

// DocumentInfo describes the selected document without its payload.
type DocumentInfo struct {
	Name string
	Size int
}

// Summary is the result of the last successful ingest.
type Summary struct {
	Filename  string
	NumChunks int
}

// UploadState is the upload banner model. Message is non-empty whenever
// Status is UploadSucceeded or UploadFailed.
type UploadState struct {
	Status  UploadStatus
	Message string
	Summary *Summary
}

// Role tags a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry. Sources is only populated for assistant
// turns. Failed marks the apology turn appended when a query fails. Turns
// are never modified after they are appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"content"`
	Sources   []string  `json:"sources,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON writes sources for assistant turns only, as an array even
// when there are none.
func (t Turn) MarshalJSON() ([]byte, error) {
	type wireTurn struct {
		ID        string    `json:"id"`
		Role      Role      `json:"role"`
		Text      string    `json:"content"`
		Sources   *[]string `json:"sources,omitempty"`
		Failed    bool      `json:"failed,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	w := wireTurn{ID: t.ID, Role: t.Role, Text: t.Text, Failed: t.Failed, CreatedAt: t.CreatedAt}
	if t.Role == RoleAssistant {
		src := t.Sources
		if src == nil {
			src = []string{}
		}
		w.Sources = &src
	}
	return json.Marshal(w)
}

// Snapshot is a consistent copy of the session model.
type Snapshot struct {
	SessionID  string
	Selected   *DocumentInfo
	Upload     UploadState
	Query      QueryStatus
	Input      string
	Transcript []Turn
}

// EventKind identifies a committed state transition.
type EventKind int

const (
	UploadChanged EventKind = iota
	TurnAppended
	QueryChanged
	DocumentChanged
)

func (k EventKind) String() string {
	switch k {
	case UploadChanged:
		return "upload_changed"
	case TurnAppended:
		return "turn_appended"
	case QueryChanged:
		return "query_changed"
	case DocumentChanged:
		return "document_changed"
	default:
		return "unknown"
	}
}

// Event is delivered to observers after a transition is committed.
// Turn is set for TurnAppended, Upload for UploadChanged and Query for
// QueryChanged.
type Event struct {
	Kind   EventKind
	Turn   Turn
	Upload UploadState
	Query  QueryStatus
}
