package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docqa/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session *session.Controller
	Version string
}

// NewMCPServer creates an MCP server exposing one document Q&A session.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"docqa",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docqa: upload a PDF to the document service, then ask questions about it."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("upload_document",
			mcp.WithDescription("Upload a local PDF to the document service and wait until it is processed."),
			mcp.WithString("path", mcp.Description("Path to a .pdf file"), mcp.Required()),
		),
		mcpUploadDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the uploaded documents. Returns the answer and the source passages."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"session://transcript",
			"Transcript",
			mcp.WithResourceDescription("All question and answer turns of this session"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTranscript(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"session://upload",
			"Upload State",
			mcp.WithResourceDescription("Selected document, upload status and last processed summary"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceUpload(deps),
	)

	return s
}

var (
	errUploadBusy = errors.New("another document is still being uploaded")
	errAskBusy    = errors.New("another question is still being answered")
)

// awaitEvent subscribes before start runs and returns the first event
// accepted by match. match is called from the delivery goroutine, one event
// at a time. The observer never blocks the session.
func awaitEvent(ctx context.Context, ctl *session.Controller, match func(session.Event) bool, start func() error) (session.Event, error) {
	ch := make(chan session.Event, 1)
	unsubscribe := ctl.Subscribe(func(ev session.Event) {
		if !match(ev) {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	if err := start(); err != nil {
		return session.Event{}, err
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return session.Event{}, ctx.Err()
	}
}

func mcpUploadDocument(deps MCPDeps) server.ToolHandlerFunc {
	var mu sync.Mutex
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		if !mu.TryLock() {
			return mcpError(errUploadBusy.Error()), nil
		}
		defer mu.Unlock()

		doc, err := session.LoadDocument(path)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		ctl := deps.Session
		// Our selection commits an Idle state; the result is the first
		// terminal state after it.
		selected := false
		done := func(ev session.Event) bool {
			if ev.Kind != session.UploadChanged {
				return false
			}
			switch ev.Upload.Status {
			case session.UploadIdle:
				selected = true
			case session.UploadSucceeded, session.UploadFailed:
				return selected
			}
			return false
		}
		ev, err := awaitEvent(ctx, ctl, done, func() error {
			err := ctl.SelectDocument(doc)
			if errors.Is(err, session.ErrUploadInFlight) {
				return errUploadBusy
			}
			if err != nil {
				return err
			}
			if !ctl.SubmitUpload() {
				return errUploadBusy
			}
			return nil
		})
		if err != nil {
			return mcpError(fmt.Sprintf("upload failed: %v", err)), nil
		}

		if ev.Upload.Status == session.UploadFailed {
			return mcpError(ev.Upload.Message), nil
		}
		return mcpText(ev.Upload.Message), nil
	}
}

type askResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	var mu sync.Mutex
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		if !mu.TryLock() {
			return mcpError(errAskBusy.Error()), nil
		}
		defer mu.Unlock()

		ctl := deps.Session
		// Turns alternate; the answer is the assistant turn right after
		// our question.
		asked := false
		answered := func(ev session.Event) bool {
			if ev.Kind != session.TurnAppended {
				return false
			}
			if ev.Turn.Role == session.RoleUser {
				asked = ev.Turn.Text == question
				return false
			}
			return asked
		}
		ev, err := awaitEvent(ctx, ctl, answered, func() error {
			if !ctl.SubmitQuery(question) {
				if ctl.Snapshot().Query == session.QueryInFlight {
					return errAskBusy
				}
				return errors.New("question was not accepted")
			}
			return nil
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}

		if ev.Turn.Failed {
			return mcpError(ev.Turn.Text), nil
		}

		b, err := json.Marshal(askResult{Answer: ev.Turn.Text, Sources: ev.Turn.Sources})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceTranscript(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		turns := deps.Session.Snapshot().Transcript
		b, err := json.Marshal(turns)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transcript: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

type uploadView struct {
	Status   string       `json:"status"`
	Message  string       `json:"message,omitempty"`
	Selected string       `json:"selected,omitempty"`
	Summary  *summaryView `json:"summary,omitempty"`
}

type summaryView struct {
	Filename  string `json:"filename"`
	NumChunks int    `json:"num_chunks"`
}

func mcpResourceUpload(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap := deps.Session.Snapshot()
		v := uploadView{
			Status:  snap.Upload.Status.String(),
			Message: snap.Upload.Message,
		}
		if snap.Selected != nil {
			v.Selected = snap.Selected.Name
		}
		if s := snap.Upload.Summary; s != nil {
			v.Summary = &summaryView{Filename: s.Filename, NumChunks: s.NumChunks}
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal upload state: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func jsonResource(uri string, b []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
