package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/kalambet/docqa/internal/api"
	"github.com/kalambet/docqa/internal/backend"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/extract/extracttest"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/session"
	"github.com/kalambet/docqa/internal/storage"
)

// isolate points config at temp dirs so the developer's own settings do not
// leak in, and disables color for stable output.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	for _, env := range []string{
		"DOCQA_SERVICE_BASE_URL", "DOCQA_SERVICE_HEALTH_PATH", "DOCQA_SERVICE_TIMEOUT",
		"DOCQA_OLLAMA_BASE_URL", "DOCQA_LOG_LEVEL", "DOCQA_LOG_FILE",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	t.Setenv("DOCQA_LOG_LEVEL", "error")
	// Nothing listens here; keeps status from probing a real Ollama.
	t.Setenv("DOCQA_OLLAMA_BASE_URL", "http://127.0.0.1:1")

	oldNoColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = oldNoColor })
}

// execute runs the root command with args and returns everything written
// to stdout, stderr and the status line writer.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	oldErrOut := errOut
	errOut = &out
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		errOut = oldErrOut
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

// startStub serves the development service on an httptest server and
// points the CLI at it.
func startStub(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(api.NewStubHandler(api.StubDeps{
		Store:     store,
		Retriever: retrieval.NewRetriever(store, 5),
	}))
	t.Cleanup(srv.Close)

	t.Setenv("DOCQA_SERVICE_BASE_URL", srv.URL)
	return store
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "docqa version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestNoColorFlag(t *testing.T) {
	isolate(t)
	color.NoColor = false
	defer func() { noColor = false }()

	if _, err := execute(t, "--no-color", "version"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !color.NoColor {
		t.Error("--no-color did not disable color output")
	}
}

func TestUploadCommand_Success(t *testing.T) {
	isolate(t)
	store := startStub(t)
	path := writeFile(t, "handbook.pdf", extracttest.PDF("New hires get twenty vacation days."))

	out, err := execute(t, "upload", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, session.MessageProcessing) {
		t.Errorf("output missing progress banner: %q", out)
	}
	if !strings.Contains(out, "✓ Successfully processed handbook.pdf (1 chunks).") {
		t.Errorf("output missing success banner: %q", out)
	}

	n, err := store.CountChunks()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("stored chunks = %d, want 1", n)
	}
}

func TestUploadCommand_Rejected(t *testing.T) {
	isolate(t)
	startStub(t)
	path := writeFile(t, "scan.pdf", extracttest.PDF())

	out, err := execute(t, "upload", path)
	if !errors.Is(err, errUploadFailed) {
		t.Fatalf("error = %v, want errUploadFailed", err)
	}
	if !strings.Contains(out, "✗ PDF contains no extractable text.") {
		t.Errorf("output = %q", out)
	}
}

func TestUploadCommand_NotPDF(t *testing.T) {
	isolate(t)
	path := writeFile(t, "notes.txt", []byte("hello"))

	_, err := execute(t, "upload", path)
	if !errors.Is(err, session.ErrNotPDF) {
		t.Fatalf("error = %v, want ErrNotPDF", err)
	}
}

func TestAskCommand(t *testing.T) {
	isolate(t)
	store := startStub(t)
	if _, err := store.SaveDocument(storage.Document{Name: "h.pdf"}, []string{"New hires get twenty vacation days."}); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "ask", "how", "many", "vacation", "days?")
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	for _, want := range []string{"New hires get twenty vacation days.", "Sources:", "[1] New hires"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestAskCommand_NotFound(t *testing.T) {
	isolate(t)
	startStub(t)

	out, err := execute(t, "ask", "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Not found in the document.") || strings.Contains(out, "Sources:") {
		t.Errorf("output = %q", out)
	}
}

func TestAskCommand_AnswerTextIsNotTheOutcome(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"answer": session.MessageQueryApology, "sources": []string{}})
	}))
	t.Cleanup(srv.Close)
	t.Setenv("DOCQA_SERVICE_BASE_URL", srv.URL)

	out, err := execute(t, "ask", "hello?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, session.MessageQueryApology) {
		t.Errorf("output = %q", out)
	}
}

func TestAskCommand_Unreachable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(nil)
	srv.Close()
	t.Setenv("DOCQA_SERVICE_BASE_URL", srv.URL)

	out, err := execute(t, "ask", "hello?")
	if !errors.Is(err, errQueryFailed) {
		t.Fatalf("error = %v, want errQueryFailed", err)
	}
	if !strings.Contains(out, session.MessageQueryApology) {
		t.Errorf("output = %q", out)
	}
}

func TestStatusCommand_Running(t *testing.T) {
	isolate(t)
	startStub(t)

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Service: running at http://127.0.0.1") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Ollama: not running") {
		t.Errorf("output = %q", out)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(nil)
	srv.Close()
	t.Setenv("DOCQA_SERVICE_BASE_URL", srv.URL)

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "not reachable") {
		t.Errorf("output = %q, want it to mention 'not reachable'", out)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	isolate(t)

	if _, err := execute(t, "config", "set", "stub.top_k", "7"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "stub.top_k = 7") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigSet_UnknownKey(t *testing.T) {
	isolate(t)
	_, err := execute(t, "config", "set", "nope", "1")
	if err == nil || !strings.Contains(err.Error(), "valid keys") {
		t.Fatalf("error = %v", err)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Stub.Port = 4000

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "stub.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find stub.port=4000 in ShowAll output")
	}
}

// --- chat ---

type chatService struct {
	answer backend.Answer
	result backend.IngestResult
}

func (s chatService) Ingest(_ context.Context, _ string, payload io.Reader) (backend.IngestResult, error) {
	io.Copy(io.Discard, payload)
	return s.result, nil
}

func (s chatService) Query(context.Context, string) (backend.Answer, error) {
	return s.answer, nil
}

func runTestChat(t *testing.T, svc session.Service, input, file string) (string, *session.Controller) {
	t.Helper()
	oldNoColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = oldNoColor })

	ctl := session.New(svc, nil)
	t.Cleanup(ctl.Close)

	var out bytes.Buffer
	if err := runChat(context.Background(), ctl, strings.NewReader(input), &out, file); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	return out.String(), ctl
}

func TestRunChat_QuestionAtEOF(t *testing.T) {
	svc := chatService{answer: backend.Answer{Answer: "Twenty days.", Sources: []string{"New hires get twenty vacation days."}}}
	out, ctl := runTestChat(t, svc, "how many vacation days?\n", "")

	if !strings.Contains(out, "Twenty days.") || !strings.Contains(out, "[1] New hires get twenty vacation days.") {
		t.Errorf("output = %q", out)
	}
	if n := len(ctl.Snapshot().Transcript); n != 2 {
		t.Errorf("transcript len = %d, want 2", n)
	}
}

func TestRunChat_UploadFlag(t *testing.T) {
	svc := chatService{result: backend.IngestResult{Filename: "a.pdf", NumChunks: 4}}
	path := writeFile(t, "a.pdf", []byte("%PDF-1.4"))

	out, ctl := runTestChat(t, svc, "", path)
	if !strings.Contains(out, "✓ Successfully processed a.pdf (4 chunks).") {
		t.Errorf("output = %q", out)
	}
	if s := ctl.Snapshot().Upload.Summary; s == nil || s.NumChunks != 4 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunChat_QuitStopsReading(t *testing.T) {
	out, ctl := runTestChat(t, chatService{}, "/quit\nnever asked\n", "")
	if n := len(ctl.Snapshot().Transcript); n != 0 {
		t.Errorf("transcript len = %d after /quit, want 0", n)
	}
	if strings.Contains(out, "Thinking") {
		t.Errorf("output = %q", out)
	}
}

func TestHandleLine(t *testing.T) {
	txt := writeFile(t, "notes.txt", []byte("x"))

	tests := []struct {
		name     string
		line     string
		wantQuit bool
		wantOut  string
	}{
		{"blank", "   ", false, ""},
		{"quit", "/quit", true, ""},
		{"exit", "/exit", true, ""},
		{"help", "/help", false, "/upload <file.pdf>"},
		{"status", "/status", false, "Upload: idle"},
		{"upload usage", "/upload", false, "Usage: /upload"},
		{"upload not pdf", "/upload " + txt, false, "only PDF documents"},
		{"unknown", "/frobnicate", false, "Unknown command /frobnicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldNoColor := color.NoColor
			color.NoColor = true
			defer func() { color.NoColor = oldNoColor }()

			ctl := session.New(chatService{}, nil)
			defer ctl.Close()

			var out bytes.Buffer
			quit := handleLine(ctl, tt.line, &out)
			if quit != tt.wantQuit {
				t.Errorf("quit = %v, want %v", quit, tt.wantQuit)
			}
			if tt.wantOut == "" && out.Len() != 0 {
				t.Errorf("unexpected output %q", out.String())
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output = %q, want it to contain %q", out.String(), tt.wantOut)
			}
		})
	}
}

func TestRenderer_Excerpt(t *testing.T) {
	oldNoColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = oldNoColor }()

	var out bytes.Buffer
	long := strings.Repeat("a", 200)
	renderer{out: &out}.render(session.Event{
		Kind: session.TurnAppended,
		Turn: session.Turn{Role: session.RoleAssistant, Text: "answer", Sources: []string{long}},
	})

	want := "  [1] " + strings.Repeat("a", 150) + "...\n"
	if !strings.Contains(out.String(), want) {
		t.Errorf("output = %q", out.String())
	}
}
