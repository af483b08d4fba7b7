package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/extract"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

const maxUploadSize = 50 << 20 // 50MB

// Error details returned by the stub.
const (
	detailNotPDF        = "Only PDF files are supported."
	detailNoText        = "PDF contains no extractable text."
	detailInvalidPDF    = "Invalid PDF file"
	detailEmptyQuestion = "Question cannot be empty."
)

// StubRetriever ranks stored chunks against a question.
type StubRetriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.ContextChunk, error)
}

// AnswerGenerator turns a RAG prompt into an answer.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// StubDeps holds dependencies for the development service.
type StubDeps struct {
	Store        *storage.Store
	Retriever    StubRetriever
	Composer     *composer.Composer
	Generator    AnswerGenerator // optional; if nil, answers are extractive
	ChunkSize    int
	ChunkOverlap int
	Logger       *slog.Logger
}

// UploadResponse is the body of a successful POST /api/upload-pdf.
type UploadResponse struct {
	Filename  string `json:"filename"`
	NumChunks int    `json:"num_chunks"`
	Status    string `json:"status"`
}

// QueryResponse is the body of a successful POST /api/query.
type QueryResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
}

// NewStubHandler returns the development ingest/query service.
func NewStubHandler(deps StubDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Composer == nil {
		deps.Composer = composer.New(0)
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = 1000
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload-pdf", handleUploadPDF(deps))
		r.Post("/query", handleQuery(deps))
		r.Get("/documents", handleListDocuments(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleUploadPDF(deps StubDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				httpError(w, http.StatusRequestEntityTooLarge, "file exceeds %d bytes", maxUploadSize)
				return
			}
			httpError(w, http.StatusBadRequest, "file is required: %v", err)
			return
		}
		defer file.Close()

		name := header.Filename
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			httpError(w, http.StatusBadRequest, detailNotPDF)
			return
		}
		deps.Logger.Info("receiving file", "filename", name)

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "reading upload: %v", err)
			return
		}

		text, err := extract.TextFromBytes(data)
		switch {
		case errors.Is(err, extract.ErrNoText):
			httpError(w, http.StatusBadRequest, detailNoText)
			return
		case err != nil:
			deps.Logger.Error("reading PDF", "filename", name, "error", err)
			httpError(w, http.StatusInternalServerError, detailInvalidPDF)
			return
		}

		chunks, err := extract.Chunk(text, deps.ChunkSize, deps.ChunkOverlap)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if len(chunks) == 0 {
			httpError(w, http.StatusBadRequest, detailNoText)
			return
		}

		doc, err := deps.Store.SaveDocument(storage.Document{Name: name, SizeBytes: int64(len(data))}, chunks)
		if err != nil {
			deps.Logger.Error("saving document", "filename", name, "error", err)
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}

		deps.Logger.Info("processed document", "filename", name, "chunks", doc.NumChunks, "id", doc.ID)
		writeJSON(w, http.StatusOK, UploadResponse{
			Filename:  name,
			NumChunks: doc.NumChunks,
			Status:    "success",
		})
	}
}

func handleQuery(deps StubDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question := r.URL.Query().Get("question")
		if strings.TrimSpace(question) == "" {
			httpError(w, http.StatusBadRequest, detailEmptyQuestion)
			return
		}
		deps.Logger.Info("processing query", "question", question)

		chunks, err := deps.Retriever.Retrieve(r.Context(), question)
		if err != nil {
			deps.Logger.Error("retrieval failed", "error", err)
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}

		if len(chunks) == 0 {
			writeJSON(w, http.StatusOK, QueryResponse{
				Question: question,
				Answer:   composer.NotFound,
				Sources:  []string{},
			})
			return
		}

		sources := retrieval.Texts(chunks)
		answer, model := answerQuestion(r.Context(), deps, question, chunks)

		b, _ := json.Marshal(sources)
		if err := deps.Store.SaveQuery(storage.QueryRecord{
			Question: question,
			Answer:   answer,
			Sources:  string(b),
			Model:    model,
		}); err != nil {
			deps.Logger.Warn("logging query", "error", err)
		}

		writeJSON(w, http.StatusOK, QueryResponse{
			Question: question,
			Answer:   answer,
			Sources:  sources,
		})
	}
}

// answerQuestion asks the generator when one is configured and falls back to
// the best-ranked chunk otherwise. The model name is empty for extractive
// answers.
func answerQuestion(ctx context.Context, deps StubDeps, question string, chunks []retrieval.ContextChunk) (string, string) {
	if deps.Generator != nil {
		prompt, used := deps.Composer.Compose(question, chunks)
		if len(used) > 0 {
			answer, err := deps.Generator.Generate(ctx, prompt)
			if err == nil && answer != "" {
				return answer, deps.Generator.Model()
			}
			deps.Logger.Warn("generation failed, answering extractively", "model", deps.Generator.Model(), "error", err)
		}
	}
	return strings.TrimSpace(chunks[0].Text), ""
}

type documentSummary struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	NumChunks int    `json:"num_chunks"`
	CreatedAt string `json:"created_at"`
}

func handleListDocuments(deps StubDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments(100)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		out := make([]documentSummary, len(docs))
		for i, d := range docs {
			out[i] = documentSummary{
				ID:        d.ID,
				Filename:  d.Name,
				NumChunks: d.NumChunks,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpError writes a {"detail": ...} body, the error shape clients read.
func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}
