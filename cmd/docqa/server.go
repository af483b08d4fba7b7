package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/docqa/internal/api"
	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/ollama"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local development document service (foreground)",
	Long: `Run a local implementation of the document service API on
127.0.0.1:<stub.port>. Uploaded PDFs are chunked and stored in SQLite under
stub.data_dir. Answers come from Ollama when it is running, otherwise the
best matching passage is returned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pull, _ := cmd.Flags().GetBool("pull")
		noLLM, _ := cmd.Flags().GetBool("no-llm")
		return runStub(cmd.Context(), appConfig, pull, noLLM)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve a session over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("pull", false, "pull the Ollama model if it is missing")
	serveCmd.Flags().Bool("no-llm", false, "answer extractively without Ollama")
}

// newGenerator returns an Ollama-backed generator, or nil when Ollama or
// the model is unavailable. Unavailability is not fatal.
func newGenerator(ctx context.Context, cfg config.OllamaConfig, pull bool) api.AnswerGenerator {
	oc := ollama.New(cfg.BaseURL, cfg.Model)
	if err := ollama.EnsureReady(ctx, oc, pull, errOut); err != nil {
		printWarning("answer generation disabled: %v", err)
		slog.Warn("ollama unavailable, answering extractively", "error", err)
		return nil
	}
	return oc
}

func runStub(ctx context.Context, cfg config.Config, pull, noLLM bool) error {
	fmt.Fprintf(errOut, "docqa version %s\n", version)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Stub.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	var gen api.AnswerGenerator
	if !noLLM {
		gen = newGenerator(ctx, cfg.Ollama, pull)
	}

	handler := api.NewStubHandler(api.StubDeps{
		Store:        store,
		Retriever:    retrieval.NewRetriever(store, cfg.Stub.TopK),
		Composer:     composer.New(0),
		Generator:    gen,
		ChunkSize:    cfg.Stub.ChunkSize,
		ChunkOverlap: cfg.Stub.ChunkOverlap,
		Logger:       slog.Default(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Stub.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printSuccess("docqa stub listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(errOut, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctl := newSession()
	defer ctl.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Session: ctl, Version: version})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)", "session", ctl.ID(), "service", appConfig.Service.BaseURL)

	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
