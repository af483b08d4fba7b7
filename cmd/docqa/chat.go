package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docqa/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question and answer session",
	Long: `Start an interactive session. Each line is sent as a question.

Commands:
  /upload <file.pdf>  upload a document
  /status             show the session state
  /help               list commands
  /quit               leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctl := newSession()
		defer ctl.Close()

		return runChat(ctx, ctl, cmd.InOrStdin(), cmd.OutOrStdout(), file)
	},
}

func init() {
	chatCmd.Flags().String("file", "", "PDF to upload when the session starts")
}

// runChat drives ctl from lines read on in until EOF, /quit or ctx is done.
// Rendering runs on its own goroutine fed by a session observer. On EOF the
// outstanding upload and query are awaited so their results are printed.
func runChat(ctx context.Context, ctl *session.Controller, in io.Reader, out io.Writer, file string) error {
	out = &lockedWriter{w: out}
	g, gctx := errgroup.WithContext(ctx)

	events := make(chan session.Event, 64)
	unsubscribe := ctl.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		case <-gctx.Done():
		}
	})
	defer unsubscribe()

	// The scanner blocks in Read and cannot be interrupted, so it lives
	// outside the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	inputDone := make(chan struct{})
	r := renderer{out: out}

	g.Go(func() error {
		for {
			select {
			case ev := <-events:
				r.render(ev)
			case <-inputDone:
				for {
					select {
					case ev := <-events:
						r.render(ev)
					default:
						return nil
					}
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		defer close(inputDone)

		fmt.Fprintln(out, "Ask a question about your documents. Type /help for commands.")
		if file != "" {
			handleLine(ctl, "/upload "+file, out)
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					ctl.Wait()
					return nil
				}
				if quit := handleLine(ctl, line, out); quit {
					return nil
				}
			}
		}
	})

	return g.Wait()
}

// handleLine executes one REPL line and reports whether the session should end.
func handleLine(ctl *session.Controller, line string, out io.Writer) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		ctl.SetInput(line)
		if !ctl.SubmitInput() {
			warningColor.Fprintln(out, "⚠ Still answering the previous question.")
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, "/upload <file.pdf>, /status, /help, /quit")
	case "/status":
		printSessionStatus(out, ctl.Snapshot())
	case "/upload":
		if arg == "" {
			warningColor.Fprintln(out, "⚠ Usage: /upload <file.pdf>")
			return false
		}
		doc, err := session.LoadDocument(arg)
		if err != nil {
			errorColor.Fprintln(out, "✗ "+err.Error())
			return false
		}
		if err := ctl.SelectDocument(doc); err != nil {
			errorColor.Fprintln(out, "✗ "+err.Error())
			return false
		}
		ctl.SubmitUpload()
	default:
		warningColor.Fprintf(out, "⚠ Unknown command %s. Type /help for commands.\n", cmd)
	}
	return false
}

// lockedWriter serialises writes from the input and render goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
