package main

import (
	"fmt"
	"io"

	"github.com/kalambet/docqa/internal/session"
)

// sourceExcerptLen is how much of each source passage is shown under an answer.
const sourceExcerptLen = 150

// renderer prints committed session transitions. It is registered as a
// session observer.
type renderer struct {
	out io.Writer
}

func (r renderer) render(ev session.Event) {
	switch ev.Kind {
	case session.UploadChanged:
		r.banner(ev.Upload)
	case session.QueryChanged:
		if ev.Query == session.QueryInFlight {
			stepColor.Fprintln(r.out, "→ Thinking...")
		}
	case session.TurnAppended:
		if ev.Turn.Role == session.RoleAssistant {
			r.answer(ev.Turn)
		}
	}
}

func (r renderer) banner(u session.UploadState) {
	kind, msg := session.Snapshot{Upload: u}.Banner()
	switch kind {
	case session.BannerProgress:
		stepColor.Fprintln(r.out, "→ "+msg)
	case session.BannerSuccess:
		successColor.Fprintln(r.out, "✓ "+msg)
	case session.BannerError:
		errorColor.Fprintln(r.out, "✗ "+msg)
	}
}

func (r renderer) answer(t session.Turn) {
	if t.Failed {
		errorColor.Fprintln(r.out, t.Text)
		return
	}
	fmt.Fprintln(r.out, t.Text)
	if len(t.Sources) == 0 {
		return
	}
	fmt.Fprintln(r.out)
	boldColor.Fprintln(r.out, "Sources:")
	for i, s := range t.Sources {
		fmt.Fprintf(r.out, "  [%d] %s\n", i+1, session.Excerpt(s, sourceExcerptLen))
	}
}

// printSessionStatus writes the session panel: selection, upload banner,
// last processed document and transcript size.
func printSessionStatus(w io.Writer, snap session.Snapshot) {
	selected := "none"
	if snap.Selected != nil {
		selected = fmt.Sprintf("%s (%d bytes)", snap.Selected.Name, snap.Selected.Size)
	}
	fmt.Fprintf(w, "  %s %s\n", boldColor.Sprint("Selected:"), selected)
	fmt.Fprintf(w, "  %s %s\n", boldColor.Sprint("Upload:"), snap.Upload.Status)
	if snap.Upload.Message != "" {
		fmt.Fprintf(w, "  %s %s\n", boldColor.Sprint("Message:"), snap.Upload.Message)
	}
	if s := snap.Upload.Summary; s != nil {
		fmt.Fprintf(w, "  %s %s (%d chunks)\n", boldColor.Sprint("Last processed:"), s.Filename, s.NumChunks)
	}
	fmt.Fprintf(w, "  %s %s\n", boldColor.Sprint("Query:"), snap.Query)
	fmt.Fprintf(w, "  %s %d\n", boldColor.Sprint("Turns:"), len(snap.Transcript))
}
