package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotRunning is returned by EnsureReady when the server does not answer.
var ErrNotRunning = errors.New("Ollama is not running. Start it with: ollama serve")

// keepAlive is how long the model stays loaded after warm-up.
const keepAlive = "30m"

// EnsureReady prepares c's model for answering. A missing model is pulled
// when pull is set, otherwise it is an error. The model is then loaded so
// the first question does not wait for it. Progress goes to w.
func EnsureReady(ctx context.Context, c *Client, pull bool, w io.Writer) error {
	if !c.Reachable(ctx) {
		return ErrNotRunning
	}

	ok, err := c.installed(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if !pull {
			return fmt.Errorf("model %s is not available locally; run: ollama pull %s (or serve --pull)", c.model, c.model)
		}
		fmt.Fprintf(w, "model %s: pulling...\n", c.model)
		if err := pullModel(ctx, c, w); err != nil {
			return fmt.Errorf("pulling model %s: %w", c.model, err)
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := c.load(loadCtx, keepAlive); err != nil {
		fmt.Fprintf(w, "model %s: load failed (non-fatal): %v\n", c.model, err)
		return nil
	}
	fmt.Fprintf(w, "model %s: ready\n", c.model)
	return nil
}

// pullEvent is one line of the streamed /api/pull response.
type pullEvent struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
}

// pullModel downloads c's model. A status line is written when the phase
// changes and download progress in steps of ten percent.
func pullModel(ctx context.Context, c *Client, w io.Writer) error {
	body, err := json.Marshal(map[string]any{"model": c.model, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	var lastStatus string
	lastDecile := int64(-1)
	dec := json.NewDecoder(resp.Body)
	for {
		var ev pullEvent
		if err := dec.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if ev.Error != "" {
			return errors.New(ev.Error)
		}
		if ev.Status != lastStatus {
			lastStatus, lastDecile = ev.Status, -1
			fmt.Fprintf(w, "  %s\n", ev.Status)
		}
		if ev.Total > 0 {
			if d := ev.Completed * 10 / ev.Total; d > lastDecile {
				lastDecile = d
				fmt.Fprintf(w, "    %d%%\n", d*10)
			}
		}
	}
	if lastStatus != "success" {
		return fmt.Errorf("pull ended with status %q", lastStatus)
	}
	return nil
}
