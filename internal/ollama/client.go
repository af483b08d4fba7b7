// Package ollama talks to the local Ollama server the development service
// answers questions with. A Client is bound to one model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client generates answers with one model on a local Ollama server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New returns a Client for model on the server at baseURL. Generation has
// no client-side timeout; callers bound it with ctx.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
}

// Model returns the model answers are generated with.
func (c *Client) Model() string {
	return c.model
}

// Reachable reports whether the server answers within two seconds.
func (c *Client) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// installed reports whether the bound model is present locally. A bare
// name matches its ":latest" tag.
func (c *Client) installed(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return false, fmt.Errorf("listing models: %w", err)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("decoding model list: %w", err)
	}

	want := c.model
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, m := range tags.Models {
		if m.Name == want || m.Name == c.model {
			return true, nil
		}
	}
	return false, nil
}

type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt,omitempty"`
	Stream    bool   `json:"stream"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate answers prompt in one non-streamed completion.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	if err := c.postJSON(ctx, "/api/generate", generateRequest{Model: c.model, Prompt: prompt}, &out); err != nil {
		return "", fmt.Errorf("generating with %s: %w", c.model, err)
	}
	answer := strings.TrimSpace(out.Response)
	if answer == "" {
		return "", fmt.Errorf("generating with %s: empty response", c.model)
	}
	return answer, nil
}

// load asks the server to keep the model resident. A generate request
// without a prompt only loads the model.
func (c *Client) load(ctx context.Context, keepAlive string) error {
	return c.postJSON(ctx, "/api/generate", generateRequest{Model: c.model, KeepAlive: keepAlive}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
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
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// checkStatus turns a non-200 reply into an error carrying Ollama's
// {"error": ...} message when there is one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if msg == "" {
		return errors.New(resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, msg)
}
