package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	uploadPath = "/api/upload-pdf"
	queryPath  = "/api/query"

	// maxErrorBodySize caps how much of a non-2xx body is read looking for detail.
	maxErrorBodySize = 64 << 10
)

var (
	// ErrUnreachable wraps transport-level failures reaching the service.
	ErrUnreachable = errors.New("service not reachable")

	// ErrMalformedResponse is returned when a 2xx body cannot be decoded
	// into the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError is returned for non-2xx responses. Detail carries the
// service-provided `detail` string when the body had one.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("service returned %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("service returned %d", e.Code)
}

// IngestResult is the summary returned by the ingest endpoint.
type IngestResult struct {
	Filename  string
	NumChunks int
}

// Answer is the body returned by the query endpoint.
type Answer struct {
	Answer  string
	Sources []string
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	HealthPath string
	// Timeout bounds each request. Zero leaves latency to the service.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the document Q&A service over HTTP.
type Client struct {
	baseURL    string
	healthPath string
	httpClient *http.Client
}

// New creates a Client for the service at cfg.BaseURL.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		healthPath: healthPath,
		httpClient: hc,
	}
}

// BaseURL returns the service root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// quoteEscaper makes a filename safe inside a quoted header parameter.
// Line breaks are percent-encoded so they cannot end the header.
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"", "\r", "%0D", "\n", "%0A")

// Ingest uploads a document as a single multipart request with one `file` field.
func (c *Client) Ingest(ctx context.Context, name string, payload io.Reader) (IngestResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(h)
	if err != nil {
		return IngestResult{}, fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := io.Copy(part, payload); err != nil {
		return IngestResult{}, fmt.Errorf("writing multipart payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return IngestResult{}, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, &body)
	if err != nil {
		return IngestResult{}, fmt.Errorf("creating ingest request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return IngestResult{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return IngestResult{}, err
	}

	var raw struct {
		Filename  *string `json:"filename"`
		NumChunks *int    `json:"num_chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return IngestResult{}, fmt.Errorf("%w: decoding ingest response: %v", ErrMalformedResponse, err)
	}
	if raw.Filename == nil || raw.NumChunks == nil {
		return IngestResult{}, fmt.Errorf("%w: ingest response missing filename or num_chunks", ErrMalformedResponse)
	}
	return IngestResult{Filename: *raw.Filename, NumChunks: *raw.NumChunks}, nil
}

// Query asks a question. The question travels URL-encoded in the query string.
func (c *Client) Query(ctx context.Context, question string) (Answer, error) {
	u := c.baseURL + queryPath + "?" + url.Values{"question": {question}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return Answer{}, fmt.Errorf("creating query request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return Answer{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return Answer{}, err
	}

	var raw struct {
		Answer  *string  `json:"answer"`
		Sources []string `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Answer{}, fmt.Errorf("%w: decoding query response: %v", ErrMalformedResponse, err)
	}
	if raw.Answer == nil {
		return Answer{}, fmt.Errorf("%w: query response missing answer", ErrMalformedResponse)
	}
	sources := raw.Sources
	if sources == nil {
		sources = []string{}
	}
	return Answer{Answer: *raw.Answer, Sources: sources}, nil
}

// Health checks that the service answers its health endpoint with 200.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return resp, nil
}

// checkStatus turns a non-2xx response into a *StatusError, pulling the
// FastAPI-style `detail` string out of the body when there is one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	se := &StatusError{Code: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return se
	}
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) != nil || len(body.Detail) == 0 {
		return se
	}
	// detail may be a list (validation errors); only a string is surfaced.
	var detail string
	if json.Unmarshal(body.Detail, &detail) == nil {
		se.Detail = detail
	}
	return se
}
