// Package session holds the client-side state of one document Q&A session:
// the selected document and its upload lifecycle, the chat transcript, and
// the admission control for the two asynchronous operations (ingest and
// query) issued against the remote service.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docqa/internal/backend"
)

var (
	// ErrClosed is returned by mutating calls after Close.
	ErrClosed = errors.New("session closed")

	// ErrUploadInFlight is returned when the selection changes while an
	// upload is outstanding.
	ErrUploadInFlight = errors.New("upload in progress")

	// ErrEmptyDocument is returned when selecting a document without a name.
	ErrEmptyDocument = errors.New("document has no name")
)

// Service is the remote ingest/query API the controller drives.
type Service interface {
	Ingest(ctx context.Context, name string, payload io.Reader) (backend.IngestResult, error)
	Query(ctx context.Context, question string) (backend.Answer, error)
}

// Controller owns the state of one session. All model mutation happens
// under mu; network calls run on their own goroutines and apply their
// result as a continuation once they complete.
type Controller struct {
	id     string
	svc    Service
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	idle        *sync.Cond
	outstanding int
	closed      bool

	doc        *Document
	upload     UploadState
	query      QueryStatus
	input      string
	transcript []Turn

	observers  []observer
	nextObs    int
	pending    []Event
	delivering bool
}

// New creates a Controller that issues its operations against svc.
// If logger is nil, slog.Default() is used.
func New(svc Service, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	c := &Controller{
		id:     id,
		svc:    svc,
		logger: logger.With("session", id),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}

// Subscribe registers fn to receive every committed transition, in commit
// order. fn runs outside the controller lock and may call back into the
// controller, but must not call Wait. The returned func removes the
// subscription.
func (c *Controller) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.observers = slices.DeleteFunc(c.observers, func(o observer) bool { return o.id == id })
			c.mu.Unlock()
		})
	}
}

// observer is a live subscription, kept in subscription order.
type observer struct {
	id int
	fn func(Event)
}

// SelectDocument makes doc the upload candidate and resets the upload
// banner. The previous summary is kept. Selection is refused while an
// upload is in flight so the outstanding payload is never swapped.
func (c *Controller) SelectDocument(doc Document) error {
	if doc.Name == "" {
		return ErrEmptyDocument
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.upload.Status == UploadInFlight {
		c.mu.Unlock()
		return ErrUploadInFlight
	}
	c.doc = &Document{Name: doc.Name, Payload: doc.Payload}
	c.upload = UploadState{Status: UploadIdle, Summary: c.upload.Summary}
	c.emit(Event{Kind: DocumentChanged})
	c.emit(Event{Kind: UploadChanged, Upload: cloneUpload(c.upload)})
	c.mu.Unlock()

	c.logger.Debug("document selected", "name", doc.Name, "size", len(doc.Payload))
	c.deliver()
	return nil
}

// SubmitUpload sends the selected document to the ingest endpoint. It is a
// no-op, returning false, when no document is selected, an upload is
// already in flight, or the session is closed.
func (c *Controller) SubmitUpload() bool {
	c.mu.Lock()
	if c.closed || c.doc == nil || c.upload.Status == UploadInFlight {
		c.mu.Unlock()
		return false
	}
	doc := *c.doc
	c.upload = UploadState{
		Status:  UploadInFlight,
		Message: MessageProcessing,
		Summary: c.upload.Summary,
	}
	c.emit(Event{Kind: UploadChanged, Upload: cloneUpload(c.upload)})
	c.outstanding++
	c.mu.Unlock()

	c.logger.Debug("upload submitted", "name", doc.Name)
	c.deliver()
	go c.runUpload(doc)
	return true
}

func (c *Controller) runUpload(doc Document) {
	defer c.finish()

	res, err := c.svc.Ingest(c.ctx, doc.Name, bytes.NewReader(doc.Payload))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("discarding upload result after close", "name", doc.Name)
		return
	}
	if err != nil {
		c.upload = UploadState{
			Status:  UploadFailed,
			Message: uploadFailureMessage(err),
			Summary: c.upload.Summary,
		}
		c.logger.Warn("upload failed", "name", doc.Name, "error", err)
	} else {
		summary := Summary{Filename: res.Filename, NumChunks: res.NumChunks}
		c.upload = UploadState{
			Status:  UploadSucceeded,
			Message: fmt.Sprintf(messageUploadSuccess, res.Filename, res.NumChunks),
			Summary: &summary,
		}
		c.doc = nil
		c.emit(Event{Kind: DocumentChanged})
		c.logger.Info("upload succeeded", "filename", res.Filename, "chunks", res.NumChunks)
	}
	c.emit(Event{Kind: UploadChanged, Upload: cloneUpload(c.upload)})
	c.mu.Unlock()

	c.deliver()
}

// uploadFailureMessage prefers the service's detail string. Transport and
// decoding failures collapse to the generic message.
func uploadFailureMessage(err error) string {
	var se *backend.StatusError
	if errors.As(err, &se) && strings.TrimSpace(se.Detail) != "" {
		return se.Detail
	}
	return MessageUploadFailed
}

// SetInput replaces the pending chat input buffer.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.input = text
	c.mu.Unlock()
}

// SubmitInput submits the pending input buffer as a question.
func (c *Controller) SubmitInput() bool {
	c.mu.Lock()
	text := c.input
	return c.submitQueryLocked(text)
}

// SubmitQuery appends text as a user turn and asks the service. It is a
// no-op, returning false, when text is blank, a query is already in
// flight, or the session is closed.
func (c *Controller) SubmitQuery(text string) bool {
	c.mu.Lock()
	return c.submitQueryLocked(text)
}

// submitQueryLocked must be called with mu held; it releases it.
func (c *Controller) submitQueryLocked(text string) bool {
	if c.closed || strings.TrimSpace(text) == "" || c.query == QueryInFlight {
		c.mu.Unlock()
		return false
	}
	turn := c.newTurn(RoleUser, text, nil)
	c.transcript = append(c.transcript, turn)
	c.input = ""
	c.query = QueryInFlight
	c.emit(Event{Kind: TurnAppended, Turn: cloneTurn(turn)})
	c.emit(Event{Kind: QueryChanged, Query: c.query})
	c.outstanding++
	c.mu.Unlock()

	c.logger.Debug("query submitted", "turn", turn.ID)
	c.deliver()
	go c.runQuery(text)
	return true
}

func (c *Controller) runQuery(question string) {
	defer c.finish()

	ans, err := c.svc.Query(c.ctx, question)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("discarding query result after close")
		return
	}
	var turn Turn
	if err != nil {
		c.logger.Warn("query failed", "error", err)
		turn = c.newTurn(RoleAssistant, MessageQueryApology, []string{})
		turn.Failed = true
	} else {
		turn = c.newTurn(RoleAssistant, ans.Answer, ans.Sources)
	}
	c.transcript = append(c.transcript, turn)
	c.query = QueryIdle
	c.emit(Event{Kind: TurnAppended, Turn: cloneTurn(turn)})
	c.emit(Event{Kind: QueryChanged, Query: c.query})
	c.mu.Unlock()

	c.deliver()
}

func (c *Controller) newTurn(role Role, text string, sources []string) Turn {
	t := Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Text:      text,
		CreatedAt: c.now().UTC(),
	}
	if role == RoleAssistant {
		t.Sources = make([]string, len(sources))
		copy(t.Sources, sources)
	}
	return t
}

// Snapshot returns a copy of the current model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		SessionID:  c.id,
		Upload:     cloneUpload(c.upload),
		Query:      c.query,
		Input:      c.input,
		Transcript: make([]Turn, len(c.transcript)),
	}
	if c.doc != nil {
		s.Selected = &DocumentInfo{Name: c.doc.Name, Size: len(c.doc.Payload)}
	}
	for i, t := range c.transcript {
		s.Transcript[i] = cloneTurn(t)
	}
	return s
}

// Wait blocks until no upload or query is outstanding.
func (c *Controller) Wait() {
	c.mu.Lock()
	for c.outstanding > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Close tears the session down. Outstanding requests are cancelled and
// any result that still arrives is discarded; observers are not called
// again. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	c.logger.Debug("session closed")
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.outstanding--
	if c.outstanding == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// emit queues ev for delivery. Must be called with mu held.
func (c *Controller) emit(ev Event) {
	c.pending = append(c.pending, ev)
}

// deliver drains queued events to observers, one at a time and in commit
// order. A call made while another goroutine (or an observer on this one)
// is already draining returns immediately; the active drainer picks the
// new events up.
func (c *Controller) deliver() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 && !c.closed {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		obs := slices.Clone(c.observers)
		c.mu.Unlock()
		for _, o := range obs {
			o.fn(ev)
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func cloneTurn(t Turn) Turn {
	if t.Sources != nil {
		src := make([]string, len(t.Sources))
		copy(src, t.Sources)
		t.Sources = src
	}
	return t
}

func cloneUpload(u UploadState) UploadState {
	if u.Summary != nil {
		s := *u.Summary
		u.Summary = &s
	}
	return u
}
