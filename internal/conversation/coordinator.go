package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/suPer8Hu/smart-doctor/internal/chat"
	"github.com/suPer8Hu/smart-doctor/internal/common"
)

const DefaultHistoryWindow = 10

var (
	ErrEmptyMessage = errors.New("message content is empty")
	ErrPending      = errors.New("a message is already awaiting a reply")
)

// Event is a snapshot of the conversation published after every change.
type Event struct {
	Transcript []chat.Message `json:"transcript"`
	History    []chat.Message `json:"history"`
	Pending    string         `json:"pending,omitempty"`
	Loading    bool           `json:"loading"`
	Error      string         `json:"error,omitempty"`

	seq uint64
}

type Option func(*Coordinator)

func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithHistoryWindow(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithIDGenerator replaces the ULID source used for user message ids.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// Coordinator owns one chat session: the transcript, the derived history
// window and the marker of the message awaiting a reply. At most one request
// is in flight at a time and each marked message is dispatched once.
type Coordinator struct {
	dispatcher Dispatcher
	policy     Policy
	window     int
	newID      func() (string, error)

	mu         sync.Mutex
	transcript []chat.Message
	history    []chat.Message
	// pending[0] is the marker; further entries wait under PolicyQueue.
	pending    []string
	inflight   string
	dispatched map[string]struct{}
	processed  map[string]struct{}
	fallback   map[string]bool
	input      string
	errText    string
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	observers  []func(Event)
	seq        uint64

	notifyMu  sync.Mutex
	delivered uint64

	wg sync.WaitGroup
}

func NewCoordinator(d Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		dispatcher: d,
		policy:     PolicyQueue,
		window:     DefaultHistoryWindow,
		newID:      common.NewULID,
		dispatched: map[string]struct{}{},
		processed:  map[string]struct{}{},
		fallback:   map[string]bool{},
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Coordinator) Policy() Policy { return c.policy }

// Subscribe registers fn to receive a snapshot after every change. fn is
// never called concurrently with itself and must not block for long.
func (c *Coordinator) Subscribe(fn func(Event)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Coordinator) SetInput(s string) {
	c.mu.Lock()
	c.input = s
	c.mu.Unlock()
}

func (c *Coordinator) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Send submits the input buffer.
func (c *Coordinator) Send() (chat.Message, error) {
	return c.Submit(c.Input())
}

// Submit appends a user message, marks it as awaiting a reply and triggers
// its dispatch. Blank text changes nothing.
func (c *Coordinator) Submit(text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if len(c.pending) > 0 && c.policy == PolicyReject {
		c.mu.Unlock()
		return chat.Message{}, ErrPending
	}
	id, err := c.newID()
	if err != nil {
		c.mu.Unlock()
		return chat.Message{}, err
	}

	msg := chat.Message{ID: id, Content: text, IsUserMessage: true}
	c.appendLocked(msg)
	switch c.policy {
	case PolicyReplace:
		// the failed message is superseded, so its error goes with it
		c.pending = []string{id}
		c.errText = ""
	default:
		c.pending = append(c.pending, id)
	}
	c.input = ""
	c.kickLocked()
	ev, observers := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(ev, observers)
	return msg, nil
}

// Receive merges a backend reply. It is ignored when its id was already
// merged or when no message is awaiting a reply.
func (c *Coordinator) Receive(resp chat.CompletionResponse) bool {
	c.mu.Lock()
	ok := c.receiveLocked(resp)
	if ok {
		c.kickLocked()
	}
	ev, observers := c.snapshotLocked()
	c.mu.Unlock()

	if ok {
		c.publish(ev, observers)
	}
	return ok
}

// Retry re-dispatches the marked message after a transport failure.
func (c *Coordinator) Retry() bool {
	c.mu.Lock()
	if len(c.pending) == 0 || c.inflight != "" || c.errText == "" {
		c.mu.Unlock()
		return false
	}
	delete(c.dispatched, c.pending[0])
	c.errText = ""
	c.kickLocked()
	ev, observers := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(ev, observers)
	return true
}

// Reset ends the session: the transcript and every marker are discarded and
// a reply still in flight will be dropped.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.generation++
	c.transcript = nil
	c.history = nil
	c.pending = nil
	c.inflight = ""
	c.dispatched = map[string]struct{}{}
	c.processed = map[string]struct{}{}
	c.fallback = map[string]bool{}
	c.input = ""
	c.errText = ""
	ev, observers := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(ev, observers)
}

// Close cancels any request in flight and waits for it to return.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.cancel()
	c.generation++
	c.mu.Unlock()
	c.wg.Wait()
}

// Wait blocks until no dispatch is running.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) Transcript() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.transcript...)
}

// History is the window of recent non-blank messages sent as context.
func (c *Coordinator) History() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.history...)
}

// Pending returns the id of the message awaiting a reply, if any.
func (c *Coordinator) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return "", false
	}
	return c.pending[0], true
}

func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != ""
}

// Err is the last transport failure, or "" when the last round trip worked.
func (c *Coordinator) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}

// IsFallback reports whether the assistant message id carried the apology.
func (c *Coordinator) IsFallback(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback[id]
}

func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transcript)
}

func (c *Coordinator) LastMessage() (chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transcript) == 0 {
		return chat.Message{}, false
	}
	return c.transcript[len(c.transcript)-1], true
}

func (c *Coordinator) UserMessages() []chat.Message {
	return c.filter(true)
}

func (c *Coordinator) AssistantMessages() []chat.Message {
	return c.filter(false)
}

func (c *Coordinator) Snapshot() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, _ := c.snapshotLocked()
	return ev
}

func (c *Coordinator) filter(user bool) []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []chat.Message
	for _, m := range c.transcript {
		if m.IsUserMessage == user {
			out = append(out, m)
		}
	}
	return out
}

func (c *Coordinator) appendLocked(m chat.Message) {
	c.transcript = append(c.transcript, m)
	c.history = historyWindow(c.transcript, c.window)
}

func (c *Coordinator) receiveLocked(resp chat.CompletionResponse) bool {
	if len(c.pending) == 0 {
		return false
	}
	if _, seen := c.processed[resp.ID]; seen {
		return false
	}

	c.appendLocked(chat.Message{ID: resp.ID, Content: resp.Content, IsUserMessage: false})
	c.processed[resp.ID] = struct{}{}
	if resp.Error {
		c.fallback[resp.ID] = true
	}
	delete(c.dispatched, c.pending[0])
	c.pending = c.pending[1:]
	c.errText = ""
	return true
}

// kickLocked starts the dispatch of the marked message unless a request is
// already running, the marker was already sent, or a failure awaits Retry.
func (c *Coordinator) kickLocked() {
	if c.dispatcher == nil || c.inflight != "" || len(c.pending) == 0 || c.errText != "" {
		return
	}
	id := c.pending[0]
	if _, sent := c.dispatched[id]; sent {
		return
	}

	var msg chat.Message
	var before []chat.Message
	for i, m := range c.transcript {
		if m.ID == id {
			msg = m
			before = c.transcript[:i]
			break
		}
	}
	req := chat.CompletionRequest{
		Message: msg,
		History: historyWindow(before, c.window),
	}

	c.dispatched[id] = struct{}{}
	c.inflight = id
	gen := c.generation
	ctx := c.ctx

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		resp, err := c.dispatcher.Dispatch(ctx, req)
		c.finish(gen, id, resp, err)
	}()
}

func (c *Coordinator) finish(gen uint64, id string, resp chat.CompletionResponse, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.inflight = ""

	switch {
	case len(c.pending) == 0 || c.pending[0] != id:
		// superseded or answered through Receive
		log.Printf("[Conversation] dropping stale reply for message %s", id)
	case err != nil:
		log.Printf("[Conversation] dispatch failed message=%s err=%v", id, err)
		c.errText = err.Error()
		delete(c.dispatched, id)
	default:
		c.receiveLocked(resp)
	}

	c.kickLocked()
	ev, observers := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(ev, observers)
}

func (c *Coordinator) snapshotLocked() (Event, []func(Event)) {
	c.seq++
	ev := Event{
		Transcript: append([]chat.Message{}, c.transcript...),
		History:    append([]chat.Message{}, c.history...),
		Loading:    c.inflight != "",
		Error:      c.errText,
		seq:        c.seq,
	}
	if len(c.pending) > 0 {
		ev.Pending = c.pending[0]
	}
	return ev, append([]func(Event){}, c.observers...)
}

// publish delivers ev unless a newer snapshot already went out.
func (c *Coordinator) publish(ev Event, observers []func(Event)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if ev.seq <= c.delivered {
		return
	}
	c.delivered = ev.seq
	for _, fn := range observers {
		fn(ev)
	}
}

// historyWindow keeps the trailing n messages with non-blank content.
func historyWindow(msgs []chat.Message, n int) []chat.Message {
	out := make([]chat.Message, 0, n)
	for _, m := range msgs {
		if m.Blank() {
			continue
		}
		out = append(out, m)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
