package host

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

// Client is the caller-side half of the boundary protocol. It correlates
// responses to requests by id, enforces per-request deadlines, discards
// late responses for already-rejected requests, and rejects everything
// pending if the boundary dies. One Client may serve many goroutines.
type Client struct {
	host   *Host
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]chan protocol.Msg
	closed  bool

	defaultTimeout time.Duration

	batchMu     sync.Mutex
	batchBuf    []pendingAction
	batchTimer  *time.Timer
	batchWindow time.Duration

	events chan protocol.Msg
	done   chan struct{}
}

type pendingAction struct {
	req protocol.ActionRequest
	out chan protocol.ActionResult
}

type ClientOption func(*Client)

// WithTimeout sets the default per-request deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithBatchWindow sets how long enqueued actions wait before the batch is
// flushed as one ordered request.
func WithBatchWindow(d time.Duration) ClientOption {
	return func(c *Client) { c.batchWindow = d }
}

func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(h *Host, opts ...ClientOption) *Client {
	c := &Client{
		host:           h,
		logger:         log.Default(),
		pending:        map[string]chan protocol.Msg{},
		defaultTimeout: 5 * time.Second,
		batchWindow:    20 * time.Millisecond,
		events:         make(chan protocol.Msg, 256),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.receive()
	go c.forwardEvents()
	return c
}

// Events returns the proactive notification stream. Distinct from
// request/response correlation: messages here never answer a pending call.
func (c *Client) Events() <-chan protocol.Msg { return c.events }

// Done closes when the boundary has terminated.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) receive() {
	for m := range c.host.Responses() {
		c.mu.Lock()
		ch, ok := c.pending[m.ReqID]
		if ok {
			delete(c.pending, m.ReqID)
		}
		c.mu.Unlock()
		if !ok {
			// Late response for a timed-out or unknown request.
			c.logger.Printf("discarding response for %s (no pending request)", m.ReqID)
			continue
		}
		ch <- m
	}
	// Boundary terminated: reject all pending, not just the one in flight.
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = map[string]chan protocol.Msg{}
	c.mu.Unlock()
	for reqID, ch := range pending {
		ch <- protocol.Msg{
			Type:  protocol.TypeError,
			ReqID: reqID,
			Error: &protocol.ErrorInfo{Code: protocol.ErrTerminated, Message: "boundary terminated"},
		}
	}
	close(c.done)
}

func (c *Client) forwardEvents() {
	for m := range c.host.Events() {
		select {
		case c.events <- m:
		default:
		}
	}
	close(c.events)
}

// Call sends one request and waits for its correlated response or the
// deadline. On timeout the pending slot is freed immediately; a response
// arriving later is discarded by the receive loop.
func (c *Client) Call(ctx context.Context, typ string, payload any, timeout time.Duration) (protocol.Msg, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	req, err := protocol.NewRequest(typ, payload)
	if err != nil {
		return protocol.Msg{}, fault.Validation(protocol.ErrBadPayload, "%v", err)
	}

	ch := make(chan protocol.Msg, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Msg{}, fault.Boundary(protocol.ErrTerminated, "boundary terminated")
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	select {
	case c.host.Requests() <- req:
	case <-ctx.Done():
		c.drop(req.ID)
		return protocol.Msg{}, fault.Boundary(protocol.ErrTerminated, "%v", ctx.Err())
	case <-c.done:
		c.drop(req.ID)
		return protocol.Msg{}, fault.Boundary(protocol.ErrTerminated, "boundary terminated")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-ch:
		if m.Type == protocol.TypeError {
			return m, errorFromInfo(m.Error)
		}
		return m, nil
	case <-timer.C:
		c.drop(req.ID)
		return protocol.Msg{}, fault.Boundary(protocol.ErrTimeout, "%s timed out after %s", typ, timeout)
	case <-ctx.Done():
		c.drop(req.ID)
		return protocol.Msg{}, fault.Boundary(protocol.ErrTerminated, "%v", ctx.Err())
	}
}

func (c *Client) drop(reqID string) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

// PendingCount reports outstanding correlation slots.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) Init(ctx context.Context, params protocol.InitParams) (protocol.ReadyInfo, error) {
	m, err := c.Call(ctx, protocol.TypeInit, params, 0)
	if err != nil {
		return protocol.ReadyInfo{}, err
	}
	var info protocol.ReadyInfo
	if err := json.Unmarshal(m.Payload, &info); err != nil {
		return protocol.ReadyInfo{}, fault.Boundary(protocol.ErrInternal, "ready payload: %v", err)
	}
	return info, nil
}

// DispatchAction sends one action through the generic path.
func (c *Client) DispatchAction(ctx context.Context, action string, payload any) (protocol.ActionResult, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return protocol.ActionResult{}, fault.Validation(protocol.ErrBadPayload, "%v", err)
		}
		raw = b
	}
	m, err := c.Call(ctx, protocol.TypeDispatch, protocol.ActionRequest{Action: action, Payload: raw}, 0)
	if err != nil {
		return protocol.ActionResult{}, err
	}
	var res protocol.ActionResult
	if err := json.Unmarshal(m.Payload, &res); err != nil {
		return protocol.ActionResult{}, fault.Boundary(protocol.ErrInternal, "action result: %v", err)
	}
	return res, nil
}

// Enqueue queues an action for the next batch window. The returned channel
// receives the action's slot of the aggregated batch response. Batching
// never reorders actions relative to their enqueue order.
func (c *Client) Enqueue(action string, payload any) (<-chan protocol.ActionResult, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fault.Validation(protocol.ErrBadPayload, "%v", err)
		}
		raw = b
	}
	out := make(chan protocol.ActionResult, 1)
	c.batchMu.Lock()
	c.batchBuf = append(c.batchBuf, pendingAction{
		req: protocol.ActionRequest{Action: action, Payload: raw},
		out: out,
	})
	if c.batchTimer == nil {
		c.batchTimer = time.AfterFunc(c.batchWindow, c.flushBatch)
	}
	c.batchMu.Unlock()
	return out, nil
}

// Flush submits the queued batch immediately instead of waiting for the
// window to expire.
func (c *Client) Flush() {
	c.batchMu.Lock()
	if c.batchTimer != nil {
		c.batchTimer.Stop()
	}
	c.batchMu.Unlock()
	c.flushBatch()
}

func (c *Client) flushBatch() {
	c.batchMu.Lock()
	buf := c.batchBuf
	c.batchBuf = nil
	c.batchTimer = nil
	c.batchMu.Unlock()
	if len(buf) == 0 {
		return
	}

	actions := make([]protocol.ActionRequest, len(buf))
	for i, pa := range buf {
		actions[i] = pa.req
	}
	m, err := c.Call(context.Background(), protocol.TypeBatch, protocol.BatchRequest{Actions: actions}, 0)
	if err != nil {
		info := &protocol.ErrorInfo{Code: fault.CodeOf(err), Message: err.Error()}
		for _, pa := range buf {
			pa.out <- protocol.ActionResult{Action: pa.req.Action, Error: info}
		}
		return
	}
	var res protocol.BatchResult
	if err := json.Unmarshal(m.Payload, &res); err != nil || len(res.Results) != len(buf) {
		info := &protocol.ErrorInfo{Code: protocol.ErrInternal, Message: "malformed batch result"}
		for _, pa := range buf {
			pa.out <- protocol.ActionResult{Action: pa.req.Action, Error: info}
		}
		return
	}
	for i, pa := range buf {
		pa.out <- res.Results[i]
	}
}

// GetState fetches a read-only view of the primitives.
func (c *Client) GetState(ctx context.Context) (protocol.StateView, error) {
	m, err := c.Call(ctx, protocol.TypeGetState, nil, 0)
	if err != nil {
		return protocol.StateView{}, err
	}
	var view protocol.StateView
	if err := json.Unmarshal(m.Payload, &view); err != nil {
		return protocol.StateView{}, fault.Boundary(protocol.ErrInternal, "state payload: %v", err)
	}
	return view, nil
}

// GetDelta fetches every change above the given version vector.
func (c *Client) GetDelta(ctx context.Context, since map[string]uint64) ([]byte, error) {
	m, err := c.Call(ctx, protocol.TypeGetDelta, protocol.DeltaRequest{Since: since}, 0)
	if err != nil {
		return nil, err
	}
	var p protocol.DeltaPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fault.Boundary(protocol.ErrInternal, "delta payload: %v", err)
	}
	return p.Delta, nil
}

// MergeState absorbs a remote chronicle delta.
func (c *Client) MergeState(ctx context.Context, delta []byte) (protocol.DocumentSummary, error) {
	m, err := c.Call(ctx, protocol.TypeMergeState, protocol.MergeRequest{Delta: delta}, 0)
	if err != nil {
		return protocol.DocumentSummary{}, err
	}
	var sum protocol.DocumentSummary
	if err := json.Unmarshal(m.Payload, &sum); err != nil {
		return protocol.DocumentSummary{}, fault.Boundary(protocol.ErrInternal, "merge payload: %v", err)
	}
	return sum, nil
}

func (c *Client) SaveSnapshot(ctx context.Context) ([]byte, error) {
	m, err := c.Call(ctx, protocol.TypeSaveSnapshot, nil, 0)
	if err != nil {
		return nil, err
	}
	var p protocol.SnapshotPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fault.Boundary(protocol.ErrInternal, "snapshot payload: %v", err)
	}
	return p.Snapshot, nil
}

func (c *Client) LoadSnapshot(ctx context.Context, snapshot []byte) (protocol.DocumentSummary, error) {
	m, err := c.Call(ctx, protocol.TypeLoadSnapshot, protocol.SnapshotPayload{Snapshot: snapshot}, 0)
	if err != nil {
		return protocol.DocumentSummary{}, err
	}
	var sum protocol.DocumentSummary
	if err := json.Unmarshal(m.Payload, &sum); err != nil {
		return protocol.DocumentSummary{}, fault.Boundary(protocol.ErrInternal, "load payload: %v", err)
	}
	return sum, nil
}

func (c *Client) Ping(ctx context.Context) (protocol.Pong, error) {
	m, err := c.Call(ctx, protocol.TypePing, nil, 0)
	if err != nil {
		return protocol.Pong{}, err
	}
	var p protocol.Pong
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return protocol.Pong{}, fault.Boundary(protocol.ErrInternal, "pong payload: %v", err)
	}
	return p, nil
}

// Shutdown requests an orderly stop and forces termination if the ack does
// not arrive within the grace period.
func (c *Client) Shutdown(ctx context.Context, grace time.Duration) error {
	_, err := c.Call(ctx, protocol.TypeShutdown, nil, grace)
	if err != nil {
		c.host.Terminate()
	}
	select {
	case <-c.done:
	case <-time.After(grace):
		c.host.Terminate()
	}
	return err
}

func errorFromInfo(info *protocol.ErrorInfo) error {
	if info == nil {
		return fault.Boundary(protocol.ErrInternal, "error response without detail")
	}
	return classify(info.Code, info.Message)
}

// classify rebuilds a taxonomy error from its wire code.
func classify(code, msg string) error {
	switch code {
	case protocol.ErrProtoBadRequest, protocol.ErrUnknownAction,
		protocol.ErrBadPayload, protocol.ErrNotConfigured:
		return &fault.Error{Class: fault.ClassValidation, Code: code, Message: msg}
	case protocol.ErrInsufficientItems, protocol.ErrPoolExhausted,
		protocol.ErrEntityNotFound, protocol.ErrZoneNotFound, protocol.ErrConflict:
		return &fault.Error{Class: fault.ClassState, Code: code, Message: msg}
	case protocol.ErrSnapshotVersion, protocol.ErrDeltaGap, protocol.ErrCompacted:
		return &fault.Error{Class: fault.ClassDocument, Code: code, Message: msg}
	default:
		return &fault.Error{Class: fault.ClassBoundary, Code: code, Message: msg}
	}
}
