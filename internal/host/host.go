// Package host runs the dispatch router and its primitives inside one
// goroutine, reachable only through an asynchronous request/response
// protocol with correlation ids. Exactly one request is processed at a
// time; there is no concurrent mutation of the primitives. Proactive
// notifications travel on a separate event channel so callers never
// confuse them with responses.
package host

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gametable.ai/internal/engine/chronicle"
	"gametable.ai/internal/engine/dispatch"
	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/engine/source"
	"gametable.ai/internal/engine/space"
	"gametable.ai/internal/engine/stack"
	"gametable.ai/internal/engine/token"
	"gametable.ai/internal/protocol"
)

type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Busy
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Initializing:
		return "INITIALIZING"
	case Ready:
		return "READY"
	case Busy:
		return "BUSY"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case Terminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// ActionLogger receives one entry per applied batch. Implemented in
// internal/persistence/log; may be nil.
type ActionLogger interface {
	LogBatch(entry BatchLogEntry) error
}

// BatchLogEntry is the replayable record of an applied batch.
type BatchLogEntry struct {
	Seq     uint64                   `json:"seq"`
	TS      int64                    `json:"ts"`
	Actions []protocol.ActionRequest `json:"actions"`
	Digest  string                   `json:"digest"`
}

// SnapshotData is handed to the snapshot sink; writing happens off-thread.
type SnapshotData struct {
	Actor       string
	ChangeCount int
	Digest      string
	Doc         []byte
}

type Config struct {
	Logger        *log.Logger
	RequestBuffer int
	EventBuffer   int

	ActionLog     ActionLogger
	SnapshotEvery int // autosave every N applied batches; 0 disables
	SnapshotSink  chan<- SnapshotData
}

type Host struct {
	cfg    Config
	logger *log.Logger

	reqs   chan protocol.Msg
	resps  chan protocol.Msg
	events chan protocol.Msg
	stop   chan struct{}

	state   atomic.Int32
	started time.Time

	// Boundary-owned; touched only from the Run goroutine.
	doc      *chronicle.Doc
	registry *token.Registry
	stack    *stack.Stack
	space    *space.Space
	source   *source.Source
	disp     *dispatch.Dispatcher

	batchSeq uint64

	// Test hook: artificial per-dispatch latency.
	dispatchDelay time.Duration
}

func New(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = 64
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &Host{
		cfg:    cfg,
		logger: cfg.Logger,
		reqs:   make(chan protocol.Msg, cfg.RequestBuffer),
		resps:  make(chan protocol.Msg, cfg.RequestBuffer),
		events: make(chan protocol.Msg, cfg.EventBuffer),
		stop:   make(chan struct{}),
	}
}

// Requests is the only way into the boundary.
func (h *Host) Requests() chan<- protocol.Msg { return h.reqs }

// Responses carries correlated replies. Closed when the boundary
// terminates; callers must then reject everything still pending.
func (h *Host) Responses() <-chan protocol.Msg { return h.resps }

// Events carries proactive notifications without a pending correlation id.
func (h *Host) Events() <-chan protocol.Msg { return h.events }

func (h *Host) State() State { return State(h.state.Load()) }

// Terminate forces the boundary down without a shutdown handshake, e.g.
// when the shutdown ack could not be delivered within the grace period.
func (h *Host) Terminate() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// Run processes requests until shutdown, context cancellation or Terminate.
// On exit the response channel is closed.
func (h *Host) Run(ctx context.Context) error {
	h.started = time.Now()
	defer func() {
		h.state.Store(int32(Terminated))
		h.release()
		close(h.resps)
		close(h.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case req := <-h.reqs:
			if h.State() != Uninitialized {
				h.state.Store(int32(Busy))
			}
			resp, terminate := h.handle(req)
			h.send(resp)
			if terminate {
				return nil
			}
			if h.State() == Busy {
				h.state.Store(int32(Ready))
			}
		}
	}
}

func (h *Host) handle(req protocol.Msg) (protocol.Msg, bool) {
	if !protocol.IsRequest(req.Type) {
		return h.errResp(req, fault.Validation(protocol.ErrProtoBadRequest, "type %q", req.Type)), false
	}

	switch h.State() {
	case Uninitialized:
		if req.Type != protocol.TypeInit && req.Type != protocol.TypePing {
			return h.errResp(req, fault.Boundary(protocol.ErrNotReady, "boundary not initialized")), false
		}
	case ShuttingDown, Terminated:
		return h.errResp(req, fault.Boundary(protocol.ErrTerminated, "boundary shutting down")), false
	}

	switch req.Type {
	case protocol.TypeInit:
		return h.handleInit(req), false
	case protocol.TypePing:
		return h.okResp(req, protocol.TypeSuccess, protocol.Pong{
			UptimeMs: time.Since(h.started).Milliseconds(),
		}), false
	case protocol.TypeDispatch:
		return h.handleDispatch(req), false
	case protocol.TypeBatch:
		return h.handleBatch(req), false
	case protocol.TypeGetState:
		return h.okResp(req, protocol.TypeSuccess, h.stateView()), false
	case protocol.TypeGetDelta:
		return h.handleDelta(req), false
	case protocol.TypeMergeState:
		return h.handleMerge(req), false
	case protocol.TypeSaveSnapshot:
		return h.handleSave(req), false
	case protocol.TypeLoadSnapshot:
		return h.handleLoad(req), false
	case protocol.TypeShutdown:
		h.state.Store(int32(ShuttingDown))
		return h.okResp(req, protocol.TypeSuccess, nil), true
	}
	return h.errResp(req, fault.Validation(protocol.ErrProtoBadRequest, "type %q", req.Type)), false
}

func (h *Host) handleInit(req protocol.Msg) protocol.Msg {
	h.state.Store(int32(Initializing))
	var p protocol.InitParams
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			h.state.Store(int32(Uninitialized))
			return h.errResp(req, fault.Validation(protocol.ErrBadPayload, "init: %v", err))
		}
	}
	actor := p.ActorID
	if actor == "" {
		actor = uuid.NewString()
	}

	h.doc = chronicle.New(actor)
	h.registry = token.NewRegistry(h.doc)
	h.stack = stack.New(p.StackName, h.doc)
	h.space = space.New(h.doc)
	h.source = source.New(h.doc, h.registry)
	h.disp = dispatch.New()
	h.disp.SetStack(h.stack)
	h.disp.SetSpace(h.space)
	h.disp.SetSource(h.source)

	if len(p.Snapshot) > 0 {
		if err := h.doc.Load(p.Snapshot); err != nil {
			h.release()
			h.state.Store(int32(Uninitialized))
			return h.errResp(req, err)
		}
		if err := h.hydrate(); err != nil {
			h.release()
			h.state.Store(int32(Uninitialized))
			return h.errResp(req, err)
		}
	}

	h.state.Store(int32(Ready))
	h.logger.Printf("boundary ready actor=%s changes=%d", h.doc.Actor(), h.doc.ChangeCount())
	return h.okResp(req, protocol.TypeReady, protocol.ReadyInfo{
		ActorID:     h.doc.Actor(),
		ChangeCount: h.doc.ChangeCount(),
		Digest:      h.doc.Digest(),
	})
}

func (h *Host) handleDispatch(req protocol.Msg) protocol.Msg {
	var p protocol.ActionRequest
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return h.errResp(req, fault.Validation(protocol.ErrBadPayload, "dispatch: %v", err))
	}
	res := h.runAction(p)
	if res.Error != nil {
		return h.errRespInfo(req, res.Error)
	}
	h.afterBatch([]protocol.ActionRequest{p})
	return h.okResp(req, protocol.TypeSuccess, res)
}

func (h *Host) handleBatch(req protocol.Msg) protocol.Msg {
	var p protocol.BatchRequest
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return h.errResp(req, fault.Validation(protocol.ErrBadPayload, "batch: %v", err))
	}
	// Actions run sequentially in submission order; each result slot lines
	// up with its request slot.
	out := protocol.BatchResult{Results: make([]protocol.ActionResult, 0, len(p.Actions))}
	for _, a := range p.Actions {
		out.Results = append(out.Results, h.runAction(a))
	}
	h.afterBatch(p.Actions)
	return h.okResp(req, protocol.TypeSuccess, out)
}

// runAction executes one action through the generic dispatch path and
// reports the outcome. Validation and state errors are recovered here; they
// never take the boundary down.
func (h *Host) runAction(a protocol.ActionRequest) protocol.ActionResult {
	if h.dispatchDelay > 0 {
		time.Sleep(h.dispatchDelay)
	}
	start := time.Now()
	res, err := h.disp.Dispatch(a.Action, a.Payload)
	if err != nil {
		return protocol.ActionResult{
			Action: a.Action,
			Error:  &protocol.ErrorInfo{Code: fault.CodeOf(err), Message: err.Error()},
		}
	}
	var raw json.RawMessage
	if res != nil {
		raw, _ = json.Marshal(res)
	}
	h.emit(protocol.TypeActionCompleted, protocol.ActionCompleted{
		Action:     a.Action,
		Result:     raw,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
	})
	return protocol.ActionResult{Action: a.Action, Result: raw}
}

func (h *Host) handleDelta(req protocol.Msg) protocol.Msg {
	var p protocol.DeltaRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return h.errResp(req, fault.Validation(protocol.ErrBadPayload, "delta: %v", err))
		}
	}
	var b []byte
	var err error
	if len(p.Since) == 0 {
		// Cold-start peer: no vector means it wants everything.
		b, err = h.doc.FullDelta()
	} else {
		b, err = h.doc.Delta(p.Since)
	}
	if err != nil {
		return h.errResp(req, err)
	}
	return h.okResp(req, protocol.TypeSuccess, protocol.DeltaPayload{Delta: b})
}

func (h *Host) handleMerge(req protocol.Msg) protocol.Msg {
	var p protocol.MergeRequest
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return h.errResp(req, fault.Validation(protocol.ErrBadPayload, "merge: %v", err))
	}
	if err := h.stage(func(doc *chronicle.Doc) error { return doc.Merge(p.Delta) }); err != nil {
		return h.errResp(req, err)
	}
	h.emit(protocol.TypeStateChanged, h.docSummary())
	return h.okResp(req, protocol.TypeSuccess, h.docSummary())
}

func (h *Host) handleSave(req protocol.Msg) protocol.Msg {
	b, err := h.doc.Save()
	if err != nil {
		return h.errResp(req, err)
	}
	return h.okResp(req, protocol.TypeSuccess, protocol.SnapshotPayload{Snapshot: b})
}

func (h *Host) handleLoad(req protocol.Msg) protocol.Msg {
	var p protocol.SnapshotPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return h.errResp(req, fault.Validation(protocol.ErrBadPayload, "load: %v", err))
	}
	if err := h.stage(func(doc *chronicle.Doc) error { return doc.Load(p.Snapshot) }); err != nil {
		return h.errResp(req, err)
	}
	h.emit(protocol.TypeStateChanged, h.docSummary())
	return h.okResp(req, protocol.TypeSuccess, h.docSummary())
}

// stage runs mutate against a copy of the document, rebuilds the primitives
// from the result and swaps everything in only once the whole chain has
// succeeded. A merge or load that fails anywhere, including hydration of a
// register the primitives cannot decode, leaves the prior document and
// primitives observable.
func (h *Host) stage(mutate func(*chronicle.Doc) error) error {
	cur, err := h.doc.Save()
	if err != nil {
		return err
	}
	doc := chronicle.New(h.doc.Actor())
	if err := doc.Load(cur); err != nil {
		return err
	}
	if err := mutate(doc); err != nil {
		return err
	}

	registry := token.NewRegistry(doc)
	stk := stack.New(h.stack.Name(), doc)
	sp := space.New(doc)
	src := source.New(doc, registry)
	if err := registry.Hydrate(); err != nil {
		return err
	}
	if err := stk.Hydrate(); err != nil {
		return err
	}
	if err := sp.Hydrate(); err != nil {
		return err
	}
	if err := src.Hydrate(); err != nil {
		return err
	}

	h.doc = doc
	h.registry = registry
	h.stack = stk
	h.space = sp
	h.source = src
	h.disp.SetStack(stk)
	h.disp.SetSpace(sp)
	h.disp.SetSource(src)
	return nil
}

func (h *Host) hydrate() error {
	if err := h.registry.Hydrate(); err != nil {
		return err
	}
	if err := h.stack.Hydrate(); err != nil {
		return err
	}
	if err := h.space.Hydrate(); err != nil {
		return err
	}
	return h.source.Hydrate()
}

func (h *Host) afterBatch(actions []protocol.ActionRequest) {
	h.batchSeq++
	if h.cfg.ActionLog != nil {
		entry := BatchLogEntry{
			Seq:     h.batchSeq,
			TS:      time.Now().UnixMilli(),
			Actions: actions,
			Digest:  h.doc.Digest(),
		}
		if err := h.cfg.ActionLog.LogBatch(entry); err != nil {
			h.logger.Printf("action log: %v", err)
		}
	}
	if h.cfg.SnapshotEvery > 0 && h.cfg.SnapshotSink != nil && h.batchSeq%uint64(h.cfg.SnapshotEvery) == 0 {
		if b, err := h.doc.Save(); err == nil {
			select {
			case h.cfg.SnapshotSink <- SnapshotData{
				Actor:       h.doc.Actor(),
				ChangeCount: h.doc.ChangeCount(),
				Digest:      h.doc.Digest(),
				Doc:         b,
			}:
			default:
				h.logger.Printf("snapshot sink full, skipping autosave")
			}
		}
	}
}

func (h *Host) stateView() protocol.StateView {
	view := protocol.StateView{Doc: h.docSummary()}
	st := h.stack.State()
	view.Stack = &protocol.StackView{Name: st.Name, Items: st.Items, Drawn: st.Drawn, Discard: st.Discard}
	sp := h.space.State()
	view.Space = &protocol.SpaceView{Zones: sp.Zones, Order: sp.Order}
	pol := h.source.Config()
	view.Source = &protocol.SourceView{
		PoolSize:   h.source.PoolSize(),
		BurnedSize: h.source.BurnedSize(),
		Mode:       string(pol.Mode),
		Threshold:  pol.Threshold,
	}
	for _, id := range h.registry.IDs() {
		t, _ := h.registry.Get(id)
		view.Tokens = append(view.Tokens, protocol.TokenView{ID: t.ID, Index: t.Index, Attrs: t.Attrs})
	}
	return view
}

func (h *Host) docSummary() protocol.DocumentSummary {
	return protocol.DocumentSummary{
		ActorID:       h.doc.Actor(),
		ChangeCount:   h.doc.ChangeCount(),
		Digest:        h.doc.Digest(),
		VersionVector: h.doc.VersionVector(),
	}
}

func (h *Host) release() {
	h.doc = nil
	h.registry = nil
	h.stack = nil
	h.space = nil
	h.source = nil
	h.disp = nil
}

func (h *Host) okResp(req protocol.Msg, typ string, payload any) protocol.Msg {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return protocol.Msg{
		ID:        uuid.NewString(),
		Type:      typ,
		ReqID:     req.ID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}
}

func (h *Host) errResp(req protocol.Msg, err error) protocol.Msg {
	return h.errRespInfo(req, &protocol.ErrorInfo{Code: fault.CodeOf(err), Message: err.Error()})
}

func (h *Host) errRespInfo(req protocol.Msg, info *protocol.ErrorInfo) protocol.Msg {
	return protocol.Msg{
		ID:        uuid.NewString(),
		Type:      protocol.TypeError,
		ReqID:     req.ID,
		Timestamp: time.Now().UnixMilli(),
		Error:     info,
	}
}

func (h *Host) send(m protocol.Msg) {
	// A terminated boundary delivers nothing; callers learn about the
	// shutdown from the closed response channel instead.
	select {
	case <-h.stop:
		return
	default:
	}
	select {
	case h.resps <- m:
	case <-h.stop:
	}
}

// emit delivers an event without blocking the boundary; a full event buffer
// drops the notification.
func (h *Host) emit(typ string, payload any) {
	raw, _ := json.Marshal(payload)
	m := protocol.Msg{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}
	select {
	case h.events <- m:
	default:
	}
}
