package host

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gametable.ai/internal/engine/chronicle"
	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

func startHost(t *testing.T) (*Host, *Client) {
	t.Helper()
	h := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()
	c := NewClient(h, WithBatchWindow(5*time.Millisecond))
	return h, c
}

func initHost(t *testing.T, c *Client) protocol.ReadyInfo {
	t.Helper()
	info, err := c.Init(context.Background(), protocol.InitParams{ActorID: "t"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return info
}

func action(t *testing.T, c *Client, name string, payload any) protocol.ActionResult {
	t.Helper()
	res, err := c.DispatchAction(context.Background(), name, payload)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func TestRequestsBeforeInitRejected(t *testing.T) {
	_, c := startHost(t)
	_, err := c.GetState(context.Background())
	if fault.CodeOf(err) != protocol.ErrNotReady {
		t.Fatalf("expected not ready, got %v", err)
	}
	// PING works even uninitialized.
	if _, err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestInitAndDispatchFlow(t *testing.T) {
	h, c := startHost(t)
	info := initHost(t, c)
	if info.ActorID != "t" {
		t.Fatalf("actor = %s", info.ActorID)
	}
	if h.State() != Ready {
		t.Fatalf("state = %s", h.State())
	}

	action(t, c, "STACK_INIT", map[string]any{"ids": []string{"T1", "T2", "T3"}})
	res := action(t, c, "STACK_DRAW", map[string]any{"count": 2})
	var dr struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(res.Result, &dr); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(dr.IDs) != 2 || dr.IDs[0] != "T1" {
		t.Fatalf("drawn = %v", dr.IDs)
	}

	view, err := c.GetState(context.Background())
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if view.Stack == nil || len(view.Stack.Items) != 1 || len(view.Stack.Drawn) != 2 {
		t.Fatalf("stack view = %+v", view.Stack)
	}
	if view.Doc.ActorID != "t" || view.Doc.ChangeCount == 0 {
		t.Fatalf("doc summary = %+v", view.Doc)
	}
}

func TestActionErrorIsStructuredResponse(t *testing.T) {
	h, c := startHost(t)
	initHost(t, c)

	_, err := c.DispatchAction(context.Background(), "STACK_DRAW", map[string]any{"count": 5})
	if fault.CodeOf(err) != protocol.ErrInsufficientItems {
		t.Fatalf("expected insufficient items, got %v", err)
	}
	// Recoverable failures never take the boundary down.
	if h.State() != Ready {
		t.Fatalf("state after action error = %s", h.State())
	}
	if _, err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping after error: %v", err)
	}
}

func TestBatchKeepsSubmissionOrder(t *testing.T) {
	_, c := startHost(t)
	initHost(t, c)

	r1, _ := c.Enqueue("STACK_INIT", map[string]any{"ids": []string{"T1", "T2"}})
	r2, _ := c.Enqueue("STACK_DRAW", map[string]any{"count": 1})
	r3, _ := c.Enqueue("STACK_DRAW", map[string]any{"count": 9})
	c.Flush()

	a := <-r1
	b := <-r2
	e := <-r3
	if a.Error != nil {
		t.Fatalf("init slot: %+v", a.Error)
	}
	if b.Error != nil {
		t.Fatalf("draw slot: %+v", b.Error)
	}
	var dr struct {
		IDs []string `json:"ids"`
	}
	_ = json.Unmarshal(b.Result, &dr)
	if len(dr.IDs) != 1 || dr.IDs[0] != "T1" {
		t.Fatalf("batch ran out of order: %v", dr.IDs)
	}
	if e.Error == nil || e.Error.Code != protocol.ErrInsufficientItems {
		t.Fatalf("failing slot = %+v", e.Error)
	}
}

func TestTimeoutFreesSlotAndLateResponseIsDiscarded(t *testing.T) {
	h, c := startHost(t)
	initHost(t, c)
	h.dispatchDelay = 50 * time.Millisecond

	_, err := c.Call(context.Background(), protocol.TypeDispatch,
		protocol.ActionRequest{Action: "STACK_INIT", Payload: json.RawMessage(`{"ids":["T1"]}`)},
		5*time.Millisecond)
	if fault.CodeOf(err) != protocol.ErrTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n := c.PendingCount(); n != 0 {
		t.Fatalf("timed-out request still pending: %d", n)
	}

	// The late response for the timed-out request must not leak into the
	// next call's slot.
	h.dispatchDelay = 0
	time.Sleep(60 * time.Millisecond)
	if _, err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping after timeout: %v", err)
	}
}

func TestTerminationRejectsAllPending(t *testing.T) {
	h, c := startHost(t)
	initHost(t, c)
	h.dispatchDelay = 100 * time.Millisecond

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.DispatchAction(context.Background(), "ZONE_CREATE", map[string]any{"zone_id": "z"})
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	h.Terminate()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if fault.CodeOf(err) != protocol.ErrTerminated {
				t.Fatalf("expected terminated, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("pending request never rejected")
		}
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatalf("client never observed termination")
	}
}

func TestEventsAreSeparateFromResponses(t *testing.T) {
	_, c := startHost(t)
	initHost(t, c)

	action(t, c, "ZONE_CREATE", map[string]any{"zone_id": "table"})

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type != protocol.TypeActionCompleted {
				continue
			}
			if ev.ReqID != "" {
				t.Fatalf("event carries a correlation id: %q", ev.ReqID)
			}
			var ac protocol.ActionCompleted
			if err := json.Unmarshal(ev.Payload, &ac); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if ac.Action != "ZONE_CREATE" {
				t.Fatalf("event action = %s", ac.Action)
			}
			return
		case <-deadline:
			t.Fatalf("no ACTION_COMPLETED event")
		}
	}
}

func TestSnapshotRoundTripAcrossHosts(t *testing.T) {
	_, c := startHost(t)
	initHost(t, c)
	action(t, c, "STACK_INIT", map[string]any{"ids": []string{"T1", "T2", "T3"}})
	action(t, c, "STACK_SHUFFLE", map[string]any{"seed": 99})
	snap, err := c.SaveSnapshot(context.Background())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	before, err := c.GetState(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	_, c2 := startHost(t)
	info, err := c2.Init(context.Background(), protocol.InitParams{Snapshot: snap})
	if err != nil {
		t.Fatalf("init with snapshot: %v", err)
	}
	if info.ActorID != "t" {
		t.Fatalf("restored actor = %s", info.ActorID)
	}
	if info.Digest != before.Doc.Digest {
		t.Fatalf("restored digest differs:\n got %s\nwant %s", info.Digest, before.Doc.Digest)
	}
	after, err := c2.GetState(context.Background())
	if err != nil {
		t.Fatalf("restored state: %v", err)
	}
	if len(after.Stack.Items) != 3 || after.Stack.Items[0] != before.Stack.Items[0] {
		t.Fatalf("restored stack differs: %v vs %v", after.Stack.Items, before.Stack.Items)
	}
}

func TestFailedLoadAndMergeKeepDocument(t *testing.T) {
	_, c := startHost(t)
	initHost(t, c)
	action(t, c, "ZONE_CREATE", map[string]any{"zone_id": "table"})
	before, err := c.GetState(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	// A document whose stack register holds a bare number decodes as a
	// snapshot but cannot hydrate the primitives.
	poison := chronicle.New("evil")
	if err := poison.RecordChange("stack/main", 42); err != nil {
		t.Fatalf("record: %v", err)
	}
	snap, err := poison.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := c.LoadSnapshot(context.Background(), snap); err == nil {
		t.Fatalf("load of an unhydratable snapshot must fail")
	}
	after, err := c.GetState(context.Background())
	if err != nil {
		t.Fatalf("state after load: %v", err)
	}
	if after.Doc.Digest != before.Doc.Digest {
		t.Fatalf("failed load replaced the document:\n before %s\n after  %s",
			before.Doc.Digest, after.Doc.Digest)
	}
	if after.Space == nil || len(after.Space.Order) != 1 || after.Space.Order[0] != "table" {
		t.Fatalf("failed load disturbed the primitives: %+v", after.Space)
	}

	delta, err := poison.FullDelta()
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if _, err := c.MergeState(context.Background(), delta); err == nil {
		t.Fatalf("merge of an unhydratable delta must fail")
	}
	after, err = c.GetState(context.Background())
	if err != nil {
		t.Fatalf("state after merge: %v", err)
	}
	if after.Doc.Digest != before.Doc.Digest {
		t.Fatalf("failed merge replaced the document:\n before %s\n after  %s",
			before.Doc.Digest, after.Doc.Digest)
	}

	// The retained primitives keep serving dispatches.
	action(t, c, "ZONE_CREATE", map[string]any{"zone_id": "side"})
}

func TestDeltaSyncBetweenHosts(t *testing.T) {
	_, a := startHost(t)
	if _, err := a.Init(context.Background(), protocol.InitParams{ActorID: "a"}); err != nil {
		t.Fatalf("init a: %v", err)
	}
	_, b := startHost(t)
	if _, err := b.Init(context.Background(), protocol.InitParams{ActorID: "b"}); err != nil {
		t.Fatalf("init b: %v", err)
	}

	action(t, a, "ZONE_CREATE", map[string]any{"zone_id": "table"})

	bs, err := b.GetState(context.Background())
	if err != nil {
		t.Fatalf("state b: %v", err)
	}
	delta, err := a.GetDelta(context.Background(), bs.Doc.VersionVector)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	sum, err := b.MergeState(context.Background(), delta)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	as, err := a.GetState(context.Background())
	if err != nil {
		t.Fatalf("state a: %v", err)
	}
	if sum.Digest != as.Doc.Digest {
		t.Fatalf("digests diverged after sync:\n a %s\n b %s", as.Doc.Digest, sum.Digest)
	}
	after, err := b.GetState(context.Background())
	if err != nil {
		t.Fatalf("state b: %v", err)
	}
	if after.Space == nil || len(after.Space.Order) != 1 || after.Space.Order[0] != "table" {
		t.Fatalf("merged zone missing: %+v", after.Space)
	}

	// Merging the same delta twice changes nothing.
	again, err := b.MergeState(context.Background(), delta)
	if err != nil {
		t.Fatalf("repeat merge: %v", err)
	}
	if again.Digest != sum.Digest {
		t.Fatalf("repeat merge changed digest")
	}
}

func TestShutdownHandshake(t *testing.T) {
	h, c := startHost(t)
	initHost(t, c)
	if err := c.Shutdown(context.Background(), time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if h.State() != Terminated {
		t.Fatalf("state = %s", h.State())
	}
	_, err := c.Ping(context.Background())
	if fault.CodeOf(err) != protocol.ErrTerminated {
		t.Fatalf("post-shutdown call: %v", err)
	}
}
