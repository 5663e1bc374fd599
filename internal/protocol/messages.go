package protocol

import "encoding/json"

// INIT payload (caller -> boundary).
type InitParams struct {
	ActorID   string `json:"actor_id"`
	StackName string `json:"stack_name,omitempty"`

	// Optional snapshot to restore before signalling READY.
	Snapshot []byte `json:"snapshot,omitempty"`
}

// READY payload (boundary -> caller).
type ReadyInfo struct {
	ActorID     string `json:"actor_id"`
	ChangeCount int    `json:"change_count"`
	Digest      string `json:"digest"`
}

// DISPATCH_ACTION payload.
type ActionRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DISPATCH_BATCH payload: actions execute sequentially in slice order.
type BatchRequest struct {
	Actions []ActionRequest `json:"actions"`
}

// SUCCESS payload for DISPATCH_ACTION.
type ActionResult struct {
	Action string          `json:"action"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

// SUCCESS payload for DISPATCH_BATCH: one entry per submitted action, in
// submission order.
type BatchResult struct {
	Results []ActionResult `json:"results"`
}

// GET_DELTA payload: the requester's version vector. The response carries
// every change the requester has not seen.
type DeltaRequest struct {
	Since map[string]uint64 `json:"since,omitempty"`
}

// GET_DELTA success payload.
type DeltaPayload struct {
	Delta []byte `json:"delta"`
}

// MERGE_STATE payload. Delta bytes are produced by the document's delta
// operation on the remote peer; json base64-encodes them.
type MergeRequest struct {
	Delta []byte `json:"delta"`
}

// SAVE_SNAPSHOT success payload / LOAD_SNAPSHOT request payload.
type SnapshotPayload struct {
	Snapshot []byte `json:"snapshot"`
}

// GET_STATE success payload.
type StateView struct {
	Stack  *StackView      `json:"stack,omitempty"`
	Space  *SpaceView      `json:"space,omitempty"`
	Source *SourceView     `json:"source,omitempty"`
	Tokens []TokenView     `json:"tokens,omitempty"`
	Doc    DocumentSummary `json:"doc"`
}

type StackView struct {
	Name    string   `json:"name"`
	Items   []string `json:"items"`
	Drawn   []string `json:"drawn"`
	Discard []string `json:"discard"`
}

type SpaceView struct {
	Zones map[string][]string `json:"zones"`
	Order []string            `json:"order"`
}

type SourceView struct {
	PoolSize   int    `json:"pool_size"`
	BurnedSize int    `json:"burned_size"`
	Mode       string `json:"mode"`
	Threshold  int    `json:"threshold"`
}

type TokenView struct {
	ID    string         `json:"id"`
	Index int            `json:"index"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// DocumentSummary describes the chronicle without exposing its internals.
// Also the STATE_CHANGED event payload.
type DocumentSummary struct {
	ActorID       string            `json:"actor_id"`
	ChangeCount   int               `json:"change_count"`
	Digest        string            `json:"digest"`
	VersionVector map[string]uint64 `json:"version_vector,omitempty"`
}

// ACTION_COMPLETED event payload.
type ActionCompleted struct {
	Action     string          `json:"action"`
	Result     json.RawMessage `json:"result,omitempty"`
	DurationMs float64         `json:"duration_ms"`
}

// PING success payload.
type Pong struct {
	UptimeMs int64 `json:"uptime_ms"`
}
