package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const Version = "1.0"

// Request types (caller -> boundary).
const (
	TypeInit         = "INIT"
	TypeDispatch     = "DISPATCH_ACTION"
	TypeBatch        = "DISPATCH_BATCH"
	TypeGetState     = "GET_STATE"
	TypeGetDelta     = "GET_DELTA"
	TypeMergeState   = "MERGE_STATE"
	TypeSaveSnapshot = "SAVE_SNAPSHOT"
	TypeLoadSnapshot = "LOAD_SNAPSHOT"
	TypePing         = "PING"
	TypeShutdown     = "SHUTDOWN"
)

// Response types (boundary -> caller, correlated by req_id).
const (
	TypeReady   = "READY"
	TypeSuccess = "SUCCESS"
	TypeError   = "ERROR"
)

// Event types (boundary -> caller, proactive, no pending req_id).
const (
	TypeActionCompleted = "ACTION_COMPLETED"
	TypeStateChanged    = "STATE_CHANGED"
)

// Msg is the cross-boundary envelope, both directions. Responses carry the
// req_id of the request they answer; events carry none.
type Msg struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	ReqID     string          `json:"req_id,omitempty"`
	Timestamp int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NewRequest builds a request envelope with a fresh correlation id.
func NewRequest(typ string, payload any) (Msg, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Msg{}, err
		}
		raw = b
	}
	return Msg{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}, nil
}

// DecodeBase extracts the routing fields of an unknown envelope.
func DecodeBase(b []byte) (Msg, error) {
	var m Msg
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsRequest(typ string) bool {
	switch typ {
	case TypeInit, TypeDispatch, TypeBatch, TypeGetState, TypeGetDelta, TypeMergeState,
		TypeSaveSnapshot, TypeLoadSnapshot, TypePing, TypeShutdown:
		return true
	}
	return false
}

func IsEvent(typ string) bool {
	return typ == TypeActionCompleted || typ == TypeStateChanged
}
