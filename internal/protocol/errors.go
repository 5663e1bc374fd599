package protocol

const (
	// Protocol/validation layer.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownAction   = "E_UNKNOWN_ACTION"
	ErrBadPayload      = "E_BAD_PAYLOAD"
	ErrNotConfigured   = "E_NOT_CONFIGURED"

	// State layer.
	ErrInsufficientItems = "E_INSUFFICIENT_ITEMS"
	ErrPoolExhausted     = "E_POOL_EXHAUSTED"
	ErrEntityNotFound    = "E_ENTITY_NOT_FOUND"
	ErrZoneNotFound      = "E_ZONE_NOT_FOUND"
	ErrConflict          = "E_CONFLICT"

	// Boundary layer.
	ErrTimeout    = "E_TIMEOUT"
	ErrTerminated = "E_TERMINATED"
	ErrBusy       = "E_BUSY"
	ErrNotReady   = "E_NOT_READY"

	// Document layer.
	ErrSnapshotVersion = "E_SNAPSHOT_VERSION"
	ErrDeltaGap        = "E_DELTA_GAP"
	ErrCompacted       = "E_COMPACTED"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrUnknownAction:     {},
	ErrBadPayload:        {},
	ErrNotConfigured:     {},
	ErrInsufficientItems: {},
	ErrPoolExhausted:     {},
	ErrEntityNotFound:    {},
	ErrZoneNotFound:      {},
	ErrConflict:          {},
	ErrTimeout:           {},
	ErrTerminated:        {},
	ErrBusy:              {},
	ErrNotReady:          {},
	ErrSnapshotVersion:   {},
	ErrDeltaGap:          {},
	ErrCompacted:         {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
