package dispatch

import "gametable.ai/internal/engine/source"

// Action names the registered mutations. The set is closed at router
// construction; the generic path rejects anything else.
type Action string

const (
	ActionStackInit    Action = "STACK_INIT"
	ActionStackShuffle Action = "STACK_SHUFFLE"
	ActionStackDraw    Action = "STACK_DRAW"
	ActionStackDiscard Action = "STACK_DISCARD"

	ActionZoneCreate Action = "ZONE_CREATE"
	ActionPlace      Action = "PLACE"
	ActionMove       Action = "MOVE"

	ActionSourceConfigure Action = "SOURCE_CONFIGURE"
	ActionSourceDraw      Action = "SOURCE_DRAW"
	ActionSourceBurn      Action = "SOURCE_BURN"
)

// Generic-path payloads. Each decodes into the exact arguments of the typed
// method it forwards to.

type StackInitPayload struct {
	IDs []string `json:"ids"`
}

type StackShufflePayload struct {
	// Seed drives the permutation. When omitted the router draws one from
	// the source stream.
	Seed *int64 `json:"seed,omitempty"`
}

type StackDrawPayload struct {
	Count int `json:"count"`
}

type StackDiscardPayload struct {
	IDs []string `json:"ids"`
}

type ZoneCreatePayload struct {
	ZoneID string `json:"zone_id"`
}

type PlacePayload struct {
	ZoneID  string `json:"zone_id"`
	TokenID string `json:"token_id"`
}

type MovePayload struct {
	TokenID  string `json:"token_id"`
	FromZone string `json:"from_zone"`
	ToZone   string `json:"to_zone"`
}

type SourceConfigurePayload struct {
	Templates []source.Template `json:"templates"`
	Seed      int64             `json:"seed"`
	Policy    source.Policy     `json:"policy"`
}

type SourceDrawPayload struct {
	Count int `json:"count"`
}

type SourceBurnPayload struct {
	Count int `json:"count"`
}

// Results returned by draws; other actions return empty results.

type DrawnResult struct {
	IDs []string `json:"ids"`
}

type ShuffledResult struct {
	Seed int64 `json:"seed"`
}
