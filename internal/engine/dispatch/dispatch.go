// Package dispatch routes named actions to the engine primitives. It is the
// single mutation entry point: a generic Dispatch for callers that name
// actions dynamically (protocols, scripts), and typed methods that skip
// payload decoding entirely. Both paths run the same typed code, so they
// cannot diverge.
package dispatch

import (
	"encoding/json"

	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/engine/source"
	"gametable.ai/internal/engine/space"
	"gametable.ai/internal/engine/stack"
	"gametable.ai/internal/protocol"
)

type handler func(d *Dispatcher, payload json.RawMessage) (any, error)

// Dispatcher holds replaceable references to the primitives it routes into.
// It does not own their lifecycle: callers may rewire it to a fresh
// primitive set between dispatches (e.g. on game reset).
type Dispatcher struct {
	stack  *stack.Stack
	space  *space.Space
	source *source.Source

	table map[Action]handler
}

// New builds the router with its closed action table. No handlers can be
// registered afterwards.
func New() *Dispatcher {
	d := &Dispatcher{}
	d.table = map[Action]handler{
		ActionStackInit: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p StackInitPayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			return nil, d.StackInit(p.IDs)
		},
		ActionStackShuffle: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p StackShufflePayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			if p.Seed != nil {
				return ShuffledResult{Seed: *p.Seed}, d.Shuffle(*p.Seed)
			}
			seed, err := d.ShuffleUnseeded()
			if err != nil {
				return nil, err
			}
			return ShuffledResult{Seed: seed}, nil
		},
		ActionStackDraw: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p StackDrawPayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			ids, err := d.Draw(p.Count)
			if err != nil {
				return nil, err
			}
			return DrawnResult{IDs: ids}, nil
		},
		ActionStackDiscard: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p StackDiscardPayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			return nil, d.DiscardIDs(p.IDs)
		},
		ActionZoneCreate: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p ZoneCreatePayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			return nil, d.CreateZone(p.ZoneID)
		},
		ActionPlace: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p PlacePayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			return nil, d.Place(p.ZoneID, p.TokenID)
		},
		ActionMove: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p MovePayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			return nil, d.Move(p.TokenID, p.FromZone, p.ToZone)
		},
		ActionSourceConfigure: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p SourceConfigurePayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			return nil, d.SourceConfigure(p.Templates, p.Seed, p.Policy)
		},
		ActionSourceDraw: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p SourceDrawPayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			return d.SourceDraw(p.Count)
		},
		ActionSourceBurn: func(d *Dispatcher, raw json.RawMessage) (any, error) {
			var p SourceBurnPayload
			if err := decode(raw, &p); err != nil {
				return nil, err
			}
			ids, err := d.Burn(p.Count)
			if err != nil {
				return nil, err
			}
			return DrawnResult{IDs: ids}, nil
		},
	}
	return d
}

// SetStack, SetSpace and SetSource rewire the router. Only call between
// dispatches, never mid-dispatch.
func (d *Dispatcher) SetStack(s *stack.Stack)    { d.stack = s }
func (d *Dispatcher) SetSpace(s *space.Space)    { d.space = s }
func (d *Dispatcher) SetSource(s *source.Source) { d.source = s }

// Dispatch is the generic entry point. Unknown actions fail with
// E_UNKNOWN_ACTION; payloads decode strictly.
func (d *Dispatcher) Dispatch(action string, payload json.RawMessage) (any, error) {
	h, ok := d.table[Action(action)]
	if !ok {
		return nil, fault.Validation(protocol.ErrUnknownAction, "action %q", action)
	}
	return h(d, payload)
}

// Known reports whether the action is in the closed registry.
func (d *Dispatcher) Known(action string) bool {
	_, ok := d.table[Action(action)]
	return ok
}

// Actions returns the registry contents, for protocol discovery.
func (d *Dispatcher) Actions() []string {
	out := make([]string, 0, len(d.table))
	for a := range d.table {
		out = append(out, string(a))
	}
	return out
}

// Typed fast-path methods. Each performs the identical mutation as its
// generic counterpart without constructing or parsing a payload.

func (d *Dispatcher) StackInit(ids []string) error {
	if d.stack == nil {
		return noPrimitive("stack")
	}
	return d.stack.Init(ids)
}

func (d *Dispatcher) Shuffle(seed int64) error {
	if d.stack == nil {
		return noPrimitive("stack")
	}
	return d.stack.Shuffle(seed)
}

// ShuffleUnseeded shuffles with a seed drawn from the source stream and
// returns the seed used.
func (d *Dispatcher) ShuffleUnseeded() (int64, error) {
	if d.stack == nil {
		return 0, noPrimitive("stack")
	}
	if d.source == nil {
		return 0, noPrimitive("source")
	}
	seed, err := d.source.NextSeed()
	if err != nil {
		return 0, err
	}
	return seed, d.stack.Shuffle(seed)
}

func (d *Dispatcher) Draw(count int) ([]string, error) {
	if d.stack == nil {
		return nil, noPrimitive("stack")
	}
	return d.stack.Draw(count)
}

func (d *Dispatcher) DiscardIDs(ids []string) error {
	if d.stack == nil {
		return noPrimitive("stack")
	}
	return d.stack.Discard(ids)
}

func (d *Dispatcher) CreateZone(zoneID string) error {
	if d.space == nil {
		return noPrimitive("space")
	}
	return d.space.CreateZone(zoneID)
}

func (d *Dispatcher) Place(zoneID, tokenID string) error {
	if d.space == nil {
		return noPrimitive("space")
	}
	return d.space.Place(zoneID, tokenID)
}

func (d *Dispatcher) Move(tokenID, fromZone, toZone string) error {
	if d.space == nil {
		return noPrimitive("space")
	}
	return d.space.Move(tokenID, fromZone, toZone)
}

func (d *Dispatcher) SourceConfigure(templates []source.Template, seed int64, policy source.Policy) error {
	if d.source == nil {
		return noPrimitive("source")
	}
	return d.source.Configure(templates, seed, policy)
}

func (d *Dispatcher) SourceDraw(count int) (source.DrawResult, error) {
	if d.source == nil {
		return source.DrawResult{}, noPrimitive("source")
	}
	return d.source.Draw(count)
}

func (d *Dispatcher) Burn(count int) ([]string, error) {
	if d.source == nil {
		return nil, noPrimitive("source")
	}
	return d.source.Burn(count)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fault.Validation(protocol.ErrBadPayload, "missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fault.Validation(protocol.ErrBadPayload, "%v", err)
	}
	return nil
}

func noPrimitive(name string) error {
	return fault.Validation(protocol.ErrNotConfigured, "no %s attached", name)
}
