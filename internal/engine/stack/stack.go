// Package stack implements the ordered collection: a sequenced deck of token
// ids with deterministic shuffling, all-or-nothing drawing and discard
// tracking. The union of items, drawn and discard is always a permutation of
// everything ever initialized into the stack.
package stack

import (
	"encoding/json"

	"gametable.ai/internal/engine/chronicle"
	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/engine/rng"
	"gametable.ai/internal/protocol"
)

type Stack struct {
	name    string
	doc     *chronicle.Doc
	items   []string
	drawn   []string
	discard []string
	seed    *int64
}

// State is a read-only copy of the stack, safe to hand across the boundary.
type State struct {
	Name    string   `json:"name"`
	Items   []string `json:"items"`
	Drawn   []string `json:"drawn"`
	Discard []string `json:"discard"`
	Seed    *int64   `json:"seed,omitempty"`
}

func New(name string, doc *chronicle.Doc) *Stack {
	if name == "" {
		name = "main"
	}
	return &Stack{name: name, doc: doc}
}

func (s *Stack) Name() string { return s.name }

// Init seeds the stack with token ids in the given order, replacing any
// previous contents.
func (s *Stack) Init(ids []string) error {
	seen := map[string]struct{}{}
	for _, id := range ids {
		if id == "" {
			return fault.Validation(protocol.ErrBadPayload, "empty token id")
		}
		if _, dup := seen[id]; dup {
			return fault.Validation(protocol.ErrBadPayload, "duplicate token id %s", id)
		}
		seen[id] = struct{}{}
	}
	items := make([]string, len(ids))
	copy(items, ids)
	s.items = items
	s.drawn = nil
	s.discard = nil
	s.seed = nil
	return s.record()
}

// Shuffle reorders items with a Fisher-Yates permutation driven purely by
// the seed: same seed and same starting order give the same result on any
// host.
func (s *Stack) Shuffle(seed int64) error {
	stream := rng.New(seed)
	stream.Shuffle(len(s.items), func(i, j int) {
		s.items[i], s.items[j] = s.items[j], s.items[i]
	})
	s.seed = &seed
	return s.record()
}

// Draw moves the first n items into the drawn history. It never partially
// draws: fewer than n undrawn items fails with E_INSUFFICIENT_ITEMS and
// leaves the stack untouched.
func (s *Stack) Draw(n int) ([]string, error) {
	if n <= 0 {
		return nil, fault.Validation(protocol.ErrBadPayload, "draw count %d", n)
	}
	if n > len(s.items) {
		return nil, fault.State(protocol.ErrInsufficientItems,
			"draw %d, only %d undrawn", n, len(s.items))
	}
	taken := make([]string, n)
	copy(taken, s.items[:n])
	s.items = append([]string(nil), s.items[n:]...)
	s.drawn = append(s.drawn, taken...)
	if err := s.record(); err != nil {
		return nil, err
	}
	return taken, nil
}

// Discard moves previously drawn ids into the discard pile. All ids must be
// in the drawn history; otherwise nothing moves.
func (s *Stack) Discard(ids []string) error {
	idx := map[string]int{}
	for i, id := range s.drawn {
		idx[id] = i
	}
	remove := map[int]struct{}{}
	for _, id := range ids {
		i, ok := idx[id]
		if !ok {
			return fault.State(protocol.ErrEntityNotFound, "token %s not in drawn history", id)
		}
		if _, dup := remove[i]; dup {
			return fault.Validation(protocol.ErrBadPayload, "duplicate token id %s", id)
		}
		remove[i] = struct{}{}
	}
	var drawn []string
	for i, id := range s.drawn {
		if _, ok := remove[i]; !ok {
			drawn = append(drawn, id)
		}
	}
	s.drawn = drawn
	s.discard = append(s.discard, ids...)
	return s.record()
}

func (s *Stack) State() State {
	return State{
		Name:    s.name,
		Items:   append([]string(nil), s.items...),
		Drawn:   append([]string(nil), s.drawn...),
		Discard: append([]string(nil), s.discard...),
		Seed:    s.seed,
	}
}

func (s *Stack) record() error {
	return s.doc.RecordChange("stack/"+s.name, s.State())
}

// Hydrate rebuilds the stack from its chronicle register.
func (s *Stack) Hydrate() error {
	raw, ok := s.doc.Register("stack/" + s.name)
	if !ok {
		return nil
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fault.Document(protocol.ErrProtoBadRequest, "stack register: %v", err)
	}
	s.items = st.Items
	s.drawn = st.Drawn
	s.discard = st.Discard
	s.seed = st.Seed
	return nil
}
