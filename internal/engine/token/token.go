// Package token holds the atomic unit of game state: an identity plus typed
// attributes. Tokens have no behavior; collections own them by id.
package token

import (
	"encoding/json"
	"fmt"
	"sort"

	"gametable.ai/internal/engine/chronicle"
	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

type Token struct {
	ID    string
	Index int
	Attrs map[string]any
}

type tokenState struct {
	Index int            `json:"index"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Registry assigns token ids and records every token into the chronicle.
// Ids are never reused within a document lifetime so merges stay
// unambiguous.
type Registry struct {
	doc     *chronicle.Doc
	byID    map[string]*Token
	order   []string
	nextNum uint64
}

func NewRegistry(doc *chronicle.Doc) *Registry {
	return &Registry{doc: doc, byID: map[string]*Token{}}
}

// Mint creates a token with a registry-assigned id.
func (r *Registry) Mint(attrs map[string]any) (*Token, error) {
	r.nextNum++
	id := fmt.Sprintf("T%d", r.nextNum)
	return r.add(id, attrs)
}

// Add registers a token under a caller-assigned id.
func (r *Registry) Add(id string, attrs map[string]any) (*Token, error) {
	if id == "" {
		return nil, fault.Validation(protocol.ErrBadPayload, "empty token id")
	}
	return r.add(id, attrs)
}

func (r *Registry) add(id string, attrs map[string]any) (*Token, error) {
	if _, ok := r.byID[id]; ok {
		return nil, fault.State(protocol.ErrConflict, "token %s already registered", id)
	}
	t := &Token{ID: id, Index: len(r.order), Attrs: attrs}
	if err := r.record(t); err != nil {
		return nil, err
	}
	r.byID[id] = t
	r.order = append(r.order, id)
	return t, nil
}

func (r *Registry) Get(id string) (*Token, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// SetAttrs replaces a token's attributes wholesale.
func (r *Registry) SetAttrs(id string, attrs map[string]any) error {
	t, ok := r.byID[id]
	if !ok {
		return fault.State(protocol.ErrEntityNotFound, "token %s", id)
	}
	prev := t.Attrs
	t.Attrs = attrs
	if err := r.record(t); err != nil {
		t.Attrs = prev
		return err
	}
	return nil
}

func (r *Registry) record(t *Token) error {
	return r.doc.RecordChange("token/"+t.ID, tokenState{Index: t.Index, Attrs: t.Attrs})
}

func (r *Registry) Len() int { return len(r.order) }

// IDs returns all token ids in mint order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Hydrate rebuilds the registry from chronicle registers, after a merge or
// snapshot load.
func (r *Registry) Hydrate() error {
	byID := map[string]*Token{}
	type entry struct {
		id string
		t  *Token
	}
	var entries []entry
	for _, key := range r.doc.RegisterKeys("token/") {
		raw, _ := r.doc.Register(key)
		var st tokenState
		if err := json.Unmarshal(raw, &st); err != nil {
			return fault.Document(protocol.ErrProtoBadRequest, "register %s: %v", key, err)
		}
		id := key[len("token/"):]
		t := &Token{ID: id, Index: st.Index, Attrs: st.Attrs}
		byID[id] = t
		entries = append(entries, entry{id: id, t: t})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].t.Index < entries[j].t.Index })
	order := make([]string, 0, len(entries))
	var maxNum uint64
	for _, e := range entries {
		order = append(order, e.id)
		var n uint64
		if _, err := fmt.Sscanf(e.id, "T%d", &n); err == nil && n > maxNum {
			maxNum = n
		}
	}
	r.byID = byID
	r.order = order
	if maxNum > r.nextNum {
		r.nextNum = maxNum
	}
	return nil
}
