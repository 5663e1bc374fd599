// Package space implements the zoned spatial container: zone id to ordered
// token ids, with a token living in at most one zone at a time.
package space

import (
	"encoding/json"

	"gametable.ai/internal/engine/chronicle"
	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

type Space struct {
	doc   *chronicle.Doc
	zones map[string][]string
	order []string // zone creation order
}

// State is a read-only copy of the whole container. The container records
// as one register so zone membership stays single-homed under merges.
type State struct {
	Zones map[string][]string `json:"zones"`
	Order []string            `json:"order"`
}

func New(doc *chronicle.Doc) *Space {
	return &Space{doc: doc, zones: map[string][]string{}}
}

func (s *Space) CreateZone(id string) error {
	if id == "" {
		return fault.Validation(protocol.ErrBadPayload, "empty zone id")
	}
	if _, ok := s.zones[id]; ok {
		return fault.State(protocol.ErrConflict, "zone %s exists", id)
	}
	s.zones[id] = nil
	s.order = append(s.order, id)
	return s.record()
}

// Place puts a token into a zone, removing it from its previous zone if any.
// Placing a token already in the target zone is a membership no-op that
// still records a change for causal ordering.
func (s *Space) Place(zoneID, tokenID string) error {
	if _, ok := s.zones[zoneID]; !ok {
		return fault.State(protocol.ErrZoneNotFound, "zone %s", zoneID)
	}
	if tokenID == "" {
		return fault.Validation(protocol.ErrBadPayload, "empty token id")
	}
	if !contains(s.zones[zoneID], tokenID) {
		s.removeEverywhere(tokenID)
		s.zones[zoneID] = append(s.zones[zoneID], tokenID)
	}
	return s.record()
}

// Move relocates a token between two named zones. The token must currently
// be in fromZone.
func (s *Space) Move(tokenID, fromZone, toZone string) error {
	if _, ok := s.zones[fromZone]; !ok {
		return fault.State(protocol.ErrZoneNotFound, "zone %s", fromZone)
	}
	if _, ok := s.zones[toZone]; !ok {
		return fault.State(protocol.ErrZoneNotFound, "zone %s", toZone)
	}
	if !contains(s.zones[fromZone], tokenID) {
		return fault.State(protocol.ErrEntityNotFound, "token %s not in zone %s", tokenID, fromZone)
	}
	s.zones[fromZone] = remove(s.zones[fromZone], tokenID)
	if !contains(s.zones[toZone], tokenID) {
		s.zones[toZone] = append(s.zones[toZone], tokenID)
	}
	return s.record()
}

// Query returns the ordered token ids in a zone.
func (s *Space) Query(zoneID string) ([]string, error) {
	ids, ok := s.zones[zoneID]
	if !ok {
		return nil, fault.State(protocol.ErrZoneNotFound, "zone %s", zoneID)
	}
	return append([]string(nil), ids...), nil
}

func (s *Space) State() State {
	zones := make(map[string][]string, len(s.zones))
	for id, ids := range s.zones {
		zones[id] = append([]string(nil), ids...)
	}
	return State{Zones: zones, Order: append([]string(nil), s.order...)}
}

func (s *Space) removeEverywhere(tokenID string) {
	for id, ids := range s.zones {
		if contains(ids, tokenID) {
			s.zones[id] = remove(ids, tokenID)
		}
	}
}

func (s *Space) record() error {
	return s.doc.RecordChange("space", s.State())
}

// Hydrate rebuilds the container from its chronicle register.
func (s *Space) Hydrate() error {
	raw, ok := s.doc.Register("space")
	if !ok {
		return nil
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fault.Document(protocol.ErrProtoBadRequest, "space register: %v", err)
	}
	if st.Zones == nil {
		st.Zones = map[string][]string{}
	}
	s.zones = st.Zones
	s.order = st.Order
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
