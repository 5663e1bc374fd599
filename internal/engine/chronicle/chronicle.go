// Package chronicle implements the mergeable document every primitive
// records into. The document is an op log: each change is stamped with the
// local actor id, a per-actor contiguous sequence number and a Lamport
// clock. Observable state lives in named registers resolved last-writer-wins
// by (lamport, actor, seq), so applying the same change set in any order and
// any number of times converges to the same registers.
package chronicle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

// Change is one recorded mutation. Seq is contiguous per actor starting at 1.
type Change struct {
	Actor    string          `json:"actor"`
	Seq      uint64          `json:"seq"`
	Lamport  uint64          `json:"lamport"`
	Register string          `json:"register"`
	Value    json.RawMessage `json:"value"`
}

type register struct {
	Lamport uint64
	Actor   string
	Seq     uint64
	Value   json.RawMessage
}

// wins reports whether c should replace r under LWW ordering.
func (r register) wins(c Change) bool {
	if c.Lamport != r.Lamport {
		return c.Lamport > r.Lamport
	}
	if c.Actor != r.Actor {
		return c.Actor > r.Actor
	}
	return c.Seq > r.Seq
}

// Doc is a single-owner document. All methods must be called from the owning
// boundary goroutine; cross-boundary sharing happens only through Delta,
// Merge, Save and Load.
type Doc struct {
	actor   string
	lamport uint64

	log       []Change
	vv        map[string]uint64 // actor -> highest applied seq
	compacted map[string]uint64 // actor -> seqs no longer individually held
	registers map[string]register
}

func New(actor string) *Doc {
	return &Doc{
		actor:     actor,
		vv:        map[string]uint64{},
		compacted: map[string]uint64{},
		registers: map[string]register{},
	}
}

func (d *Doc) Actor() string    { return d.actor }
func (d *Doc) ChangeCount() int { return len(d.log) }

// RecordChange appends a local change setting a register to the given value.
func (d *Doc) RecordChange(registerKey string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fault.Validation(protocol.ErrBadPayload, "encode register %s: %v", registerKey, err)
	}
	d.lamport++
	c := Change{
		Actor:    d.actor,
		Seq:      d.vv[d.actor] + 1,
		Lamport:  d.lamport,
		Register: registerKey,
		Value:    b,
	}
	d.apply(c)
	return nil
}

func (d *Doc) apply(c Change) {
	d.log = append(d.log, c)
	d.vv[c.Actor] = c.Seq
	if c.Lamport > d.lamport {
		d.lamport = c.Lamport
	}
	cur, ok := d.registers[c.Register]
	if !ok || cur.wins(c) {
		d.registers[c.Register] = register{Lamport: c.Lamport, Actor: c.Actor, Seq: c.Seq, Value: c.Value}
	}
}

// Register returns the current value of a register.
func (d *Doc) Register(key string) (json.RawMessage, bool) {
	r, ok := d.registers[key]
	if !ok {
		return nil, false
	}
	return r.Value, true
}

// RegisterKeys returns all register keys with the given prefix, sorted.
func (d *Doc) RegisterKeys(prefix string) []string {
	var keys []string
	for k := range d.registers {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// VersionVector returns a copy of the highest applied seq per actor.
func (d *Doc) VersionVector() map[string]uint64 {
	vv := make(map[string]uint64, len(d.vv))
	for k, v := range d.vv {
		vv[k] = v
	}
	return vv
}

// Digest hashes the resolved registers. Two documents with identical
// observable state produce identical digests regardless of log order.
func (d *Doc) Digest() string {
	keys := d.RegisterKeys("")
	h := sha256.New()
	for _, k := range keys {
		r := d.registers[k]
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(r.Value)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compact drops log entries that no register resolves to. Deltas covering
// the compacted range can no longer be produced; Delta reports E_COMPACTED
// for peers that far behind. Never called implicitly.
func (d *Doc) Compact() int {
	winners := make(map[string]map[uint64]struct{})
	for _, r := range d.registers {
		m := winners[r.Actor]
		if m == nil {
			m = map[uint64]struct{}{}
			winners[r.Actor] = m
		}
		m[r.Seq] = struct{}{}
	}
	kept := d.log[:0]
	dropped := 0
	for _, c := range d.log {
		if m := winners[c.Actor]; m != nil {
			if _, ok := m[c.Seq]; ok {
				kept = append(kept, c)
				continue
			}
		}
		if c.Seq > d.compacted[c.Actor] {
			d.compacted[c.Actor] = c.Seq
		}
		dropped++
	}
	d.log = kept
	return dropped
}
