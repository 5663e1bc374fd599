package chronicle

import (
	"encoding/json"
	"sort"

	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

// Delta serializes every change the caller's version vector is missing.
// Changes are emitted per actor in seq order, so a peer with common causal
// ancestry can merge them without gaps.
func (d *Doc) Delta(since map[string]uint64) ([]byte, error) {
	var out []Change
	for actor, have := range d.vv {
		from := since[actor]
		if from >= have {
			continue
		}
		if d.compacted[actor] > from {
			return nil, fault.Document(protocol.ErrCompacted,
				"actor %s compacted past seq %d", actor, from)
		}
		for _, c := range d.log {
			if c.Actor == actor && c.Seq > from {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Actor != out[j].Actor {
			return out[i].Actor < out[j].Actor
		}
		return out[i].Seq < out[j].Seq
	})
	return json.Marshal(out)
}

// FullDelta serializes the whole log, for peers starting from nothing.
func (d *Doc) FullDelta() ([]byte, error) {
	return d.Delta(nil)
}

// Merge integrates a delta produced by another document's Delta. Merge is
// commutative, associative and idempotent: already-applied changes are
// skipped, and register resolution does not depend on application order. A
// gap in any actor's sequence fails with E_DELTA_GAP and applies nothing.
func (d *Doc) Merge(delta []byte) error {
	var changes []Change
	if err := json.Unmarshal(delta, &changes); err != nil {
		return fault.Document(protocol.ErrProtoBadRequest, "decode delta: %v", err)
	}

	byActor := map[string][]Change{}
	for _, c := range changes {
		byActor[c.Actor] = append(byActor[c.Actor], c)
	}

	// Validate before touching state: per actor the new changes must extend
	// the applied sequence contiguously.
	var apply []Change
	for actor, cs := range byActor {
		sort.Slice(cs, func(i, j int) bool { return cs[i].Seq < cs[j].Seq })
		next := d.vv[actor] + 1
		for _, c := range cs {
			if c.Seq < next {
				continue // already applied
			}
			if c.Seq != next {
				return fault.Document(protocol.ErrDeltaGap,
					"actor %s: have seq %d, delta jumps to %d", actor, next-1, c.Seq)
			}
			apply = append(apply, c)
			next++
		}
	}

	sort.Slice(apply, func(i, j int) bool {
		if apply[i].Actor != apply[j].Actor {
			return apply[i].Actor < apply[j].Actor
		}
		return apply[i].Seq < apply[j].Seq
	})
	for _, c := range apply {
		d.apply(c)
	}
	return nil
}
