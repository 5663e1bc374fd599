package chronicle

import (
	"bytes"
	"encoding/gob"

	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

// SaveVersion is bumped whenever savedDoc changes incompatibly. Load refuses
// any other version rather than guessing.
const SaveVersion = 1

type savedDoc struct {
	Version   int
	Actor     string
	Lamport   uint64
	Log       []Change
	Compacted map[string]uint64
}

// Save collapses the document into an opaque, self-describing byte buffer.
func (d *Doc) Save() ([]byte, error) {
	var buf bytes.Buffer
	s := savedDoc{
		Version:   SaveVersion,
		Actor:     d.actor,
		Lamport:   d.lamport,
		Log:       d.log,
		Compacted: d.compacted,
	}
	if err := gob.NewEncoder(&buf).Encode(&s); err != nil {
		return nil, fault.Document(protocol.ErrInternal, "gob encode: %v", err)
	}
	return buf.Bytes(), nil
}

// Load replaces the document with a previously saved snapshot. On any error
// the document keeps its prior state.
func (d *Doc) Load(snapshot []byte) error {
	var s savedDoc
	if err := gob.NewDecoder(bytes.NewReader(snapshot)).Decode(&s); err != nil {
		return fault.Document(protocol.ErrSnapshotVersion, "gob decode: %v", err)
	}
	if s.Version != SaveVersion {
		return fault.Document(protocol.ErrSnapshotVersion,
			"snapshot version %d, want %d", s.Version, SaveVersion)
	}

	// Rebuild derived state from the log so registers and the version vector
	// cannot drift from what was saved.
	vv := map[string]uint64{}
	registers := map[string]register{}
	for _, c := range s.Log {
		if c.Seq > vv[c.Actor] {
			vv[c.Actor] = c.Seq
		}
		cur, ok := registers[c.Register]
		if !ok || cur.wins(c) {
			registers[c.Register] = register{Lamport: c.Lamport, Actor: c.Actor, Seq: c.Seq, Value: c.Value}
		}
	}
	for actor, seq := range s.Compacted {
		if seq > vv[actor] {
			vv[actor] = seq
		}
	}

	d.actor = s.Actor
	d.lamport = s.Lamport
	d.log = s.Log
	d.vv = vv
	if s.Compacted != nil {
		d.compacted = s.Compacted
	} else {
		d.compacted = map[string]uint64{}
	}
	d.registers = registers
	return nil
}
