package chronicle

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"testing"

	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/protocol"
)

func TestRecordAndRegister(t *testing.T) {
	d := New("a")
	if err := d.RecordChange("k", map[string]int{"v": 1}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := d.RecordChange("k", map[string]int{"v": 2}); err != nil {
		t.Fatalf("record: %v", err)
	}
	raw, ok := d.Register("k")
	if !ok {
		t.Fatalf("register missing")
	}
	if string(raw) != `{"v":2}` {
		t.Fatalf("register = %s, want v:2", raw)
	}
	if d.ChangeCount() != 2 {
		t.Fatalf("change count = %d", d.ChangeCount())
	}
	if d.VersionVector()["a"] != 2 {
		t.Fatalf("vv = %v", d.VersionVector())
	}
}

func TestTwoWayConvergence(t *testing.T) {
	a := New("a")
	b := New("b")
	_ = a.RecordChange("x", 1)
	_ = a.RecordChange("y", "left")
	_ = b.RecordChange("y", "right")
	_ = b.RecordChange("z", true)

	da, err := a.Delta(b.VersionVector())
	if err != nil {
		t.Fatalf("delta a: %v", err)
	}
	db, err := b.Delta(a.VersionVector())
	if err != nil {
		t.Fatalf("delta b: %v", err)
	}
	if err := a.Merge(db); err != nil {
		t.Fatalf("merge into a: %v", err)
	}
	if err := b.Merge(da); err != nil {
		t.Fatalf("merge into b: %v", err)
	}

	if a.Digest() != b.Digest() {
		t.Fatalf("digests diverged after symmetric merge:\n a=%s\n b=%s", a.Digest(), b.Digest())
	}
	ra, _ := a.Register("y")
	rb, _ := b.Register("y")
	if string(ra) != string(rb) {
		t.Fatalf("register y diverged: %s vs %s", ra, rb)
	}
}

func TestMergeIdempotent(t *testing.T) {
	a := New("a")
	b := New("b")
	_ = a.RecordChange("k", 1)
	_ = a.RecordChange("k", 2)

	delta, _ := a.FullDelta()
	if err := b.Merge(delta); err != nil {
		t.Fatalf("merge: %v", err)
	}
	before := b.Digest()
	count := b.ChangeCount()
	if err := b.Merge(delta); err != nil {
		t.Fatalf("repeat merge: %v", err)
	}
	if b.Digest() != before {
		t.Fatalf("repeat merge changed digest")
	}
	if b.ChangeCount() != count {
		t.Fatalf("repeat merge duplicated changes: %d -> %d", count, b.ChangeCount())
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	a := New("a")
	b := New("b")
	_ = a.RecordChange("p", "a1")
	_ = b.RecordChange("q", "b1")
	da, _ := a.FullDelta()
	db, _ := b.FullDelta()

	x := New("x")
	if err := x.Merge(da); err != nil {
		t.Fatalf("merge da: %v", err)
	}
	if err := x.Merge(db); err != nil {
		t.Fatalf("merge db: %v", err)
	}

	y := New("y")
	if err := y.Merge(db); err != nil {
		t.Fatalf("merge db: %v", err)
	}
	if err := y.Merge(da); err != nil {
		t.Fatalf("merge da: %v", err)
	}

	if x.Digest() != y.Digest() {
		t.Fatalf("merge order changed outcome")
	}
}

func TestMergeGapAppliesNothing(t *testing.T) {
	a := New("a")
	for i := 0; i < 4; i++ {
		_ = a.RecordChange("k", i)
	}
	full, _ := a.FullDelta()

	var changes []Change
	if err := json.Unmarshal(full, &changes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Drop seq 2 to create a hole.
	holed := changes[:0:0]
	for _, c := range changes {
		if c.Seq == 2 {
			continue
		}
		holed = append(holed, c)
	}
	b := New("b")
	gap, _ := json.Marshal(holed)
	err := b.Merge(gap)
	if err == nil {
		t.Fatalf("expected gap error")
	}
	if fault.CodeOf(err) != protocol.ErrDeltaGap {
		t.Fatalf("code = %s, want %s", fault.CodeOf(err), protocol.ErrDeltaGap)
	}
	if b.ChangeCount() != 0 {
		t.Fatalf("gapped merge applied %d changes", b.ChangeCount())
	}
	if len(b.VersionVector()) != 0 {
		t.Fatalf("gapped merge advanced version vector: %v", b.VersionVector())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a := New("a")
	_ = a.RecordChange("k", map[string]any{"n": 7})
	_ = a.RecordChange("j", []string{"x", "y"})

	buf, err := a.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	b := New("other")
	if err := b.Load(buf); err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Actor() != "a" {
		t.Fatalf("actor = %s", b.Actor())
	}
	if b.Digest() != a.Digest() {
		t.Fatalf("digest changed across save/load")
	}
	if b.VersionVector()["a"] != 2 {
		t.Fatalf("vv = %v", b.VersionVector())
	}
	// The loaded document keeps recording seamlessly.
	if err := b.RecordChange("k", map[string]any{"n": 8}); err != nil {
		t.Fatalf("record after load: %v", err)
	}
	if b.VersionVector()["a"] != 3 {
		t.Fatalf("vv after record = %v", b.VersionVector())
	}
}

func TestLoadVersionMismatchKeepsState(t *testing.T) {
	var buf bytes.Buffer
	bad := savedDoc{Version: SaveVersion + 1, Actor: "z"}
	if err := gob.NewEncoder(&buf).Encode(&bad); err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := New("a")
	_ = d.RecordChange("k", 1)
	before := d.Digest()

	err := d.Load(buf.Bytes())
	if err == nil {
		t.Fatalf("expected version error")
	}
	if fault.CodeOf(err) != protocol.ErrSnapshotVersion {
		t.Fatalf("code = %s", fault.CodeOf(err))
	}
	if d.Actor() != "a" || d.Digest() != before {
		t.Fatalf("failed load disturbed the document")
	}
}

func TestCompactBlocksOldDeltas(t *testing.T) {
	a := New("a")
	for i := 0; i < 10; i++ {
		_ = a.RecordChange("k", i)
	}
	beforeDigest := a.Digest()
	dropped := a.Compact()
	if dropped != 9 {
		t.Fatalf("dropped = %d, want 9", dropped)
	}
	if a.Digest() != beforeDigest {
		t.Fatalf("compaction changed observable state")
	}

	// A peer at seq 0 can no longer be served.
	_, err := a.Delta(nil)
	if fault.CodeOf(err) != protocol.ErrCompacted {
		t.Fatalf("expected %s, got %v", protocol.ErrCompacted, err)
	}
	// A peer that has everything needs nothing.
	if _, err := a.Delta(a.VersionVector()); err != nil {
		t.Fatalf("up-to-date delta: %v", err)
	}

	// Save/load preserves the compaction horizon.
	buf, err := a.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	b := New("b")
	if err := b.Load(buf); err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.VersionVector()["a"] != 10 {
		t.Fatalf("vv after load = %v", b.VersionVector())
	}
	if b.Digest() != beforeDigest {
		t.Fatalf("digest changed across compacted save/load")
	}
}
