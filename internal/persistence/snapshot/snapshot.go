// Package snapshot writes boundary snapshots to disk: a JSON header line
// followed by the gob body, zstd-compressed. The header is readable with
// zstdcat|head without decoding the body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const FormatVersion = 1

type Header struct {
	Version     int    `json:"version"`
	Actor       string `json:"actor"`
	ChangeCount int    `json:"change_count"`
	Digest      string `json:"digest"`
	SavedAtMs   int64  `json:"saved_at_ms"`
}

// FileV1 is the on-disk snapshot. Doc holds the serialized document; the
// header duplicates its identity fields for indexing without a full decode.
type FileV1 struct {
	Header Header `json:"header"`
	Doc    []byte `json:"doc"`
}

func Write(path string, snap FileV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = FormatVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func Read(path string) (FileV1, error) {
	var snap FileV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob body carries the same header.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != FormatVersion {
		return snap, fmt.Errorf("snapshot version %d, want %d", snap.Header.Version, FormatVersion)
	}
	return snap, nil
}
