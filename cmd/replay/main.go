// Command replay rebuilds a document from a snapshot, re-applies recorded
// batches and verifies that each digest matches the live run.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gametable.ai/internal/engine/chronicle"
	"gametable.ai/internal/engine/dispatch"
	"gametable.ai/internal/engine/source"
	"gametable.ai/internal/engine/space"
	"gametable.ai/internal/engine/stack"
	"gametable.ai/internal/engine/token"
	"gametable.ai/internal/host"
	persistlog "gametable.ai/internal/persistence/log"
	"gametable.ai/internal/persistence/snapshot"
)

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (optional; empty replays from an empty document)")
		batchDir  = flag.String("batches", "", "dir containing batches-*.jsonl.zst")
		actor     = flag.String("actor", "replay", "actor id when no snapshot is given")
		stackName = flag.String("stack", "main", "stack name")
		fromSeq   = flag.Uint64("from_seq", 0, "skip batches at or below this sequence")
	)
	flag.Parse()

	if *batchDir == "" {
		fmt.Fprintln(os.Stderr, "missing -batches")
		os.Exit(2)
	}

	doc := chronicle.New(*actor)
	if *snapPath != "" {
		snap, err := snapshot.Read(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		if err := doc.Load(snap.Doc); err != nil {
			fmt.Fprintln(os.Stderr, "load document:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d actor=%s changes=%d digest=%s\n",
			snap.Header.Version, snap.Header.Actor, snap.Header.ChangeCount, snap.Header.Digest)
		if got := doc.Digest(); got != snap.Header.Digest {
			fmt.Fprintf(os.Stderr, "digest mismatch after load: got %s want %s\n", got, snap.Header.Digest)
			os.Exit(1)
		}
	}

	registry := token.NewRegistry(doc)
	st := stack.New(*stackName, doc)
	sp := space.New(doc)
	src := source.New(doc, registry)
	disp := dispatch.New()
	disp.SetStack(st)
	disp.SetSpace(sp)
	disp.SetSource(src)

	if err := hydrate(registry, st, sp, src); err != nil {
		fmt.Fprintln(os.Stderr, "hydrate:", err)
		os.Exit(1)
	}

	files, err := listBatchFiles(*batchDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list batches:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no batch files found in", *batchDir)
		os.Exit(1)
	}

	var checked int
	for _, path := range files {
		entries, err := persistlog.ReadBatches(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read batches:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			if e.Seq <= *fromSeq {
				continue
			}
			if err := applyBatch(disp, e); err != nil {
				fmt.Fprintf(os.Stderr, "batch seq=%d: %v\n", e.Seq, err)
				os.Exit(1)
			}
			if got := doc.Digest(); got != e.Digest {
				fmt.Fprintf(os.Stderr, "digest mismatch at seq=%d: got %s want %s\n", e.Seq, got, e.Digest)
				os.Exit(1)
			}
			checked++
		}
	}
	fmt.Printf("replay ok: checked=%d batches, final digest=%s\n", checked, doc.Digest())
}

func applyBatch(disp *dispatch.Dispatcher, e host.BatchLogEntry) error {
	for _, a := range e.Actions {
		// Action-level failures were recorded as part of the live batch and
		// left no changes behind; reproduce them silently.
		_, _ = disp.Dispatch(a.Action, a.Payload)
	}
	return nil
}

func hydrate(registry *token.Registry, st *stack.Stack, sp *space.Space, src *source.Source) error {
	if err := registry.Hydrate(); err != nil {
		return err
	}
	if err := st.Hydrate(); err != nil {
		return err
	}
	if err := sp.Hydrate(); err != nil {
		return err
	}
	return src.Hydrate()
}

func listBatchFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "batches-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
