// Package source implements the supply: a pool of minted tokens, a seeded
// random stream and a reshuffle policy. The source never emits from an
// empty pool once a threshold is configured; it either reshuffles burned
// tokens back in (auto mode) or fails explicitly (manual mode).
package source

import (
	"encoding/json"

	"gametable.ai/internal/engine/chronicle"
	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/engine/rng"
	"gametable.ai/internal/engine/token"
	"gametable.ai/internal/protocol"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

type Policy struct {
	Threshold int  `json:"threshold"`
	Mode      Mode `json:"mode"`

	// ExcludeRevealed keeps tokens carrying a truthy "revealed" attribute
	// out of auto reshuffles. Off by default; a configuration decision, not
	// inferred from game state.
	ExcludeRevealed bool `json:"exclude_revealed,omitempty"`
}

// Template describes one token to mint into the pool.
type Template struct {
	Attrs map[string]any `json:"attrs,omitempty"`
}

type Source struct {
	doc      *chronicle.Doc
	registry *token.Registry
	stream   *rng.Stream

	seed int64

	pool   []string
	burned []string
	policy Policy
}

// DrawResult reports drawn ids and whether the draw triggered a reshuffle,
// so callers can react (e.g. log entries) without polling.
type DrawResult struct {
	IDs        []string `json:"ids"`
	Reshuffled bool     `json:"reshuffled"`
}

type state struct {
	Seed   int64    `json:"seed"`
	Draws  uint64   `json:"draws"`
	Pool   []string `json:"pool"`
	Burned []string `json:"burned"`
	Policy Policy   `json:"policy"`
}

func New(doc *chronicle.Doc, registry *token.Registry) *Source {
	return &Source{doc: doc, registry: registry}
}

// Configure mints the templates into the registry, shuffles them into the
// pool with the given seed, and installs the reshuffle policy.
func (s *Source) Configure(templates []Template, seed int64, policy Policy) error {
	switch policy.Mode {
	case ModeAuto, ModeManual:
	case "":
		policy.Mode = ModeManual
	default:
		return fault.Validation(protocol.ErrBadPayload, "reshuffle mode %q", policy.Mode)
	}
	if policy.Threshold < 0 {
		return fault.Validation(protocol.ErrBadPayload, "threshold %d", policy.Threshold)
	}

	ids := make([]string, 0, len(templates))
	for _, tpl := range templates {
		t, err := s.registry.Mint(tpl.Attrs)
		if err != nil {
			return err
		}
		ids = append(ids, t.ID)
	}

	s.seed = seed
	s.stream = rng.New(seed)
	s.shuffleInto(&ids)
	s.pool = ids
	s.burned = nil
	s.policy = policy
	return s.record()
}

// Draw emits n token ids from the pool front. Under auto mode a pool below
// the threshold is first replenished from the burned pile; the result marks
// that a reshuffle occurred.
func (s *Source) Draw(n int) (DrawResult, error) {
	if n <= 0 {
		return DrawResult{}, fault.Validation(protocol.ErrBadPayload, "draw count %d", n)
	}
	if s.stream == nil {
		return DrawResult{}, fault.Validation(protocol.ErrNotConfigured, "source not configured")
	}

	// Sufficiency is decided against the prospective pool before anything
	// moves or the stream advances: a draw that fails here leaves the pool,
	// the burned pile and the rng position exactly as they were.
	reshuffle := s.policy.Mode == ModeAuto && s.policy.Threshold > 0 &&
		len(s.pool) < s.policy.Threshold && len(s.burned) > 0
	var back, keep []string
	available := len(s.pool)
	if reshuffle {
		back, keep = s.splitBurned()
		available += len(back)
	}
	if n > available {
		return DrawResult{}, fault.State(protocol.ErrPoolExhausted,
			"draw %d, pool has %d", n, available)
	}
	if reshuffle {
		s.shuffleInto(&back)
		s.pool = append(s.pool, back...)
		s.burned = keep
	}

	ids := make([]string, n)
	copy(ids, s.pool[:n])
	s.pool = append([]string(nil), s.pool[n:]...)
	if err := s.record(); err != nil {
		return DrawResult{}, err
	}
	return DrawResult{IDs: ids, Reshuffled: reshuffle}, nil
}

// Burn removes n tokens from the pool front into the burned pile.
func (s *Source) Burn(n int) ([]string, error) {
	if n <= 0 {
		return nil, fault.Validation(protocol.ErrBadPayload, "burn count %d", n)
	}
	if s.stream == nil {
		return nil, fault.Validation(protocol.ErrNotConfigured, "source not configured")
	}
	if n > len(s.pool) {
		return nil, fault.State(protocol.ErrPoolExhausted, "burn %d, pool has %d", n, len(s.pool))
	}
	ids := make([]string, n)
	copy(ids, s.pool[:n])
	s.pool = append([]string(nil), s.pool[n:]...)
	s.burned = append(s.burned, ids...)
	if err := s.record(); err != nil {
		return nil, err
	}
	return ids, nil
}

// NextSeed draws a seed for dependent shuffles (e.g. an unseeded stack
// shuffle). Consumes one value from the source stream.
func (s *Source) NextSeed() (int64, error) {
	if s.stream == nil {
		return 0, fault.Validation(protocol.ErrNotConfigured, "source not configured")
	}
	return s.stream.SeedValue(), nil
}

// splitBurned partitions the burned pile into tokens eligible to return to
// the pool and tokens withheld by the revealed exclusion. Pure: no state
// moves and the stream does not advance.
func (s *Source) splitBurned() (back, keep []string) {
	for _, id := range s.burned {
		if s.policy.ExcludeRevealed && s.revealed(id) {
			keep = append(keep, id)
			continue
		}
		back = append(back, id)
	}
	return back, keep
}

func (s *Source) revealed(id string) bool {
	t, ok := s.registry.Get(id)
	if !ok {
		return false
	}
	v, ok := t.Attrs["revealed"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (s *Source) shuffleInto(ids *[]string) {
	list := *ids
	s.stream.Shuffle(len(list), func(i, j int) {
		list[i], list[j] = list[j], list[i]
	})
}

func (s *Source) PoolSize() int   { return len(s.pool) }
func (s *Source) BurnedSize() int { return len(s.burned) }
func (s *Source) Config() Policy  { return s.policy }

func (s *Source) record() error {
	return s.doc.RecordChange("source", state{
		Seed:   s.seed,
		Draws:  s.stream.Pos(),
		Pool:   append([]string(nil), s.pool...),
		Burned: append([]string(nil), s.burned...),
		Policy: s.policy,
	})
}

// Hydrate rebuilds the source from its chronicle register. The rng stream
// is replayed to its recorded position so post-hydration draws match a
// never-snapshotted run.
func (s *Source) Hydrate() error {
	raw, ok := s.doc.Register("source")
	if !ok {
		return nil
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return fault.Document(protocol.ErrProtoBadRequest, "source register: %v", err)
	}
	s.seed = st.Seed
	s.stream = rng.Resume(st.Seed, st.Draws)
	s.pool = st.Pool
	s.burned = st.Burned
	s.policy = st.Policy
	return nil
}
