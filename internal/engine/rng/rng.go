// Package rng provides a seeded pseudo-random stream with identical output
// on every platform. Replays and cross-peer shuffles depend on bit-exact
// sequences, so the generator is fixed here rather than delegated to
// math/rand, whose algorithm is not part of any compatibility promise.
package rng

const gamma = 0x9e3779b97f4a7c15

// Stream is a splitmix64 generator. The zero value is not usable; construct
// with New or Resume.
type Stream struct {
	state uint64
	pos   uint64
}

func New(seed int64) *Stream {
	return &Stream{state: uint64(seed)}
}

// Resume reconstructs the stream a seeded generator reaches after pos calls
// to Next. Splitmix state advances by a constant per call, so resumption is
// O(1); snapshot hydration depends on this.
func Resume(seed int64, pos uint64) *Stream {
	return &Stream{state: uint64(seed) + pos*gamma, pos: pos}
}

// Pos returns how many values have been drawn from the stream.
func (s *Stream) Pos() uint64 { return s.pos }

// Next returns the next 64-bit value in the stream.
func (s *Stream) Next() uint64 {
	s.state += gamma
	s.pos++
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn returns a uniform value in [0, n). Uses rejection sampling so the
// distribution does not depend on n dividing 2^64.
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		panic("rng: Intn with non-positive n")
	}
	max := ^uint64(0) - ^uint64(0)%uint64(n)
	for {
		v := s.Next()
		if v < max {
			return int(v % uint64(n))
		}
	}
}

// Shuffle performs a Fisher-Yates shuffle over n elements.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := s.Intn(i + 1)
		swap(i, j)
	}
}

// SeedValue draws a value from the stream suitable for seeding a dependent
// stream (e.g. an unseeded shuffle request).
func (s *Stream) SeedValue() int64 {
	return int64(s.Next())
}
