package netcond

import (
	"math/rand"
	"sync"
	"time"
)

// Sampler draws the per-packet decisions implied by a Profile: whether a
// packet is dropped, and how long it is held before release.
type Sampler struct {
	profile Profile

	mu  sync.Mutex
	rng *rand.Rand
}

type SamplerOption func(*Sampler)

// WithSeed makes the sampler deterministic. Zero keeps the time-based seed.
func WithSeed(seed int64) SamplerOption {
	return func(s *Sampler) {
		if seed != 0 {
			s.rng = rand.New(rand.NewSource(seed))
		}
	}
}

func NewSampler(profile Profile, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		profile: profile,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sampler) Profile() Profile {
	return s.profile
}

// Drop reports whether the next packet should be discarded.
func (s *Sampler) Drop() bool {
	if s.profile.Loss <= 0 {
		return false
	}
	if s.profile.Loss >= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.profile.Loss
}

// Delay returns the hold duration for the next packet: the base latency plus
// a uniform offset in [-Jitter, +Jitter], clamped at zero. A negative net
// delay is not meaningful; the packet is then due immediately.
func (s *Sampler) Delay() time.Duration {
	d := s.profile.Latency
	if s.profile.Jitter > 0 {
		s.mu.Lock()
		offset := time.Duration(s.rng.Int63n(int64(2*s.profile.Jitter))) - s.profile.Jitter
		s.mu.Unlock()
		d += offset
	}
	if d < 0 {
		return 0
	}
	return d
}
