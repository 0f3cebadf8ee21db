package breaker

import (
	"sync"
	"time"
)

// Breaker trips per key (a transport adapter name or an edge node address).
// Threshold failures inside Window open the key for OpenFor; a success closes it.
// After OpenFor one probe is let through and decides the next state.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	openFor   time.Duration
	now       func() time.Time

	state map[string]*keyState
}

type keyState struct {
	failCount int
	firstFail time.Time
	openUntil time.Time
}

type Options struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	OpenFor   time.Duration `yaml:"open_for"`
}

func New(opt Options) *Breaker {
	if opt.Threshold <= 0 {
		opt.Threshold = 5
	}
	if opt.Window <= 0 {
		opt.Window = 10 * time.Second
	}
	if opt.OpenFor <= 0 {
		opt.OpenFor = 5 * time.Second
	}
	return &Breaker{
		threshold: opt.Threshold,
		window:    opt.Window,
		openFor:   opt.OpenFor,
		now:       time.Now,
		state:     make(map[string]*keyState),
	}
}

// Allow is safe on a nil Breaker and then always true.
func (b *Breaker) Allow(key string) bool {
	if b == nil {
		return true
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.state[key]
	if !ok || s.openUntil.IsZero() {
		return true
	}
	if now.Before(s.openUntil) {
		return false
	}
	// half-open: one probe, re-armed so concurrent callers keep skipping
	s.openUntil = now.Add(b.openFor)
	s.failCount = b.threshold - 1
	s.firstFail = now
	return true
}

func (b *Breaker) Success(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, key)
}

// Failure records a failure and reports whether this call opened the key.
func (b *Breaker) Failure(key string) (opened bool) {
	if b == nil {
		return false
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.state[key]
	if !ok {
		s = &keyState{}
		b.state[key] = s
	}
	if s.failCount == 0 || now.Sub(s.firstFail) > b.window {
		s.failCount = 0
		s.firstFail = now
	}
	s.failCount++
	if s.failCount >= b.threshold {
		wasOpen := !s.openUntil.IsZero() && now.Before(s.openUntil)
		s.openUntil = now.Add(b.openFor)
		return !wasOpen
	}
	return false
}

func (b *Breaker) IsOpen(key string) bool {
	if b == nil {
		return false
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.state[key]
	return ok && !s.openUntil.IsZero() && now.Before(s.openUntil)
}
