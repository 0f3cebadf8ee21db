package breaker

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker() (*Breaker, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	b := New(Options{Threshold: 3, Window: 10 * time.Second, OpenFor: 5 * time.Second})
	b.now = c.now
	return b, c
}

func TestOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker()
	if b.Failure("kafka") || b.Failure("kafka") {
		t.Fatal("opened too early")
	}
	if !b.Allow("kafka") {
		t.Fatal("should still allow below threshold")
	}
	if !b.Failure("kafka") {
		t.Fatal("third failure should open")
	}
	if b.Allow("kafka") {
		t.Fatal("open breaker allowed a call")
	}
	if !b.IsOpen("kafka") {
		t.Fatal("IsOpen = false")
	}
	if !b.Allow("redis_stream") {
		t.Fatal("keys must be independent")
	}
}

func TestWindowResetsCount(t *testing.T) {
	b, c := newTestBreaker()
	b.Failure("k")
	b.Failure("k")
	c.advance(11 * time.Second)
	if b.Failure("k") {
		t.Fatal("failures outside window must not accumulate")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	b, c := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.Failure("k")
	}
	c.advance(6 * time.Second)

	if !b.Allow("k") {
		t.Fatal("probe not allowed after open period")
	}
	if b.Allow("k") {
		t.Fatal("second caller got through during probe")
	}

	b.Failure("k")
	if b.Allow("k") {
		t.Fatal("failed probe should keep the breaker open")
	}

	c.advance(6 * time.Second)
	if !b.Allow("k") {
		t.Fatal("probe not allowed")
	}
	b.Success("k")
	if !b.Allow("k") || !b.Allow("k") {
		t.Fatal("success should close the breaker")
	}
}

func TestNilBreaker(t *testing.T) {
	var b *Breaker
	if !b.Allow("x") || b.Failure("x") || b.IsOpen("x") {
		t.Fatal("nil breaker must be a no-op")
	}
	b.Success("x")
}
