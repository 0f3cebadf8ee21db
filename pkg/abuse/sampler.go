package abuse

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"time"

	"github.com/redis/go-redis/v9"
)

type SamplerOptions struct {
	// Types lists the event types that may be shed, usually only chat.
	Types []string
	// Threshold is the participant count at which a room turns hot.
	Threshold int64
	// Rate is the percentage of senders admitted while hot, 0..100.
	Rate int
	// ExemptRoles and ExemptTitles are never sampled.
	ExemptRoles  []string
	ExemptTitles []string
	Cooldown     time.Duration
	Timeout      time.Duration
	NotifyKey    func(room string) string
}

func (o SamplerOptions) withDefaults() SamplerOptions {
	if len(o.Types) == 0 {
		o.Types = []string{"chat"}
	}
	if o.Threshold <= 0 {
		o.Threshold = 5000
	}
	if o.Rate < 0 {
		o.Rate = 0
	}
	if o.Rate > 100 {
		o.Rate = 100
	}
	if o.ExemptRoles == nil {
		o.ExemptRoles = []string{"admin", "moderator"}
	}
	if o.ExemptTitles == nil {
		o.ExemptTitles = []string{"officer"}
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Minute
	}
	if o.Timeout <= 0 {
		o.Timeout = 300 * time.Millisecond
	}
	if o.NotifyKey == nil {
		o.NotifyKey = func(room string) string { return "notified_high_traffic:" + room }
	}
	return o
}

type Sampler struct {
	cli  redis.Cmdable
	opts SamplerOptions
}

// NewSampler keeps a Rate of 0 as configured; pass the default explicitly.
func NewSampler(cli redis.Cmdable, opts SamplerOptions) *Sampler {
	return &Sampler{cli: cli, opts: opts.withDefaults()}
}

func (s *Sampler) Rate() int { return s.opts.Rate }

// Hot reports whether a room with n participants is in high-traffic mode.
func (s *Sampler) Hot(n int64) bool { return n >= s.opts.Threshold }

// Sender describes who is submitting.
type Sender struct {
	ID    string
	Role  string
	Title string
}

// Applies reports whether events of typ are shed in a room of this size.
func (s *Sampler) Applies(typ string, participants int64) bool {
	return s.Hot(participants) && contains(s.opts.Types, typ)
}

// Keep decides whether an event survives load shedding.
func (s *Sampler) Keep(typ string, room string, participants int64, from Sender) bool {
	if !s.Applies(typ, participants) {
		return true
	}
	if contains(s.opts.ExemptRoles, from.Role) || (from.Title != "" && contains(s.opts.ExemptTitles, from.Title)) {
		return true
	}
	return Admit(from.ID, room, s.opts.Rate)
}

// ClaimAnnouncement returns true for exactly one caller per room per cooldown.
func (s *Sampler) ClaimAnnouncement(ctx context.Context, room string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.cli.SetNX(ctx, s.opts.NotifyKey(room), "1", s.opts.Cooldown).Result()
}

// Admit is the deterministic sampling decision: a stable hash of sender and room,
// reduced mod 100, admitted when below rate.
func Admit(senderID, roomID string, rate int) bool {
	return Bucket(senderID, roomID) < rate
}

// Bucket maps (sender, room) onto 0..99.
func Bucket(senderID, roomID string) int {
	sum := sha1.Sum([]byte(senderID + roomID))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
