package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"yuim/internal/metrics"
	"yuim/pkg/abuse"
	"yuim/pkg/envelope"
	"yuim/pkg/keyring"
	"yuim/pkg/replay"
	"yuim/pkg/transport"
)

// Publisher delivers a sealed envelope to every configured transport.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, env *envelope.Envelope) []error
}

// IDGenerator supplies ids for server-originated envelopes; *sonyflake.Sonyflake fits.
type IDGenerator interface {
	NextID() (uint64, error)
}

// SystemSender is the s of envelopes the relay emits on its own behalf.
const SystemSender = "system"

type Options struct {
	LookupTimeout time.Duration
	Now           func() time.Time
}

type Deps struct {
	Directory Directory
	Viewers   Viewers
	Replay    *replay.Guard
	Limiter   *abuse.RateLimiter
	Sampler   *abuse.Sampler
	Keyring   *keyring.Keyring
	Publisher Publisher
	IDs       IDGenerator
}

type Service struct {
	dir     Directory
	viewers Viewers
	replay  *replay.Guard
	limiter *abuse.RateLimiter
	sampler *abuse.Sampler
	keys    *keyring.Keyring
	pub     Publisher
	ids     IDGenerator

	opts Options
	log  *zap.Logger
}

func NewService(d Deps, opts Options, log *zap.Logger) (*Service, error) {
	if d.Directory == nil || d.Viewers == nil || d.Replay == nil || d.Limiter == nil ||
		d.Sampler == nil || d.Keyring == nil || d.Publisher == nil || d.IDs == nil {
		return nil, errors.New("relay: incomplete dependencies")
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		dir: d.Directory, viewers: d.Viewers, replay: d.Replay, limiter: d.Limiter,
		sampler: d.Sampler, keys: d.Keyring, pub: d.Publisher, ids: d.IDs,
		opts: opts, log: log,
	}, nil
}

// Request is the client submission. Data is decoded according to Type.
type Request struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id"`
	TxnID  string          `json:"txn_id"`
	Data   json.RawMessage `json:"data"`
}

func (r Request) parse() (envelope.Type, envelope.Payload, error) {
	if strings.TrimSpace(r.RoomID) == "" || strings.TrimSpace(r.TxnID) == "" || r.Type == "" {
		return "", nil, newError(CodeInvalidRequest, "type, room_id and txn_id are required", nil)
	}
	t, err := envelope.ParseType(r.Type)
	if err != nil {
		return "", nil, newError(CodeInvalidRequest, "unknown type", err)
	}
	if len(bytes.TrimSpace(r.Data)) == 0 || bytes.Equal(bytes.TrimSpace(r.Data), []byte("null")) {
		return "", nil, newError(CodeInvalidRequest, "data is required", nil)
	}
	d, err := envelope.DecodePayload(t, r.Data)
	if err != nil {
		return "", nil, newError(CodeInvalidRequest, "bad data", err)
	}
	if c, ok := d.(*envelope.ChatData); ok && strings.TrimSpace(c.Content) == "" {
		return "", nil, newError(CodeInvalidRequest, "content is required", nil)
	}
	return t, d, nil
}

// Submit runs one message through the pipeline and returns the envelope as it was
// handed to the transports. Rejections are *Error values.
func (s *Service) Submit(ctx context.Context, uid string, req Request) (env *envelope.Envelope, err error) {
	start := time.Now()
	defer func() {
		metrics.SubmitLatency.Observe(time.Since(start).Seconds())
		code := "OK"
		if err != nil {
			code = string(AsError(err).Code)
		}
		metrics.Requests.WithLabelValues(code).Inc()
	}()

	if uid == "" {
		return nil, ErrUnauthorized
	}
	t, payload, err := req.parse()
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("uid", uid), zap.String("room_id", req.RoomID), zap.String("txn_id", req.TxnID))

	lk, err := s.lookupAll(ctx, req.RoomID, uid)
	if err != nil {
		log.Error("lookup failed", zap.Error(err))
		return nil, newError(CodeInternal, "lookup failed", err)
	}
	if err := lk.authorize(s.opts.Now()); err != nil {
		return nil, err
	}

	if err := s.replay.Reserve(ctx, req.TxnID); err != nil {
		if errors.Is(err, replay.ErrReplay) {
			return nil, ErrReplay
		}
		log.Error("replay guard unavailable", zap.Error(err))
		return nil, newError(CodeStoreUnavailable, "service temporarily unavailable", err)
	}

	ok, err := s.limiter.Allow(ctx, uid, string(t))
	if err != nil {
		metrics.RateLimitErrors.Inc()
		log.Warn("rate limit check skipped", zap.Error(err))
	}
	if !ok {
		return nil, ErrRateLimited
	}

	// any event in a hot room announces the mode; only sheddable types are sampled
	if s.sampler.Hot(lk.viewers) {
		s.announceHighTraffic(ctx, req.RoomID)
	}
	if s.sampler.Applies(string(t), lk.viewers) {
		from := abuse.Sender{ID: uid, Role: lk.profile.Role.String, Title: lk.profile.Title.String}
		if !s.sampler.Keep(string(t), req.RoomID, lk.viewers, from) {
			e := newError(CodeSamplingActive, "room is in high traffic mode", nil)
			e.SampleRate = s.sampler.Rate()
			return nil, e
		}
	}

	envelope.SetIdentity(payload, identityOf(lk.profile))
	env = &envelope.Envelope{
		T:      t,
		RoomID: req.RoomID,
		S:      uid,
		TS:     s.opts.Now().UnixMilli(),
		TxnID:  req.TxnID,
		D:      payload,
	}
	if err := envelope.Seal(env, s.keys); err != nil {
		log.Error("seal failed", zap.Error(err))
		return nil, newError(CodeInternal, "signing failed", err)
	}

	// delivery failures are logged per adapter by the fan-out and never reach the sender
	s.pub.Publish(ctx, req.RoomID, transport.EventMessage, env)
	return env, nil
}

// announceHighTraffic broadcasts the degraded-mode notice once per room per cooldown.
func (s *Service) announceHighTraffic(ctx context.Context, roomID string) {
	won, err := s.sampler.ClaimAnnouncement(ctx, roomID)
	if err != nil {
		s.log.Warn("high traffic claim failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if !won {
		return
	}
	env, err := s.SystemEnvelope(roomID, &envelope.SysData{
		Mode:       "high_traffic",
		SampleRate: s.sampler.Rate(),
		Message:    fmt.Sprintf("High traffic: showing about %d%% of chat", s.sampler.Rate()),
	})
	if err != nil {
		s.log.Error("high traffic notice", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	metrics.Announcements.Inc()
	s.log.Info("room entered high traffic mode", zap.String("room_id", roomID), zap.Int("sample_rate", s.sampler.Rate()))
	s.pub.Publish(ctx, roomID, transport.EventMessage, env)
}

// SystemEnvelope builds and seals a sys envelope sent by the relay itself.
func (s *Service) SystemEnvelope(roomID string, d *envelope.SysData) (*envelope.Envelope, error) {
	id, err := s.ids.NextID()
	if err != nil {
		return nil, fmt.Errorf("relay: txn id: %w", err)
	}
	env := &envelope.Envelope{
		T:      envelope.TypeSys,
		RoomID: roomID,
		S:      SystemSender,
		TS:     s.opts.Now().UnixMilli(),
		TxnID:  "sys-" + strconv.FormatUint(id, 10),
		D:      d,
	}
	if err := envelope.Seal(env, s.keys); err != nil {
		return nil, err
	}
	return env, nil
}
