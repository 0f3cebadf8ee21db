package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yuim/internal/metrics"
	"yuim/internal/repo"
	"yuim/pkg/envelope"
)

// Directory is the read side of rooms, profiles and moderation state.
type Directory interface {
	Room(ctx context.Context, roomID string) (*repo.Room, error)
	Profile(ctx context.Context, userID string) (*repo.Profile, error)
	Muted(ctx context.Context, roomID, userID string) (bool, error)
	Ban(ctx context.Context, roomID, userID string) (*repo.Ban, error)
}

// Viewers reports a room's live participant count.
type Viewers interface {
	ViewerCount(ctx context.Context, roomID string) (int64, error)
}

type lookup struct {
	room    *repo.Room
	profile *repo.Profile
	muted   bool
	ban     *repo.Ban
	viewers int64
}

// lookupAll runs the independent reads concurrently. Not-found results are data,
// not errors; any other failure aborts the rest.
func (s *Service) lookupAll(ctx context.Context, roomID, uid string) (*lookup, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LookupTimeout)
	defer cancel()

	var out lookup
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rm, err := s.dir.Room(gctx, roomID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		out.room = rm
		return err
	})
	g.Go(func() error {
		p, err := s.dir.Profile(gctx, uid)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		out.profile = p
		return err
	})
	g.Go(func() error {
		m, err := s.dir.Muted(gctx, roomID, uid)
		out.muted = m
		return err
	})
	g.Go(func() error {
		b, err := s.dir.Ban(gctx, roomID, uid)
		out.ban = b
		return err
	})
	g.Go(func() error {
		n, err := s.viewers.ViewerCount(gctx, roomID)
		if err != nil {
			// sampling just stays off for this request
			metrics.ViewerCountErrors.Inc()
			s.log.Warn("viewer count unavailable", zap.String("room_id", roomID), zap.Error(err))
			return nil
		}
		out.viewers = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// authorize applies the rejections in a fixed order so the client always sees the
// most fundamental problem first.
func (l *lookup) authorize(now time.Time) error {
	switch {
	case l.room == nil || !l.room.IsLive:
		return ErrRoomNotFound
	case l.profile == nil:
		return ErrUserNotFound
	case l.muted:
		return ErrMuted
	case l.ban.Active(now):
		return ErrBanned
	}
	return nil
}

func identityOf(p *repo.Profile) envelope.Identity {
	id := envelope.Identity{
		UserName:   p.Username,
		UserAvatar: p.AvatarURL.String,
		UserRole:   p.Role.String,
		UserTitle:  p.Title.String,
	}
	if p.CreatedAt.Valid {
		id.UserCreatedAt = p.CreatedAt.Time.UTC().Format(time.RFC3339)
	}
	if p.RGBUsernameExpiresAt.Valid {
		v := p.RGBUsernameExpiresAt.Time.UTC().Format(time.RFC3339)
		id.UserRGBExpiresAt = &v
	}
	if p.GlowingUsernameColor.Valid {
		v := p.GlowingUsernameColor.String
		id.UserGlowColor = &v
	}
	return id
}
