package repo

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

var ErrNotFound = errors.New("repo: not found")

// Directory answers the room and membership questions asked before a message is accepted.
type Directory struct {
	db *sql.DB
	pg bool
}

// NewDirectory wraps db; driver "pgx" switches placeholders to $n.
func NewDirectory(db *sql.DB, driver string) *Directory {
	return &Directory{db: db, pg: driver == "pgx"}
}

func (r *Directory) q(query string) string {
	if !r.pg {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *Directory) Room(ctx context.Context, roomID string) (*Room, error) {
	var rm Room
	err := r.db.QueryRowContext(ctx, r.q(`
SELECT id, is_live
FROM rooms
WHERE id = ?
`), roomID).Scan(&rm.ID, &rm.IsLive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

func (r *Directory) Profile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := r.db.QueryRowContext(ctx, r.q(`
SELECT id, username, avatar_url, role, title, created_at, rgb_username_expires_at, glowing_username_color
FROM user_profiles
WHERE id = ?
`), userID).Scan(&p.ID, &p.Username, &p.AvatarURL, &p.Role, &p.Title, &p.CreatedAt,
		&p.RGBUsernameExpiresAt, &p.GlowingUsernameColor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Directory) Muted(ctx context.Context, roomID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.q(`
SELECT 1
FROM room_mutes
WHERE room_id = ? AND user_id = ?
LIMIT 1
`), roomID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ban returns the latest-expiring ban of userID in roomID, or nil when there is none.
func (r *Directory) Ban(ctx context.Context, roomID, userID string) (*Ban, error) {
	b := Ban{RoomID: roomID, UserID: userID}
	err := r.db.QueryRowContext(ctx, r.q(`
SELECT expires_at
FROM room_bans
WHERE room_id = ? AND user_id = ?
ORDER BY expires_at IS NULL DESC, expires_at DESC
LIMIT 1
`), roomID, userID).Scan(&b.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
