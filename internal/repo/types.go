package repo

import (
	"database/sql"
	"time"
)

type Room struct {
	ID     string
	IsLive bool
}

type Profile struct {
	ID        string
	Username  string
	AvatarURL sql.NullString
	Role      sql.NullString
	Title     sql.NullString
	CreatedAt sql.NullTime

	RGBUsernameExpiresAt sql.NullTime
	GlowingUsernameColor sql.NullString
}

// Ban is a row in room_bans. A NULL expiry is permanent.
type Ban struct {
	RoomID    string
	UserID    string
	ExpiresAt sql.NullTime
}

// Active reports whether the ban still applies at now.
func (b *Ban) Active(now time.Time) bool {
	if b == nil {
		return false
	}
	return !b.ExpiresAt.Valid || b.ExpiresAt.Time.After(now)
}
