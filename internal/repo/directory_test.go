package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, driver string) (*Directory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewDirectory(db, driver), mock
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", rebind("a = ? AND b = ?"))
	assert.Equal(t, "no args", rebind("no args"))
}

func TestRoom(t *testing.T) {
	d, mock := newMock(t, "mysql")
	ctx := context.Background()

	mock.ExpectQuery(`FROM rooms\s+WHERE id = \?`).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_live"}).AddRow("r1", true))
	rm, err := d.Room(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, rm.IsLive)

	mock.ExpectQuery(`FROM rooms`).WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_live"}))
	_, err = d.Room(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("conn reset")
	mock.ExpectQuery(`FROM rooms`).WithArgs("r2").WillReturnError(boom)
	_, err = d.Room(ctx, "r2")
	assert.ErrorIs(t, err, boom)
}

func TestProfile(t *testing.T) {
	d, mock := newMock(t, "mysql")
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cols := []string{"id", "username", "avatar_url", "role", "title", "created_at",
		"rgb_username_expires_at", "glowing_username_color"}

	mock.ExpectQuery(`FROM user_profiles`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "alice", "https://a/x.png", "moderator", nil, created, nil, "#ff00ff"))
	p, err := d.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "moderator", p.Role.String)
	assert.False(t, p.Title.Valid)
	assert.True(t, p.CreatedAt.Time.Equal(created))
	assert.False(t, p.RGBUsernameExpiresAt.Valid)
	assert.Equal(t, "#ff00ff", p.GlowingUsernameColor.String)

	mock.ExpectQuery(`FROM user_profiles`).WithArgs("u9").WillReturnRows(sqlmock.NewRows(cols))
	_, err = d.Profile(context.Background(), "u9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutedAndBanPostgres(t *testing.T) {
	d, mock := newMock(t, "pgx")
	ctx := context.Background()

	mock.ExpectQuery(`FROM room_mutes\s+WHERE room_id = \$1 AND user_id = \$2`).WithArgs("r1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	muted, err := d.Muted(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.True(t, muted)

	mock.ExpectQuery(`FROM room_mutes`).WithArgs("r1", "u2").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	muted, err = d.Muted(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.False(t, muted)

	past := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`FROM room_bans\s+WHERE room_id = \$1 AND user_id = \$2`).WithArgs("r1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(past))
	b, err := d.Ban(ctx, "r1", "u1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.False(t, b.Active(time.Now()))

	mock.ExpectQuery(`FROM room_bans`).WithArgs("r1", "u3").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(nil))
	b, err = d.Ban(ctx, "r1", "u3")
	require.NoError(t, err)
	assert.True(t, b.Active(time.Now()))

	mock.ExpectQuery(`FROM room_bans`).WithArgs("r1", "u2").WillReturnRows(sqlmock.NewRows([]string{"expires_at"}))
	b, err = d.Ban(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.False(t, b.Active(time.Now()))
}

func TestBanActive(t *testing.T) {
	now := time.Now()
	future := &Ban{}
	future.ExpiresAt.Valid = true
	future.ExpiresAt.Time = now.Add(time.Minute)
	assert.True(t, future.Active(now))

	edge := &Ban{}
	edge.ExpiresAt.Valid = true
	edge.ExpiresAt.Time = now
	assert.False(t, edge.Active(now))
}
