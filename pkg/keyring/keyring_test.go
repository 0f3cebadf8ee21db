package keyring

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *Keyring {
	t.Helper()
	k, err := New(map[string]string{"k1": "secret-one", "k2": "secret-two"}, "k1")
	require.NoError(t, err)
	return k
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "k1")
	assert.Error(t, err)

	_, err = New(map[string]string{"k1": "s"}, "")
	assert.Error(t, err)

	_, err = New(map[string]string{"k1": ""}, "k1")
	assert.Error(t, err)

	_, err = New(map[string]string{"k1": "s"}, "k9")
	assert.True(t, errors.Is(err, ErrUnknownKID))
}

func TestSignMatchesHMAC(t *testing.T) {
	k := fixture(t)
	msg := "v=1|t=chat|room_id=r1|sender_id=u1|txn_id=abc|ts=1|payload_hash=00"

	sig, err := k.Sign(msg, "k1")
	require.NoError(t, err)

	h := hmac.New(sha256.New, []byte("secret-one"))
	h.Write([]byte(msg))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), sig)

	again, err := k.Sign(msg, "k1")
	require.NoError(t, err)
	assert.Equal(t, sig, again)

	other, err := k.Sign(msg, "k2")
	require.NoError(t, err)
	assert.NotEqual(t, sig, other)
}

func TestVerifyAcceptsAnyRingKey(t *testing.T) {
	k := fixture(t)
	sig, err := k.Sign("payload", "k2")
	require.NoError(t, err)

	assert.NoError(t, k.Verify("payload", "k2", sig))
	assert.ErrorIs(t, k.Verify("payload!", "k2", sig), ErrBadSignature)
	assert.ErrorIs(t, k.Verify("payload", "k1", sig), ErrBadSignature)
	assert.ErrorIs(t, k.Verify("payload", "k2", "zz"), ErrBadSignature)
	assert.ErrorIs(t, k.Verify("payload", "k3", sig), ErrUnknownKID)
}

func TestSignUnknownKID(t *testing.T) {
	k := fixture(t)
	_, err := k.Sign("x", "nope")
	assert.ErrorIs(t, err, ErrUnknownKID)
}

func TestAccessors(t *testing.T) {
	k := fixture(t)
	assert.Equal(t, "k1", k.CurrentKID())
	assert.Equal(t, []string{"k1", "k2"}, k.KIDs())
	assert.True(t, k.Has("k2"))
	assert.False(t, k.Has("k3"))
}

func TestHash(t *testing.T) {
	// sha256("") is a well-known constant.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
	assert.Len(t, Hash([]byte(`{"content":"hi"}`)), 64)
}
