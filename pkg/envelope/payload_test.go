package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, s := range []string{"chat", "gift", "mod", "sys", "battle", "count"} {
		got, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, Type(s), got)
	}
	_, err := ParseType("whisper")
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = ParseType("")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestNewPayloadCoversEveryType(t *testing.T) {
	for _, typ := range Types() {
		p, err := NewPayload(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, p.Type())
	}
}

func TestDecodeKeepsOpaqueKeys(t *testing.T) {
	raw := json.RawMessage(`{"gift_id":"rose","quantity":3,"combo":{"x":1},"tags":["a","b"]}`)
	p, err := DecodePayload(TypeGift, raw)
	require.NoError(t, err)

	g := p.(*GiftData)
	assert.Equal(t, "rose", g.GiftID)
	assert.EqualValues(t, 3, g.Quantity)
	require.Len(t, g.Extra, 2)
	assert.JSONEq(t, `{"x":1}`, string(g.Extra["combo"]))

	out, err := json.Marshal(g)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "rose", m["gift_id"])
	assert.Contains(t, m, "combo")
	assert.Contains(t, m, "tags")
	assert.Contains(t, m, "user_name")
}

func TestIdentityOverwriteBeatsClientClaims(t *testing.T) {
	raw := json.RawMessage(`{"content":"hi","user_name":"admin","USER_ROLE":"admin","user_title":"king"}`)
	p, err := DecodePayload(TypeChat, raw)
	require.NoError(t, err)

	glow := "#ff0"
	SetIdentity(p, Identity{UserName: "u1-name", UserRole: "viewer", UserGlowColor: &glow})

	out, err := json.Marshal(p)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))

	assert.Equal(t, "u1-name", m["user_name"])
	assert.Equal(t, "viewer", m["user_role"])
	assert.Equal(t, "", m["user_title"])
	assert.Equal(t, "#ff0", m["user_glowing_username_color"])
	assert.NotContains(t, m, "USER_ROLE")
	assert.Equal(t, "hi", m["content"])
	assert.Equal(t, "viewer", IdentityOf(p).UserRole)
}

func TestDecodeRejectsWrongShapes(t *testing.T) {
	_, err := DecodePayload(TypeChat, json.RawMessage(`"just a string"`))
	assert.Error(t, err)

	_, err = DecodePayload(TypeGift, json.RawMessage(`{"quantity":"three"}`))
	assert.Error(t, err)

	_, err = DecodePayload(Type("nope"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}
