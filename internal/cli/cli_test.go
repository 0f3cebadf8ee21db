package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuim/pkg/envelope"
	"yuim/pkg/keyring"
)

const testKeys = "k1:one,k2:two"

func sealed(t *testing.T, keys, room, txn, content string) []byte {
	t.Helper()
	kr, err := parseKeys(keys, "")
	require.NoError(t, err)
	e := &envelope.Envelope{
		T: envelope.TypeChat, RoomID: room, S: "u1", TS: 1700000000000, TxnID: txn,
		D: &envelope.ChatData{Content: content},
	}
	require.NoError(t, envelope.Seal(e, kr))
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func run(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRoot()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	if stdin != nil {
		root.SetIn(stdin)
	}
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestParseKeys(t *testing.T) {
	kr, err := parseKeys("k1:one, k2:two", "k2")
	require.NoError(t, err)
	assert.Equal(t, "k2", kr.CurrentKID())
	assert.True(t, kr.Has("k1"))

	kr, err = parseKeys("k1:one", "")
	require.NoError(t, err)
	assert.Equal(t, "k1", kr.CurrentKID())

	_, err = parseKeys("k1", "")
	assert.Error(t, err)
	_, err = parseKeys("k1:one", "k9")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	raw := sealed(t, testKeys, "r1", "abc", "hi")

	out, _, err := run(t, bytes.NewReader(raw), "verify", "--keys", testKeys)
	require.NoError(t, err)
	assert.Contains(t, out, "ok kid=k1")
	assert.Contains(t, out, "txn_id=abc")

	forged := strings.Replace(string(raw), `"content":"hi"`, `"content":"bye"`, 1)
	_, _, err = run(t, strings.NewReader(forged), "verify", "--keys", testKeys)
	assert.Error(t, err)

	_, _, err = run(t, bytes.NewReader(raw), "verify", "--keys", "k1:attacker")
	assert.ErrorIs(t, err, keyring.ErrBadSignature)

	_, _, err = run(t, bytes.NewReader(raw), "verify")
	assert.ErrorContains(t, err, "--keys")
}

func TestSend(t *testing.T) {
	var got map[string]json.RawMessage
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		authz = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"v":1}`))
	}))
	defer srv.Close()

	out, _, err := run(t, nil, "send", "--server", srv.URL, "--token", "tok", "--room", "r1", "--data", `{"content":"hi"}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "200 "))
	assert.Equal(t, "Bearer tok", authz)
	assert.JSONEq(t, `"chat"`, string(got["type"]))
	assert.JSONEq(t, `"r1"`, string(got["room_id"]))
	assert.JSONEq(t, `{"content":"hi"}`, string(got["data"]))

	var txn string
	require.NoError(t, json.Unmarshal(got["txn_id"], &txn))
	assert.Len(t, txn, 36)

	_, _, err = run(t, nil, "send", "--server", srv.URL, "--room", "r1", "--data", `{bad`)
	assert.Error(t, err)
	_, _, err = run(t, nil, "send", "--server", srv.URL)
	assert.ErrorContains(t, err, "--room")

	_, _, err = run(t, nil, "send", "--server", srv.URL, "--room", "r1", "--type", "poll")
	assert.ErrorContains(t, err, "chat, gift, mod, sys, battle, count")
}

func TestSendReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","error":"rate limited"}`))
	}))
	defer srv.Close()

	out, _, err := run(t, nil, "send", "--server", srv.URL, "--room", "r1", "--txn", "t1", "--data", `{"content":"x"}`)
	assert.ErrorContains(t, err, "status=429")
	assert.Contains(t, out, "RATE_LIMITED")
}

func TestEvents(t *testing.T) {
	good := sealed(t, testKeys, "r1", "a", "one")
	forged := sealed(t, "k1:attacker", "r1", "b", "two")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rooms/r1/events", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "u9", r.Header.Get("X-Uid"))
		page := map[string]any{
			"events": []map[string]any{
				{"id": "1-0", "envelope": json.RawMessage(good)},
				{"id": "2-0", "envelope": json.RawMessage(forged)},
			},
			"next": "2-0",
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	out, errOut, err := run(t, nil, "events", "--server", srv.URL, "--uid", "u9", "--room", "r1", "--limit", "5", "--verify", "--keys", testKeys)
	require.NoError(t, err)
	assert.Contains(t, out, "1-0 ")
	assert.NotContains(t, out, "2-0 ")
	assert.Contains(t, errOut, "skip 2-0")
	assert.Contains(t, errOut, "next=2-0")

	// without --verify the forged entry is printed
	out, _, err = run(t, nil, "events", "--server", srv.URL, "--uid", "u9", "--room", "r1", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "2-0 ")
}

func TestTail(t *testing.T) {
	kr := testKeys
	msgs := [][]byte{
		sealed(t, kr, "r1", "a", "one"),
		sealed(t, kr, "r1", "a", "one"), // duplicate over a second transport
		sealed(t, kr, "r2", "x", "elsewhere"),
		sealed(t, "k1:attacker", "r1", "f", "forged"),
		sealed(t, kr, "r1", "b", "two"),
	}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		assert.Equal(t, "r1", r.URL.Query().Get("room_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		c, err := up.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer c.Close()
		for _, m := range msgs {
			if err := c.WriteMessage(websocket.TextMessage, m); err != nil {
				return
			}
		}
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	out, errOut, err := run(t, nil, "tail", "--server", srv.URL, "--token", "tok", "--room", "r1", "--verify", "--keys", kr)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"txn_id":"a"`)
	assert.Contains(t, lines[1], `"txn_id":"b"`)
	assert.Contains(t, errOut, "another room")
	assert.Contains(t, errOut, "bad signature")

	out, _, err = run(t, nil, "tail", "--server", srv.URL, "--token", "tok", "--room", "r1", "--count", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestWSURL(t *testing.T) {
	g := &globals{server: "https://relay.example.com/"}
	u, err := g.wsURL("r 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/ws?room_id=r+1", u)

	g.server = "ftp://x"
	_, err = g.wsURL("r1")
	assert.Error(t, err)
}
