package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"yuim/internal/auth"
	"yuim/internal/hub"
	"yuim/internal/relay"
)

type errorBody struct {
	Code       relay.Code `json:"code"`
	Error      string     `json:"error"`
	SampleRate *int       `json:"sample_rate,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := relay.AsError(err)
	body := errorBody{Code: e.Code, Error: e.Msg}
	if e.Code == relay.CodeSamplingActive {
		rate := e.SampleRate
		body.SampleRate = &rate
	}
	writeJSON(w, e.Status, body)
}

// POST /v1/messages
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req relay.Request
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeError(w, relay.ErrInvalidRequest)
		return
	}
	env, err := s.d.Relay.Submit(r.Context(), auth.UIDFromContext(r.Context()), req)
	if err != nil {
		e := relay.AsError(err)
		if e.Status >= http.StatusInternalServerError {
			s.log.Error("submit failed", zap.String("code", string(e.Code)), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type eventItem struct {
	ID       string          `json:"id"`
	Envelope json.RawMessage `json:"envelope"`
}

// GET /v1/rooms/{room_id}/events?after=<stream id>&limit=<n>
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room_id")
	after := r.URL.Query().Get("after")
	limit := s.opts.BackfillDefault
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, relay.ErrInvalidRequest)
			return
		}
		limit = min(n, s.opts.BackfillMax)
	}
	if s.d.Backfill == nil {
		writeError(w, relay.ErrInternal)
		return
	}
	entries, err := s.d.Backfill.RangeRoom(r.Context(), room, after, limit)
	if err != nil {
		s.log.Warn("backfill failed", zap.String("room_id", room), zap.Error(err))
		writeError(w, relay.ErrStoreUnavailable)
		return
	}
	out := struct {
		Events []eventItem `json:"events"`
		Next   string      `json:"next"`
	}{Events: make([]eventItem, 0, len(entries)), Next: after}
	for _, e := range entries {
		out.Next = e.ID
		if e.Envelope == "" {
			continue
		}
		out.Events = append(out.Events, eventItem{ID: e.ID, Envelope: json.RawMessage(e.Envelope)})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /ws?room_id=<room>
func (s *Server) ws(w http.ResponseWriter, r *http.Request) {
	uid := auth.UIDFromContext(r.Context())
	if uid == "" {
		writeError(w, relay.ErrUnauthorized)
		return
	}
	room := strings.TrimSpace(r.URL.Query().Get("room_id"))
	if room == "" {
		writeError(w, relay.ErrInvalidRequest)
		return
	}
	if s.d.Hub == nil {
		writeError(w, relay.ErrInternal)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.d.Hub.Serve(hub.NewConn(uid, room, ws, s.opts.WSQueue), s.opts.WSWriteTimeout, s.opts.WSPingInterval)
}

type broadcastReq struct {
	Channel  string          `json:"channel"`
	Envelope json.RawMessage `json:"envelope"`
}

// POST /internal/broadcast {channel, envelope}
func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	if s.opts.InternalToken == "" || s.d.Hub == nil {
		http.NotFound(w, r)
		return
	}
	tok := r.Header.Get("X-Internal-Token")
	if subtle.ConstantTimeCompare([]byte(tok), []byte(s.opts.InternalToken)) != 1 {
		writeError(w, relay.ErrUnauthorized)
		return
	}
	var q broadcastReq
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBody)
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, relay.ErrInvalidRequest)
		return
	}
	if q.Channel == "" || len(q.Envelope) == 0 || !json.Valid(q.Envelope) {
		writeError(w, relay.ErrInvalidRequest)
		return
	}
	sent, dropped := s.d.Hub.Broadcast(q.Channel, q.Envelope)
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent, "dropped": dropped})
}
