package comet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPSender delivers envelopes to an edge node's internal broadcast endpoint.
// edgeAddr is "10.0.0.12:7001" or "http://10.0.0.12:7001".
type HTTPSender struct {
	Client   *http.Client
	PushPath string // e.g. "/internal/broadcast"
	Token    string // sent as X-Internal-Token
}

type broadcastReq struct {
	Channel  string          `json:"channel"`
	Envelope json.RawMessage `json:"envelope"`
}

func NewHTTPSender(timeout time.Duration, pushPath, token string) *HTTPSender {
	if pushPath == "" {
		pushPath = "/internal/broadcast"
	}
	return &HTTPSender{
		Client:   &http.Client{Timeout: timeout},
		PushPath: pushPath,
		Token:    token,
	}
}

func normalizeAddr(edgeAddr string) string {
	addr := edgeAddr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}

// Forward posts one raw envelope for channel to edgeAddr.
func (s *HTTPSender) Forward(ctx context.Context, edgeAddr, channel string, envelope []byte) error {
	if edgeAddr == "" {
		return fmt.Errorf("empty edgeAddr")
	}
	body, err := json.Marshal(broadcastReq{Channel: channel, Envelope: envelope})
	if err != nil {
		return err
	}
	return s.post(ctx, normalizeAddr(edgeAddr)+s.PushPath, body)
}

func (s *HTTPSender) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("X-Internal-Token", s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("edge broadcast status=%d", resp.StatusCode)
	}
	return nil
}
