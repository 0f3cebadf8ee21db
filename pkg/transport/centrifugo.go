package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yuim/pkg/envelope"
)

type CentrifugoConfig struct {
	// URL of the server API endpoint, e.g. http://centrifugo:8000/api
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key" env:"RELAY_CENTRIFUGO_API_KEY"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	Timeout       time.Duration `yaml:"timeout"`
}

type centrifugoCommand struct {
	Method string           `json:"method"`
	Params centrifugoParams `json:"params"`
}

type centrifugoParams struct {
	Channel string             `json:"channel"`
	Data    *envelope.Envelope `json:"data"`
}

// Centrifugo publishes through a Centrifugo server's HTTP API. It is the
// vendor broadcast alternative to RedisPubSub.
type Centrifugo struct {
	cfg    CentrifugoConfig
	client *http.Client
}

func NewCentrifugo(cfg CentrifugoConfig) (*Centrifugo, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("centrifugo: missing url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Centrifugo{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (c *Centrifugo) Name() string { return "centrifugo" }

func (c *Centrifugo) Publish(ctx context.Context, channel, _ string, env *envelope.Envelope) error {
	body, err := json.Marshal(centrifugoCommand{
		Method: "publish",
		Params: centrifugoParams{Channel: c.cfg.ChannelPrefix + channel, Data: env},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "apikey "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("centrifugo publish status=%d", resp.StatusCode)
	}
	// API errors come back as 200 with an error object.
	var r struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(bytes.TrimSpace(reply)) > 0 && json.Unmarshal(reply, &r) == nil && r.Error != nil {
		return fmt.Errorf("centrifugo publish: %d %s", r.Error.Code, strings.TrimSpace(r.Error.Message))
	}
	return nil
}
