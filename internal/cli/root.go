// Package cli holds the relayctl commands: submitting messages, tailing a room
// over the websocket, reading the room log, and verifying envelope signatures.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"yuim/internal/config"
	"yuim/pkg/keyring"
)

// globals shared by every subcommand.
type globals struct {
	server  string
	token   string
	uid     string
	cfgPath string
	keys    string
	kid     string
	timeout time.Duration
}

func NewRoot() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operator tool for the im-relay message pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("RELAYCTL_SERVER", "http://127.0.0.1:7001"), "relay base URL")
	pf.StringVar(&g.token, "token", os.Getenv("RELAYCTL_TOKEN"), "session token or JWT")
	pf.StringVar(&g.uid, "uid", "", "sender id, only honoured by relays running with auth disabled")
	pf.StringVarP(&g.cfgPath, "config", "c", "", "relay config files to read signing keys from (a.yml,b.yml)")
	pf.StringVar(&g.keys, "keys", "", "signing keys as kid:secret,kid:secret (overrides --config)")
	pf.StringVar(&g.kid, "kid", "", "current kid when --keys is used (defaults to the first)")
	pf.DurationVar(&g.timeout, "timeout", 5*time.Second, "HTTP request timeout")

	root.AddCommand(
		newSendCommand(g),
		newTailCommand(g),
		newEventsCommand(g),
		newVerifyCommand(g),
	)
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (g *globals) httpClient() *http.Client { return &http.Client{Timeout: g.timeout} }

// authorize sets the credentials the relay's auth middleware reads.
func (g *globals) authorize(h http.Header) {
	if g.token != "" {
		h.Set("Authorization", "Bearer "+g.token)
	}
	if g.uid != "" {
		h.Set("X-Uid", g.uid)
	}
}

func (g *globals) url(path string) string {
	return strings.TrimRight(g.server, "/") + path
}

// keyring returns nil when neither --keys nor --config is given.
func (g *globals) keyring() (*keyring.Keyring, error) {
	if g.keys != "" {
		return parseKeys(g.keys, g.kid)
	}
	if g.cfgPath == "" {
		return nil, nil
	}
	cfg, err := config.Load(g.cfgPath)
	if err != nil {
		return nil, err
	}
	return keyring.New(cfg.Signing.Keys, cfg.Signing.CurrentKID)
}

func parseKeys(list, current string) (*keyring.Keyring, error) {
	keys := map[string]string{}
	first := ""
	for _, kv := range strings.Split(list, ",") {
		kid, secret, ok := strings.Cut(strings.TrimSpace(kv), ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid key %q; expected kid:secret", kv)
		}
		if first == "" {
			first = kid
		}
		keys[kid] = secret
	}
	if current == "" {
		current = first
	}
	return keyring.New(keys, current)
}
