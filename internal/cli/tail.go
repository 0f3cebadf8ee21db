package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"yuim/pkg/consumer"
)

func newTailCommand(g *globals) *cobra.Command {
	var room string
	var count int
	var verify bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a room over the websocket and print accepted envelopes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if room == "" {
				return fmt.Errorf("--room is required")
			}
			opts := consumer.Options{RoomID: room}
			if verify {
				kr, err := g.keyring()
				if err != nil {
					return err
				}
				if kr == nil {
					return fmt.Errorf("--verify needs --keys or --config")
				}
				opts.Keyring = kr
			}
			check := consumer.New(opts)

			wsURL, err := g.wsURL(room)
			if err != nil {
				return err
			}
			h := http.Header{}
			g.authorize(h)
			dialer := websocket.Dialer{HandshakeTimeout: g.timeout}
			conn, resp, err := dialer.DialContext(cmd.Context(), wsURL, h)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("dial %s: status=%d: %w", wsURL, resp.StatusCode, err)
				}
				return fmt.Errorf("dial %s: %w", wsURL, err)
			}
			defer conn.Close()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			out := cmd.OutOrStdout()
			seen := 0
			for count <= 0 || seen < count {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					var ce *websocket.CloseError
					if errors.As(err, &ce) || cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if _, err := check.Accept(msg); err != nil {
					if !errors.Is(err, consumer.ErrDuplicate) {
						fmt.Fprintf(cmd.ErrOrStderr(), "drop: %v\n", err)
					}
					continue
				}
				fmt.Fprintf(out, "%s\n", msg)
				seen++
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room id")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many accepted envelopes (0 = forever)")
	cmd.Flags().BoolVar(&verify, "verify", false, "drop envelopes whose signature does not verify")
	return cmd
}

func (g *globals) wsURL(room string) (string, error) {
	u, err := url.Parse(strings.TrimRight(g.server, "/") + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("room_id", room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
