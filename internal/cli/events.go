package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"yuim/pkg/consumer"
)

type eventsPage struct {
	Events []struct {
		ID       string          `json:"id"`
		Envelope json.RawMessage `json:"envelope"`
	} `json:"events"`
	Next string `json:"next"`
}

func newEventsCommand(g *globals) *cobra.Command {
	var room, after string
	var limit int
	var verify bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read a room's durable log, one envelope per line",
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

			q := url.Values{}
			if after != "" {
				q.Set("after", after)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			u := g.url("/v1/rooms/" + url.PathEscape(room) + "/events")
			if len(q) > 0 {
				u += "?" + q.Encode()
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			g.authorize(req.Header)
			resp, err := g.httpClient().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("events status=%d: %s", resp.StatusCode, b)
			}
			var page eventsPage
			if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
				return fmt.Errorf("decode events: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, e := range page.Events {
				if _, err := check.Accept(e.Envelope); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", e.ID, err)
					continue
				}
				fmt.Fprintf(out, "%s %s\n", e.ID, e.Envelope)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "next=%s\n", page.Next)
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room id")
	cmd.Flags().StringVar(&after, "after", "", "exclusive stream id to resume after")
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries (server default when 0)")
	cmd.Flags().BoolVar(&verify, "verify", false, "drop envelopes whose signature does not verify")
	return cmd
}
