package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"yuim/pkg/envelope"
)

func newSendCommand(g *globals) *cobra.Command {
	var typ, room, txn, data string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Submit one message through POST /v1/messages",
		Example: `  relayctl send --room r1 --data '{"content":"hello"}'
  relayctl send --type gift --room r1 --data '{"gift_id":"rose","quantity":3}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if room == "" {
				return fmt.Errorf("--room is required")
			}
			if _, err := envelope.ParseType(typ); err != nil {
				return fmt.Errorf("--type %q: want one of %s", typ, typeList())
			}
			if txn == "" {
				txn = uuid.NewString()
			}
			if !json.Valid([]byte(data)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			body, err := json.Marshal(map[string]any{
				"type":    typ,
				"room_id": room,
				"txn_id":  txn,
				"data":    json.RawMessage(data),
			})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, g.url("/v1/messages"), bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			g.authorize(req.Header)

			resp, err := g.httpClient().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", resp.StatusCode, bytes.TrimSpace(out))
			if resp.StatusCode >= 300 {
				return fmt.Errorf("relay rejected txn %s: status=%d", txn, resp.StatusCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "chat", "event type: "+typeList())
	cmd.Flags().StringVar(&room, "room", "", "room id")
	cmd.Flags().StringVar(&txn, "txn", "", "txn id (random when empty)")
	cmd.Flags().StringVar(&data, "data", `{}`, "payload JSON")
	return cmd
}

func typeList() string {
	names := make([]string, 0, len(envelope.Types()))
	for _, t := range envelope.Types() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
