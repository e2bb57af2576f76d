package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// streamMessage mirrors the coordinator's stream envelope
type streamMessage struct {
	Type      string          `json:"type"`
	Group     string          `json:"group,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

// reportEvent is the payload of a report message
type reportEvent struct {
	Group      string    `json:"group"`
	Reporter   string    `json:"reporter"`
	Label      string    `json:"label,omitempty"`
	Families   int       `json:"families"`
	Series     int       `json:"series"`
	ReceivedAt time.Time `json:"received_at"`
}

// streamErrorPayload is the payload of a stream error message
type streamErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// watchCmd streams live report events
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live report events",
	Long: `Connect to the coordinator's WebSocket stream and print a line for
every report the collector accepts.

Watches all groups by default; use --group to narrow the subscription
to one aggregate group. With JSON output each stream message is printed
as one JSON line. Press Ctrl+C to stop.`,
	Example: `  # Watch every group
  pulse-ctl watch

  # Watch only the node group
  pulse-ctl watch --group node

  # Feed events into other tooling
  pulse-ctl watch -o json | jq .group`,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")

		wsURL := apiClient.StreamURL(group)

		if outputFormat != "json" {
			Info(fmt.Sprintf("Streaming reports from %s (Ctrl+C to stop)", wsURL))
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return fmt.Errorf("failed to connect to stream: %w", err)
		}
		defer conn.Close()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)

		done := make(chan error, 1)
		go func() { done <- readStream(conn) }()

		select {
		case err := <-done:
			return err
		case <-interrupt:
			// Start the close handshake and give the server a moment
			// to answer before tearing the connection down.
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		}
	},
}

func init() {
	watchCmd.Flags().String("group", "", "Aggregate group to watch (default: all groups)")
}

// readStream reads and prints stream messages until the connection
// closes. A normal close is not an error.
func readStream(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}

		if outputFormat == "json" {
			fmt.Println(string(data))
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			Error("failed to parse stream message")
			continue
		}
		printStreamMessage(&msg)
	}
}

// printStreamMessage renders one stream message for the terminal
func printStreamMessage(msg *streamMessage) {
	switch msg.Type {
	case "subscribed":
		Success(fmt.Sprintf("Subscribed to group %s", Cyan(msg.Group)))
	case "unsubscribed":
		Info(fmt.Sprintf("Unsubscribed from group %s", Cyan(msg.Group)))
	case "report":
		var ev reportEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			Error("failed to parse report event")
			return
		}

		reporter := ev.Reporter
		if ev.Label != "" {
			reporter += Dim("[" + ev.Label + "]")
		}

		fmt.Printf("%s  %s  %s  %s\n",
			Dim(ev.ReceivedAt.Local().Format("15:04:05")),
			Cyan(padRight(ev.Group, 12)),
			padRight(reporter, 24),
			Dim(fmt.Sprintf("families=%d series=%d", ev.Families, ev.Series)))
	case "error":
		var ep streamErrorPayload
		if err := json.Unmarshal(msg.Payload, &ep); err != nil {
			Warning("stream error")
			return
		}
		Warning(fmt.Sprintf("%s: %s", ep.Code, ep.Message))
	}
}
