package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulse/pulse/internal/collector"
	"github.com/pulse/pulse/pkg/log"
)

func TestNewMessage(t *testing.T) {
	payload := map[string]string{"key": "value"}
	msg, err := NewMessage(MessageTypeReport, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type != MessageTypeReport {
		t.Errorf("expected type %s, got %s", MessageTypeReport, msg.Type)
	}

	if msg.ID == "" {
		t.Error("expected non-empty ID")
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var decoded map[string]string
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded["key"] != "value" {
		t.Errorf("expected payload key='value', got %s", decoded["key"])
	}
}

func TestNewGroupMessage(t *testing.T) {
	msg, err := NewGroupMessage(MessageTypeSubscribed, "coordinator", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Group != "coordinator" {
		t.Errorf("expected group 'coordinator', got '%s'", msg.Group)
	}
}

func TestMessageBytes(t *testing.T) {
	msg, _ := NewMessage(MessageTypePong, nil)
	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}

	if parsed.Type != msg.Type {
		t.Errorf("expected type %s, got %s", msg.Type, parsed.Type)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	_, err := ParseMessage([]byte("not json"))
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestReportPayload_JSON(t *testing.T) {
	payload := ReportPayload{
		Group:      "coordinator",
		Reporter:   "alpha",
		Label:      "node",
		Families:   4,
		Series:     12,
		ReceivedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded ReportPayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Reporter != "alpha" {
		t.Errorf("expected reporter 'alpha', got '%s'", decoded.Reporter)
	}

	if decoded.Series != 12 {
		t.Errorf("expected 12 series, got %d", decoded.Series)
	}
}

func TestConnectionSendDropsWhenFull(t *testing.T) {
	conn := NewConnection(nil, nil, 1, log.NewNop())

	if !conn.Send([]byte("first")) {
		t.Error("expected first send to succeed")
	}

	// Buffer of one is full; the message is dropped.
	if conn.Send([]byte("second")) {
		t.Error("expected second send to be dropped")
	}

	conn.Close()
	if conn.Send([]byte("third")) {
		t.Error("expected send on closed connection to fail")
	}
}

// recvMessage reads one queued message from a pump-less connection.
func recvMessage(t *testing.T, c *Connection) *Message {
	t.Helper()
	select {
	case data := <-c.send:
		msg, err := ParseMessage(data)
		if err != nil {
			t.Fatalf("failed to parse message: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_RegisterSubscribeBroadcast(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), log.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := NewConnection(nil, hub, 8, log.NewNop())
	hub.Register(conn, "coordinator")

	// The subscription confirmation proves registration was processed.
	msg := recvMessage(t, conn)
	if msg.Type != MessageTypeSubscribed || msg.Group != "coordinator" {
		t.Fatalf("expected subscribed to coordinator, got %s/%s", msg.Type, msg.Group)
	}

	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}
	if hub.GroupConnectionCount("coordinator") != 1 {
		t.Errorf("expected 1 coordinator subscriber, got %d", hub.GroupConnectionCount("coordinator"))
	}

	hub.Broadcast("coordinator", []byte(`{"type":"report"}`))
	msg = recvMessage(t, conn)
	if msg.Type != MessageTypeReport {
		t.Errorf("expected report message, got %s", msg.Type)
	}

	// Events for other groups are not delivered.
	hub.Broadcast("zonal", []byte(`{"type":"report"}`))
	select {
	case data := <-conn.send:
		t.Errorf("unexpected message for other group: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_WildcardReceivesAllGroups(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), log.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := NewConnection(nil, hub, 8, log.NewNop())
	hub.Register(conn, GroupAll)

	msg := recvMessage(t, conn)
	if msg.Type != MessageTypeSubscribed || msg.Group != GroupAll {
		t.Fatalf("expected subscribed to %s, got %s/%s", GroupAll, msg.Type, msg.Group)
	}

	hub.Broadcast("coordinator", []byte(`{"type":"report","group":"coordinator"}`))
	msg = recvMessage(t, conn)
	if msg.Group != "coordinator" {
		t.Errorf("expected coordinator event, got group %q", msg.Group)
	}

	hub.Broadcast("zonal", []byte(`{"type":"report","group":"zonal"}`))
	msg = recvMessage(t, conn)
	if msg.Group != "zonal" {
		t.Errorf("expected zonal event, got group %q", msg.Group)
	}
}

func TestHub_UnregisterCleansGroups(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), log.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := NewConnection(nil, hub, 8, log.NewNop())
	hub.Register(conn, "coordinator")
	recvMessage(t, conn)

	hub.Unregister(conn)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for unregister")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if hub.GroupCount() != 0 {
		t.Errorf("expected 0 groups after unregister, got %d", hub.GroupCount())
	}
	if !conn.IsClosed() {
		t.Error("expected connection to be closed")
	}
}

func TestHub_IsHealthy(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), log.NewNop(), nil)
	if !hub.IsHealthy() {
		t.Error("expected hub to be healthy")
	}
	if hub.GroupCount() != 0 {
		t.Errorf("expected 0 groups, got %d", hub.GroupCount())
	}
}

// readStreamMessages reads frames from a client connection, splitting
// batched frames, until n messages have arrived.
func readStreamMessages(t *testing.T, ws *websocket.Conn, n int) []*Message {
	t.Helper()

	var messages []*Message
	for len(messages) < n {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read message: %v", err)
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			msg, err := ParseMessage(line)
			if err != nil {
				t.Fatalf("failed to parse message %q: %v", line, err)
			}
			messages = append(messages, msg)
		}
	}
	return messages
}

func TestStreamEndToEnd(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), log.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewHandler(hub, log.NewNop()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	grouped, _, err := websocket.DefaultDialer.Dial(wsURL+"/?group=coordinator", nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer grouped.Close()

	watcher, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer watcher.Close()

	// Both clients see their subscription confirmed before any events.
	msgs := readStreamMessages(t, grouped, 1)
	if msgs[0].Type != MessageTypeSubscribed || msgs[0].Group != "coordinator" {
		t.Fatalf("expected subscribed to coordinator, got %s/%s", msgs[0].Type, msgs[0].Group)
	}
	msgs = readStreamMessages(t, watcher, 1)
	if msgs[0].Type != MessageTypeSubscribed || msgs[0].Group != GroupAll {
		t.Fatalf("expected subscribed to %s, got %s/%s", GroupAll, msgs[0].Type, msgs[0].Group)
	}

	publisher := NewPublisher(hub, log.NewNop())
	publisher.ReportAccepted(collector.Source{
		Group:    "coordinator",
		Reporter: "alpha",
		Label:    "node",
		LastSeen: time.Now().UTC(),
		Families: 2,
		Series:   5,
	})

	for _, client := range []*websocket.Conn{grouped, watcher} {
		msgs = readStreamMessages(t, client, 1)
		if msgs[0].Type != MessageTypeReport {
			t.Fatalf("expected report event, got %s", msgs[0].Type)
		}

		var payload ReportPayload
		if err := json.Unmarshal(msgs[0].Payload, &payload); err != nil {
			t.Fatalf("failed to decode report payload: %v", err)
		}
		if payload.Reporter != "alpha" || payload.Series != 5 {
			t.Errorf("unexpected payload: %+v", payload)
		}
	}

	// Events for unrelated groups only reach the wildcard watcher.
	publisher.ReportAccepted(collector.Source{
		Group:    "zonal",
		Reporter: "beta",
		LastSeen: time.Now().UTC(),
	})

	msgs = readStreamMessages(t, watcher, 1)
	if msgs[0].Group != "zonal" {
		t.Errorf("expected zonal event, got group %q", msgs[0].Group)
	}

	grouped.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := grouped.ReadMessage(); err == nil {
		t.Error("expected no message for the grouped client")
	}
}
