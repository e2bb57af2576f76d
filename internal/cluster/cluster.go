// Package cluster defines the boundary between a Pulse node and the
// cluster coordination service: node identity, connectivity, the
// leadership record, and the membership directory that maps node tokens
// to base URLs. A file-configured static provider is included for
// deployments without an external coordination store.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// LeaderPath is the well-known coordination path of the coordinator
// leadership record.
const LeaderPath = "/pulse/coordinator/leader"

// ErrNotFound reports that no data exists at the requested path.
var ErrNotFound = errors.New("cluster: not found")

// Coordination is the coordination-store surface used by a node.
type Coordination interface {
	// NodeID returns this node's stable identity token.
	NodeID() string

	// Connected reports whether the coordination session is currently live.
	Connected() bool

	// Read returns the data stored at path, or ErrNotFound when absent.
	Read(ctx context.Context, path string) ([]byte, error)

	// BaseURLFor translates a member's node token to its base URL.
	BaseURLFor(nodeToken string) (string, bool)
}

// Node is the hosting-node surface the reporting service attaches to.
type Node interface {
	// Coordinated reports whether this node participates in clustered
	// coordination at all.
	Coordinated() bool

	// Coordination returns the coordination client handle.
	Coordination() Coordination

	// HTTPClient returns the client used for outbound pushes.
	HTTPClient() *http.Client
}

// LeaderRecord is the JSON document stored at LeaderPath.
type LeaderRecord struct {
	ID string `json:"id"`
}

// DecodeLeaderRecord parses a leadership record document.
func DecodeLeaderRecord(data []byte) (LeaderRecord, error) {
	var rec LeaderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LeaderRecord{}, fmt.Errorf("malformed leadership record: %w", err)
	}
	return rec, nil
}

// EncodeLeaderRecord renders a leadership record document.
func EncodeLeaderRecord(id string) ([]byte, error) {
	return json.Marshal(LeaderRecord{ID: id})
}

// LeaderID is the parsed identity stored in a leadership record. The wire
// form is three dash-delimited parts: sessionID-nodeToken-sequence. Node
// tokens therefore must not contain a dash.
type LeaderID struct {
	SessionID string
	NodeToken string
	Sequence  string
}

// FormatLeaderID renders the wire form of a leadership identity.
func FormatLeaderID(sessionID, nodeToken, sequence string) string {
	return sessionID + "-" + nodeToken + "-" + sequence
}

// ParseLeaderID splits a leadership identity into its three parts.
// Any other shape is rejected.
func ParseLeaderID(id string) (LeaderID, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return LeaderID{}, fmt.Errorf("unknown leader id format: %q", id)
	}
	return LeaderID{
		SessionID: parts[0],
		NodeToken: parts[1],
		Sequence:  parts[2],
	}, nil
}

// ValidateToken rejects node tokens that cannot round-trip through a
// leadership identity.
func ValidateToken(token string) error {
	if token == "" {
		return errors.New("node token must not be empty")
	}
	if strings.Contains(token, "-") {
		return fmt.Errorf("node token %q must not contain '-'", token)
	}
	return nil
}
