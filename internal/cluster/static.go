package cluster

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Member is one node of a statically configured cluster.
type Member struct {
	Token string
	URL   string
}

// StaticConfig configures a StaticProvider.
type StaticConfig struct {
	// NodeToken identifies the local node. Required.
	NodeToken string

	// Members lists every node of the cluster, the local node included.
	// An empty list yields a standalone (uncoordinated) provider.
	Members []Member

	// Coordinator names the member that holds the coordinator role. When
	// empty no leadership record is published.
	Coordinator string

	// HTTPClient is used for outbound pushes. Defaults to a client with
	// a 10s timeout.
	HTTPClient *http.Client
}

// StaticProvider implements Node and Coordination from a fixed member
// list. Leadership is modeled as a record at LeaderPath whose sequence
// advances on every handover, so resolver caches observe the same record
// churn a live coordination store would produce.
type StaticProvider struct {
	nodeToken string
	session   string
	client    *http.Client

	mu        sync.RWMutex
	connected bool
	members   map[string]string
	records   map[string][]byte
	seq       uint64
}

// NewStaticProvider validates cfg and builds a provider. The leadership
// record, when a coordinator is named, is published before return.
func NewStaticProvider(cfg StaticConfig) (*StaticProvider, error) {
	if err := ValidateToken(cfg.NodeToken); err != nil {
		return nil, err
	}

	members := make(map[string]string, len(cfg.Members))
	for _, m := range cfg.Members {
		if err := ValidateToken(m.Token); err != nil {
			return nil, fmt.Errorf("member %q: %w", m.Token, err)
		}
		if _, err := url.ParseRequestURI(m.URL); err != nil {
			return nil, fmt.Errorf("member %q: invalid url %q: %w", m.Token, m.URL, err)
		}
		if _, dup := members[m.Token]; dup {
			return nil, fmt.Errorf("member %q listed twice", m.Token)
		}
		members[m.Token] = m.URL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	p := &StaticProvider{
		nodeToken: cfg.NodeToken,
		session:   fmt.Sprintf("%x", time.Now().UnixNano()),
		client:    client,
		connected: true,
		members:   members,
		records:   make(map[string][]byte),
	}

	if cfg.Coordinator != "" {
		if err := p.SetCoordinator(cfg.Coordinator); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NodeID implements Coordination.
func (p *StaticProvider) NodeID() string { return p.nodeToken }

// Connected implements Coordination.
func (p *StaticProvider) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// SetConnected flips the simulated session state. Used to exercise the
// disconnected branches of dependents.
func (p *StaticProvider) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

// Read implements Coordination.
func (p *StaticProvider) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.records[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// BaseURLFor implements Coordination.
func (p *StaticProvider) BaseURLFor(nodeToken string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.members[nodeToken]
	return u, ok
}

// Coordinated implements Node. A provider without members is standalone.
func (p *StaticProvider) Coordinated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members) > 0
}

// Coordination implements Node.
func (p *StaticProvider) Coordination() Coordination { return p }

// HTTPClient implements Node.
func (p *StaticProvider) HTTPClient() *http.Client { return p.client }

// IsCoordinator reports whether the local node currently holds the
// coordinator role.
func (p *StaticProvider) IsCoordinator() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.records[LeaderPath]
	if !ok {
		return false
	}
	rec, err := DecodeLeaderRecord(data)
	if err != nil {
		return false
	}
	id, err := ParseLeaderID(rec.ID)
	if err != nil {
		return false
	}
	return id.NodeToken == p.nodeToken
}

// SetCoordinator hands the coordinator role to the named member and
// republishes the leadership record with the next sequence number.
func (p *StaticProvider) SetCoordinator(nodeToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.members[nodeToken]; !ok {
		return fmt.Errorf("coordinator %q is not a member", nodeToken)
	}
	p.seq++
	id := FormatLeaderID(p.session, nodeToken, fmt.Sprintf("%010d", p.seq))
	data, err := EncodeLeaderRecord(id)
	if err != nil {
		return err
	}
	p.records[LeaderPath] = data
	return nil
}

// ClearCoordinator removes the leadership record, leaving the cluster
// without a coordinator.
func (p *StaticProvider) ClearCoordinator() {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, LeaderPath)
}

// PutRecord stores raw data at a coordination path. Intended for tests
// that need to shape records directly.
func (p *StaticProvider) PutRecord(path string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[path] = append([]byte(nil), data...)
}
