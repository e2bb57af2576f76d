package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMembers() []Member {
	return []Member{
		{Token: "alpha", URL: "http://alpha.internal:7700"},
		{Token: "beta", URL: "http://beta.internal:7700"},
	}
}

func TestNewStaticProvider(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{
		NodeToken:   "alpha",
		Members:     testMembers(),
		Coordinator: "beta",
	})
	require.NoError(t, err)

	assert.Equal(t, "alpha", p.NodeID())
	assert.True(t, p.Connected())
	assert.True(t, p.Coordinated())
	assert.False(t, p.IsCoordinator())
	assert.NotNil(t, p.HTTPClient())

	u, ok := p.BaseURLFor("beta")
	require.True(t, ok)
	assert.Equal(t, "http://beta.internal:7700", u)

	_, ok = p.BaseURLFor("gamma")
	assert.False(t, ok)
}

func TestNewStaticProviderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  StaticConfig
	}{
		{
			name: "empty node token",
			cfg:  StaticConfig{Members: testMembers()},
		},
		{
			name: "dashed node token",
			cfg:  StaticConfig{NodeToken: "node-1", Members: testMembers()},
		},
		{
			name: "dashed member token",
			cfg: StaticConfig{
				NodeToken: "alpha",
				Members:   []Member{{Token: "bad-token", URL: "http://x:1"}},
			},
		},
		{
			name: "invalid member url",
			cfg: StaticConfig{
				NodeToken: "alpha",
				Members:   []Member{{Token: "alpha", URL: "not a url"}},
			},
		},
		{
			name: "duplicate member",
			cfg: StaticConfig{
				NodeToken: "alpha",
				Members: []Member{
					{Token: "alpha", URL: "http://a:1"},
					{Token: "alpha", URL: "http://b:1"},
				},
			},
		},
		{
			name: "unknown coordinator",
			cfg: StaticConfig{
				NodeToken:   "alpha",
				Members:     testMembers(),
				Coordinator: "gamma",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStaticProvider(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestStaticProviderStandalone(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{NodeToken: "solo"})
	require.NoError(t, err)
	assert.False(t, p.Coordinated())
}

func TestStaticProviderLeaderRecord(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{
		NodeToken:   "alpha",
		Members:     testMembers(),
		Coordinator: "alpha",
	})
	require.NoError(t, err)
	assert.True(t, p.IsCoordinator())

	data, err := p.Read(context.Background(), LeaderPath)
	require.NoError(t, err)

	rec, err := DecodeLeaderRecord(data)
	require.NoError(t, err)
	id, err := ParseLeaderID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", id.NodeToken)
	firstSeq := id.Sequence

	// Handover bumps the sequence and switches the token.
	require.NoError(t, p.SetCoordinator("beta"))
	assert.False(t, p.IsCoordinator())

	data, err = p.Read(context.Background(), LeaderPath)
	require.NoError(t, err)
	rec, err = DecodeLeaderRecord(data)
	require.NoError(t, err)
	id, err = ParseLeaderID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "beta", id.NodeToken)
	assert.Greater(t, id.Sequence, firstSeq)
}

func TestStaticProviderReadNotFound(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{
		NodeToken: "alpha",
		Members:   testMembers(),
	})
	require.NoError(t, err)

	_, err = p.Read(context.Background(), LeaderPath)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticProviderReadCancelled(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{
		NodeToken:   "alpha",
		Members:     testMembers(),
		Coordinator: "alpha",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Read(ctx, LeaderPath)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticProviderConnectivity(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{
		NodeToken: "alpha",
		Members:   testMembers(),
	})
	require.NoError(t, err)

	p.SetConnected(false)
	assert.False(t, p.Connected())
	p.SetConnected(true)
	assert.True(t, p.Connected())
}

func TestStaticProviderClearCoordinator(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{
		NodeToken:   "alpha",
		Members:     testMembers(),
		Coordinator: "alpha",
	})
	require.NoError(t, err)

	p.ClearCoordinator()
	assert.False(t, p.IsCoordinator())
	_, err = p.Read(context.Background(), LeaderPath)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticProviderPutRecord(t *testing.T) {
	p, err := NewStaticProvider(StaticConfig{
		NodeToken: "alpha",
		Members:   testMembers(),
	})
	require.NoError(t, err)

	p.PutRecord(LeaderPath, []byte(`{"id":"sess-beta-0000000001"}`))
	data, err := p.Read(context.Background(), LeaderPath)
	require.NoError(t, err)
	rec, err := DecodeLeaderRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "sess-beta-0000000001", rec.ID)
}
