package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfigValidate(t *testing.T) {
	valid := AppConfig{NodeID: "node-1", ClusterPeers: "node-1:127.0.0.1:8080:7700"}
	require.NoError(t, valid.Validate())

	noID := valid
	noID.NodeID = ""
	assert.Error(t, noID.Validate())

	noPeers := valid
	noPeers.ClusterPeers = ""
	assert.Error(t, noPeers.Validate())
}

func TestParsePeersEmpty(t *testing.T) {
	peers, err := parsePeers("")
	require.NoError(t, err)
	assert.Empty(t, peers)

	peers, err = parsePeers("   ")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestParsePeersMultiple(t *testing.T) {
	peers, err := parsePeers("node-1:10.0.0.1:8080:7700,node-2:10.0.0.2:8080:7700")
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, peerSpec{nodeID: "node-1", host: "10.0.0.1", clientPort: 8080, rpcPort: 7700}, peers[0])
	assert.Equal(t, peerSpec{nodeID: "node-2", host: "10.0.0.2", clientPort: 8080, rpcPort: 7700}, peers[1])
}

func TestParsePeersIgnoresBlankEntries(t *testing.T) {
	peers, err := parsePeers("node-1:10.0.0.1:8080:7700,, node-2:10.0.0.2:8080:7700 ,")
	require.NoError(t, err)
	require.Len(t, peers, 2)
}

func TestParsePeersRejectsMalformedEntry(t *testing.T) {
	_, err := parsePeers("node-1")
	assert.Error(t, err)

	_, err = parsePeers(":10.0.0.1:8080:7700")
	assert.Error(t, err)

	_, err = parsePeers("node-1:10.0.0.1:notaport:7700")
	assert.Error(t, err)

	_, err = parsePeers("node-1:10.0.0.1:8080:notaport")
	assert.Error(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	err := Run(context.Background(), &AppConfig{})
	assert.Error(t, err)
}

func TestRunRejectsInvalidLogLevel(t *testing.T) {
	cfg := &AppConfig{NodeID: "node-1", ClusterPeers: "node-1:127.0.0.1:8080:7700", LogLevel: "not-a-level"}
	err := Run(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunRejectsUnknownNodeID(t *testing.T) {
	cfg := &AppConfig{NodeID: "ghost", ClusterPeers: "node-1:127.0.0.1:8080:7700", LogLevel: "ERROR"}
	err := Run(context.Background(), cfg)
	assert.Error(t, err)
}

// TestRunStartsAndShutsDownCleanly exercises the full wiring path on a
// single node with no peers: both listeners come up, a canceled context
// triggers Shutdown on both, and Run returns nil.
func TestRunStartsAndShutsDownCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &AppConfig{
		NodeID:       "node-1",
		ClusterPeers: "node-1:127.0.0.1:18080:18090",
		LogLevel:     "ERROR",
	}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
