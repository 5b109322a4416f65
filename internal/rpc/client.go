package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/sharetube/roomcluster/internal/raft"
	"github.com/sharetube/roomcluster/internal/roomstate"
	"github.com/sharetube/roomcluster/internal/wire"
)

// Client is the outbound half of the transport: it implements raft.Transport
// for the Raft group's own RPCs, plus the CREATE_ROOM handshake and
// forwarded-client-op calls the gateway and registry need (§4.4/§4.5/§4.6).
// One Client is shared by every room's Raft group on a node.
type Client struct {
	nodeID     string
	peerAddrs  map[string]string // nodeID -> base URL, e.g. "http://10.0.0.2:7000"
	httpClient *http.Client
}

// NewClient builds a Client. peerAddrs must contain every other node's RPC
// base address, keyed by node id; it is read-only after construction.
func NewClient(nodeID string, peerAddrs map[string]string) *Client {
	return &Client{
		nodeID:    nodeID,
		peerAddrs: peerAddrs,
		httpClient: &http.Client{
			Timeout: raft.DefaultRPCTimeout,
		},
	}
}

var _ raft.Transport = (*Client)(nil)

func (c *Client) SendRequestVote(ctx context.Context, peerID, roomCode string, args raft.RequestVoteArgs) (raft.RequestVoteReply, error) {
	var reply raft.RequestVoteReply
	err := c.call(ctx, peerID, wire.RPCTypeRequestVote, roomCode, args, &reply)
	return reply, err
}

func (c *Client) SendAppendEntries(ctx context.Context, peerID, roomCode string, args raft.AppendEntriesArgs) (raft.AppendEntriesReply, error) {
	var reply raft.AppendEntriesReply
	err := c.call(ctx, peerID, wire.RPCTypeAppendEntries, roomCode, args, &reply)
	return reply, err
}

// SendCreateRoom fans the room-creation handshake out to one peer so that
// peer instantiates its Raft group for roomCode before any AppendEntries for
// it can arrive (§4.5).
func (c *Client) SendCreateRoom(ctx context.Context, peerID string, args wire.CreateRoomArgs) error {
	return c.call(ctx, peerID, wire.RPCTypeCreateRoom, args.RoomCode, args, nil)
}

// SendForwardedOp asks peerID (believed to be the room's leader) to propose
// op on our behalf (§4.6). The reply's LeaderID is populated when the peer
// itself is not the leader, so the caller can retry at the right node.
func (c *Client) SendForwardedOp(ctx context.Context, peerID, roomCode string, op roomstate.Operation) (ForwardedOpReply, error) {
	var reply ForwardedOpReply
	err := c.call(ctx, peerID, string(op.Kind), roomCode, op, &reply)
	return reply, err
}

// Health checks a peer's /health endpoint.
func (c *Client) Health(ctx context.Context, peerID string) (wire.HealthStatus, error) {
	base, ok := c.peerAddrs[peerID]
	if !ok {
		return wire.HealthStatus{}, fmt.Errorf("rpc: unknown peer %q", peerID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return wire.HealthStatus{}, fmt.Errorf("rpc: build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wire.HealthStatus{}, fmt.Errorf("rpc: health request to %s: %w", peerID, err)
	}
	defer resp.Body.Close()

	var status wire.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return wire.HealthStatus{}, fmt.Errorf("rpc: decode health reply from %s: %w", peerID, err)
	}

	return status, nil
}

// call sends one envelope to peerID and, if reply is non-nil, decodes the
// response body into it. A nil reply is used for fire-and-confirm calls
// like CREATE_ROOM where only the status code matters.
func (c *Client) call(ctx context.Context, peerID, typ, roomCode string, payload any, reply any) error {
	base, ok := c.peerAddrs[peerID]
	if !ok {
		return fmt.Errorf("rpc: unknown peer %q", peerID)
	}

	env := wire.NewEnvelope(typ, c.nodeID, peerID, uuid.NewString(), roomCode, payload)

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("rpc: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/rpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build request to %s: %w", peerID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: call to %s failed: %w", peerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("rpc: %s replied with status %d", peerID, resp.StatusCode)
	}

	if reply == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		return fmt.Errorf("rpc: decode reply from %s: %w", peerID, err)
	}

	return nil
}
