package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/observability"
	"github.com/gochatmesh/noded/internal/wire"
)

// Client calls a single peer's RPC methods over HTTP+JSON. Every peer
// gets its own circuit breaker so one degraded node can't starve calls
// to healthy ones, and every outbound call is bounded by a shared
// semaphore so a node never opens more concurrent RPC connections than
// its worker pool allows (spec.md §5, §9).
type Client struct {
	nodeID     string
	address    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	sem        *semaphore.Weighted
	metrics    *observability.Metrics
	logger     *logging.Logger
}

// NewClient builds a Client for a single peer node.
func NewClient(nodeID, address string, callTimeout time.Duration, sem *semaphore.Weighted, metrics *observability.Metrics, logger *logging.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "rpc-" + nodeID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Client{
		nodeID:     nodeID,
		address:    address,
		httpClient: &http.Client{Timeout: callTimeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		sem:        sem,
		metrics:    metrics,
		logger:     logger,
	}
}

// call performs one RPC, acquiring the shared worker-pool semaphore,
// routing through this peer's circuit breaker, and recording metrics.
func (c *Client) call(ctx context.Context, method Method, req, resp interface{}) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rpc worker pool: %w", err)
	}
	defer c.sem.Release(1)

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doHTTP(ctx, method, req, resp)
	})
	_ = result

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if err == gobreaker.ErrOpenState {
			outcome = "circuit_open"
		}
	}
	if c.metrics != nil {
		c.metrics.RPCCallDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
		c.metrics.RPCCallsTotal.WithLabelValues(string(method), outcome).Inc()
	}
	if err != nil {
		c.logger.Warn(ctx, "rpc call failed", "method", method, "peer", c.nodeID, "outcome", outcome, "error", err)
	}
	return err
}

func (c *Client) doHTTP(ctx context.Context, method Method, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+method.Path(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc %s to %s: %w", method, c.nodeID, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		var apiErr wire.APIError
		if decodeErr := json.NewDecoder(httpResp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Code != "" {
			return &apiErr
		}
		return fmt.Errorf("rpc %s to %s: status %d", method, c.nodeID, httpResp.StatusCode)
	}

	if resp == nil {
		return nil
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func (c *Client) GetHostedRooms(ctx context.Context) (*wire.GetHostedRoomsResponse, error) {
	var resp wire.GetHostedRoomsResponse
	if err := c.call(ctx, MethodGetHostedRooms, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) JoinRoom(ctx context.Context, req wire.JoinRoomRPCRequest) (*wire.JoinRoomRPCResponse, error) {
	var resp wire.JoinRoomRPCResponse
	if err := c.call(ctx, MethodJoinRoom, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) LeaveRoom(ctx context.Context, req wire.LeaveRoomRPCRequest) error {
	return c.call(ctx, MethodLeaveRoom, req, nil)
}

func (c *Client) ForwardMessage(ctx context.Context, req wire.ForwardMessageRPCRequest) (*wire.ForwardMessageRPCResponse, error) {
	var resp wire.ForwardMessageRPCResponse
	if err := c.call(ctx, MethodForwardMessage, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ReceiveMessageBroadcast(ctx context.Context, req wire.ReceiveMessageBroadcastRequest) error {
	return c.call(ctx, MethodReceiveMessageBroadcast, req, nil)
}

func (c *Client) ReceiveMemberEventBroadcast(ctx context.Context, req wire.ReceiveMemberEventBroadcastRequest) error {
	return c.call(ctx, MethodReceiveMemberEventBroadcast, req, nil)
}

func (c *Client) NotifyMemberDisconnect(ctx context.Context, req wire.NotifyMemberDisconnectRequest) error {
	return c.call(ctx, MethodNotifyMemberDisconnect, req, nil)
}

func (c *Client) Heartbeat(ctx context.Context) (*wire.HeartbeatResponse, error) {
	var resp wire.HeartbeatResponse
	if err := c.call(ctx, MethodHeartbeat, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PrepareDeleteRoom(ctx context.Context, req wire.PrepareDeleteRoomRequest) (*wire.PrepareDeleteRoomResponse, error) {
	var resp wire.PrepareDeleteRoomResponse
	if err := c.call(ctx, MethodPrepareDeleteRoom, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CommitDeleteRoom(ctx context.Context, req wire.CommitDeleteRoomRequest) (*wire.CommitDeleteRoomResponse, error) {
	var resp wire.CommitDeleteRoomResponse
	if err := c.call(ctx, MethodCommitDeleteRoom, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RollbackDeleteRoom(ctx context.Context, req wire.RollbackDeleteRoomRequest) (*wire.RollbackDeleteRoomResponse, error) {
	var resp wire.RollbackDeleteRoomResponse
	if err := c.call(ctx, MethodRollbackDeleteRoom, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pool holds one Client per peer node plus the shared semaphore bounding
// total outbound RPC concurrency across all peers.
type Pool struct {
	sem     *semaphore.Weighted
	clients map[string]*Client
}

// NewPool builds a Pool for the given peer address map.
func NewPool(peers map[string]string, workerPoolSize int64, callTimeout time.Duration, metrics *observability.Metrics, logger *logging.Logger) *Pool {
	sem := semaphore.NewWeighted(workerPoolSize)
	clients := make(map[string]*Client, len(peers))
	for nodeID, addr := range peers {
		clients[nodeID] = NewClient(nodeID, addr, callTimeout, sem, metrics, logger)
	}
	return &Pool{sem: sem, clients: clients}
}

// Client returns the Client for nodeID, or nil if unknown.
func (p *Pool) Client(nodeID string) *Client {
	return p.clients[nodeID]
}
