// Package failuredetector runs the two cooperative background tasks that
// keep a node's view of peer and member liveness current: a heartbeat
// monitor against other nodes, and a stale-member sweeper against this
// node's own locally administered rooms (spec.md §4.F).
package failuredetector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/observability"
	"github.com/gochatmesh/noded/internal/peers"
	"github.com/gochatmesh/noded/internal/roomstate"
	"github.com/gochatmesh/noded/internal/rpc"
)

// MemberEventNotifier delivers a member_left event both to this node's own
// subscribed sessions and to every other peer, independent of how the
// eviction was discovered.
type MemberEventNotifier interface {
	NotifyMemberLeft(roomID uuid.UUID, username, reason string)
	BroadcastMemberLeft(ctx context.Context, roomID uuid.UUID, username, reason string, excludeNode string)
}

// Config holds the detector's tunables, normally sourced from config.Config.
type Config struct {
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	MaxHeartbeatFailures int
	CleanupInterval      time.Duration
	InactivityTimeout    time.Duration
}

// Detector owns the two ticker-driven loops.
type Detector struct {
	rooms    *roomstate.Manager
	registry *peers.Registry
	pool     *rpc.Pool
	notifier MemberEventNotifier
	metrics  *observability.Metrics
	logger   *logging.Logger
	cfg      Config
}

// New builds a Detector.
func New(rooms *roomstate.Manager, registry *peers.Registry, pool *rpc.Pool, notifier MemberEventNotifier, metrics *observability.Metrics, logger *logging.Logger, cfg Config) *Detector {
	return &Detector{rooms: rooms, registry: registry, pool: pool, notifier: notifier, metrics: metrics, logger: logger, cfg: cfg}
}

// Run starts both loops and blocks until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	go d.runHeartbeatMonitor(ctx)
	go d.runStaleMemberSweeper(ctx)
	<-ctx.Done()
}

func (d *Detector) runHeartbeatMonitor(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tickHeartbeats(ctx)
		}
	}
}

func (d *Detector) runStaleMemberSweeper(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tickStaleSweep(ctx)
		}
	}
}

// tickHeartbeats issues one heartbeat round against every node this node
// currently has a local member hosted by. A single RPC failure never stops
// the loop (recover() guards the whole tick, matching spec.md §4.F).
func (d *Detector) tickHeartbeats(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "heartbeat tick panicked", "recover", r)
		}
	}()

	for _, nodeID := range d.rooms.AllMemberNodes() {
		d.checkPeer(ctx, nodeID)
	}
}

func (d *Detector) checkPeer(ctx context.Context, nodeID string) {
	client := d.pool.Client(nodeID)
	if client == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.HeartbeatTimeout)
	defer cancel()

	_, err := client.Heartbeat(callCtx)
	if err == nil {
		d.rooms.RecordNodeHeartbeatSuccess(nodeID)
		return
	}

	d.logger.Warn(ctx, "heartbeat failed", "peer", nodeID, "error", err)
	if d.metrics != nil {
		d.metrics.HeartbeatFailures.WithLabelValues(nodeID).Inc()
	}

	failed := d.rooms.RecordNodeHeartbeatFailure(nodeID, d.cfg.MaxHeartbeatFailures)
	if !failed {
		return
	}

	d.logger.Warn(ctx, "node marked failed, evicting its members", "peer", nodeID)
	removed := d.rooms.RemoveAllMembersFromNode(nodeID)
	for _, r := range removed {
		d.notifier.NotifyMemberLeft(r.RoomID, r.Username, "Node unreachable")
		d.notifier.BroadcastMemberLeft(ctx, r.RoomID, r.Username, "Node unreachable", nodeID)
	}
}

// tickStaleSweep evicts inactive members from every room this node admins.
func (d *Detector) tickStaleSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "stale-member sweep panicked", "recover", r)
		}
	}()

	for _, room := range d.rooms.ListRooms() {
		stale := d.rooms.GetStaleMembers(room.RoomID, d.cfg.InactivityTimeout)
		for _, username := range stale {
			d.rooms.RemoveMember(room.RoomID, username)
			d.logger.Info(ctx, "evicted stale member", "room_id", room.RoomID, "username", username)
			d.notifier.NotifyMemberLeft(room.RoomID, username, "Connection timeout")
			d.notifier.BroadcastMemberLeft(ctx, room.RoomID, username, "Connection timeout", "")
		}
	}
}
