// Package twopc drives the two-phase commit protocol for distributed
// room deletion (spec.md §4.E). Coordinator runs on the room's admin
// node; Participant answers the three RPC phases on every other node
// with a local member in the room.
package twopc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/peers"
	"github.com/gochatmesh/noded/internal/roomstate"
	"github.com/gochatmesh/noded/internal/rpc"
	"github.com/gochatmesh/noded/internal/wire"
)

// Notifier delivers the local-subscriber side effects of a deletion —
// delete_room_initiated and room_deleted — without twopc needing to know
// anything about sessions or transport.
type Notifier interface {
	NotifyDeleteInitiated(roomID uuid.UUID, initiator string, transactionID uuid.UUID)
	NotifyRoomDeleted(roomID uuid.UUID, roomName string, transactionID uuid.UUID)
}

// Result is the outcome of a coordinator-driven deletion.
type Result struct {
	TransactionID uuid.UUID
	Committed     bool
	Reason        string
}

// Coordinator runs the admin-node side of 2PC deletion.
type Coordinator struct {
	rooms    *roomstate.Manager
	registry *peers.Registry
	pool     *rpc.Pool
	notifier Notifier
	logger   *logging.Logger

	prepareTimeout time.Duration
	commitTimeout  time.Duration
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(rooms *roomstate.Manager, registry *peers.Registry, pool *rpc.Pool, notifier Notifier, prepareTimeout, commitTimeout time.Duration, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		rooms:          rooms,
		registry:       registry,
		pool:           pool,
		notifier:       notifier,
		prepareTimeout: prepareTimeout,
		commitTimeout:  commitTimeout,
		logger:         logger,
	}
}

// Delete runs the full coordinator algorithm for deleting roomID,
// initiated by username. Only the room's recorded creator may initiate
// (spec.md §4.E authorization rule).
func (c *Coordinator) Delete(ctx context.Context, roomID uuid.UUID, username string) (*Result, error) {
	room := c.rooms.GetRoom(roomID)
	if room == nil {
		return nil, wire.NewError(wire.ErrRoomNotFound, "room not found")
	}
	if room.CreatorID != username {
		return nil, wire.NewError(wire.ErrUnauthorized, "only the room creator may delete this room")
	}

	participants := room.AllMemberNodes()
	txn, err := c.rooms.StartDeletionTransaction(roomID, participants, c.prepareTimeout)
	if err != nil {
		return nil, err
	}

	c.notifier.NotifyDeleteInitiated(roomID, username, txn.TransactionID)

	if len(participants) == 0 {
		return c.commitLocally(roomID, room.RoomName, txn.TransactionID)
	}

	reason := c.runPreparePhase(ctx, txn.TransactionID, roomID, username, participants)

	txn = c.rooms.DeletionTransactionByID(txn.TransactionID)
	if txn != nil && txn.AllVotesReceived() && txn.AllVotesReady() {
		return c.commitEverywhere(ctx, roomID, room.RoomName, txn.TransactionID, participants)
	}

	c.rollbackEverywhere(ctx, txn.TransactionID, roomID, reason, participants)
	c.rooms.RollbackDeletion(txn.TransactionID)
	return &Result{TransactionID: txn.TransactionID, Committed: false, Reason: reason}, nil
}

// runPreparePhase issues prepare_delete_room to every participant in
// parallel with deadline T_prepare. A timeout or transport error counts
// as ABORT (spec.md §4.E step 3). It returns the first observed abort
// reason, or "" if every vote was READY.
func (c *Coordinator) runPreparePhase(ctx context.Context, transactionID, roomID uuid.UUID, initiator string, participants []string) string {
	var reasonMu sync.Mutex
	var firstReason string
	setReason := func(reason string) {
		reasonMu.Lock()
		defer reasonMu.Unlock()
		if firstReason == "" {
			firstReason = reason
		}
	}

	outcomes := c.registry.BroadcastTo(ctx, participants, c.prepareTimeout, func(ctx context.Context, nodeID, addr string) error {
		client := c.pool.Client(nodeID)
		if client == nil {
			return wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		resp, err := client.PrepareDeleteRoom(ctx, wire.PrepareDeleteRoomRequest{
			TransactionID: transactionID,
			RoomID:        roomID,
			Initiator:     initiator,
		})
		if err != nil {
			c.rooms.RecordVote(transactionID, nodeID, roomstate.VoteAbort)
			return err
		}
		vote := roomstate.VoteAbort
		if resp.Vote == "READY" {
			vote = roomstate.VoteReady
		}
		c.rooms.RecordVote(transactionID, nodeID, vote)
		if vote == roomstate.VoteAbort {
			setReason(resp.Reason)
		}
		return nil
	})

	for nodeID, err := range outcomes {
		if err != nil {
			c.logger.Warn(ctx, "prepare_delete_room failed, treating as abort", "peer", nodeID, "error", err)
			setReason("prepare phase timed out or peer unreachable")
		}
	}
	return firstReason
}

func (c *Coordinator) commitEverywhere(ctx context.Context, roomID uuid.UUID, roomName string, transactionID uuid.UUID, participants []string) (*Result, error) {
	c.rooms.TransitionToCommit(transactionID)

	outcomes := c.registry.BroadcastTo(ctx, participants, c.commitTimeout, func(ctx context.Context, nodeID, addr string) error {
		client := c.pool.Client(nodeID)
		if client == nil {
			return wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		_, err := client.CommitDeleteRoom(ctx, wire.CommitDeleteRoomRequest{TransactionID: transactionID, RoomID: roomID})
		return err
	})
	for nodeID, err := range outcomes {
		if err != nil {
			// A failed commit on one peer does not abort the transaction
			// (spec.md §4.E "Failure semantics") — the coordinator commits
			// locally regardless and logs the unreachable peer.
			c.logger.Warn(ctx, "commit_delete_room failed on peer, committing locally anyway", "peer", nodeID, "error", err)
		}
	}

	return c.commitLocally(roomID, roomName, transactionID)
}

func (c *Coordinator) commitLocally(roomID uuid.UUID, roomName string, transactionID uuid.UUID) (*Result, error) {
	c.rooms.CompleteDeletion(transactionID)
	c.notifier.NotifyRoomDeleted(roomID, roomName, transactionID)
	return &Result{TransactionID: transactionID, Committed: true}, nil
}

func (c *Coordinator) rollbackEverywhere(ctx context.Context, transactionID, roomID uuid.UUID, reason string, participants []string) {
	c.rooms.TransitionToRollback(transactionID)

	outcomes := c.registry.BroadcastTo(ctx, participants, c.commitTimeout, func(ctx context.Context, nodeID, addr string) error {
		client := c.pool.Client(nodeID)
		if client == nil {
			return wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		_, err := client.RollbackDeleteRoom(ctx, wire.RollbackDeleteRoomRequest{TransactionID: transactionID, RoomID: roomID, Reason: reason})
		return err
	})
	for nodeID, err := range outcomes {
		if err != nil {
			c.logger.Warn(ctx, "rollback_delete_room failed on peer", "peer", nodeID, "error", err)
		}
	}
}
