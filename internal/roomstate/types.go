// Package roomstate holds the in-memory state of every room administered
// by this node: membership, the per-room message buffer and sequence
// counter, peer node health, and the 2PC bookkeeping for distributed
// deletion. Every room in this package is owned by the local node — a
// room only lives here on the node that created it.
package roomstate

import (
	"time"

	"github.com/google/uuid"
)

// RoomLifecycleState tracks where a room sits in the 2PC deletion
// protocol. A room outside ACTIVE rejects joins and new messages
// (spec.md §4.A can_operate_on_room); leaves are not checked against it.
type RoomLifecycleState string

const (
	RoomActive          RoomLifecycleState = "ACTIVE"
	RoomDeletionPending RoomLifecycleState = "DELETION_PENDING"
	RoomCommitting      RoomLifecycleState = "COMMITTING"
	RoomRollingBack     RoomLifecycleState = "ROLLING_BACK"
)

// TransactionPhase is the coordinator-side 2PC phase.
type TransactionPhase string

const (
	PhasePrepare   TransactionPhase = "PREPARE"
	PhaseCommit    TransactionPhase = "COMMIT"
	PhaseRollback  TransactionPhase = "ROLLBACK"
	PhaseCompleted TransactionPhase = "COMPLETED"
)

// Vote is a participant's response to a PREPARE.
type Vote string

const (
	VoteReady Vote = "READY"
	VoteAbort Vote = "ABORT"
)

// NodeStatus is the liveness state the failure detector assigns to a peer.
type NodeStatus string

const (
	NodeHealthy  NodeStatus = "healthy"
	NodeDegraded NodeStatus = "degraded"
	NodeFailed   NodeStatus = "failed"
)

// MemberInfo tracks one member of a room: which node they're connected
// through and when they last did anything, for stale-member sweeping.
type MemberInfo struct {
	Username     string
	NodeID       string
	JoinedAt     time.Time
	LastActivity time.Time
}

// NodeHealth is this node's view of a single peer's liveness, updated by
// the heartbeat monitor.
type NodeHealth struct {
	NodeID               string
	LastHeartbeat        time.Time
	Status               NodeStatus
	ConsecutiveFailures  int
}

// RecordSuccess resets a node to healthy after a successful heartbeat.
func (h *NodeHealth) RecordSuccess() {
	h.LastHeartbeat = time.Now().UTC()
	h.Status = NodeHealthy
	h.ConsecutiveFailures = 0
}

// RecordFailure increments the failure streak and returns true whenever
// the streak has reached maxFailures and the node is considered FAILED.
func (h *NodeHealth) RecordFailure(maxFailures int) bool {
	h.ConsecutiveFailures++
	if h.ConsecutiveFailures >= maxFailures {
		h.Status = NodeFailed
		return true
	}
	h.Status = NodeDegraded
	return false
}

// Message is one entry in a room's in-memory buffer, already sequenced.
type Message struct {
	MessageID      uuid.UUID
	Username       string
	Content        string
	SequenceNumber int64
	Timestamp      time.Time
}

// Room is a chat room administered by this node.
type Room struct {
	RoomID         uuid.UUID
	RoomName       string
	Description    string
	CreatorID      string
	AdminNode      string
	CreatedAt      time.Time
	State          RoomLifecycleState
	MessageCounter int64
	Members        map[string]*MemberInfo
	Messages       []Message
}

// MembersByNode returns the usernames of members connected through nodeID.
func (r *Room) MembersByNode(nodeID string) []string {
	var out []string
	for username, info := range r.Members {
		if info.NodeID == nodeID {
			out = append(out, username)
		}
	}
	return out
}

// AllMemberNodes returns the set of distinct node IDs with a member in
// this room, excluding the room's own admin node.
func (r *Room) AllMemberNodes() []string {
	seen := make(map[string]struct{})
	for _, info := range r.Members {
		if info.NodeID != r.AdminNode {
			seen[info.NodeID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for nodeID := range seen {
		out = append(out, nodeID)
	}
	return out
}

// DeletionTransaction is the coordinator's bookkeeping for an in-flight
// 2PC room deletion (spec.md §4.E).
type DeletionTransaction struct {
	TransactionID uuid.UUID
	RoomID        uuid.UUID
	Phase         TransactionPhase
	Participants  []string
	Votes         map[string]*Vote
	StartedAt     time.Time
	Timeout       time.Duration
}

// AllVotesReceived reports whether every participant has cast a vote.
func (t *DeletionTransaction) AllVotesReceived() bool {
	for _, v := range t.Votes {
		if v == nil {
			return false
		}
	}
	return true
}

// AllVotesReady reports whether every participant voted READY. Callers
// must check AllVotesReceived first; a nil vote counts as not ready.
func (t *DeletionTransaction) AllVotesReady() bool {
	for _, v := range t.Votes {
		if v == nil || *v != VoteReady {
			return false
		}
	}
	return true
}

// PreparedTransaction is a participant's record of a transaction it has
// voted on but not yet resolved via COMMIT or ROLLBACK.
type PreparedTransaction struct {
	TransactionID uuid.UUID
	RoomID        uuid.UUID
	Coordinator   string
	Vote          Vote
	PreparedAt    time.Time
}
