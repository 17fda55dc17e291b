package roomstate

import (
	"time"

	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/wire"
)

// Coordinator-side bookkeeping. The coordinator is always the node that
// administers the room being deleted (spec.md §4.E); these methods only
// track transaction state, the actual peer RPC fan-out lives in
// internal/twopc.

// StartDeletionTransaction begins a new 2PC deletion as coordinator,
// marking the room DELETION_PENDING so joins and new messages are
// rejected while the vote is in flight.
func (m *Manager) StartDeletionTransaction(roomID uuid.UUID, participants []string, timeout time.Duration) (*DeletionTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, wire.NewError(wire.ErrRoomNotFound, "room not found")
	}
	if room.State != RoomActive {
		return nil, wire.NewError(wire.ErrInvalidState, "room is not in ACTIVE state")
	}

	votes := make(map[string]*Vote, len(participants))
	for _, p := range participants {
		votes[p] = nil
	}

	txn := &DeletionTransaction{
		TransactionID: uuid.New(),
		RoomID:        roomID,
		Phase:         PhasePrepare,
		Participants:  participants,
		Votes:         votes,
		StartedAt:     time.Now().UTC(),
		Timeout:       timeout,
	}
	m.deletionTransactions[txn.TransactionID] = txn
	room.State = RoomDeletionPending
	return txn, nil
}

// DeletionTransactionByID looks up an in-flight coordinator transaction.
func (m *Manager) DeletionTransactionByID(transactionID uuid.UUID) *DeletionTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deletionTransactions[transactionID]
}

// RecordVote records a participant's PREPARE vote.
func (m *Manager) RecordVote(transactionID uuid.UUID, nodeID string, vote Vote) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.deletionTransactions[transactionID]
	if !ok {
		return false
	}
	if _, isParticipant := txn.Votes[nodeID]; !isParticipant {
		return false
	}
	v := vote
	txn.Votes[nodeID] = &v
	return true
}

// TransitionToCommit moves the transaction and its room into the COMMIT
// phase once every vote is READY.
func (m *Manager) TransitionToCommit(transactionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.deletionTransactions[transactionID]
	if !ok {
		return false
	}
	txn.Phase = PhaseCommit
	if room, ok := m.rooms[txn.RoomID]; ok {
		room.State = RoomCommitting
	}
	return true
}

// TransitionToRollback moves the transaction and its room into the
// ROLLBACK phase after any ABORT vote or a vote timeout.
func (m *Manager) TransitionToRollback(transactionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.deletionTransactions[transactionID]
	if !ok {
		return false
	}
	txn.Phase = PhaseRollback
	if room, ok := m.rooms[txn.RoomID]; ok {
		room.State = RoomRollingBack
	}
	return true
}

// CompleteDeletion finishes a committed transaction by removing the room
// and dropping the transaction record.
func (m *Manager) CompleteDeletion(transactionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.deletionTransactions[transactionID]
	if !ok {
		return false
	}
	_, deleted := m.rooms[txn.RoomID]
	delete(m.rooms, txn.RoomID)
	txn.Phase = PhaseCompleted
	delete(m.deletionTransactions, transactionID)
	return deleted
}

// RollbackDeletion restores the room to ACTIVE and drops the transaction
// record, used when the coordinator receives any ABORT vote.
func (m *Manager) RollbackDeletion(transactionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.deletionTransactions[transactionID]
	if !ok {
		return false
	}
	if room, ok := m.rooms[txn.RoomID]; ok {
		room.State = RoomActive
	}
	txn.Phase = PhaseCompleted
	delete(m.deletionTransactions, transactionID)
	return true
}

// ---- Participant-side 2PC ----

// PrepareForDeletion handles an incoming PREPARE as a participant. A room
// this node doesn't host votes READY unconditionally: there is nothing
// local to protect, so agreeing costs nothing (spec.md §4.E).
func (m *Manager) PrepareForDeletion(roomID, transactionID uuid.UUID, coordinator string) (vote Vote, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return VoteReady, ""
	}
	if room.State != RoomActive {
		return VoteAbort, "room is in " + string(room.State) + " state"
	}

	room.State = RoomDeletionPending
	m.preparedTransactions[transactionID] = &PreparedTransaction{
		TransactionID: transactionID,
		RoomID:        roomID,
		Coordinator:   coordinator,
		Vote:          VoteReady,
		PreparedAt:    time.Now().UTC(),
	}
	return VoteReady, ""
}

// CommitDeletionParticipant handles an incoming COMMIT as a participant.
func (m *Manager) CommitDeletionParticipant(roomID, transactionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.preparedTransactions, transactionID)

	if _, ok := m.rooms[roomID]; !ok {
		return true
	}
	delete(m.rooms, roomID)
	return true
}

// RollbackDeletionParticipant handles an incoming ROLLBACK as a
// participant, restoring the room to ACTIVE if it still exists locally.
func (m *Manager) RollbackDeletionParticipant(roomID, transactionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.preparedTransactions, transactionID)

	if room, ok := m.rooms[roomID]; ok {
		room.State = RoomActive
	}
	return true
}
