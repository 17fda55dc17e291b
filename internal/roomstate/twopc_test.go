package roomstate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeletionTransaction_AllVotesReadyCommits(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)

	txn, err := m.StartDeletionTransaction(room.RoomID, []string{"node-b", "node-c"}, 5*time.Second)
	require.NoError(t, err)

	assert.False(t, txn.AllVotesReceived())

	ok := m.RecordVote(txn.TransactionID, "node-b", VoteReady)
	require.True(t, ok)
	ok = m.RecordVote(txn.TransactionID, "node-c", VoteReady)
	require.True(t, ok)

	txn = m.DeletionTransactionByID(txn.TransactionID)
	require.True(t, txn.AllVotesReceived())
	assert.True(t, txn.AllVotesReady())

	m.TransitionToCommit(txn.TransactionID)
	deleted := m.CompleteDeletion(txn.TransactionID)
	assert.True(t, deleted)
	assert.Nil(t, m.GetRoom(room.RoomID))
}

func TestDeletionTransaction_AbortVoteRollsBack(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)

	txn, err := m.StartDeletionTransaction(room.RoomID, []string{"node-b"}, 5*time.Second)
	require.NoError(t, err)

	m.RecordVote(txn.TransactionID, "node-b", VoteAbort)
	txn = m.DeletionTransactionByID(txn.TransactionID)
	assert.False(t, txn.AllVotesReady())

	m.TransitionToRollback(txn.TransactionID)
	m.RollbackDeletion(txn.TransactionID)

	room = m.GetRoom(room.RoomID)
	require.NotNil(t, room)
	assert.Equal(t, RoomActive, room.State)
	assert.Nil(t, m.DeletionTransactionByID(txn.TransactionID))
}

func TestRecordVote_RejectsUnknownParticipant(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	txn, err := m.StartDeletionTransaction(room.RoomID, []string{"node-b"}, 5*time.Second)
	require.NoError(t, err)

	ok := m.RecordVote(txn.TransactionID, "node-z", VoteReady)
	assert.False(t, ok)
}

func TestPrepareForDeletion_UnknownRoomVotesReady(t *testing.T) {
	m := New("node-b", 100)
	vote, reason := m.PrepareForDeletion(uuid.New(), uuid.New(), "node-a")
	assert.Equal(t, VoteReady, vote)
	assert.Empty(t, reason)
}

func TestPrepareForDeletion_NonActiveRoomVotesAbort(t *testing.T) {
	m := New("node-b", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	room.State = RoomDeletionPending

	vote, reason := m.PrepareForDeletion(room.RoomID, uuid.New(), "node-a")
	assert.Equal(t, VoteAbort, vote)
	assert.NotEmpty(t, reason)
}

func TestCommitDeletionParticipant_RemovesRoom(t *testing.T) {
	m := New("node-b", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	txnID := uuid.New()

	vote, _ := m.PrepareForDeletion(room.RoomID, txnID, "node-a")
	require.Equal(t, VoteReady, vote)

	ok := m.CommitDeletionParticipant(room.RoomID, txnID)
	assert.True(t, ok)
	assert.Nil(t, m.GetRoom(room.RoomID))
}

func TestRollbackDeletionParticipant_RestoresActive(t *testing.T) {
	m := New("node-b", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	txnID := uuid.New()

	m.PrepareForDeletion(room.RoomID, txnID, "node-a")
	m.RollbackDeletionParticipant(room.RoomID, txnID)

	room = m.GetRoom(room.RoomID)
	require.NotNil(t, room)
	assert.Equal(t, RoomActive, room.State)
}
