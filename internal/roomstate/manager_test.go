package roomstate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gochatmesh/noded/internal/wire"
)

func TestCreateRoom_DuplicateNameRejected(t *testing.T) {
	m := New("node-a", 100)

	_, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)

	_, err = m.CreateRoom("general", "bob", "")
	require.Error(t, err)
	assert.Equal(t, wire.ErrInvalidRequest, wire.AsAPIError(err).Code)
}

func TestAddMessage_AssignsMonotonicSequence(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	m.AddMember(room.RoomID, "alice", "node-a")

	first, err := m.AddMessage(room.RoomID, "alice", "hello")
	require.NoError(t, err)
	second, err := m.AddMessage(room.RoomID, "alice", "world")
	require.NoError(t, err)

	assert.EqualValues(t, 1, first.SequenceNumber)
	assert.EqualValues(t, 2, second.SequenceNumber)
}

func TestAddMessage_RejectsNonMember(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)

	_, err = m.AddMessage(room.RoomID, "mallory", "hi")
	require.Error(t, err)
	assert.Equal(t, wire.ErrNotMember, wire.AsAPIError(err).Code)
}

func TestAddMessage_BufferEvictsOldest(t *testing.T) {
	m := New("node-a", 2)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	m.AddMember(room.RoomID, "alice", "node-a")

	for i := 0; i < 5; i++ {
		_, err := m.AddMessage(room.RoomID, "alice", "msg")
		require.NoError(t, err)
	}

	recent := m.RecentMessages(room.RoomID)
	require.Len(t, recent, 2)
	assert.EqualValues(t, 4, recent[0].SequenceNumber)
	assert.EqualValues(t, 5, recent[1].SequenceNumber)
}

func TestCanOperateOnRoom_FalseDuringDeletion(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	assert.True(t, m.CanOperateOnRoom(room.RoomID))

	_, err = m.StartDeletionTransaction(room.RoomID, []string{"node-b"}, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, m.CanOperateOnRoom(room.RoomID))
}

func TestCanOperateOnRoom_FalseForUnknownRoom(t *testing.T) {
	m := New("node-a", 100)
	assert.False(t, m.CanOperateOnRoom(uuid.New()))
}

func TestGetStaleMembers(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	m.AddMember(room.RoomID, "alice", "node-a")
	m.AddMember(room.RoomID, "bob", "node-a")

	info := m.MemberInfo(room.RoomID, "alice")
	require.NotNil(t, info)

	m.mu.Lock()
	m.rooms[room.RoomID].Members["alice"].LastActivity = time.Now().Add(-20 * time.Minute)
	m.mu.Unlock()

	stale := m.GetStaleMembers(room.RoomID, 15*time.Minute)
	assert.ElementsMatch(t, []string{"alice"}, stale)
}

func TestRemoveAllMembersFromNode(t *testing.T) {
	m := New("node-a", 100)
	room, err := m.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	m.AddMember(room.RoomID, "alice", "node-b")
	m.AddMember(room.RoomID, "bob", "node-c")

	removed := m.RemoveAllMembersFromNode("node-b")
	require.Len(t, removed, 1)
	assert.Equal(t, "alice", removed[0].Username)
	assert.Nil(t, m.MemberInfo(room.RoomID, "alice"))
	assert.NotNil(t, m.MemberInfo(room.RoomID, "bob"))
}

func TestNodeHealth_FailsAfterMaxFailures(t *testing.T) {
	m := New("node-a", 100)
	m.RecordNodeHeartbeatSuccess("node-b")

	failed := m.RecordNodeHeartbeatFailure("node-b", 2)
	assert.False(t, failed)
	assert.Equal(t, NodeDegraded, m.NodeHealthOf("node-b").Status)

	failed = m.RecordNodeHeartbeatFailure("node-b", 2)
	assert.True(t, failed)
	assert.Equal(t, NodeFailed, m.NodeHealthOf("node-b").Status)
}
