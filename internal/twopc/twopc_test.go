package twopc_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/peers"
	"github.com/gochatmesh/noded/internal/roomstate"
	"github.com/gochatmesh/noded/internal/rpc"
	"github.com/gochatmesh/noded/internal/twopc"
	"github.com/gochatmesh/noded/internal/wire"
)

// fakeNotifier records the local side-effects a Coordinator/Participant
// would otherwise deliver to websocket sessions.
type fakeNotifier struct {
	initiated []uuid.UUID
	deleted   []uuid.UUID
}

func (f *fakeNotifier) NotifyDeleteInitiated(roomID uuid.UUID, initiator string, transactionID uuid.UUID) {
	f.initiated = append(f.initiated, roomID)
}
func (f *fakeNotifier) NotifyRoomDeleted(roomID uuid.UUID, roomName string, transactionID uuid.UUID) {
	f.deleted = append(f.deleted, roomID)
}

// participantHandler adapts a twopc.Participant to rpc.Handler, exposing
// only the three delete phases a real peer node would serve.
type participantHandler struct {
	participant *twopc.Participant
}

func (h *participantHandler) GetHostedRooms(ctx context.Context) wire.GetHostedRoomsResponse {
	return wire.GetHostedRoomsResponse{}
}
func (h *participantHandler) JoinRoomRPC(ctx context.Context, req wire.JoinRoomRPCRequest) (*wire.JoinRoomRPCResponse, error) {
	return nil, nil
}
func (h *participantHandler) LeaveRoomRPC(ctx context.Context, req wire.LeaveRoomRPCRequest) error {
	return nil
}
func (h *participantHandler) ForwardMessageRPC(ctx context.Context, req wire.ForwardMessageRPCRequest) (*wire.ForwardMessageRPCResponse, error) {
	return nil, nil
}
func (h *participantHandler) ReceiveMessageBroadcast(ctx context.Context, req wire.ReceiveMessageBroadcastRequest) error {
	return nil
}
func (h *participantHandler) ReceiveMemberEventBroadcast(ctx context.Context, req wire.ReceiveMemberEventBroadcastRequest) error {
	return nil
}
func (h *participantHandler) NotifyMemberDisconnect(ctx context.Context, req wire.NotifyMemberDisconnectRequest) error {
	return nil
}
func (h *participantHandler) Heartbeat(ctx context.Context) wire.HeartbeatResponse {
	return wire.HeartbeatResponse{}
}
func (h *participantHandler) PrepareDeleteRoom(ctx context.Context, req wire.PrepareDeleteRoomRequest) wire.PrepareDeleteRoomResponse {
	vote, reason := h.participant.Prepare(req.RoomID, req.TransactionID, req.Initiator)
	return wire.PrepareDeleteRoomResponse{TransactionID: req.TransactionID, Vote: vote, Reason: reason}
}
func (h *participantHandler) CommitDeleteRoom(ctx context.Context, req wire.CommitDeleteRoomRequest) wire.CommitDeleteRoomResponse {
	ok := h.participant.Commit(req.RoomID, req.TransactionID)
	return wire.CommitDeleteRoomResponse{TransactionID: req.TransactionID, Ack: ok}
}
func (h *participantHandler) RollbackDeleteRoom(ctx context.Context, req wire.RollbackDeleteRoomRequest) wire.RollbackDeleteRoomResponse {
	ok := h.participant.Rollback(req.RoomID, req.TransactionID)
	return wire.RollbackDeleteRoomResponse{TransactionID: req.TransactionID, Ack: ok}
}

// startParticipant serves a real Participant (backed by its own empty
// roomstate.Manager) over httptest and returns its RPC address. A
// participant that never hosted the room being deleted always votes
// READY (spec.md §4.E "READYs otherwise, including unknown room").
func startParticipant(t *testing.T, nodeID string) string {
	t.Helper()
	logger := logging.New("error")
	participant := twopc.NewParticipant(roomstate.New(nodeID, 100), &fakeNotifier{})
	srv := rpc.NewServer(&participantHandler{participant: participant}, logger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts.URL
}

func setup(t *testing.T, peerAddrs map[string]string) (*twopc.Coordinator, *roomstate.Manager, uuid.UUID, *fakeNotifier) {
	t.Helper()
	logger := logging.New("error")

	coordRooms := roomstate.New("node-a", 100)
	room, err := coordRooms.CreateRoom("general", "alice", "")
	require.NoError(t, err)
	coordRooms.AddMember(room.RoomID, "alice", "node-a")
	for nodeID := range peerAddrs {
		coordRooms.AddMember(room.RoomID, nodeID+"-user", nodeID)
	}

	registry := peers.New("node-a", peerAddrs)
	pool := rpc.NewPool(peerAddrs, 8, 500*time.Millisecond, nil, logger)

	notifier := &fakeNotifier{}
	coord := twopc.NewCoordinator(coordRooms, registry, pool, notifier, time.Second, time.Second, logger)
	return coord, coordRooms, room.RoomID, notifier
}

func TestCoordinator_DeleteSucceedsWhenAllReady(t *testing.T) {
	addr := startParticipant(t, "node-b")
	coord, rooms, roomID, notifier := setup(t, map[string]string{"node-b": addr})

	result, err := coord.Delete(context.Background(), roomID, "alice")
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.Nil(t, rooms.GetRoom(roomID))
	assert.Len(t, notifier.initiated, 1)
	assert.Len(t, notifier.deleted, 1)
}

func TestCoordinator_DeleteWithNoParticipantsCommitsImmediately(t *testing.T) {
	coord, rooms, roomID, _ := setup(t, nil)

	result, err := coord.Delete(context.Background(), roomID, "alice")
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.Nil(t, rooms.GetRoom(roomID))
}

func TestCoordinator_DeleteRejectsNonCreator(t *testing.T) {
	coord, rooms, roomID, _ := setup(t, nil)

	_, err := coord.Delete(context.Background(), roomID, "mallory")
	require.Error(t, err)
	assert.Equal(t, wire.ErrUnauthorized, wire.AsAPIError(err).Code)
	room := rooms.GetRoom(roomID)
	require.NotNil(t, room)
	assert.Equal(t, roomstate.RoomActive, room.State)
}

func TestCoordinator_DeleteRollsBackOnUnreachablePeer(t *testing.T) {
	// node-b is registered but nothing is listening: every call fails,
	// which the coordinator must treat as ABORT (spec.md §4.E step 3).
	coord, rooms, roomID, _ := setup(t, map[string]string{"node-b": "http://127.0.0.1:1"})

	result, err := coord.Delete(context.Background(), roomID, "alice")
	require.NoError(t, err)
	assert.False(t, result.Committed)
	assert.NotEmpty(t, result.Reason)

	room := rooms.GetRoom(roomID)
	require.NotNil(t, room)
	assert.Equal(t, roomstate.RoomActive, room.State)
}
