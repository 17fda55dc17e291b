package rpc_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/rpc"
	"github.com/gochatmesh/noded/internal/wire"
)

// fakeHandler implements rpc.Handler entirely in memory, so these tests
// exercise the real HTTP+JSON wire format without needing a roomstate
// Manager.
type fakeHandler struct {
	rooms       wire.GetHostedRoomsResponse
	joinResp    *wire.JoinRoomRPCResponse
	joinErr     error
	prepareVote wire.PrepareDeleteRoomResponse
}

func (f *fakeHandler) GetHostedRooms(ctx context.Context) wire.GetHostedRoomsResponse {
	return f.rooms
}
func (f *fakeHandler) JoinRoomRPC(ctx context.Context, req wire.JoinRoomRPCRequest) (*wire.JoinRoomRPCResponse, error) {
	return f.joinResp, f.joinErr
}
func (f *fakeHandler) LeaveRoomRPC(ctx context.Context, req wire.LeaveRoomRPCRequest) error {
	return nil
}
func (f *fakeHandler) ForwardMessageRPC(ctx context.Context, req wire.ForwardMessageRPCRequest) (*wire.ForwardMessageRPCResponse, error) {
	return &wire.ForwardMessageRPCResponse{SequenceNumber: 7}, nil
}
func (f *fakeHandler) ReceiveMessageBroadcast(ctx context.Context, req wire.ReceiveMessageBroadcastRequest) error {
	return nil
}
func (f *fakeHandler) ReceiveMemberEventBroadcast(ctx context.Context, req wire.ReceiveMemberEventBroadcastRequest) error {
	return nil
}
func (f *fakeHandler) NotifyMemberDisconnect(ctx context.Context, req wire.NotifyMemberDisconnectRequest) error {
	return nil
}
func (f *fakeHandler) Heartbeat(ctx context.Context) wire.HeartbeatResponse {
	return wire.HeartbeatResponse{NodeID: "node-b"}
}
func (f *fakeHandler) PrepareDeleteRoom(ctx context.Context, req wire.PrepareDeleteRoomRequest) wire.PrepareDeleteRoomResponse {
	return f.prepareVote
}
func (f *fakeHandler) CommitDeleteRoom(ctx context.Context, req wire.CommitDeleteRoomRequest) wire.CommitDeleteRoomResponse {
	return wire.CommitDeleteRoomResponse{TransactionID: req.TransactionID, Ack: true}
}
func (f *fakeHandler) RollbackDeleteRoom(ctx context.Context, req wire.RollbackDeleteRoomRequest) wire.RollbackDeleteRoomResponse {
	return wire.RollbackDeleteRoomResponse{TransactionID: req.TransactionID, Ack: true}
}

func setupTestServer(t *testing.T, handler *fakeHandler) *rpc.Client {
	t.Helper()
	logger := logging.New("error")
	srv := rpc.NewServer(handler, logger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	sem := semaphore.NewWeighted(8)
	return rpc.NewClient("node-b", ts.URL, time.Second, sem, nil, logger)
}

func TestClient_GetHostedRooms(t *testing.T) {
	handler := &fakeHandler{rooms: wire.GetHostedRoomsResponse{
		NodeID: "node-b",
		Rooms:  []wire.RoomSummary{{RoomName: "general", MemberCount: 2}},
	}}
	client := setupTestServer(t, handler)

	resp, err := client.GetHostedRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node-b", resp.NodeID)
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "general", resp.Rooms[0].RoomName)
}

func TestClient_ForwardMessage(t *testing.T) {
	client := setupTestServer(t, &fakeHandler{})

	resp, err := client.ForwardMessage(context.Background(), wire.ForwardMessageRPCRequest{
		Username: "alice",
		Content:  "hi",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, resp.SequenceNumber)
}

func TestClient_JoinRoom_PropagatesAPIError(t *testing.T) {
	client := setupTestServer(t, &fakeHandler{joinErr: wire.NewError(wire.ErrRoomNotFound, "no such room")})

	_, err := client.JoinRoom(context.Background(), wire.JoinRoomRPCRequest{Username: "alice"})
	require.Error(t, err)
	assert.Equal(t, wire.ErrRoomNotFound, wire.AsAPIError(err).Code)
}

func TestClient_PrepareDeleteRoom_ReturnsVote(t *testing.T) {
	handler := &fakeHandler{prepareVote: wire.PrepareDeleteRoomResponse{Vote: "READY"}}
	client := setupTestServer(t, handler)

	resp, err := client.PrepareDeleteRoom(context.Background(), wire.PrepareDeleteRoomRequest{})
	require.NoError(t, err)
	assert.Equal(t, "READY", resp.Vote)
}
