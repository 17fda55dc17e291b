package chatclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gochatmesh/noded/internal/chatclient"
	"github.com/gochatmesh/noded/internal/clientapi"
	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/observability"
	"github.com/gochatmesh/noded/internal/peers"
	"github.com/gochatmesh/noded/internal/roomstate"
	"github.com/gochatmesh/noded/internal/rpc"
	"github.com/gochatmesh/noded/internal/wire"
)

func startNode(t *testing.T) *httptest.Server {
	t.Helper()
	logger := logging.New("error")
	rooms := roomstate.New("node-a", 100)
	registry := peers.New("node-a", nil)
	pool := rpc.NewPool(nil, 8, time.Second, nil, logger)

	srv := clientapi.New(rooms, registry, pool, observability.NewMetrics(), logger, clientapi.Config{
		MaxContentLength: 5000,
		DiscoverTimeout:  time.Second,
		BroadcastTimeout: time.Second,
		PrepareTimeout:   time.Second,
		CommitTimeout:    time.Second,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeWS)
	return httptest.NewServer(mux)
}

func TestChatClient_CreateJoinSendReceivesInOrder(t *testing.T) {
	ts := startNode(t)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := logging.New("error")
	creator, err := chatclient.Dial(ctx, wsURL+"/ws", 100, 1000, logger)
	require.NoError(t, err)
	defer creator.Close()

	var mu sync.Mutex
	var received []string
	creator.OnMessageReady = func(roomID uuid.UUID, resp wire.NewMessageResponse) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, resp.Content)
	}

	room, err := creator.CreateRoom(ctx, "lobby", "alice", "")
	require.NoError(t, err)

	_, err = creator.SendMessage(ctx, room.RoomID, "alice", "hello")
	require.NoError(t, err)
	_, err = creator.SendMessage(ctx, room.RoomID, "alice", "world")
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello", "world"}, received)
}

func TestChatClient_JoinRoomReturnsMembers(t *testing.T) {
	ts := startNode(t)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := logging.New("error")
	creator, err := chatclient.Dial(ctx, wsURL+"/ws", 100, 1000, logger)
	require.NoError(t, err)
	defer creator.Close()

	room, err := creator.CreateRoom(ctx, "lobby", "alice", "")
	require.NoError(t, err)

	joiner, err := chatclient.Dial(ctx, wsURL+"/ws", 100, 1000, logger)
	require.NoError(t, err)
	defer joiner.Close()

	joined, err := joiner.JoinRoom(ctx, room.RoomID, "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, joined.Members)
}

func TestChatClient_SendMessageFromNonMemberIsRejected(t *testing.T) {
	ts := startNode(t)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := logging.New("error")
	creator, err := chatclient.Dial(ctx, wsURL+"/ws", 100, 1000, logger)
	require.NoError(t, err)
	defer creator.Close()

	room, err := creator.CreateRoom(ctx, "lobby", "alice", "")
	require.NoError(t, err)

	bystander, err := chatclient.Dial(ctx, wsURL+"/ws", 100, 1000, logger)
	require.NoError(t, err)
	defer bystander.Close()

	_, err = bystander.SendMessage(ctx, room.RoomID, "mallory", "hi")
	require.Error(t, err)
	apiErr := wire.AsAPIError(err)
	assert.Equal(t, wire.ErrNotMember, apiErr.Code)
}
