package clientapi_test

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

// node bundles one node's client-facing and inter-node listeners, wired
// to every other node this cluster knows about.
type node struct {
	id      string
	server  *clientapi.Server
	ts      *httptest.Server
	wsURL   string
	rpcAddr string
}

// newCluster builds len(ids) nodes, each aware of every other node's RPC
// address, so discover_rooms/2PC/remote join_room exercise real HTTP
// round trips rather than in-process calls.
func newCluster(t *testing.T, ids ...string) map[string]*node {
	t.Helper()
	logger := logging.New("error")

	listeners := make(map[string]*httptest.Server)
	addrs := make(map[string]string)
	for _, id := range ids {
		ts := httptest.NewUnstartedServer(http.NewServeMux())
		listeners[id] = ts
		addrs[id] = "http://" + ts.Listener.Addr().String()
	}

	nodes := make(map[string]*node, len(ids))
	for _, id := range ids {
		peerAddrs := make(map[string]string, len(ids)-1)
		for _, other := range ids {
			if other != id {
				peerAddrs[other] = addrs[other]
			}
		}
		rooms := roomstate.New(id, 100)
		registry := peers.New(id, peerAddrs)
		pool := rpc.NewPool(peerAddrs, 8, 2*time.Second, observability.NewMetrics(), logger)

		srv := clientapi.New(rooms, registry, pool, observability.NewMetrics(), logger, clientapi.Config{
			MaxContentLength: 5000,
			DiscoverTimeout:  2 * time.Second,
			BroadcastTimeout: 2 * time.Second,
			PrepareTimeout:   2 * time.Second,
			CommitTimeout:    2 * time.Second,
		})

		rpcServer := rpc.NewServer(srv, logger)
		mux := listeners[id].Config.Handler.(*http.ServeMux)
		mux.HandleFunc("/ws", srv.ServeWS)
		mux.Handle("/rpc/", rpcServer)
		listeners[id].Start()

		nodes[id] = &node{
			id:      id,
			server:  srv,
			ts:      listeners[id],
			wsURL:   "ws" + strings.TrimPrefix(listeners[id].URL, "http") + "/ws",
			rpcAddr: addrs[id],
		}
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			n.ts.Close()
		}
	})
	return nodes
}

func dial(t *testing.T, ctx context.Context, n *node) *chatclient.Client {
	t.Helper()
	c, err := chatclient.Dial(ctx, n.wsURL, 100, 1000, logging.New("error"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDiscoverRooms_FansOutAcrossPeers(t *testing.T) {
	nodes := newCluster(t, "node-a", "node-b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, nodes["node-a"])
	_, err := a.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	b := dial(t, ctx, nodes["node-b"])
	listing, err := b.DiscoverRooms(ctx)
	require.NoError(t, err)

	assert.Contains(t, listing.NodesAvailable, "node-a")
	var found bool
	for _, r := range listing.Rooms {
		if r.RoomName == "alpha" {
			found = true
			assert.Equal(t, "node-a", r.AdminNode)
		}
	}
	assert.True(t, found, "expected alpha to appear in node-b's discover_rooms result")
}

func TestJoinRoom_RemoteForwardsRPCToAdminNode(t *testing.T) {
	nodes := newCluster(t, "node-a", "node-b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, nodes["node-a"])
	room, err := a.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	_, err = a.SendMessage(ctx, room.RoomID, "alice", "already here")
	require.NoError(t, err)

	b := dial(t, ctx, nodes["node-b"])
	joined, err := b.JoinRoom(ctx, room.RoomID, "bob")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"alice", "bob"}, joined.Members)
	assert.Equal(t, "node-a", joined.AdminNode)
}

func TestLeaveRoom_LocalBroadcastsMemberLeft(t *testing.T) {
	nodes := newCluster(t, "node-a")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, nodes["node-a"])
	room, err := alice.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	bob := dial(t, ctx, nodes["node-a"])
	_, err = bob.JoinRoom(ctx, room.RoomID, "bob")
	require.NoError(t, err)

	var mu sync.Mutex
	var gotMemberLeft bool
	alice.OnFrame = func(env *wire.Envelope) {
		if env.Type == wire.TypeMemberLeft {
			mu.Lock()
			gotMemberLeft = true
			mu.Unlock()
		}
	}

	err = bob.LeaveRoom(room.RoomID, "bob")
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		ok := gotMemberLeft
		mu.Unlock()
		if ok || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotMemberLeft, "expected alice to observe bob's member_left event")
}

func TestLeaveRoom_RemoteUnregistersSubscriptionEvenIfAdminUnreachable(t *testing.T) {
	nodes := newCluster(t, "node-a", "node-b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, nodes["node-a"])
	room, err := a.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	b := dial(t, ctx, nodes["node-b"])
	_, err = b.JoinRoom(ctx, room.RoomID, "bob")
	require.NoError(t, err)

	// Take node-a down so the leave_room RPC node-b issues cannot reach it.
	nodes["node-a"].ts.Close()

	require.NoError(t, b.LeaveRoom(room.RoomID, "bob"))

	// Same websocket connection, processed serially by node-b's read pump:
	// by the time send_message is dispatched, leave_room has already run.
	_, err = b.SendMessage(ctx, room.RoomID, "bob", "hello")
	require.Error(t, err)
	apiErr := wire.AsAPIError(err)
	assert.Equal(t, wire.ErrNotMember, apiErr.Code)
}

func TestDeleteRoom_FailsFastWhenNotAdministeredLocally(t *testing.T) {
	nodes := newCluster(t, "node-a", "node-b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, nodes["node-a"])
	room, err := a.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	b := dial(t, ctx, nodes["node-b"])
	_, err = b.DeleteRoom(ctx, room.RoomID, "alice")
	require.Error(t, err)
	assert.Equal(t, wire.ErrAdminNodeUnavailable, wire.AsAPIError(err).Code)
}

func TestDeleteRoom_FullTwoPCCommitsAndNotifiesParticipants(t *testing.T) {
	nodes := newCluster(t, "node-a", "node-b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, nodes["node-a"])
	room, err := a.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	b := dial(t, ctx, nodes["node-b"])
	_, err = b.JoinRoom(ctx, room.RoomID, "bob")
	require.NoError(t, err)

	var mu sync.Mutex
	var gotRoomDeleted bool
	b.OnFrame = func(env *wire.Envelope) {
		if env.Type == wire.TypeRoomDeleted {
			mu.Lock()
			gotRoomDeleted = true
			mu.Unlock()
		}
	}

	result, err := a.DeleteRoom(ctx, room.RoomID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "room deleted", result.Message)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		ok := gotRoomDeleted
		mu.Unlock()
		if ok || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotRoomDeleted, "expected node-b's member to see room_deleted")
}

func TestDeleteRoom_RejectsNonCreator(t *testing.T) {
	nodes := newCluster(t, "node-a")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, nodes["node-a"])
	room, err := a.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	bob := dial(t, ctx, nodes["node-a"])
	_, err = bob.JoinRoom(ctx, room.RoomID, "bob")
	require.NoError(t, err)

	_, err = bob.DeleteRoom(ctx, room.RoomID, "bob")
	require.Error(t, err)
	assert.Equal(t, wire.ErrUnauthorized, wire.AsAPIError(err).Code)
}

func TestSessionTeardown_NotifiesAdminNodeOnDisconnect(t *testing.T) {
	nodes := newCluster(t, "node-a", "node-b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, nodes["node-a"])
	room, err := a.CreateRoom(ctx, "alpha", "alice", "")
	require.NoError(t, err)

	bDial, err := chatclient.Dial(ctx, nodes["node-b"].wsURL, 100, 1000, logging.New("error"))
	require.NoError(t, err)
	_, err = bDial.JoinRoom(ctx, room.RoomID, "bob")
	require.NoError(t, err)

	require.NoError(t, bDial.Close())

	deadline := time.Now().Add(2 * time.Second)
	for {
		listing, err := a.ListRooms(ctx)
		require.NoError(t, err)
		if len(listing.Rooms) == 1 && listing.Rooms[0].MemberCount == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("bob was never removed from alpha after disconnect, last listing: %+v", listing.Rooms)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
