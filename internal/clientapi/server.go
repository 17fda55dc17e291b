// Package clientapi is the client-facing endpoint of a node (spec.md
// §4.D): it upgrades client sockets to websockets, dispatches the seven
// client->node request types, maintains per-room subscriptions, and
// implements both the inter-node rpc.Handler surface and the twopc.Notifier
// interface so 2PC side effects reach local subscribers.
package clientapi

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/observability"
	"github.com/gochatmesh/noded/internal/peers"
	"github.com/gochatmesh/noded/internal/roomstate"
	"github.com/gochatmesh/noded/internal/rpc"
	"github.com/gochatmesh/noded/internal/twopc"
	"github.com/gochatmesh/noded/internal/wire"
)

// Server holds every client session subscribed to each room and routes
// client requests to the room state manager, the RPC pool, or the 2PC
// coordinator as appropriate.
type Server struct {
	rooms       *roomstate.Manager
	registry    *peers.Registry
	pool        *rpc.Pool
	coordinator *twopc.Coordinator
	participant *twopc.Participant
	metrics     *observability.Metrics
	logger      *logging.Logger

	maxContentLength int
	discoverTimeout  time.Duration
	broadcastTimeout time.Duration

	mu        sync.RWMutex
	subs      map[uuid.UUID]map[*Session]struct{}
	adminOf   map[uuid.UUID]string
	adminOfMu sync.RWMutex
}

// Config collects the tunables Server needs from config.Config, avoiding
// a direct dependency on that package from internal/clientapi.
type Config struct {
	MaxContentLength int
	DiscoverTimeout  time.Duration
	BroadcastTimeout time.Duration
	PrepareTimeout   time.Duration
	CommitTimeout    time.Duration
}

// New builds a Server. The coordinator and participant are constructed
// here so Server can hand itself in as their Notifier.
func New(rooms *roomstate.Manager, registry *peers.Registry, pool *rpc.Pool, metrics *observability.Metrics, logger *logging.Logger, cfg Config) *Server {
	s := &Server{
		rooms:            rooms,
		registry:         registry,
		pool:             pool,
		metrics:          metrics,
		logger:           logger,
		maxContentLength: cfg.MaxContentLength,
		discoverTimeout:  cfg.DiscoverTimeout,
		broadcastTimeout: cfg.BroadcastTimeout,
		subs:             make(map[uuid.UUID]map[*Session]struct{}),
		adminOf:          make(map[uuid.UUID]string),
	}
	s.coordinator = twopc.NewCoordinator(rooms, registry, pool, s, cfg.PrepareTimeout, cfg.CommitTimeout, logger)
	s.participant = twopc.NewParticipant(rooms, s)
	return s
}

func (s *Server) subscribe(roomID uuid.UUID, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[*Session]struct{})
	}
	s.subs[roomID][sess] = struct{}{}
}

func (s *Server) unsubscribe(roomID uuid.UUID, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[roomID], sess)
	if len(s.subs[roomID]) == 0 {
		delete(s.subs, roomID)
	}
}

func (s *Server) clearSubscriptions(roomID uuid.UUID) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[roomID]
	delete(s.subs, roomID)
	out := make([]*Session, 0, len(subs))
	for sess := range subs {
		out = append(out, sess)
	}
	return out
}

func (s *Server) broadcastLocal(ctx context.Context, roomID uuid.UUID, frameType string, data interface{}) {
	s.mu.RLock()
	subs := s.subs[roomID]
	targets := make([]*Session, 0, len(subs))
	for sess := range subs {
		targets = append(targets, sess)
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		sess.reply(ctx, frameType, data)
	}
}

func (s *Server) rememberAdmin(roomID uuid.UUID, nodeID string) {
	s.adminOfMu.Lock()
	defer s.adminOfMu.Unlock()
	s.adminOf[roomID] = nodeID
}

func (s *Server) knownAdmin(roomID uuid.UUID) (string, bool) {
	s.adminOfMu.RLock()
	defer s.adminOfMu.RUnlock()
	nodeID, ok := s.adminOf[roomID]
	return nodeID, ok
}

// resolveAdmin finds which peer administers roomID, consulting the cache
// built from discover_rooms/create_room first and falling back to a
// get_hosted_rooms fan-out (spec.md §4.D "discover the owner").
func (s *Server) resolveAdmin(ctx context.Context, roomID uuid.UUID) string {
	if nodeID, ok := s.knownAdmin(roomID); ok {
		return nodeID
	}

	results := s.registry.FanOut(ctx, s.discoverTimeout, func(ctx context.Context, nodeID, addr string) (interface{}, error) {
		client := s.pool.Client(nodeID)
		if client == nil {
			return nil, wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		return client.GetHostedRooms(ctx)
	})

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		resp, ok := r.Value.(*wire.GetHostedRoomsResponse)
		if !ok || resp == nil {
			continue
		}
		for _, summary := range resp.Rooms {
			s.rememberAdmin(summary.RoomID, r.NodeID)
			if summary.RoomID == roomID {
				return r.NodeID
			}
		}
	}
	return ""
}

// dispatch routes one decoded client envelope to its handler.
func (s *Server) dispatch(ctx context.Context, sess *Session, env *wire.Envelope) {
	switch env.Type {
	case wire.TypeListRooms:
		s.handleListRooms(ctx, sess)
	case wire.TypeDiscoverRooms:
		s.handleDiscoverRooms(ctx, sess)
	case wire.TypeCreateRoom:
		var req wire.CreateRoomRequest
		if err := env.DecodeData(&req); err != nil {
			sess.replyError(ctx, wire.ErrInvalidRequest, "malformed create_room payload")
			return
		}
		s.handleCreateRoom(ctx, sess, req)
	case wire.TypeJoinRoom:
		var req wire.JoinRoomRequest
		if err := env.DecodeData(&req); err != nil {
			sess.replyError(ctx, wire.ErrInvalidRequest, "malformed join_room payload")
			return
		}
		s.handleJoinRoom(ctx, sess, req)
	case wire.TypeLeaveRoom:
		var req wire.LeaveRoomRequest
		if err := env.DecodeData(&req); err != nil {
			sess.replyError(ctx, wire.ErrInvalidRequest, "malformed leave_room payload")
			return
		}
		s.handleLeaveRoom(ctx, sess, req)
	case wire.TypeSendMessage:
		var req wire.SendMessageRequest
		if err := env.DecodeData(&req); err != nil {
			sess.replyError(ctx, wire.ErrInvalidRequest, "malformed send_message payload")
			return
		}
		s.handleSendMessage(ctx, sess, req)
	case wire.TypeDeleteRoom:
		var req wire.DeleteRoomRequest
		if err := env.DecodeData(&req); err != nil {
			sess.replyError(ctx, wire.ErrInvalidRequest, "malformed delete_room payload")
			return
		}
		s.handleDeleteRoom(ctx, sess, req)
	default:
		s.logger.Warn(ctx, "unknown client frame type", "type", env.Type)
		sess.replyError(ctx, wire.ErrInvalidRequest, "unknown message type: "+env.Type)
	}
}

func (s *Server) handleListRooms(ctx context.Context, sess *Session) {
	rooms := s.rooms.ListRooms()
	summaries := make([]wire.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, roomSummary(r))
	}
	sess.reply(ctx, wire.TypeRoomsList, wire.RoomsListResponse{Rooms: summaries, TotalCount: len(summaries)})
}

func (s *Server) handleDiscoverRooms(ctx context.Context, sess *Session) {
	local := s.rooms.ListRooms()
	all := make([]wire.RoomSummary, 0, len(local))
	for _, r := range local {
		all = append(all, roomSummary(r))
	}

	nodesQueried := s.registry.IDs()
	var nodesAvailable, nodesUnavailable []string

	results := s.registry.FanOut(ctx, s.discoverTimeout, func(ctx context.Context, nodeID, addr string) (interface{}, error) {
		client := s.pool.Client(nodeID)
		if client == nil {
			return nil, wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		return client.GetHostedRooms(ctx)
	})

	for _, r := range results {
		if r.Err != nil {
			nodesUnavailable = append(nodesUnavailable, r.NodeID)
			continue
		}
		nodesAvailable = append(nodesAvailable, r.NodeID)
		resp, ok := r.Value.(*wire.GetHostedRoomsResponse)
		if !ok || resp == nil {
			continue
		}
		for _, summary := range resp.Rooms {
			all = append(all, summary)
			s.rememberAdmin(summary.RoomID, r.NodeID)
		}
	}

	sess.reply(ctx, wire.TypeGlobalRoomsList, wire.GlobalRoomsListResponse{
		Rooms:            all,
		TotalCount:       len(all),
		NodesQueried:     nodesQueried,
		NodesAvailable:   nodesAvailable,
		NodesUnavailable: nodesUnavailable,
	})
}

func (s *Server) handleCreateRoom(ctx context.Context, sess *Session, req wire.CreateRoomRequest) {
	room, err := s.rooms.CreateRoom(req.RoomName, req.CreatorID, req.Description)
	if err != nil {
		apiErr := wire.AsAPIError(err)
		sess.replyError(ctx, apiErr.Code, apiErr.Message)
		return
	}
	s.rooms.AddMember(room.RoomID, req.CreatorID, s.registry.NodeID())
	s.rememberAdmin(room.RoomID, s.registry.NodeID())
	s.refreshHostedMetrics()

	sess.join(room.RoomID, req.CreatorID, s.registry.NodeID(), true)
	s.subscribe(room.RoomID, sess)

	sess.reply(ctx, wire.TypeRoomCreated, wire.RoomCreatedResponse{
		RoomID:    room.RoomID,
		RoomName:  room.RoomName,
		AdminNode: room.AdminNode,
		Members:   []string{req.CreatorID},
		CreatedAt: room.CreatedAt,
	})
}

func (s *Server) handleJoinRoom(ctx context.Context, sess *Session, req wire.JoinRoomRequest) {
	if room := s.rooms.GetRoom(req.RoomID); room != nil {
		s.joinLocalRoom(ctx, sess, room, req.Username)
		return
	}

	adminNode := s.resolveAdmin(ctx, req.RoomID)
	if adminNode == "" {
		sess.reply(ctx, wire.TypeJoinRoomError, wire.JoinRoomErrorResponse{RoomID: req.RoomID, Error: "room not found", ErrorCode: wire.ErrRoomNotFound})
		return
	}
	client := s.pool.Client(adminNode)
	if client == nil {
		sess.reply(ctx, wire.TypeJoinRoomError, wire.JoinRoomErrorResponse{RoomID: req.RoomID, Error: "admin node unavailable", ErrorCode: wire.ErrAdminNodeUnavailable})
		return
	}

	resp, err := client.JoinRoom(ctx, wire.JoinRoomRPCRequest{RoomID: req.RoomID, Username: req.Username, FromNode: s.registry.NodeID()})
	if err != nil {
		apiErr := wire.AsAPIError(err)
		sess.reply(ctx, wire.TypeJoinRoomError, wire.JoinRoomErrorResponse{RoomID: req.RoomID, Error: apiErr.Message, ErrorCode: apiErr.Code})
		return
	}

	sess.join(req.RoomID, req.Username, adminNode, false)
	s.subscribe(req.RoomID, sess)

	sess.reply(ctx, wire.TypeJoinRoomSuccess, wire.JoinRoomSuccessResponse{
		RoomID:      req.RoomID,
		RoomName:    resp.RoomName,
		Description: resp.Description,
		Members:     resp.Members,
		MemberCount: len(resp.Members),
		AdminNode:   adminNode,
	})

	for _, bm := range resp.RecentMessages {
		sess.reply(ctx, wire.TypeNewMessage, wire.NewMessageResponse{
			RoomID:         req.RoomID,
			MessageID:      bm.MessageID,
			Username:       bm.Username,
			Content:        bm.Content,
			SequenceNumber: bm.SequenceNumber,
			Timestamp:      bm.Timestamp,
		})
	}
}

func (s *Server) joinLocalRoom(ctx context.Context, sess *Session, room *roomstate.Room, username string) {
	if !s.rooms.CanOperateOnRoom(room.RoomID) {
		sess.reply(ctx, wire.TypeJoinRoomError, wire.JoinRoomErrorResponse{RoomID: room.RoomID, Error: "room is being deleted", ErrorCode: wire.ErrInvalidState})
		return
	}

	// Joining a room you're already a member of is idempotent (spec.md
	// §4.A): it succeeds without a second member_joined broadcast, since
	// nothing about the room's membership actually changed.
	alreadyMember := s.rooms.MemberInfo(room.RoomID, username) != nil
	if !alreadyMember {
		s.rooms.AddMember(room.RoomID, username, s.registry.NodeID())
		s.refreshHostedMetrics()
	}
	sess.join(room.RoomID, username, s.registry.NodeID(), true)
	s.subscribe(room.RoomID, sess)

	room = s.rooms.GetRoom(room.RoomID)
	members := make([]string, 0, len(room.Members))
	for u := range room.Members {
		members = append(members, u)
	}

	sess.reply(ctx, wire.TypeJoinRoomSuccess, wire.JoinRoomSuccessResponse{
		RoomID:      room.RoomID,
		RoomName:    room.RoomName,
		Description: room.Description,
		Members:     members,
		MemberCount: len(members),
		AdminNode:   room.AdminNode,
	})

	if !alreadyMember {
		s.broadcastMemberEvent(ctx, room, username, wire.TypeMemberJoined, "member_joined", "")
	}
}

func (s *Server) handleLeaveRoom(ctx context.Context, sess *Session, req wire.LeaveRoomRequest) {
	m, ok := sess.membershipOf(req.RoomID)
	if !ok {
		return
	}

	if m.local {
		s.rooms.RemoveMember(req.RoomID, req.Username)
		s.refreshHostedMetrics()
		if room := s.rooms.GetRoom(req.RoomID); room != nil {
			s.broadcastMemberEvent(ctx, room, req.Username, wire.TypeMemberLeft, "member_left", "")
		}
	} else if client := s.pool.Client(m.adminNode); client != nil {
		if err := client.LeaveRoom(ctx, wire.LeaveRoomRPCRequest{RoomID: req.RoomID, Username: req.Username, FromNode: s.registry.NodeID()}); err != nil {
			s.logger.Warn(ctx, "leave_room RPC failed, unregistering subscription anyway", "error", err)
		}
	}

	sess.leave(req.RoomID)
	s.unsubscribe(req.RoomID, sess)
}

func (s *Server) handleSendMessage(ctx context.Context, sess *Session, req wire.SendMessageRequest) {
	m, ok := sess.membershipOf(req.RoomID)
	if !ok {
		sess.reply(ctx, wire.TypeMessageError, wire.MessageErrorResponse{RoomID: req.RoomID, Error: "not subscribed to this room", ErrorCode: wire.ErrNotMember})
		return
	}
	if req.Content == "" || utf8.RuneCountInString(req.Content) > s.maxContentLength {
		sess.reply(ctx, wire.TypeMessageError, wire.MessageErrorResponse{RoomID: req.RoomID, Error: "invalid message content", ErrorCode: wire.ErrInvalidContent})
		return
	}

	if m.local {
		msg, err := s.rooms.AddMessage(req.RoomID, req.Username, req.Content)
		if err != nil {
			apiErr := wire.AsAPIError(err)
			sess.reply(ctx, wire.TypeMessageError, wire.MessageErrorResponse{RoomID: req.RoomID, Error: apiErr.Message, ErrorCode: apiErr.Code})
			return
		}
		s.rooms.TouchMemberActivity(req.RoomID, req.Username)
		sess.reply(ctx, wire.TypeMessageSent, wire.MessageSentResponse{RoomID: req.RoomID, MessageID: msg.MessageID, SequenceNumber: msg.SequenceNumber, Timestamp: msg.Timestamp})
		s.broadcastMessage(ctx, req.RoomID, *msg)
		return
	}

	client := s.pool.Client(m.adminNode)
	if client == nil {
		sess.reply(ctx, wire.TypeMessageError, wire.MessageErrorResponse{RoomID: req.RoomID, Error: "admin node unavailable", ErrorCode: wire.ErrAdminNodeUnavailable})
		return
	}
	resp, err := client.ForwardMessage(ctx, wire.ForwardMessageRPCRequest{RoomID: req.RoomID, Username: req.Username, Content: req.Content, FromNode: s.registry.NodeID()})
	if err != nil {
		apiErr := wire.AsAPIError(err)
		sess.reply(ctx, wire.TypeMessageError, wire.MessageErrorResponse{RoomID: req.RoomID, Error: apiErr.Message, ErrorCode: apiErr.Code})
		return
	}
	sess.reply(ctx, wire.TypeMessageSent, wire.MessageSentResponse{RoomID: req.RoomID, MessageID: resp.MessageID, SequenceNumber: resp.SequenceNumber, Timestamp: resp.Timestamp})
}

func (s *Server) handleDeleteRoom(ctx context.Context, sess *Session, req wire.DeleteRoomRequest) {
	if s.rooms.GetRoom(req.RoomID) == nil {
		sess.reply(ctx, wire.TypeDeleteRoomFailed, wire.DeleteRoomFailedResponse{RoomID: req.RoomID, Reason: "this node does not administer the room", ErrorCode: wire.ErrAdminNodeUnavailable})
		return
	}

	result, err := s.coordinator.Delete(ctx, req.RoomID, req.Username)
	if err != nil {
		apiErr := wire.AsAPIError(err)
		sess.reply(ctx, wire.TypeDeleteRoomFailed, wire.DeleteRoomFailedResponse{RoomID: req.RoomID, Reason: apiErr.Message, ErrorCode: apiErr.Code})
		return
	}

	if result.Committed {
		sess.reply(ctx, wire.TypeDeleteRoomSuccess, wire.DeleteRoomSuccessResponse{RoomID: req.RoomID, TransactionID: result.TransactionID, Message: "room deleted"})
		return
	}
	sess.reply(ctx, wire.TypeDeleteRoomFailed, wire.DeleteRoomFailedResponse{RoomID: req.RoomID, Reason: result.Reason, ErrorCode: wire.ErrDeletionFailed, TransactionID: &result.TransactionID})
}

// handleDisconnect runs the resource-ownership teardown rule: notify the
// owning node a local member dropped its socket (spec.md §5).
func (s *Server) handleDisconnect(ctx context.Context, roomID uuid.UUID, m membership) {
	if m.local {
		s.rooms.RemoveMember(roomID, m.username)
		s.refreshHostedMetrics()
		if room := s.rooms.GetRoom(roomID); room != nil {
			s.broadcastMemberEvent(ctx, room, m.username, wire.TypeMemberLeft, "member_left", "User disconnected")
		}
		return
	}
	client := s.pool.Client(m.adminNode)
	if client == nil {
		return
	}
	if err := client.NotifyMemberDisconnect(ctx, wire.NotifyMemberDisconnectRequest{RoomID: roomID, Username: m.username, FromNode: s.registry.NodeID()}); err != nil {
		s.logger.Warn(ctx, "notify_member_disconnect failed", "room_id", roomID, "error", err)
	}
}

// broadcastMemberEvent fans a member_joined/member_left event out to local
// subscribers and to every peer node with a member in the room.
func (s *Server) broadcastMemberEvent(ctx context.Context, room *roomstate.Room, username, frameType, rpcEvent, reason string) {
	resp := wire.MemberEventResponse{RoomID: room.RoomID, Username: username, MemberCount: len(room.Members), Timestamp: time.Now().UTC(), Reason: reason}
	s.broadcastLocal(ctx, room.RoomID, frameType, resp)

	participants := room.AllMemberNodes()
	if len(participants) == 0 {
		return
	}
	s.registry.BroadcastTo(ctx, participants, s.broadcastTimeout, func(ctx context.Context, nodeID, addr string) error {
		client := s.pool.Client(nodeID)
		if client == nil {
			return wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		return client.ReceiveMemberEventBroadcast(ctx, wire.ReceiveMemberEventBroadcastRequest{
			RoomID: room.RoomID, Username: username, Event: rpcEvent, MemberCount: resp.MemberCount, Timestamp: resp.Timestamp,
		})
	})
}

// broadcastMessage fans a newly admitted message out to local subscribers
// and every peer node with a member in the room.
func (s *Server) broadcastMessage(ctx context.Context, roomID uuid.UUID, msg roomstate.Message) {
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		return
	}
	resp := wire.NewMessageResponse{RoomID: roomID, MessageID: msg.MessageID, Username: msg.Username, Content: msg.Content, SequenceNumber: msg.SequenceNumber, Timestamp: msg.Timestamp}
	s.broadcastLocal(ctx, roomID, wire.TypeNewMessage, resp)

	participants := room.AllMemberNodes()
	if len(participants) == 0 {
		return
	}
	s.registry.BroadcastTo(ctx, participants, s.broadcastTimeout, func(ctx context.Context, nodeID, addr string) error {
		client := s.pool.Client(nodeID)
		if client == nil {
			return wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		return client.ReceiveMessageBroadcast(ctx, wire.ReceiveMessageBroadcastRequest{
			RoomID: roomID, MessageID: msg.MessageID, Username: msg.Username, Content: msg.Content, SequenceNumber: msg.SequenceNumber, Timestamp: msg.Timestamp,
		})
	})
}

// refreshHostedMetrics recomputes the rooms/members-hosted gauges from
// current room state. Called after any local room or membership mutation
// rather than incrementally, since roomstate.Manager is the source of
// truth and recomputation here is cheap relative to an RPC round trip.
func (s *Server) refreshHostedMetrics() {
	if s.metrics == nil {
		return
	}
	rooms := s.rooms.ListRooms()
	members := 0
	for _, r := range rooms {
		members += len(r.Members)
	}
	s.metrics.RoomsHosted.Set(float64(len(rooms)))
	s.metrics.MembersHosted.Set(float64(members))
}

func roomSummary(r *roomstate.Room) wire.RoomSummary {
	return wire.RoomSummary{
		RoomID:      r.RoomID,
		RoomName:    r.RoomName,
		Description: r.Description,
		MemberCount: len(r.Members),
		AdminNode:   r.AdminNode,
		CreatorID:   r.CreatorID,
	}
}
