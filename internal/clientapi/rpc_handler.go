package clientapi

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/wire"
)

// This file implements the three server-side interfaces Server plugs
// into: rpc.Handler (other nodes calling into this one), twopc.Notifier
// (local side effects of a 2PC outcome this node coordinated or
// participated in), and failuredetector.MemberEventNotifier (local and
// peer fan-out of an eviction discovered by the failure detector).

// GetHostedRooms answers which rooms this node administers, used by
// discover_rooms fan-out and admin-resolution lookups.
func (s *Server) GetHostedRooms(ctx context.Context) wire.GetHostedRoomsResponse {
	rooms := s.rooms.ListRooms()
	summaries := make([]wire.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, roomSummary(r))
	}
	return wire.GetHostedRoomsResponse{NodeID: s.registry.NodeID(), Rooms: summaries}
}

// JoinRoomRPC admits a member whose session lives on req.FromNode into a
// room this node administers, and snapshots the buffer tail for replay.
func (s *Server) JoinRoomRPC(ctx context.Context, req wire.JoinRoomRPCRequest) (*wire.JoinRoomRPCResponse, error) {
	room := s.rooms.GetRoom(req.RoomID)
	if room == nil {
		return nil, wire.NewError(wire.ErrRoomNotFound, "room not found")
	}
	if !s.rooms.CanOperateOnRoom(req.RoomID) {
		return nil, wire.NewError(wire.ErrInvalidState, "room is being deleted")
	}
	// Joining a room you're already a member of is idempotent (spec.md
	// §4.A): answer with the current snapshot instead of re-admitting
	// the member and re-broadcasting member_joined.
	alreadyMember := s.rooms.MemberInfo(req.RoomID, req.Username) != nil
	if !alreadyMember {
		s.rooms.AddMember(req.RoomID, req.Username, req.FromNode)
		s.refreshHostedMetrics()
		room = s.rooms.GetRoom(req.RoomID)
	}

	members := make([]string, 0, len(room.Members))
	for u := range room.Members {
		members = append(members, u)
	}

	recent := s.rooms.RecentMessages(req.RoomID)
	buffered := make([]wire.BufferedMessage, 0, len(recent))
	for _, m := range recent {
		buffered = append(buffered, wire.BufferedMessage{
			MessageID: m.MessageID, Username: m.Username, Content: m.Content,
			SequenceNumber: m.SequenceNumber, Timestamp: m.Timestamp,
		})
	}

	if !alreadyMember {
		s.broadcastMemberEvent(ctx, room, req.Username, wire.TypeMemberJoined, "member_joined", "")
	}

	return &wire.JoinRoomRPCResponse{
		RoomName:       room.RoomName,
		Description:    room.Description,
		Members:        members,
		RecentMessages: buffered,
	}, nil
}

// LeaveRoomRPC removes a remote member from a room this node administers.
func (s *Server) LeaveRoomRPC(ctx context.Context, req wire.LeaveRoomRPCRequest) error {
	if s.rooms.GetRoom(req.RoomID) == nil {
		return wire.NewError(wire.ErrRoomNotFound, "room not found")
	}
	s.rooms.RemoveMember(req.RoomID, req.Username)
	s.refreshHostedMetrics()
	if room := s.rooms.GetRoom(req.RoomID); room != nil {
		s.broadcastMemberEvent(ctx, room, req.Username, wire.TypeMemberLeft, "member_left", "")
	}
	return nil
}

// ForwardMessageRPC admits a message from a member whose session lives on
// another node, assigning it the next sequence number and fanning it out.
func (s *Server) ForwardMessageRPC(ctx context.Context, req wire.ForwardMessageRPCRequest) (*wire.ForwardMessageRPCResponse, error) {
	if s.rooms.MemberInfo(req.RoomID, req.Username) == nil {
		return nil, wire.NewError(wire.ErrNotMember, "not a member of this room")
	}
	if req.Content == "" || utf8.RuneCountInString(req.Content) > s.maxContentLength {
		return nil, wire.NewError(wire.ErrInvalidContent, "invalid message content")
	}
	msg, err := s.rooms.AddMessage(req.RoomID, req.Username, req.Content)
	if err != nil {
		return nil, err
	}
	s.rooms.TouchMemberActivity(req.RoomID, req.Username)
	s.broadcastMessage(ctx, req.RoomID, *msg)
	return &wire.ForwardMessageRPCResponse{MessageID: msg.MessageID, SequenceNumber: msg.SequenceNumber, Timestamp: msg.Timestamp}, nil
}

// ReceiveMessageBroadcast relays an admin-ordered message to this node's
// own local subscribers of the room.
func (s *Server) ReceiveMessageBroadcast(ctx context.Context, req wire.ReceiveMessageBroadcastRequest) error {
	s.broadcastLocal(ctx, req.RoomID, wire.TypeNewMessage, wire.NewMessageResponse{
		RoomID: req.RoomID, MessageID: req.MessageID, Username: req.Username,
		Content: req.Content, SequenceNumber: req.SequenceNumber, Timestamp: req.Timestamp,
	})
	return nil
}

// ReceiveMemberEventBroadcast relays a member_joined/member_left event to
// this node's own local subscribers of the room.
func (s *Server) ReceiveMemberEventBroadcast(ctx context.Context, req wire.ReceiveMemberEventBroadcastRequest) error {
	frameType := wire.TypeMemberJoined
	if req.Event == "member_left" {
		frameType = wire.TypeMemberLeft
	}
	s.broadcastLocal(ctx, req.RoomID, frameType, wire.MemberEventResponse{
		RoomID: req.RoomID, Username: req.Username, MemberCount: req.MemberCount, Timestamp: req.Timestamp,
	})
	return nil
}

// NotifyMemberDisconnect is called by a member's home node when that
// member's socket drops; this node administers the room and must remove
// the member and notify everyone else (spec.md §5 "Resource ownership").
func (s *Server) NotifyMemberDisconnect(ctx context.Context, req wire.NotifyMemberDisconnectRequest) error {
	if s.rooms.GetRoom(req.RoomID) == nil {
		return wire.NewError(wire.ErrRoomNotFound, "room not found")
	}
	s.rooms.RemoveMember(req.RoomID, req.Username)
	s.refreshHostedMetrics()
	if room := s.rooms.GetRoom(req.RoomID); room != nil {
		s.broadcastMemberEvent(ctx, room, req.Username, wire.TypeMemberLeft, "member_left", "User disconnected")
	}
	return nil
}

// Heartbeat answers a peer's liveness probe.
func (s *Server) Heartbeat(ctx context.Context) wire.HeartbeatResponse {
	return wire.HeartbeatResponse{NodeID: s.registry.NodeID(), Timestamp: time.Now().UTC()}
}

func (s *Server) PrepareDeleteRoom(ctx context.Context, req wire.PrepareDeleteRoomRequest) wire.PrepareDeleteRoomResponse {
	vote, reason := s.participant.Prepare(req.RoomID, req.TransactionID, req.Initiator)
	return wire.PrepareDeleteRoomResponse{TransactionID: req.TransactionID, Vote: vote, Reason: reason}
}

func (s *Server) CommitDeleteRoom(ctx context.Context, req wire.CommitDeleteRoomRequest) wire.CommitDeleteRoomResponse {
	ack := s.participant.Commit(req.RoomID, req.TransactionID)
	s.clearSubscriptions(req.RoomID)
	return wire.CommitDeleteRoomResponse{TransactionID: req.TransactionID, Ack: ack}
}

func (s *Server) RollbackDeleteRoom(ctx context.Context, req wire.RollbackDeleteRoomRequest) wire.RollbackDeleteRoomResponse {
	ack := s.participant.Rollback(req.RoomID, req.TransactionID)
	return wire.RollbackDeleteRoomResponse{TransactionID: req.TransactionID, Ack: ack}
}

// NotifyDeleteInitiated implements twopc.Notifier: tell this room's local
// subscribers a deletion has begun.
func (s *Server) NotifyDeleteInitiated(roomID uuid.UUID, initiator string, transactionID uuid.UUID) {
	s.broadcastLocal(context.Background(), roomID, wire.TypeDeleteRoomInitiated, wire.DeleteRoomInitiatedResponse{
		RoomID: roomID, Initiator: initiator, Status: "PREPARING", TransactionID: &transactionID,
	})
}

// NotifyRoomDeleted implements twopc.Notifier: tell this room's local
// subscribers the room is gone and drop their subscriptions.
func (s *Server) NotifyRoomDeleted(roomID uuid.UUID, roomName string, transactionID uuid.UUID) {
	txnID := transactionID
	s.broadcastLocal(context.Background(), roomID, wire.TypeRoomDeleted, wire.RoomDeletedResponse{
		RoomID: roomID, RoomName: roomName, Message: "room deleted", TransactionID: &txnID,
	})
	s.clearSubscriptions(roomID)
	s.refreshHostedMetrics()
}

// NotifyMemberLeft implements failuredetector.MemberEventNotifier: relay
// an eviction this node itself discovered to its own local subscribers.
func (s *Server) NotifyMemberLeft(roomID uuid.UUID, username, reason string) {
	room := s.rooms.GetRoom(roomID)
	memberCount := 0
	if room != nil {
		memberCount = len(room.Members)
	}
	s.broadcastLocal(context.Background(), roomID, wire.TypeMemberLeft, wire.MemberEventResponse{
		RoomID: roomID, Username: username, MemberCount: memberCount, Timestamp: time.Now().UTC(), Reason: reason,
	})
	s.refreshHostedMetrics()
}

// BroadcastMemberLeft implements failuredetector.MemberEventNotifier: tell
// every other peer with a member in the room about an eviction this node
// discovered, so their local subscribers see it too.
func (s *Server) BroadcastMemberLeft(ctx context.Context, roomID uuid.UUID, username, reason, excludeNode string) {
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		return
	}
	var participants []string
	for _, nodeID := range room.AllMemberNodes() {
		if nodeID != excludeNode {
			participants = append(participants, nodeID)
		}
	}
	if len(participants) == 0 {
		return
	}
	s.registry.BroadcastTo(ctx, participants, s.broadcastTimeout, func(ctx context.Context, nodeID, addr string) error {
		client := s.pool.Client(nodeID)
		if client == nil {
			return wire.NewError(wire.ErrAdminNodeUnavailable, "unknown peer")
		}
		return client.ReceiveMemberEventBroadcast(ctx, wire.ReceiveMemberEventBroadcastRequest{
			RoomID: roomID, Username: username, Event: "member_left", MemberCount: len(room.Members), Timestamp: time.Now().UTC(),
		})
	})
}
