package wire

import (
	"time"

	"github.com/google/uuid"
)

// Inter-node RPC method request/response shapes (spec.md §4.C). Every
// method is synchronous request/response over the node<->node transport;
// the method table here mirrors original_source/src/node/xmlrpc_server.py.

type BufferedMessage struct {
	MessageID      uuid.UUID `json:"message_id"`
	Username       string    `json:"username"`
	Content        string    `json:"content"`
	SequenceNumber int64     `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
}

// GetHostedRooms: queried with no arguments against every known peer for
// discover_rooms fan-out.
type GetHostedRoomsResponse struct {
	NodeID string        `json:"node_id"`
	Rooms  []RoomSummary `json:"rooms"`
}

// JoinRoomRPC: a client's home node asks the admin node hosting RoomID to
// admit Username. The response snapshots current membership and the
// message buffer tail so the joining client can backfill.
type JoinRoomRPCRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
	FromNode string    `json:"from_node"`
}

type JoinRoomRPCResponse struct {
	RoomName       string            `json:"room_name"`
	Description    string            `json:"description,omitempty"`
	Members        []string          `json:"members"`
	RecentMessages []BufferedMessage `json:"recent_messages"`
}

type LeaveRoomRPCRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
	FromNode string    `json:"from_node"`
}

// ForwardMessageRPC: a non-admin node forwards a member's send_message to
// the admin node, which assigns the sequence number and fans out.
type ForwardMessageRPCRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
	FromNode string    `json:"from_node"`
}

type ForwardMessageRPCResponse struct {
	MessageID      uuid.UUID `json:"message_id"`
	SequenceNumber int64     `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReceiveMessageBroadcast: the admin node pushes an ordered message to
// every peer node with a local member in the room.
type ReceiveMessageBroadcastRequest struct {
	RoomID         uuid.UUID `json:"room_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Username       string    `json:"username"`
	Content        string    `json:"content"`
	SequenceNumber int64     `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReceiveMemberEventBroadcast: the admin node notifies peers of a
// member_joined/member_left event so they can relay it to their local
// sessions subscribed to the room.
type ReceiveMemberEventBroadcastRequest struct {
	RoomID      uuid.UUID `json:"room_id"`
	Username    string    `json:"username"`
	Event       string    `json:"event"`
	MemberCount int       `json:"member_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// NotifyMemberDisconnect: a node tells the admin node that one of its
// local sessions holding membership in RoomID has dropped its socket.
type NotifyMemberDisconnectRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
	FromNode string    `json:"from_node"`
}

// Heartbeat: periodic liveness probe a node sends to each peer that has a
// member in one of the rooms it administers.
type HeartbeatResponse struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PrepareDeleteRoom / CommitDeleteRoom / RollbackDeleteRoom: the three 2PC
// phases (spec.md §4.E). The coordinator is always the admin node of
// RoomID; participants are every node with at least one local member.
type PrepareDeleteRoomRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RoomID        uuid.UUID `json:"room_id"`
	Initiator     string    `json:"initiator"`
}

type PrepareDeleteRoomResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Vote          string    `json:"vote"` // "READY" or "ABORT"
	Reason        string    `json:"reason,omitempty"`
}

type CommitDeleteRoomRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RoomID        uuid.UUID `json:"room_id"`
}

type CommitDeleteRoomResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Ack           bool      `json:"ack"`
}

type RollbackDeleteRoomRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RoomID        uuid.UUID `json:"room_id"`
	Reason        string    `json:"reason,omitempty"`
}

type RollbackDeleteRoomResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Ack           bool      `json:"ack"`
}
