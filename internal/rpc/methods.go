// Package rpc implements the inter-node transport: every node runs an
// HTTP+JSON server exposing the method table from spec.md §4.C, and
// holds one Client per peer to call that same table outbound. Request
// bodies are the DTOs from internal/wire/rpc.go; every method is a
// single synchronous POST, mirroring the teacher's own net/http+json
// style (internal/api/handlers.go) rather than the XML-RPC transport of
// original_source.
package rpc

// Method is the inter-node RPC method name, used both as the HTTP path
// suffix and as the gobreaker/metrics label.
type Method string

const (
	MethodGetHostedRooms              Method = "get_hosted_rooms"
	MethodJoinRoom                    Method = "join_room"
	MethodLeaveRoom                   Method = "leave_room"
	MethodForwardMessage              Method = "forward_message"
	MethodReceiveMessageBroadcast     Method = "receive_message_broadcast"
	MethodReceiveMemberEventBroadcast Method = "receive_member_event_broadcast"
	MethodNotifyMemberDisconnect      Method = "notify_member_disconnect"
	MethodHeartbeat                   Method = "heartbeat"
	MethodPrepareDeleteRoom           Method = "prepare_delete_room"
	MethodCommitDeleteRoom            Method = "commit_delete_room"
	MethodRollbackDeleteRoom          Method = "rollback_delete_room"
)

// Path returns the HTTP path this method is served/called on.
func (m Method) Path() string {
	return "/rpc/" + string(m)
}
