package rpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/wire"
)

// Handler is implemented by the orchestrator that owns this node's
// roomstate, client sessions, and 2PC state. Server dispatches every
// inbound method call to it; Handler never talks HTTP.
type Handler interface {
	GetHostedRooms(ctx context.Context) wire.GetHostedRoomsResponse
	JoinRoomRPC(ctx context.Context, req wire.JoinRoomRPCRequest) (*wire.JoinRoomRPCResponse, error)
	LeaveRoomRPC(ctx context.Context, req wire.LeaveRoomRPCRequest) error
	ForwardMessageRPC(ctx context.Context, req wire.ForwardMessageRPCRequest) (*wire.ForwardMessageRPCResponse, error)
	ReceiveMessageBroadcast(ctx context.Context, req wire.ReceiveMessageBroadcastRequest) error
	ReceiveMemberEventBroadcast(ctx context.Context, req wire.ReceiveMemberEventBroadcastRequest) error
	NotifyMemberDisconnect(ctx context.Context, req wire.NotifyMemberDisconnectRequest) error
	Heartbeat(ctx context.Context) wire.HeartbeatResponse
	PrepareDeleteRoom(ctx context.Context, req wire.PrepareDeleteRoomRequest) wire.PrepareDeleteRoomResponse
	CommitDeleteRoom(ctx context.Context, req wire.CommitDeleteRoomRequest) wire.CommitDeleteRoomResponse
	RollbackDeleteRoom(ctx context.Context, req wire.RollbackDeleteRoomRequest) wire.RollbackDeleteRoomResponse
}

// Server is the HTTP listener other nodes call into.
type Server struct {
	handler Handler
	logger  *logging.Logger
	mux     *http.ServeMux
}

// NewServer builds an RPC server dispatching to handler.
func NewServer(handler Handler, logger *logging.Logger) *Server {
	s := &Server{handler: handler, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug(r.Context(), "inbound rpc call", "path", r.URL.Path, "remote", r.RemoteAddr)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc(MethodGetHostedRooms.Path(), s.handleGetHostedRooms)
	s.mux.HandleFunc(MethodJoinRoom.Path(), s.handleJoinRoom)
	s.mux.HandleFunc(MethodLeaveRoom.Path(), s.handleLeaveRoom)
	s.mux.HandleFunc(MethodForwardMessage.Path(), s.handleForwardMessage)
	s.mux.HandleFunc(MethodReceiveMessageBroadcast.Path(), s.handleReceiveMessageBroadcast)
	s.mux.HandleFunc(MethodReceiveMemberEventBroadcast.Path(), s.handleReceiveMemberEventBroadcast)
	s.mux.HandleFunc(MethodNotifyMemberDisconnect.Path(), s.handleNotifyMemberDisconnect)
	s.mux.HandleFunc(MethodHeartbeat.Path(), s.handleHeartbeat)
	s.mux.HandleFunc(MethodPrepareDeleteRoom.Path(), s.handlePrepareDeleteRoom)
	s.mux.HandleFunc(MethodCommitDeleteRoom.Path(), s.handleCommitDeleteRoom)
	s.mux.HandleFunc(MethodRollbackDeleteRoom.Path(), s.handleRollbackDeleteRoom)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, err error) {
	apiErr := wire.AsAPIError(err)
	status := http.StatusInternalServerError
	switch apiErr.Code {
	case wire.ErrRoomNotFound:
		status = http.StatusNotFound
	case wire.ErrInvalidRequest, wire.ErrInvalidContent, wire.ErrInvalidState:
		status = http.StatusBadRequest
	case wire.ErrUnauthorized:
		status = http.StatusForbidden
	case wire.ErrAlreadyInRoom, wire.ErrNotInRoom, wire.ErrNotMember:
		status = http.StatusConflict
	}
	writeJSON(w, status, apiErr)
}

func (s *Server) handleGetHostedRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.GetHostedRooms(r.Context()))
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req wire.JoinRoomRPCRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	resp, err := s.handler.JoinRoomRPC(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	var req wire.LeaveRoomRPCRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	if err := s.handler.LeaveRoomRPC(r.Context(), req); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleForwardMessage(w http.ResponseWriter, r *http.Request) {
	var req wire.ForwardMessageRPCRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	resp, err := s.handler.ForwardMessageRPC(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReceiveMessageBroadcast(w http.ResponseWriter, r *http.Request) {
	var req wire.ReceiveMessageBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	if err := s.handler.ReceiveMessageBroadcast(r.Context(), req); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleReceiveMemberEventBroadcast(w http.ResponseWriter, r *http.Request) {
	var req wire.ReceiveMemberEventBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	if err := s.handler.ReceiveMemberEventBroadcast(r.Context(), req); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleNotifyMemberDisconnect(w http.ResponseWriter, r *http.Request) {
	var req wire.NotifyMemberDisconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	if err := s.handler.NotifyMemberDisconnect(r.Context(), req); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Heartbeat(r.Context()))
}

func (s *Server) handlePrepareDeleteRoom(w http.ResponseWriter, r *http.Request) {
	var req wire.PrepareDeleteRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusOK, wire.PrepareDeleteRoomResponse{
			TransactionID: req.TransactionID,
			Vote:          "ABORT",
			Reason:        err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.handler.PrepareDeleteRoom(r.Context(), req))
}

func (s *Server) handleCommitDeleteRoom(w http.ResponseWriter, r *http.Request) {
	var req wire.CommitDeleteRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, s.handler.CommitDeleteRoom(r.Context(), req))
}

func (s *Server) handleRollbackDeleteRoom(w http.ResponseWriter, r *http.Request) {
	var req wire.RollbackDeleteRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, wire.NewError(wire.ErrInvalidRequest, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, s.handler.RollbackDeleteRoom(r.Context(), req))
}
