package clientapi

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
	sendBufferSize = 256
)

// membership is what a session remembers about one room it has joined, so
// it can route leave_room/send_message and unwind cleanly on disconnect.
type membership struct {
	username  string
	adminNode string // this node's own ID when the room is hosted locally
	local     bool
}

// Session is one client's websocket connection. It owns exactly one
// reader and one writer goroutine (the teacher's readPump/writePump
// split), and tracks every room it has joined for teardown.
type Session struct {
	id     uuid.UUID
	server *Server
	conn   *websocket.Conn
	send   chan *wire.Envelope
	logger *logging.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]membership
}

func newSession(server *Server, conn *websocket.Conn) *Session {
	return &Session{
		id:     uuid.New(),
		server: server,
		conn:   conn,
		send:   make(chan *wire.Envelope, sendBufferSize),
		logger: server.logger,
		rooms:  make(map[uuid.UUID]membership),
	}
}

// start launches the read/write pumps and blocks until the connection is
// torn down, at which point every joined room is cleaned up.
func (s *Session) start(ctx context.Context) {
	done := make(chan struct{})
	go s.writePump(done)
	s.readPump(ctx)
	close(done)
	s.teardown(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn(ctx, "session read error", "error", err)
			}
			return
		}

		env, err := wire.Decode(raw)
		if err != nil {
			s.replyError(ctx, wire.ErrInvalidRequest, "invalid JSON envelope")
			continue
		}
		s.server.dispatch(ctx, s, env)
	}
}

func (s *Session) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case env, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// reply enqueues a frame for delivery to this session only. It never
// blocks: a full send buffer means a slow or dead client, and the frame
// is dropped rather than stalling the dispatch loop.
func (s *Session) reply(ctx context.Context, frameType string, data interface{}) {
	env, err := wire.Encode(frameType, data)
	if err != nil {
		s.logger.Error(ctx, "failed to encode outbound frame", "type", frameType, "error", err)
		return
	}
	select {
	case s.send <- env:
	default:
		s.logger.Warn(ctx, "dropping frame, session send buffer full", "type", frameType, "session", s.id)
	}
}

func (s *Session) replyError(ctx context.Context, code wire.ErrorCode, message string) {
	s.reply(ctx, wire.TypeError, wire.GenericErrorResponse{Message: message, ErrorCode: code})
}

func (s *Session) join(roomID uuid.UUID, username, adminNode string, local bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = membership{username: username, adminNode: adminNode, local: local}
}

func (s *Session) membershipOf(roomID uuid.UUID) (membership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rooms[roomID]
	return m, ok
}

func (s *Session) leave(roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

func (s *Session) joinedRooms() map[uuid.UUID]membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]membership, len(s.rooms))
	for k, v := range s.rooms {
		out[k] = v
	}
	return out
}

// teardown unregisters every subscription this session held and notifies
// each room's owning node that the member disconnected (spec.md §5
// "Resource ownership").
func (s *Session) teardown(ctx context.Context) {
	for roomID, m := range s.joinedRooms() {
		s.server.unsubscribe(roomID, s)
		s.server.handleDisconnect(ctx, roomID, m)
	}
}
