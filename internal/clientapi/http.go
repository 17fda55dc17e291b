package clientapi

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the connection and blocks for the session's lifetime.
// Authentication beyond a client-supplied username per request is an
// explicit non-goal; any socket may join or create a room.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("clientapi").Start(r.Context(), "ClientSession")
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.SetStatus(codes.Error, "websocket upgrade failed")
		s.logger.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(s, conn)
	sess.start(ctx)
}

// Healthz reports this node as live; used by deployment liveness probes.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
