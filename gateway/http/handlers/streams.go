package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienstroheker/devicestream/gateway/management"
	"github.com/julienstroheker/devicestream/gateway/stream"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/internal/relay"
)

// NewStreamHandler handles GET /streams/{streamId}, the rendezvous point of
// the two sides of a stream. Each side authenticates with the bearer token
// it was granted; the connection is then handed to the stream manager.
func NewStreamHandler(svc *management.Service, manager *stream.Manager, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())
		streamID := r.PathValue("streamId")

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
			return
		}

		grant, err := svc.Authorize(r.Context(), streamID, token)
		if err != nil {
			logger.Warn("Stream authorization failed", logging.String("stream_id", streamID), logging.Error(err))
			if errors.Is(err, management.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired stream token")
				return
			}
			writeError(w, http.StatusInternalServerError, "InternalError", "failed to authorize stream")
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Stream upgrade failed", logging.Error(err))
			return
		}
		conn := relay.NewConn(ws)
		defer func() {
			_ = conn.Close()
		}()

		logger = logger.With(
			logging.String("stream_id", streamID),
			logging.String("side", string(grant.Side)),
			logging.String("device_id", grant.DeviceID))
		logger.Debug("Stream side connected")

		if err := manager.Join(r.Context(), streamID, grant.Side, conn); err != nil {
			logger.Warn("Stream ended", logging.Error(err))
			return
		}
		logger.Debug("Stream closed")
	}
}
