package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienstroheker/devicestream/gateway/stream"
	"github.com/julienstroheker/devicestream/internal/api"
	"github.com/julienstroheker/devicestream/internal/controlplane"
)

// NewHealthHandler handles GET /healthz. The body reports how many devices
// hold a control channel and how many stream halves wait for their peer.
func NewHealthHandler(hub *controlplane.Hub, streams *stream.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(api.HealthResponse{
			Status:           "ok",
			ConnectedDevices: hub.ConnectedDevices(),
			PendingStreams:   streams.Pending(),
		})
	}
}
