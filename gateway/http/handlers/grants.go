package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/logging"
)

// NewStreamRequestHandler handles POST /twins/{deviceId}/streams/{streamName}.
// It asks the device for a stream and answers with the resulting session grant.
func NewStreamRequestHandler(requester controlplane.GrantRequester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		logger := logging.FromContext(r.Context())
		deviceID := r.PathValue("deviceId")
		streamName := r.PathValue("streamName")

		if deviceID == "" || streamName == "" {
			writeError(w, http.StatusBadRequest, "BadRequest", "device id and stream name are required")
			return
		}

		grant, err := requester.RequestStream(r.Context(), deviceID, streamName)
		if err != nil {
			logger.Warn("Stream request failed",
				logging.String("device_id", deviceID),
				logging.String("stream", streamName),
				logging.Error(err))

			switch {
			case errors.Is(err, controlplane.ErrDeviceNotConnected):
				writeError(w, http.StatusNotFound, "DeviceNotConnected", err.Error())
			case errors.Is(err, controlplane.ErrGrantUnavailable):
				writeError(w, http.StatusGatewayTimeout, "DeviceTimeout", err.Error())
			case r.Context().Err() != nil:
				writeError(w, http.StatusServiceUnavailable, "RequestCancelled", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "InternalError", "failed to request stream")
			}
			return
		}

		logger.Info("Stream request answered",
			logging.String("device_id", deviceID),
			logging.String("stream", streamName),
			logging.Bool("accepted", grant.IsAccepted))

		data, err := json.Marshal(grant)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
