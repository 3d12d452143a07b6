package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienstroheker/devicestream/internal/api"
	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/internal/metrics"
)

const controlWriteTimeout = 10 * time.Second

// NewDeviceChannelHandler handles GET /devices/{deviceId}/streams, the
// WebSocket control channel of a device. Stream requests for the device are
// pushed as JSON text messages and its answers are read back, until either
// side closes the channel.
func NewDeviceChannelHandler(hub *controlplane.Hub, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())
		deviceID := r.PathValue("deviceId")

		if deviceID == "" {
			writeError(w, http.StatusBadRequest, "BadRequest", "device id is required")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client
			logger.Warn("Control channel upgrade failed", logging.Error(err))
			return
		}
		defer func() {
			_ = conn.Close()
		}()

		device := hub.Connect(deviceID)
		defer func() {
			_ = device.Close()
		}()

		metrics.ConnectedDevices.Inc()
		defer metrics.ConnectedDevices.Dec()

		logger = logger.With(logging.String("device_id", deviceID))
		logger.Info("Device connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reader: device answers. The channel is over when reading fails.
		go func() {
			defer cancel()
			for {
				var resp api.StreamResponseMessage
				if err := conn.ReadJSON(&resp); err != nil {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						logger.Debug("Control channel read ended", logging.Error(err))
					}
					return
				}

				req := &controlplane.StreamRequest{RequestID: resp.RequestID, DeviceID: deviceID}
				decide := device.Reject
				if resp.Accepted {
					decide = device.Accept
				}
				if err := decide(ctx, req); err != nil {
					logger.Warn("Ignoring stream response", logging.String("request_id", resp.RequestID), logging.Error(err))
				}
			}
		}()

		// Writer: requests for this device
		for {
			req, err := device.WaitForStreamRequest(ctx)
			if err != nil || req == nil {
				break
			}

			_ = conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
			err = conn.WriteJSON(api.StreamRequestMessage{
				RequestID:          req.RequestID,
				StreamName:         req.StreamName,
				URL:                req.URL,
				AuthorizationToken: req.AuthorizationToken,
			})
			if err != nil {
				logger.Warn("Failed to push stream request", logging.Error(err))
				break
			}
			logger.Debug("Stream request pushed", logging.String("request_id", req.RequestID))
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		logger.Info("Device disconnected")
	}
}
