package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienstroheker/devicestream/gateway/management"
	"github.com/julienstroheker/devicestream/gateway/store"
	"github.com/julienstroheker/devicestream/gateway/stream"
)

func TestStreamHandler_Unauthorized(t *testing.T) {
	svc, err := management.NewService(&management.Options{
		Store:     store.NewMemory(time.Minute),
		PublicURL: "http://gateway.example.net",
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	manager := stream.NewManager(&stream.Options{})
	defer func() { _ = manager.Close() }()

	mux := http.NewServeMux()
	mux.Handle("GET /streams/{streamId}", NewStreamHandler(svc, manager, &websocket.Upgrader{}))

	tests := []struct {
		name          string
		authorization string
	}{
		{name: "missing", authorization: ""},
		{name: "not bearer", authorization: "Basic abc"},
		{name: "unknown token", authorization: "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/streams/s1", nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, w.Code)
			}
		})
	}
}
