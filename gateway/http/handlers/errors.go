package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienstroheker/devicestream/internal/api"
)

// writeError writes an api.ErrorResponse with status
func writeError(w http.ResponseWriter, status int, code, message string) {
	data, err := json.Marshal(api.ErrorResponse{Code: code, Message: message})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
