package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienstroheker/devicestream/internal/api"
	"github.com/julienstroheker/devicestream/internal/auth"
	"github.com/julienstroheker/devicestream/internal/logging"
)

// SharedAccessSignature is a middleware that requires a SAS token signed with
// key and scoped to the host the request was addressed to, or a resource
// below it. When keyName is set, tokens naming another key are refused.
func SharedAccessSignature(keyName, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.VerifySASToken(r.Header.Get("Authorization"), r.Host, key, time.Now())
			if err == nil && keyName != "" && token.KeyName != "" && token.KeyName != keyName {
				err = auth.ErrInvalidToken
			}
			if err != nil {
				logging.FromContext(r.Context()).Warn("Rejected control plane request",
					logging.String("path", r.URL.Path),
					logging.Error(err))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{Code: "Unauthorized", Message: err.Error()})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
