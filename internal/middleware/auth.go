package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// Auth authenticates the bearer credential and injects the caller identity
// into the request context. Role enforcement happens in the services, per
// operation; this middleware only establishes who is calling.
func Auth(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := gate.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(errors.HTTPStatus(err))
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":  string(errors.CodeOf(err)),
					"error": "authentication required",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
