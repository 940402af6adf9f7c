package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// AdminAuth requires "Authorization: Bearer <password>" when password is
// non-empty. An empty password lets every request through.
func AdminAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if password == "" {
			return next
		}
		want := []byte(password)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				log.Printf("[%s] ⚠️  Rejected unauthenticated %s %s", GetRequestID(r.Context()), r.Method, r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Bearer realm="room-panel"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
