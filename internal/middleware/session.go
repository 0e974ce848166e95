package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gluk-w/webssh/internal/session"
)

type contextKey string

const sessionContextKey contextKey = "session"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireSession makes sure every request carries a live session, creating
// one (and its cookie) when the client has none or its session expired.
func RequireSession(store *session.Store, secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if cookie, err := r.Cookie(session.CookieName); err == nil && store.Exists(cookie.Value) {
				id = cookie.Value
				if err := store.Touch(id); err != nil {
					log.Printf("[session] touch failed: %v", err)
				}
			} else {
				newID, err := store.Create()
				if err != nil {
					log.Printf("[session] create failed: %v", err)
					writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Could not start a session"})
					return
				}
				id = newID
				http.SetCookie(w, &http.Cookie{
					Name:     session.CookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secureCookie,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionID returns the session id attached by RequireSession.
func GetSessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionContextKey).(string)
	return id
}
