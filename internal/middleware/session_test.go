package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gluk-w/webssh/internal/crypto"
	"github.com/gluk-w/webssh/internal/database"
	"github.com/gluk-w/webssh/internal/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return session.NewStore(db, crypto.NewCipher(db), time.Hour)
}

func echoSession() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetSessionID(r)))
	})
}

func TestRequireSession_CreatesSessionAndCookie(t *testing.T) {
	store := newTestStore(t)
	h := RequireSession(store, true)(echoSession())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != session.CookieName {
		t.Fatalf("cookies = %+v", cookies)
	}
	c := cookies[0]
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie flags: %+v", c)
	}
	if rec.Body.String() != c.Value {
		t.Errorf("context session %q != cookie %q", rec.Body.String(), c.Value)
	}
	if !store.Exists(c.Value) {
		t.Error("session not persisted")
	}
}

func TestRequireSession_ReusesValidCookie(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Create()
	h := RequireSession(store, false)(echoSession())

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.String() != id {
		t.Errorf("session = %q, want %q", rec.Body.String(), id)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no new cookie expected for a valid session")
	}
}

func TestRequireSession_ReplacesUnknownCookie(t *testing.T) {
	store := newTestStore(t)
	h := RequireSession(store, false)(echoSession())

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "forged"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.String() == "forged" {
		t.Error("unknown session id was accepted")
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("expected a fresh cookie")
	}
}

func TestGetSessionID_Empty(t *testing.T) {
	if id := GetSessionID(httptest.NewRequest("GET", "/", nil)); id != "" {
		t.Errorf("GetSessionID() = %q, want empty", id)
	}
}
