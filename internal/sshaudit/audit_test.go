package sshaudit

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/webssh/internal/database"
)

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewAuditor(db, 90)
}

func TestNewAuditor_DefaultRetention(t *testing.T) {
	a := newTestAuditor(t)
	if a.RetentionDays() != 90 {
		t.Errorf("RetentionDays() = %d, want 90", a.RetentionDays())
	}
	if NewAuditor(nil, 0).RetentionDays() != DefaultRetentionDays {
		t.Error("expected default retention when 0 is given")
	}
}

func TestLog_StoresSessionRefNotID(t *testing.T) {
	a := newTestAuditor(t)
	sessionID := strings.Repeat("ab", 32)

	if err := a.Log(AuditEntry{SessionID: sessionID, Target: "u@h:22", EventType: EventConnectionEstablished, SourceIP: "10.0.0.1"}); err != nil {
		t.Fatalf("Log() error: %v", err)
	}

	res, err := a.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("Total=%d entries=%d", res.Total, len(res.Entries))
	}
	e := res.Entries[0]
	if e.SessionID == sessionID || strings.Contains(sessionID, e.SessionID) {
		t.Errorf("stored session id %q leaks the cookie value", e.SessionID)
	}
	if e.SessionID != SessionRef(sessionID) {
		t.Errorf("SessionID = %q, want %q", e.SessionID, SessionRef(sessionID))
	}
	if e.Target != "u@h:22" || e.SourceIP != "10.0.0.1" || e.EventType != EventConnectionEstablished {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestQuery_FiltersBySession(t *testing.T) {
	a := newTestAuditor(t)

	a.Log(AuditEntry{SessionID: "s1", Target: "u@h:22", EventType: EventConnectionEstablished})
	a.Log(AuditEntry{SessionID: "s1", Target: "u@h:22", EventType: EventCommandExecution})
	a.Log(AuditEntry{SessionID: "s2", Target: "u@h:2222", EventType: EventConnectionFailed})

	res, err := a.Query(QueryOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Total = %d, want 2", res.Total)
	}

	res, _ = a.Query(QueryOptions{EventType: EventConnectionFailed})
	if res.Total != 1 || res.Entries[0].Target != "u@h:2222" {
		t.Errorf("event type filter: %+v", res)
	}

	res, _ = a.Query(QueryOptions{Target: "u@h:22"})
	if res.Total != 2 {
		t.Errorf("target filter Total = %d, want 2", res.Total)
	}
}

func TestQuery_PaginationAndOrder(t *testing.T) {
	a := newTestAuditor(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		a.SetNowFunc(func() time.Time { return now })
		a.Log(AuditEntry{SessionID: "s", EventType: EventCommandExecution, Details: string(rune('a' + i))})
	}

	res, err := a.Query(QueryOptions{SessionID: "s", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if res.Total != 5 || len(res.Entries) != 2 {
		t.Fatalf("Total=%d len=%d", res.Total, len(res.Entries))
	}
	if res.Entries[0].Details != "d" || res.Entries[1].Details != "c" {
		t.Errorf("expected newest first after offset, got %q, %q", res.Entries[0].Details, res.Entries[1].Details)
	}

	res, _ = a.Query(QueryOptions{Limit: 5000})
	if res.Limit != 1000 {
		t.Errorf("Limit = %d, want capped at 1000", res.Limit)
	}
	res, _ = a.Query(QueryOptions{})
	if res.Limit != 50 {
		t.Errorf("Limit = %d, want default 50", res.Limit)
	}
}

func TestQuery_TimeRange(t *testing.T) {
	a := newTestAuditor(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Hour)
		a.SetNowFunc(func() time.Time { return now })
		a.Log(AuditEntry{SessionID: "s", EventType: EventCommandExecution})
	}

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	res, err := a.Query(QueryOptions{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("Total = %d, want 1", res.Total)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	a := newTestAuditor(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -100) })
	a.Log(AuditEntry{SessionID: "s", EventType: EventConnectionEstablished})
	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -10) })
	a.Log(AuditEntry{SessionID: "s", EventType: EventConnectionTerminated})

	a.SetNowFunc(func() time.Time { return now })
	n, err := a.PurgeOlderThan(0)
	if err != nil {
		t.Fatalf("PurgeOlderThan() error: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}

	n, _ = a.PurgeOlderThan(5)
	if n != 1 {
		t.Errorf("purged %d with explicit days, want 1", n)
	}
}

func TestSessionRef(t *testing.T) {
	if SessionRef("") != "" {
		t.Error("empty id should map to empty ref")
	}
	a, b := SessionRef("one"), SessionRef("two")
	if a == b {
		t.Error("different sessions must get different refs")
	}
	if len(a) != 16 || a != SessionRef("one") {
		t.Errorf("SessionRef must be a stable 16 char value, got %q", a)
	}
}
