package sshaudit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/webssh/internal/database"
	"github.com/gluk-w/webssh/internal/logutil"
)

// Event types for SSH audit logging.
const (
	EventConnectionEstablished = "connection_established"
	EventConnectionTerminated  = "connection_terminated"
	EventConnectionFailed      = "connection_failed"
	EventCommandExecution      = "command_execution"
	EventKeyLoadFailed         = "key_load_failed"
	EventFingerprintMismatch   = "fingerprint_mismatch"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// AuditEntry contains the fields needed to create an audit log entry.
// SessionID is the raw session id; it is reduced to a SessionRef before
// being stored.
type AuditEntry struct {
	SessionID  string
	Target     string
	EventType  string
	SourceIP   string
	Details    string
	DurationMs int64
}

// Auditor records and queries SSH audit logs.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor writing to db. If retentionDays is 0,
// DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// SessionRef is the value stored in place of a session id.
func SessionRef(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:8])
}

// Log records an audit event to the database and standard logger.
func (a *Auditor) Log(entry AuditEntry) error {
	record := database.SSHAuditLog{
		SessionID:  SessionRef(entry.SessionID),
		Target:     entry.Target,
		EventType:  entry.EventType,
		SourceIP:   entry.SourceIP,
		Details:    entry.Details,
		DurationMs: entry.DurationMs,
		CreatedAt:  a.nowFn().UTC(),
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[ssh-audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[ssh-audit] %s session=%s target=%s ip=%s details=%s",
		entry.EventType,
		record.SessionID,
		logutil.SanitizeForLog(entry.Target),
		entry.SourceIP,
		logutil.SanitizeForLog(entry.Details),
	)
	return nil
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	SessionID string // raw session id
	Target    string
	EventType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.SSHAuditLog `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 1000
)

// filter narrows a query to the set options.
func (o QueryOptions) filter(tx *gorm.DB) *gorm.DB {
	if o.SessionID != "" {
		tx = tx.Where("session_id = ?", SessionRef(o.SessionID))
	}
	if o.Target != "" {
		tx = tx.Where("target = ?", o.Target)
	}
	if o.EventType != "" {
		tx = tx.Where("event_type = ?", o.EventType)
	}
	if o.Since != nil {
		tx = tx.Where("created_at >= ?", o.Since.UTC())
	}
	if o.Until != nil {
		tx = tx.Where("created_at <= ?", o.Until.UTC())
	}
	return tx
}

// page clamps limit and offset into their allowed ranges.
func (o QueryOptions) page() (limit, offset int) {
	limit, offset = o.Limit, o.Offset
	switch {
	case limit <= 0:
		limit = defaultQueryLimit
	case limit > maxQueryLimit:
		limit = maxQueryLimit
	}
	return limit, max(offset, 0)
}

// Query retrieves audit log entries matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	limit, offset := opts.page()
	result := &QueryResult{Limit: limit, Offset: offset}

	base := opts.filter(a.db.Model(&database.SSHAuditLog{}))
	if err := base.Count(&result.Total).Error; err != nil {
		return nil, fmt.Errorf("count audit logs: %w", err)
	}
	err := base.Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&result.Entries).Error
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	return result, nil
}

// PurgeOlderThan removes entries older than days, or older than the
// configured retention when days <= 0. Returns the number removed.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().UTC().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.SSHAuditLog{})
	if result.Error != nil {
		log.Printf("[ssh-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
