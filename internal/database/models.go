package database

import "time"

// Session is one browser session. Its ID is the cookie value.
type Session struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SessionField holds one named value of a session. Value is Fernet-encrypted.
type SessionField struct {
	SessionID string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"primaryKey;size:32"`
	Value     string    `gorm:"type:text;not null" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SSHAuditLog is one audit trail record of SSH activity for a session.
type SSHAuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"index;size:16" json:"session_id"`
	Target     string    `gorm:"index" json:"target"`
	EventType  string    `gorm:"index;not null" json:"event_type"`
	SourceIP   string    `json:"source_ip"`
	Details    string    `gorm:"type:text" json:"details"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SSHAuditLog) TableName() string {
	return "ssh_audit_logs"
}
