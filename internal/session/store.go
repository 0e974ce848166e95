// Package session persists per-browser-session state: the form values, the
// active target, the transcript and one-shot notices. Credentials have no
// field here and are rejected like any other unknown name.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gluk-w/webssh/internal/crypto"
	"github.com/gluk-w/webssh/internal/database"
)

// CookieName carries the session id.
const CookieName = "webssh_session"

// Field names accepted by the store.
const (
	FieldHost         = "host"
	FieldPort         = "port"
	FieldUsername     = "username"
	FieldCommand      = "command"
	FieldActiveTarget = "active_target"
	FieldTranscript   = "transcript"
	FieldError        = "error"
	FieldMessage      = "message"
	FieldSSHError     = "ssh_error"
)

var allowedFields = map[string]bool{
	FieldHost:         true,
	FieldPort:         true,
	FieldUsername:     true,
	FieldCommand:      true,
	FieldActiveTarget: true,
	FieldTranscript:   true,
	FieldError:        true,
	FieldMessage:      true,
	FieldSSHError:     true,
}

var (
	ErrUnknownField = errors.New("unknown session field")
	ErrNotFound     = errors.New("session not found")
)

// Store is a sqlite-backed session store. Field values are encrypted at
// rest.
type Store struct {
	db     *gorm.DB
	cipher *crypto.Cipher
	ttl    time.Duration

	nowFunc func() time.Time
}

func NewStore(db *gorm.DB, cipher *crypto.Cipher, ttl time.Duration) *Store {
	return &Store{db: db, cipher: cipher, ttl: ttl, nowFunc: func() time.Time { return time.Now().UTC() }}
}

func checkField(name string) error {
	if !allowedFields[name] {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return nil
}

// Create starts a new session and returns its id.
func (s *Store) Create() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	id := hex.EncodeToString(b)

	sess := database.Session{ID: id, ExpiresAt: s.nowFunc().Add(s.ttl)}
	if err := s.db.Create(&sess).Error; err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// Exists reports whether id names a session that has not expired.
func (s *Store) Exists(id string) bool {
	if id == "" {
		return false
	}
	var count int64
	s.db.Model(&database.Session{}).
		Where("id = ? AND expires_at > ?", id, s.nowFunc()).
		Count(&count)
	return count > 0
}

// Touch extends the session's lifetime by the store TTL.
func (s *Store) Touch(id string) error {
	res := s.db.Model(&database.Session{}).Where("id = ?", id).
		Update("expires_at", s.nowFunc().Add(s.ttl))
	if res.Error != nil {
		return fmt.Errorf("touch session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the field's value, or "" when it is unset.
func (s *Store) Get(id, field string) (string, error) {
	if err := checkField(field); err != nil {
		return "", err
	}

	var f database.SessionField
	err := s.db.Where("session_id = ? AND name = ?", id, field).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session field %s: %w", field, err)
	}
	return s.cipher.Decrypt(f.Value)
}

// Values returns every set field of the session.
func (s *Store) Values(id string) (map[string]string, error) {
	var fields []database.SessionField
	if err := s.db.Where("session_id = ?", id).Find(&fields).Error; err != nil {
		return nil, fmt.Errorf("list session fields: %w", err)
	}

	values := make(map[string]string, len(fields))
	for _, f := range fields {
		v, err := s.cipher.Decrypt(f.Value)
		if err != nil {
			return nil, fmt.Errorf("decrypt session field %s: %w", f.Name, err)
		}
		values[f.Name] = v
	}
	return values, nil
}

// Set stores value under field. An empty value removes the field.
func (s *Store) Set(id, field, value string) error {
	if err := checkField(field); err != nil {
		return err
	}
	if value == "" {
		return s.Delete(id, field)
	}

	encrypted, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt session field %s: %w", field, err)
	}

	f := database.SessionField{SessionID: id, Name: field, Value: encrypted}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&f).Error
	if err != nil {
		return fmt.Errorf("set session field %s: %w", field, err)
	}
	return nil
}

// Pop returns the field's value and removes it in one transaction, so a
// one-shot notice is shown at most once.
func (s *Store) Pop(id, field string) (string, error) {
	if err := checkField(field); err != nil {
		return "", err
	}

	var encrypted string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var f database.SessionField
		err := tx.Where("session_id = ? AND name = ?", id, field).First(&f).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		encrypted = f.Value
		return tx.Where("session_id = ? AND name = ?", id, field).Delete(&database.SessionField{}).Error
	})
	if err != nil {
		return "", fmt.Errorf("pop session field %s: %w", field, err)
	}
	// Decrypt outside the transaction: the cipher may need its own query
	// and the pool holds a single connection.
	return s.cipher.Decrypt(encrypted)
}

// Delete removes the named fields.
func (s *Store) Delete(id string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	for _, field := range fields {
		if err := checkField(field); err != nil {
			return err
		}
	}
	err := s.db.Where("session_id = ? AND name IN ?", id, fields).Delete(&database.SessionField{}).Error
	if err != nil {
		return fmt.Errorf("delete session fields: %w", err)
	}
	return nil
}

// Cleanup removes expired sessions with their fields and returns the
// removed ids so their connections can be closed.
func (s *Store) Cleanup() ([]string, error) {
	var ids []string
	err := s.db.Model(&database.Session{}).
		Where("expires_at <= ?", s.nowFunc()).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("find expired sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&database.SessionField{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&database.Session{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}
	return ids, nil
}
