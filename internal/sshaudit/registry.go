package sshaudit

import (
	"sync/atomic"

	"gorm.io/gorm"
)

var current atomic.Pointer[Auditor]

// InitGlobal installs an Auditor over db. Call once at startup, after the
// database is initialized.
func InitGlobal(db *gorm.DB, retentionDays int) {
	Install(NewAuditor(db, retentionDays))
}

// Install makes a the process-wide Auditor and returns the one it replaced.
// A nil a turns auditing off.
func Install(a *Auditor) (previous *Auditor) {
	return current.Swap(a)
}

// GetAuditor returns the process-wide Auditor, or nil when none is installed.
func GetAuditor() *Auditor {
	return current.Load()
}
