package domain

import "time"

// AuditAction identifies a security-sensitive event.
type AuditAction string

const (
	AuditActionLogin           AuditAction = "login"
	AuditActionLogout          AuditAction = "logout"
	AuditActionSeedViewed      AuditAction = "seed_viewed"
	AuditActionAutoCloseFailed AuditAction = "auto_close_failed"
)

// AuditLogEntry is an append-only record of a security-sensitive event.
// Writes are best-effort: a failed write must never abort the operation it
// was recording.
type AuditLogEntry struct {
	ID           int64
	Actor        string // user ID, or "monitor" for unattended actions
	Action       AuditAction
	ResourceType string
	ResourceID   string
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}
