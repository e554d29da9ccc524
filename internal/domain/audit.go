package domain

import "time"

// AuditLog records API activity against the synonym catalog.
type AuditLog struct {
	ID         string    `json:"id"          db:"id"`
	Actor      string    `json:"actor"       db:"actor"`
	Action     string    `json:"action"      db:"action"`
	Resource   string    `json:"resource"    db:"resource"`
	ResourceID string    `json:"resource_id" db:"resource_id"`
	Details    string    `json:"details"     db:"details"` // JSON blob
	IP         string    `json:"ip"          db:"ip"`
	UserAgent  string    `json:"user_agent"  db:"user_agent"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// Audit action constants.
const (
	AuditActionHTTPRequest    = "http_request"
	AuditActionSynonymWrite   = "synonym_write"
	AuditActionSynonymDisable = "synonym_disable"
	AuditActionMCPCall        = "mcp_call"
)
