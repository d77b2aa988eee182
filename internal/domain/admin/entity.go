package admin

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role represents admin role
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleSupport    Role = "support"
)

// AdminUser represents an admin panel user
type AdminUser struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	Role         Role           `db:"role" json:"role"`
	Name         string         `db:"name" json:"name"`
	IsActive     bool           `db:"is_active" json:"is_active"`
	LastLoginAt  sql.NullTime   `db:"last_login_at" json:"last_login_at,omitempty"`
	LastLoginIP  sql.NullString `db:"last_login_ip" json:"last_login_ip,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// AuditLog represents an admin action log entry
type AuditLog struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	AdminID    uuid.NullUUID   `db:"admin_id" json:"admin_id,omitempty"`
	AdminEmail string          `db:"admin_email" json:"admin_email"`
	Action     string          `db:"action" json:"action"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   uuid.NullUUID   `db:"entity_id" json:"entity_id,omitempty"`
	OldValue   json.RawMessage `db:"old_value" json:"old_value,omitempty"`
	NewValue   json.RawMessage `db:"new_value" json:"new_value,omitempty"`
	Reason     sql.NullString  `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Audit actions
const (
	ActionJobUpdate    = "job.update"
	ActionJobResult    = "job.result_upload"
	ActionJobRefund    = "job.refund"
	ActionCreditTopUp  = "credits.topup"
	ActionCreditRefund = "credits.refund"
	ActionAdminCreate  = "admin.create"
	ActionAdminStatus  = "admin.status"
)
