package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository is the persistence boundary for operators and their audit trail.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	CreateAdmin(ctx context.Context, admin *AdminUser) error
	GetAdminByID(ctx context.Context, id uuid.UUID) (*AdminUser, error)
	GetAdminByEmail(ctx context.Context, email string) (*AdminUser, error)
	ListAdmins(ctx context.Context) ([]*AdminUser, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, ip string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	CreateAuditLog(ctx context.Context, entry *AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*AuditLog, int, error)
}

// AuditFilter narrows the audit trail. Nil fields match everything.
type AuditFilter struct {
	AdminID    *uuid.UUID
	Action     *string
	EntityType *string
	EntityID   *uuid.UUID
	Limit      int
	Offset     int
}

const adminColumns = `id, email, password_hash, role, name, is_active,
	last_login_at, last_login_ip, created_at, updated_at`

const auditColumns = `id, admin_id, admin_email, action, entity_type, entity_id,
	old_value, new_value, reason, created_at`

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the Postgres repository.
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateAdmin(ctx context.Context, admin *AdminUser) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO admin_users (id, email, password_hash, role, name, is_active, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :role, :name, :is_active, :created_at, :updated_at)
	`, admin)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (r *repository) GetAdminByID(ctx context.Context, id uuid.UUID) (*AdminUser, error) {
	return r.getAdmin(ctx, `id = $1`, id)
}

func (r *repository) GetAdminByEmail(ctx context.Context, email string) (*AdminUser, error) {
	return r.getAdmin(ctx, `lower(email) = lower($1)`, email)
}

func (r *repository) getAdmin(ctx context.Context, cond string, arg interface{}) (*AdminUser, error) {
	var admin AdminUser
	err := r.db.GetContext(ctx, &admin, `SELECT `+adminColumns+` FROM admin_users WHERE `+cond, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &admin, nil
}

func (r *repository) ListAdmins(ctx context.Context) ([]*AdminUser, error) {
	admins := []*AdminUser{}
	err := r.db.SelectContext(ctx, &admins, `
		SELECT `+adminColumns+` FROM admin_users ORDER BY is_active DESC, created_at
	`)
	return admins, err
}

func (r *repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, ip string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE admin_users SET last_login_at = NOW(), last_login_ip = NULLIF($2, '') WHERE id = $1
	`, id, ip)
	return err
}

func (r *repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE admin_users SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAdminNotFound
	}
	return nil
}

func (r *repository) CreateAuditLog(ctx context.Context, entry *AuditLog) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO admin_audit_logs (`+auditColumns+`)
		VALUES (:id, :admin_id, :admin_email, :action, :entity_type, :entity_id,
			:old_value, :new_value, :reason, :created_at)
	`, entry)
	return err
}

func (r *repository) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*AuditLog, int, error) {
	var (
		where []string
		args  []interface{}
	)
	eq := func(column string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.AdminID != nil {
		eq("admin_id", *filter.AdminID)
	}
	if filter.Action != nil {
		eq("action", *filter.Action)
	}
	if filter.EntityType != nil {
		eq("entity_type", *filter.EntityType)
	}
	if filter.EntityID != nil {
		eq("entity_id", *filter.EntityID)
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM admin_audit_logs`+cond, args...); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, filter.Limit, filter.Offset)
	entries := []*AuditLog{}
	err := r.db.SelectContext(ctx, &entries, fmt.Sprintf(
		`SELECT %s FROM admin_audit_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		auditColumns, cond, n+1, n+2,
	), args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
