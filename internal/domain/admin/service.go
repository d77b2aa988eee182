package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/pkg/password"
	"github.com/eficia/eficia-api/internal/pkg/storage"
)

// FileStore is the part of the blob store the admin surface needs.
type FileStore interface {
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DownloadTTL bounds links handed to operators.
const DownloadTTL = time.Hour

// Service handles admin business logic. Every operation on jobs or credits
// checks the caller's Capability first.
type Service struct {
	repo   Repository
	jobs   *job.Service
	ledger *ledger.Service
	files  FileStore
}

// NewService creates admin service
func NewService(repo Repository, jobs *job.Service, ledgerSvc *ledger.Service, files FileStore) *Service {
	return &Service{
		repo:   repo,
		jobs:   jobs,
		ledger: ledgerSvc,
		files:  files,
	}
}

// --- Authentication ---

// Login authenticates admin
func (s *Service) Login(ctx context.Context, email, pwd, ip string) (*AdminUser, error) {
	admin, err := s.repo.GetAdminByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrInvalidCredentials
	}

	if !password.Verify(pwd, admin.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if !admin.IsActive {
		return nil, ErrAdminInactive
	}

	if err := s.repo.UpdateLastLogin(ctx, admin.ID, ip); err != nil {
		log.Warn().Err(err).Str("admin_id", admin.ID.String()).Msg("Failed to record admin login")
	}

	return admin, nil
}

// GetAdminByID returns admin by ID
func (s *Service) GetAdminByID(ctx context.Context, id uuid.UUID) (*AdminUser, error) {
	admin, err := s.repo.GetAdminByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrAdminNotFound
	}
	return admin, nil
}

// --- Admin Management ---

// CreateAdmin creates a new admin user. The actor must outrank the new role.
func (s *Service) CreateAdmin(ctx context.Context, c Capability, req *CreateAdminRequest) (*AdminUser, error) {
	if err := c.require(PermManageAdmins); err != nil {
		return nil, err
	}
	if !CanManage(c.Role, Role(req.Role)) {
		return nil, ErrCannotManageRole
	}

	admin, err := s.createAdmin(ctx, req.Email, req.Password, req.Name, Role(req.Role))
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, c, ActionAdminCreate, "admin", admin.ID, "", nil, admin)
	return admin, nil
}

// Bootstrap creates a super admin from the command line. It refuses to
// overwrite an existing account.
func (s *Service) Bootstrap(ctx context.Context, email, pwd, name string) (*AdminUser, error) {
	return s.createAdmin(ctx, email, pwd, name, RoleSuperAdmin)
}

func (s *Service) createAdmin(ctx context.Context, email, pwd, name string, role Role) (*AdminUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.repo.GetAdminByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := password.Hash(pwd)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	admin := &AdminUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Name:         name,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}

// ListAdmins returns all admins
func (s *Service) ListAdmins(ctx context.Context, c Capability) ([]*AdminUser, error) {
	if err := c.require(PermManageAdmins); err != nil {
		return nil, err
	}
	return s.repo.ListAdmins(ctx)
}

// SetAdminActive enables or disables an operator. Disabled operators lose
// every permission on their next request. Nobody can disable themselves.
func (s *Service) SetAdminActive(ctx context.Context, c Capability, id uuid.UUID, active bool, reason string) (*AdminUser, error) {
	if err := c.require(PermManageAdmins); err != nil {
		return nil, err
	}
	if id == c.AdminID {
		return nil, ErrCannotManageRole
	}

	target, err := s.GetAdminByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanManage(c.Role, target.Role) {
		return nil, ErrCannotManageRole
	}
	if target.IsActive == active {
		return target, nil
	}

	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	target.IsActive = active

	s.logAction(ctx, c, ActionAdminStatus, "admin", id, reason,
		map[string]bool{"is_active": !active}, map[string]bool{"is_active": active})
	return target, nil
}

// --- Jobs ---

// ListJobs returns jobs newest first.
func (s *Service) ListJobs(ctx context.Context, c Capability, f job.Filter) ([]job.Job, int, error) {
	if err := c.require(PermViewJobs); err != nil {
		return nil, 0, err
	}
	return s.jobs.ListJobs(ctx, f)
}

// GetJob returns one job.
func (s *Service) GetJob(ctx context.Context, c Capability, id uuid.UUID) (*job.Job, error) {
	if err := c.require(PermViewJobs); err != nil {
		return nil, err
	}
	return s.jobs.GetJob(ctx, id)
}

// JobStats returns the dashboard counters.
func (s *Service) JobStats(ctx context.Context, c Capability) (*job.Stats, error) {
	if err := c.require(PermViewJobs); err != nil {
		return nil, err
	}
	return s.jobs.Stats(ctx)
}

// JobFileURL returns a short-lived link to the uploaded file, or to the
// enriched result when result is true.
func (s *Service) JobFileURL(ctx context.Context, c Capability, id uuid.UUID, result bool) (string, error) {
	if err := c.require(PermViewJobs); err != nil {
		return "", err
	}
	j, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return "", err
	}

	key := j.FileRef
	if result {
		key = j.ResultRef
	}
	if key == "" {
		return "", ErrNoResultFile
	}
	return s.files.SignedURL(ctx, key, DownloadTTL)
}

// UpdateJob applies an operator patch. Completing a job deducts its credits.
func (s *Service) UpdateJob(ctx context.Context, c Capability, id uuid.UUID, patch job.Patch, reason string) (*job.UpdateResult, error) {
	if err := c.require(PermEditJobs); err != nil {
		return nil, err
	}

	before, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.jobs.UpdateJob(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, c, ActionJobUpdate, "job", id, reason, before, res.Job)
	return res, nil
}

// UploadResult stores the enriched file under enriched/<owner>/<uuid>/<filename>
// and records it on the job. The replaced file, if any, is removed.
func (s *Service) UploadResult(ctx context.Context, c Capability, id uuid.UUID, filename, contentType string, r io.Reader) (*job.UpdateResult, error) {
	if err := c.require(PermEditJobs); err != nil {
		return nil, err
	}

	name := storage.SanitizeFilename(filename)
	if name == "" {
		return nil, fmt.Errorf("%w: missing filename", job.ErrInvalidUpload)
	}

	j, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("enriched/%s/%s/%s", j.OwnerID, uuid.New(), name)
	if err := s.files.Save(ctx, key, r, contentType); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}

	res, err := s.jobs.UpdateJob(ctx, id, job.Patch{ResultRef: &key})
	if err != nil {
		s.removeFile(ctx, key, "Failed to remove orphaned result")
		return nil, err
	}
	if j.ResultRef != "" && j.ResultRef != key {
		s.removeFile(ctx, j.ResultRef, "Failed to remove replaced result")
	}

	s.logAction(ctx, c, ActionJobResult, "job", id, "", map[string]string{"result_ref": j.ResultRef}, map[string]string{"result_ref": key})
	return res, nil
}

func (s *Service) removeFile(ctx context.Context, key, msg string) {
	if err := s.files.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg(msg)
	}
}

// RefundJob reverses the credit deduction of a job.
func (s *Service) RefundJob(ctx context.Context, c Capability, id uuid.UUID, reason string) (*ledger.Transaction, error) {
	if err := c.require(PermRefundCredits); err != nil {
		return nil, err
	}

	t, err := s.ledger.RefundJob(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, c, ActionJobRefund, "job", id, reason, nil, t)
	return t, nil
}

// --- Credits ---

// ListAccounts returns accounts with balances.
func (s *Service) ListAccounts(ctx context.Context, c Capability, p ledger.Pagination) ([]ledger.Account, int, error) {
	if err := c.require(PermViewCredits); err != nil {
		return nil, 0, err
	}
	return s.ledger.ListAccounts(ctx, p)
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, c Capability, ownerID uuid.UUID) (*ledger.Account, error) {
	if err := c.require(PermViewCredits); err != nil {
		return nil, err
	}
	return s.ledger.GetAccount(ctx, ownerID)
}

// ListTransactions returns ledger entries newest first.
func (s *Service) ListTransactions(ctx context.Context, c Capability, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	if err := c.require(PermViewCredits); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, f)
}

// TopUp grants credits to an owner, creating the account if needed.
func (s *Service) TopUp(ctx context.Context, c Capability, ownerID uuid.UUID, amount int64, description, reason string) (*ledger.Transaction, error) {
	if err := c.require(PermGrantCredits); err != nil {
		return nil, err
	}

	t, err := s.ledger.TopUp(ctx, ownerID, amount, description)
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, c, ActionCreditTopUp, "credit_account", t.AccountID, reason, nil, t)
	return t, nil
}

// Refund writes a compensating credit entry.
func (s *Service) Refund(ctx context.Context, c Capability, ownerID uuid.UUID, amount int64, relatedJobID *uuid.UUID, description, reason string) (*ledger.Transaction, error) {
	if err := c.require(PermRefundCredits); err != nil {
		return nil, err
	}

	t, err := s.ledger.Refund(ctx, ownerID, amount, relatedJobID, description)
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, c, ActionCreditRefund, "credit_account", t.AccountID, reason, nil, t)
	return t, nil
}

// VerifyLedger reports accounts whose balance drifted from their history.
func (s *Service) VerifyLedger(ctx context.Context, c Capability) ([]ledger.Discrepancy, error) {
	if err := c.require(PermReconcileCredits); err != nil {
		return nil, err
	}
	return s.ledger.Verify(ctx)
}

// --- Audit Logs ---

// ListAuditLogs returns audit logs
func (s *Service) ListAuditLogs(ctx context.Context, c Capability, filter AuditFilter) ([]*AuditLog, int, error) {
	if err := c.require(PermViewAuditLogs); err != nil {
		return nil, 0, err
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListAuditLogs(ctx, filter)
}

// logAction records an audit entry. Failures are logged, never returned.
func (s *Service) logAction(ctx context.Context, c Capability, action, entityType string, entityID uuid.UUID, reason string, oldValue, newValue interface{}) {
	entry := &AuditLog{
		ID:         uuid.New(),
		AdminID:    uuid.NullUUID{UUID: c.AdminID, Valid: c.AdminID != uuid.Nil},
		AdminEmail: c.Email,
		Action:     action,
		EntityType: entityType,
		EntityID:   uuid.NullUUID{UUID: entityID, Valid: entityID != uuid.Nil},
		OldValue:   marshalAudit(oldValue),
		NewValue:   marshalAudit(newValue),
		Reason:     sql.NullString{String: reason, Valid: reason != ""},
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to create audit log")
	}
}

func marshalAudit(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
