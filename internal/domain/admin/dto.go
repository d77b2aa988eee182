package admin

import (
	"time"

	"github.com/google/uuid"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
)

// LoginRequest for POST /admin/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginResponse after successful login
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	Admin       *AdminResponse `json:"admin"`
}

// AdminResponse represents admin in API
type AdminResponse struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	LastLoginAt *string   `json:"last_login_at,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

// AdminResponseFromEntity converts entity to response
func AdminResponseFromEntity(a *AdminUser) *AdminResponse {
	resp := &AdminResponse{
		ID:          a.ID,
		Email:       a.Email,
		Role:        string(a.Role),
		Name:        a.Name,
		Permissions: NewCapability(a).Permissions(),
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
	if a.LastLoginAt.Valid {
		s := a.LastLoginAt.Time.Format(time.RFC3339)
		resp.LastLoginAt = &s
	}
	return resp
}

// CreateAdminRequest for POST /admin/admins
type CreateAdminRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,admin_role"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
}

// SetActiveRequest for PATCH /admin/admins/{id}
type SetActiveRequest struct {
	IsActive *bool  `json:"is_active" validate:"required"`
	Reason   string `json:"reason" validate:"max=500"`
}

// UpdateJobRequest for PATCH /admin/jobs/{id}
type UpdateJobRequest struct {
	Status          *string `json:"status,omitempty" validate:"omitempty,job_status"`
	TotalRows       *int64  `json:"total_rows,omitempty" validate:"omitempty,min=0"`
	NumbersFound    *int64  `json:"numbers_found,omitempty" validate:"omitempty,min=0"`
	CreditedNumbers *int64  `json:"credited_numbers,omitempty" validate:"omitempty,min=0"`
	AdminNote       *string `json:"admin_note,omitempty" validate:"omitempty,max=2000"`
	ResultRef       *string `json:"result_ref,omitempty" validate:"omitempty,max=1024"`
	Reason          string  `json:"reason,omitempty" validate:"max=500"`
}

// Patch converts the request into a job patch.
func (r *UpdateJobRequest) Patch() job.Patch {
	p := job.Patch{
		TotalRows:       r.TotalRows,
		NumbersFound:    r.NumbersFound,
		CreditedNumbers: r.CreditedNumbers,
		AdminNote:       r.AdminNote,
		ResultRef:       r.ResultRef,
	}
	if r.Status != nil {
		st := job.Status(*r.Status)
		p.Status = &st
	}
	return p
}

// JobUpdateResponse carries the job, the deduction it caused and any
// notification warnings.
type JobUpdateResponse struct {
	Job       *job.Job            `json:"job"`
	Deduction *ledger.Transaction `json:"deduction,omitempty"`
}

// TopUpRequest for POST /admin/credits/accounts/{ownerID}/topup
type TopUpRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description,omitempty" validate:"max=500"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
}

// RefundRequest for POST /admin/credits/accounts/{ownerID}/refund
type RefundRequest struct {
	Amount       int64   `json:"amount" validate:"required,gt=0"`
	RelatedJobID *string `json:"related_job_id,omitempty" validate:"omitempty,uuid"`
	Description  string  `json:"description" validate:"required,max=500"`
	Reason       string  `json:"reason,omitempty" validate:"max=500"`
}

// RefundJobRequest for POST /admin/jobs/{id}/refund
type RefundJobRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// FileURLResponse is a short-lived download link.
type FileURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyResponse for GET /admin/credits/verify
type VerifyResponse struct {
	Consistent    bool                 `json:"consistent"`
	Discrepancies []ledger.Discrepancy `json:"discrepancies"`
}
