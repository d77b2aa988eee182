package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/eficia/eficia-api/internal/domain/ledger"
)

// Status is the lifecycle state of an enrichment job.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// transitions lists the allowed status changes. Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusUploaded:   {StatusProcessing, StatusCompleted, StatusError},
	StatusProcessing: {StatusCompleted, StatusError},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no status change may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Staying in the same status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is one user-submitted enrichment request.
type Job struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	OwnerID         uuid.UUID  `db:"owner_id" json:"owner_id"`
	Filename        string     `db:"filename" json:"filename"`
	FileRef         string     `db:"file_ref" json:"file_ref"`
	Status          Status     `db:"status" json:"status"`
	TotalRows       *int64     `db:"total_rows" json:"total_rows"`
	NumbersFound    *int64     `db:"numbers_found" json:"numbers_found"`
	CreditedNumbers *int64     `db:"credited_numbers" json:"credited_numbers"`
	AdminNote       string     `db:"admin_note" json:"admin_note,omitempty"`
	ResultRef       string     `db:"result_ref" json:"result_ref,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Credits returns the credited numbers, zero when not set yet.
func (j *Job) Credits() int64 {
	return countOrZero(j.CreditedNumbers)
}

// NewJob is the input of CreateJob. TotalRows is nil when the file was not counted.
type NewJob struct {
	OwnerID   uuid.UUID
	FileRef   string
	Filename  string
	TotalRows *int64
}

// Patch is an operator-supplied partial update. Nil fields are left untouched.
type Patch struct {
	Status          *Status
	TotalRows       *int64
	NumbersFound    *int64
	CreditedNumbers *int64
	AdminNote       *string
	ResultRef       *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.TotalRows == nil && p.NumbersFound == nil && p.CreditedNumbers == nil &&
		p.AdminNote == nil && p.ResultRef == nil
}

// Filter narrows job listings.
type Filter struct {
	OwnerID *uuid.UUID
	Status  *Status
	Limit   int
	Offset  int
}

// Stats holds job counters for the admin dashboard.
type Stats struct {
	Total      int `json:"total"`
	Uploaded   int `json:"uploaded"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

// CreateResult is returned by CreateJob.
type CreateResult struct {
	Job      *Job     `json:"job"`
	Warnings []string `json:"warnings,omitempty"`
}

// UpdateResult is returned by UpdateJob. Deduction is set only on the call
// that first moved the job to completed with credited numbers.
type UpdateResult struct {
	Job       *Job                `json:"job"`
	Deduction *ledger.Transaction `json:"deduction,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
}
