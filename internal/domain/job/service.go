package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/pkg/metrics"
)

const defaultNotifyTimeout = 10 * time.Second

// Service coordinates the job lifecycle and the credit deduction tied to completion.
type Service struct {
	store         Store
	ledger        *ledger.Service
	notifier      Notifier
	notifyTimeout time.Duration
	now           func() time.Time
}

// NewService creates a job service. A nil notifier disables notifications.
func NewService(store Store, ledgerSvc *ledger.Service, notifier Notifier, notifyTimeout time.Duration) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}
	return &Service{
		store:         store,
		ledger:        ledgerSvc,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		now:           time.Now,
	}
}

// CreateJob records an uploaded file in status uploaded and tells the admins about it.
func (s *Service) CreateJob(ctx context.Context, in NewJob) (*CreateResult, error) {
	ownerID := in.OwnerID
	fileRef := strings.TrimSpace(in.FileRef)
	filename := strings.TrimSpace(in.Filename)
	if ownerID == uuid.Nil || fileRef == "" || filename == "" {
		return nil, ErrInvalidUpload
	}
	if in.TotalRows != nil && *in.TotalRows < 0 {
		return nil, fmt.Errorf("%w: negative row count", ErrInvalidUpload)
	}

	now := s.now().UTC()
	j := &Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Filename:  filename,
		FileRef:   fileRef,
		TotalRows: copyCount(in.TotalRows),
		Status:    StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertJob(ctx, j)
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	log.Info().
		Str("job_id", j.ID.String()).
		Str("owner_id", ownerID.String()).
		Str("filename", filename).
		Msg("Job created")

	result := &CreateResult{Job: j}
	if warning := s.notify(ctx, "admin_new_job", func(nctx context.Context) error {
		return s.notifier.NotifyAdminsNewJob(nctx, NewJobNotice{
			JobID:    j.ID,
			OwnerID:  j.OwnerID,
			Filename: j.Filename,
			FileRef:  j.FileRef,
		})
	}); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	return result, nil
}

// UpdateJob applies an operator patch. The first transition to completed deducts
// the credited numbers from the owner in the same transaction as the status change.
// Re-saving a completed job never deducts again.
func (s *Service) UpdateJob(ctx context.Context, jobID uuid.UUID, patch Patch) (*UpdateResult, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	var (
		result     *UpdateResult
		previous   Status
		completing bool
	)
	err := s.ledger.Retry(ctx, func() error {
		result = &UpdateResult{}
		return s.store.WithinTx(ctx, func(tx Tx) error {
			current, err := tx.LockJob(ctx, jobID)
			if err != nil {
				return err
			}

			next, err := s.applyPatch(current, patch)
			if err != nil {
				return err
			}

			previous = current.Status
			completing = next.Status == StatusCompleted && previous != StatusCompleted

			if completing && next.CreditedNumbers != nil && *next.CreditedNumbers > 0 {
				id := next.ID
				t, err := s.ledger.ApplyDeltaTx(ctx, tx, next.OwnerID, ledger.Delta{
					Amount:       -*next.CreditedNumbers,
					Kind:         ledger.KindEnrichDeduction,
					Description:  "Enrichment job: " + next.Filename,
					RelatedJobID: &id,
				})
				if err != nil {
					return fmt.Errorf("deduct credits: %w", err)
				}
				result.Deduction = t
			}

			if err := tx.UpdateJob(ctx, next); err != nil {
				return err
			}
			result.Job = next
			return nil
		})
	})
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Job update rejected")
		return nil, err
	}

	j := result.Job
	if previous != j.Status {
		metrics.JobTransitions.WithLabelValues(string(previous), string(j.Status)).Inc()
		log.Info().
			Str("job_id", j.ID.String()).
			Str("from", string(previous)).
			Str("to", string(j.Status)).
			Int64("credited_numbers", j.Credits()).
			Msg("Job status changed")
	}
	if result.Deduction != nil {
		s.ledger.Observe(result.Deduction)
	}

	if completing {
		if warning := s.notify(ctx, "user_job_completed", func(nctx context.Context) error {
			return s.notifier.NotifyUserJobCompleted(nctx, CompletedNotice{
				JobID:           j.ID,
				OwnerID:         j.OwnerID,
				Filename:        j.Filename,
				NumbersFound:    countOrZero(j.NumbersFound),
				CreditedNumbers: j.Credits(),
				ResultRef:       j.ResultRef,
			})
		}); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	return result, nil
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns jobs newest first together with the total matching count.
func (s *Service) ListJobs(ctx context.Context, f Filter) ([]Job, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, ErrInvalidPatch
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	jobs, err := s.store.ListJobs(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountJobs(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListByOwner returns the owner's jobs.
func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Job, int, error) {
	return s.ListJobs(ctx, Filter{OwnerID: &ownerID, Limit: limit, Offset: offset})
}

// Stats returns job counters by status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Uploaded:   counts[StatusUploaded],
		Processing: counts[StatusProcessing],
		Completed:  counts[StatusCompleted],
		Error:      counts[StatusError],
	}
	st.Total = st.Uploaded + st.Processing + st.Completed + st.Error
	return st, nil
}

// applyPatch returns the job as it looks after the patch, or a validation error.
func (s *Service) applyPatch(current *Job, patch Patch) (*Job, error) {
	next := *current

	if patch.Status != nil && *patch.Status != current.Status {
		if !current.Status.CanTransitionTo(*patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *patch.Status)
		}
		next.Status = *patch.Status
	}

	if patch.CreditedNumbers != nil {
		switch {
		case current.Status != StatusCompleted:
			next.CreditedNumbers = copyCount(patch.CreditedNumbers)
		case *patch.CreditedNumbers != current.Credits():
			return nil, ErrImmutableField
		}
	}
	if patch.TotalRows != nil {
		next.TotalRows = copyCount(patch.TotalRows)
	}
	if patch.NumbersFound != nil {
		next.NumbersFound = copyCount(patch.NumbersFound)
	}
	if patch.AdminNote != nil {
		next.AdminNote = *patch.AdminNote
	}
	if patch.ResultRef != nil {
		next.ResultRef = strings.TrimSpace(*patch.ResultRef)
	}

	now := s.now().UTC()
	if next.Status == StatusCompleted && current.Status != StatusCompleted {
		next.CompletedAt = &now
	}
	next.UpdatedAt = now

	return &next, nil
}

// notify runs a notification detached from the caller's cancellation and bounded
// by the notify timeout. It returns a warning message on failure.
func (s *Service) notify(ctx context.Context, kind string, fn func(ctx context.Context) error) string {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := fn(nctx); err != nil {
		metrics.NotificationFailures.WithLabelValues(kind).Inc()
		log.Warn().Err(err).Str("notification", kind).Msg("Notification failed")
		return fmt.Sprintf("%s notification failed: %v", kind, err)
	}
	return ""
}

func validatePatch(p Patch) error {
	if p.Empty() {
		return fmt.Errorf("%w: nothing to update", ErrInvalidPatch)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, *p.Status)
	}
	if p.TotalRows != nil && *p.TotalRows < 0 {
		return fmt.Errorf("%w: total_rows must not be negative", ErrInvalidPatch)
	}
	if p.NumbersFound != nil && *p.NumbersFound < 0 {
		return fmt.Errorf("%w: numbers_found must not be negative", ErrInvalidPatch)
	}
	if p.CreditedNumbers != nil && *p.CreditedNumbers < 0 {
		return fmt.Errorf("%w: credited_numbers must not be negative", ErrInvalidPatch)
	}
	return nil
}

func copyCount(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func countOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
