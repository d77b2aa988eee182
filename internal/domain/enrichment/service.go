// Package enrichment is the customer side of the product: credit balance,
// spreadsheet uploads and access to enriched results.
package enrichment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/domain/notification"
	"github.com/eficia/eficia-api/internal/pkg/storage"
)

var ErrResultNotReady = errors.New("enriched file is not available yet")

// ResultLinkTTL bounds result download links.
const ResultLinkTTL = time.Hour

// Service wires the ledger and the job coordinator to the blob store.
type Service struct {
	ledger        *ledger.Service
	jobs          *job.Service
	files         storage.Storage
	directory     notification.Directory
	maxUploadSize int64
	now           func() time.Time
}

// NewService creates the enrichment service
func NewService(ledgerSvc *ledger.Service, jobs *job.Service, files storage.Storage, directory notification.Directory, maxUploadSize int64) *Service {
	return &Service{
		ledger:        ledgerSvc,
		jobs:          jobs,
		files:         files,
		directory:     directory,
		maxUploadSize: maxUploadSize,
		now:           time.Now,
	}
}

// OpenAccount creates the caller's credit account and remembers their email
// for notifications. Safe to call on every sign-in.
func (s *Service) OpenAccount(ctx context.Context, ownerID uuid.UUID, email string) (*ledger.Account, error) {
	if s.directory != nil && email != "" {
		if err := s.directory.SaveContact(ctx, ownerID, email); err != nil {
			log.Warn().Err(err).Str("owner_id", ownerID.String()).Msg("Failed to save contact")
		}
	}
	return s.ledger.OpenAccount(ctx, ownerID)
}

// Credits returns the balance and recent history. An owner without an
// account sees a zero balance.
func (s *Service) Credits(ctx context.Context, ownerID uuid.UUID, limit, offset int) (*CreditsResponse, error) {
	out := &CreditsResponse{Transactions: []ledger.Transaction{}}

	acc, err := s.ledger.GetAccount(ctx, ownerID)
	switch {
	case err == nil:
		out.Balance = acc.Balance
		out.HasAccount = true
	case errors.Is(err, ledger.ErrAccountNotFound):
		return out, nil
	default:
		return nil, err
	}

	txs, err := s.ledger.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: &ownerID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	if txs != nil {
		out.Transactions = txs
	}
	return out, nil
}

// Upload validates a spreadsheet, stores it under
// uploads/<owner>/<unix>_<filename> and opens a job for it.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, filename string, r io.Reader) (*UploadResponse, error) {
	filename = storage.SanitizeFilename(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: missing filename", job.ErrInvalidUpload)
	}

	sheet, err := storage.ValidateSpreadsheet(r, filename, s.maxUploadSize)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("uploads/%s/%d_%s", ownerID, s.now().Unix(), filename)
	if err := s.files.Save(ctx, key, bytes.NewReader(sheet.Data), sheet.ContentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	in := job.NewJob{OwnerID: ownerID, FileRef: key, Filename: filename}
	if sheet.Counted {
		rows := int64(sheet.Rows)
		in.TotalRows = &rows
	}
	created, err := s.jobs.CreateJob(ctx, in)
	if err != nil {
		if delErr := s.files.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			log.Warn().Err(delErr).Str("key", key).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	return &UploadResponse{Job: created.Job}, nil
}

// ListJobs returns the caller's jobs newest first.
func (s *Service) ListJobs(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]job.Job, int, error) {
	return s.jobs.ListByOwner(ctx, ownerID, limit, offset)
}

// GetJob returns a job owned by the caller. Other owners' jobs look missing.
func (s *Service) GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (*job.Job, error) {
	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != ownerID {
		return nil, job.ErrJobNotFound
	}
	return j, nil
}

// ResultURL returns a short-lived link to the enriched file.
func (s *Service) ResultURL(ctx context.Context, ownerID, jobID uuid.UUID) (*ResultResponse, error) {
	j, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusCompleted || j.ResultRef == "" {
		return nil, ErrResultNotReady
	}

	url, err := s.files.SignedURL(ctx, j.ResultRef, ResultLinkTTL)
	if err != nil {
		return nil, fmt.Errorf("sign result: %w", err)
	}
	return &ResultResponse{URL: url, ExpiresAt: s.now().Add(ResultLinkTTL).UTC()}, nil
}
