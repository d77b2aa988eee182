package enrichment

import (
	"time"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
)

// CreditsResponse for GET /credits
type CreditsResponse struct {
	Balance      int64                `json:"balance"`
	HasAccount   bool                 `json:"has_account"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// UploadResponse for POST /jobs
type UploadResponse struct {
	Job *job.Job `json:"job"`
}

// ResultResponse for GET /jobs/{id}/result
type ResultResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
