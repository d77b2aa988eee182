package job

import (
	"context"

	"github.com/google/uuid"
)

// NewJobNotice tells admins a file was uploaded.
type NewJobNotice struct {
	JobID    uuid.UUID
	OwnerID  uuid.UUID
	Filename string
	FileRef  string
}

// CompletedNotice tells the owner the enriched file is ready.
type CompletedNotice struct {
	JobID           uuid.UUID
	OwnerID         uuid.UUID
	Filename        string
	NumbersFound    int64
	CreditedNumbers int64
	ResultRef       string
}

// Notifier delivers best-effort notifications. Errors are reported, never propagated.
type Notifier interface {
	NotifyAdminsNewJob(ctx context.Context, n NewJobNotice) error
	NotifyUserJobCompleted(ctx context.Context, n CompletedNotice) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyAdminsNewJob(context.Context, NewJobNotice) error        { return nil }
func (NopNotifier) NotifyUserJobCompleted(context.Context, CompletedNotice) error { return nil }
