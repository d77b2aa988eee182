package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/pkg/email"
)

// DownloadLinkTTL is how long the admin download link stays valid.
const DownloadLinkTTL = 7 * 24 * time.Hour

// Mailer renders and sends one templated email.
type Mailer interface {
	SendSync(ctx context.Context, to, toName, templateName, subject string, data any) error
}

// Linker produces time-limited download links for stored files.
type Linker interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// EmailNotifier implements job.Notifier over email.
type EmailNotifier struct {
	mailer    Mailer
	directory Directory
	linker    Linker
	siteURL   string
}

var _ job.Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates the notifier. linker may be nil, in which case
// admin emails carry no download link.
func NewEmailNotifier(mailer Mailer, directory Directory, linker Linker, siteURL string) *EmailNotifier {
	return &EmailNotifier{
		mailer:    mailer,
		directory: directory,
		linker:    linker,
		siteURL:   strings.TrimRight(siteURL, "/"),
	}
}

// NotifyAdminsNewJob emails every admin. One failed recipient does not stop
// the others; all failures are joined into the returned error.
func (n *EmailNotifier) NotifyAdminsNewJob(ctx context.Context, notice job.NewJobNotice) error {
	admins, err := n.directory.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	if len(admins) == 0 {
		log.Warn().Str("job_id", notice.JobID.String()).Msg("No admin to notify about new job")
		return nil
	}

	owner, err := n.directory.GetContact(ctx, notice.OwnerID)
	if err != nil {
		if !errors.Is(err, ErrContactNotFound) {
			return fmt.Errorf("load owner: %w", err)
		}
		owner = &Contact{UserID: notice.OwnerID}
	}

	var downloadURL string
	if n.linker != nil && notice.FileRef != "" {
		downloadURL, err = n.linker.SignedURL(ctx, notice.FileRef, DownloadLinkTTL)
		if err != nil {
			log.Warn().Err(err).Str("file_ref", notice.FileRef).Msg("Failed to sign download link")
		}
	}

	data := map[string]any{
		"UserName":     owner.DisplayName(),
		"UserEmail":    owner.Email,
		"UserPhone":    owner.Phone,
		"Company":      owner.Company,
		"Filename":     notice.Filename,
		"JobID":        notice.JobID.String(),
		"DownloadURL":  downloadURL,
		"DashboardURL": n.siteURL + "/admin",
	}
	subject := "New file to enrich: " + truncate(notice.Filename, 40)

	var errs []error
	for _, admin := range admins {
		if err := n.mailer.SendSync(ctx, admin.Email, admin.DisplayName(), email.TemplateAdminNewJob, subject, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", admin.Email, err))
		}
	}
	return errors.Join(errs...)
}

// NotifyUserJobCompleted emails the job owner.
func (n *EmailNotifier) NotifyUserJobCompleted(ctx context.Context, notice job.CompletedNotice) error {
	owner, err := n.directory.GetContact(ctx, notice.OwnerID)
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if owner.Email == "" {
		return fmt.Errorf("owner %s has no email", notice.OwnerID)
	}

	return n.mailer.SendSync(ctx, owner.Email, owner.DisplayName(), email.TemplateJobCompleted,
		"Your enriched file is ready: "+truncate(notice.Filename, 40),
		map[string]any{
			"UserName":     owner.DisplayName(),
			"Filename":     notice.Filename,
			"NumbersFound": notice.NumbersFound,
			"CreditsUsed":  notice.CreditedNumbers,
			"DashboardURL": n.siteURL + "/app",
		})
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
