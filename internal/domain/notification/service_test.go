package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/pkg/email"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendSync(ctx context.Context, to, toName, templateName, subject string, data any) error {
	args := m.Called(to, templateName, subject, data)
	return args.Error(0)
}

type stubDirectory struct {
	contacts map[uuid.UUID]*Contact
	admins   []*Contact
	err      error
}

func (d *stubDirectory) GetContact(_ context.Context, id uuid.UUID) (*Contact, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.contacts[id]
	if !ok {
		return nil, ErrContactNotFound
	}
	return c, nil
}

func (d *stubDirectory) ListAdmins(context.Context) ([]*Contact, error) {
	return d.admins, d.err
}

func (d *stubDirectory) SaveContact(context.Context, uuid.UUID, string) error { return nil }

type stubLinker struct{ ttl time.Duration }

func (l *stubLinker) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.ttl = ttl
	return "https://files.example.com/" + key + "?sig=abc", nil
}

func TestNotifyAdminsNewJob(t *testing.T) {
	ownerID := uuid.New()
	dir := &stubDirectory{
		contacts: map[uuid.UUID]*Contact{
			ownerID: {UserID: ownerID, Email: "jean@acme.fr", FirstName: "Jean", LastName: "Dupont", Company: "ACME"},
		},
		admins: []*Contact{
			{Email: "ops@get-eficia.fr", IsAdmin: true},
			{Email: "boss@get-eficia.fr", FirstName: "Boss", IsAdmin: true},
		},
	}
	mailer := &mockMailer{}
	linker := &stubLinker{}

	dataMatches := mock.MatchedBy(func(data any) bool {
		m := data.(map[string]any)
		return m["UserName"] == "Jean Dupont" &&
			m["Company"] == "ACME" &&
			strings.HasPrefix(m["DownloadURL"].(string), "https://files.example.com/uploads/") &&
			m["DashboardURL"] == "https://app.example.com/admin"
	})
	mailer.On("SendSync", "ops@get-eficia.fr", email.TemplateAdminNewJob, "New file to enrich: leads.csv", dataMatches).Return(nil).Once()
	mailer.On("SendSync", "boss@get-eficia.fr", email.TemplateAdminNewJob, "New file to enrich: leads.csv", dataMatches).Return(errors.New("bounced")).Once()

	n := NewEmailNotifier(mailer, dir, linker, "https://app.example.com/")
	err := n.NotifyAdminsNewJob(context.Background(), job.NewJobNotice{
		JobID:    uuid.New(),
		OwnerID:  ownerID,
		Filename: "leads.csv",
		FileRef:  "uploads/" + ownerID.String() + "/1_leads.csv",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boss@get-eficia.fr")
	assert.Equal(t, DownloadLinkTTL, linker.ttl)
	mailer.AssertExpectations(t)
}

func TestNotifyAdminsNewJob_NoAdmins(t *testing.T) {
	mailer := &mockMailer{}
	n := NewEmailNotifier(mailer, &stubDirectory{}, nil, "https://app.example.com")

	require.NoError(t, n.NotifyAdminsNewJob(context.Background(), job.NewJobNotice{JobID: uuid.New()}))
	mailer.AssertNotCalled(t, "SendSync", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyUserJobCompleted(t *testing.T) {
	ownerID := uuid.New()
	dir := &stubDirectory{contacts: map[uuid.UUID]*Contact{
		ownerID: {UserID: ownerID, Email: "claire.martin@globex.fr"},
	}}
	mailer := &mockMailer{}
	longName := strings.Repeat("x", 50) + ".xlsx"

	mailer.On("SendSync", "claire.martin@globex.fr", email.TemplateJobCompleted,
		"Your enriched file is ready: "+strings.Repeat("x", 40)+"...",
		mock.MatchedBy(func(data any) bool {
			m := data.(map[string]any)
			return m["UserName"] == "claire.martin" &&
				m["NumbersFound"] == int64(120) &&
				m["CreditsUsed"] == int64(100) &&
				m["DashboardURL"] == "https://app.example.com/app"
		})).Return(nil).Once()

	n := NewEmailNotifier(mailer, dir, nil, "https://app.example.com")
	err := n.NotifyUserJobCompleted(context.Background(), job.CompletedNotice{
		JobID:           uuid.New(),
		OwnerID:         ownerID,
		Filename:        longName,
		NumbersFound:    120,
		CreditedNumbers: 100,
	})
	require.NoError(t, err)
	mailer.AssertExpectations(t)
}

func TestNotifyUserJobCompleted_UnknownOwner(t *testing.T) {
	n := NewEmailNotifier(&mockMailer{}, &stubDirectory{}, nil, "https://app.example.com")
	err := n.NotifyUserJobCompleted(context.Background(), job.CompletedNotice{OwnerID: uuid.New()})
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestContactDisplayName(t *testing.T) {
	assert.Equal(t, "Jean Dupont", (&Contact{FirstName: "Jean", LastName: "Dupont"}).DisplayName())
	assert.Equal(t, "jean", (&Contact{Email: "jean@acme.fr"}).DisplayName())
	assert.Equal(t, "there", (&Contact{}).DisplayName())
}
