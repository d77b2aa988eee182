package notification

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrContactNotFound = errors.New("contact not found")

// Directory resolves notification recipients.
type Directory interface {
	GetContact(ctx context.Context, userID uuid.UUID) (*Contact, error)
	ListAdmins(ctx context.Context) ([]*Contact, error)
	// SaveContact records the email of a user the first time they show up.
	SaveContact(ctx context.Context, userID uuid.UUID, email string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository returns a Directory backed by the profiles table.
func NewRepository(db *sqlx.DB) Directory {
	return &repository{db: db}
}

const contactColumns = `
	p.user_id, p.email, COALESCE(p.first_name, '') AS first_name,
	COALESCE(p.last_name, '') AS last_name, COALESCE(p.phone, '') AS phone,
	p.is_admin, COALESCE(b.company_name, '') AS company_name`

func (r *repository) GetContact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	query := `SELECT` + contactColumns + `
		FROM profiles p
		LEFT JOIN billing_profiles b ON b.user_id = p.user_id
		WHERE p.user_id = $1`

	var c Contact
	if err := r.db.GetContext(ctx, &c, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) ListAdmins(ctx context.Context) ([]*Contact, error) {
	query := `SELECT` + contactColumns + `
		FROM profiles p
		LEFT JOIN billing_profiles b ON b.user_id = p.user_id
		WHERE p.is_admin AND p.email <> ''
		ORDER BY p.email`

	var admins []*Contact
	err := r.db.SelectContext(ctx, &admins, query)
	return admins, err
}

func (r *repository) SaveContact(ctx context.Context, userID uuid.UUID, email string) error {
	query := `
		INSERT INTO profiles (user_id, email)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email
		WHERE profiles.email = ''
	`
	_, err := r.db.ExecContext(ctx, query, userID, email)
	return err
}
