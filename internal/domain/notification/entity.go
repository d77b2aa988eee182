package notification

import (
	"strings"

	"github.com/google/uuid"
)

// Contact is what the notifier needs to know about a user.
type Contact struct {
	UserID    uuid.UUID `db:"user_id"`
	Email     string    `db:"email"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Phone     string    `db:"phone"`
	IsAdmin   bool      `db:"is_admin"`
	Company   string    `db:"company_name"`
}

// DisplayName falls back to the local part of the email when no name is set.
func (c *Contact) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	if local, _, ok := strings.Cut(c.Email, "@"); ok && local != "" {
		return local
	}
	return "there"
}
