package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Email  string `json:"email" validate:"required,email"`
	Role   string `json:"role" validate:"admin_role"`
	Status string `json:"status" validate:"omitempty,job_status"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

func TestValidate_UsesJSONNames(t *testing.T) {
	errs := Validate(&sample{Email: "nope", Role: "root", Status: "done", Amount: 0})

	assert.Equal(t, "Invalid email format", errs["email"])
	assert.Contains(t, errs["role"], "Invalid role")
	assert.Contains(t, errs["status"], "Invalid status")
	assert.Equal(t, "Value must be greater than 0", errs["amount"])
}

func TestValidate_Valid(t *testing.T) {
	assert.Nil(t, Validate(&sample{Email: "ops@get-eficia.fr", Role: "support", Amount: 5}))
}
