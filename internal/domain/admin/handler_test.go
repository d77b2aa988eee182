package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eficia/eficia-api/internal/domain/job"
	jwtpkg "github.com/eficia/eficia-api/internal/pkg/jwt"
)

func passthrough(next http.Handler) http.Handler { return next }

type routerFixture struct {
	*fixture
	router http.Handler
	jwt    *JWTService
}

func newRouterFixture(t *testing.T) *routerFixture {
	f := newFixture(t)
	jwtSvc := NewJWTService("test-secret", time.Hour)
	return &routerFixture{
		fixture: f,
		router:  NewHandler(f.svc, jwtSvc).Routes(passthrough),
		jwt:     jwtSvc,
	}
}

func (rf *routerFixture) tokenFor(t *testing.T, role Role, active bool) string {
	t.Helper()
	a := &AdminUser{ID: uuid.New(), Email: string(role) + "@get-eficia.fr", Role: role, IsActive: active}
	require.NoError(t, rf.repo.CreateAdmin(context.Background(), a))
	tok, err := rf.jwt.GenerateToken(a)
	require.NoError(t, err)
	return tok
}

func (rf *routerFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rf.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareFailsClosed(t *testing.T) {
	rf := newRouterFixture(t)

	userToken, err := jwtpkg.NewService("test-secret", time.Hour).GenerateAccessToken(uuid.New(), "user@acme.fr")
	require.NoError(t, err)

	ghost, err := rf.jwt.GenerateToken(&AdminUser{ID: uuid.New(), Role: RoleSuperAdmin})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"user token", userToken, http.StatusUnauthorized},
		{"deleted admin", ghost, http.StatusUnauthorized},
		{"inactive admin", rf.tokenFor(t, RoleAdmin, false), http.StatusForbidden},
		{"support", rf.tokenFor(t, RoleSupport, true), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := rf.do(http.MethodGet, "/jobs/stats", tt.token, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestTopUpEndpoint(t *testing.T) {
	rf := newRouterFixture(t)
	owner := uuid.New()
	path := "/credits/accounts/" + owner.String() + "/topup"

	rec := rf.do(http.MethodPost, path, rf.tokenFor(t, RoleSupport, true), `{"amount": 50}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := rf.tokenFor(t, RoleAdmin, true)

	rec = rf.do(http.MethodPost, path, adminToken, `{"amount": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = rf.do(http.MethodPost, path, adminToken, `{"amount": 50, "reason": "goodwill"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Amount       int64  `json:"amount"`
			Kind         string `json:"kind"`
			BalanceAfter int64  `json:"balance_after"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(50), body.Data.Amount)
	assert.Equal(t, "admin_adjustment", body.Data.Kind)
	assert.Equal(t, int64(50), body.Data.BalanceAfter)
}

func TestUpdateJobEndpoint(t *testing.T) {
	rf := newRouterFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	token := rf.tokenFor(t, RoleAdmin, true)

	_, err := rf.ledger.OpenAccount(ctx, owner)
	require.NoError(t, err)
	created, err := rf.jobs.CreateJob(ctx, job.NewJob{OwnerID: owner, FileRef: "uploads/x/1_leads.csv", Filename: "leads.csv"})
	require.NoError(t, err)
	path := "/jobs/" + created.Job.ID.String()

	rec := rf.do(http.MethodPatch, path, token, `{"status": "finished"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = rf.do(http.MethodPatch, path, token, `{"total_rows": -1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = rf.do(http.MethodPatch, path, token, `{"status": "completed", "total_rows": 12, "numbers_found": 10, "credited_numbers": 8}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total_rows":12`)

	rec = rf.do(http.MethodPatch, path, token, `{"status": "processing"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = rf.do(http.MethodPatch, path, token, `{"credited_numbers": 3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = rf.do(http.MethodGet, "/jobs/"+uuid.NewString(), token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = rf.do(http.MethodGet, "/credits/verify", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"consistent":true`)
}
