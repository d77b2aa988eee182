package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eficia/eficia-api/internal/config"
	"github.com/eficia/eficia-api/internal/domain/payment"
	"github.com/eficia/eficia-api/internal/pkg/storage"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()

	// sqlx.Open does not dial, so routes that never touch the pool still work.
	db, err := sqlx.Open("postgres", "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files, err := storage.NewLocalStorage(t.TempDir(), "http://localhost/files", "signing-key")
	require.NoError(t, err)

	catalog, err := payment.LoadCatalog("../../packs.toml")
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:        "test-secret",
		RateLimit:        "1000-M",
		LedgerMaxRetries: 3,
		MaxUploadSize:    1 << 20,
		PublicSiteURL:    "http://localhost:5173",
		AllowedOrigins:   []string{"http://localhost:5173"},
	}

	h, err := newRouter(cfg, db, nil, files, catalog)
	require.NoError(t, err)
	return h
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	h := testRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"packs are public", http.MethodGet, "/api/v1/payments/packs", http.StatusOK},
		{"credits need a token", http.MethodGet, "/api/v1/credits", http.StatusUnauthorized},
		{"jobs need a token", http.MethodGet, "/api/v1/jobs", http.StatusUnauthorized},
		{"checkout needs a token", http.MethodPost, "/api/v1/payments/checkout", http.StatusUnauthorized},
		{"admin needs a token", http.MethodGet, "/api/admin/jobs", http.StatusUnauthorized},
		{"unsigned file link", http.MethodGet, "/files/uploads/a.csv", http.StatusForbidden},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRouter_HealthReportsUnreachableDatabase(t *testing.T) {
	h := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}
