package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns admin router. loginLimiter guards the password endpoint.
func (h *Handler) Routes(loginLimiter func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(loginLimiter).Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.jwtSvc, h.service))

		r.Get("/auth/me", h.Me)

		r.Route("/admins", func(r chi.Router) {
			r.Get("/", h.ListAdmins)
			r.Post("/", h.CreateAdmin)
			r.Patch("/{id}", h.SetActive)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Get("/stats", h.JobStats)
			r.Get("/{id}", h.GetJob)
			r.Patch("/{id}", h.UpdateJob)
			r.Get("/{id}/file", h.JobFile(false))
			r.Get("/{id}/result", h.JobFile(true))
			r.Post("/{id}/result", h.UploadResult)
			r.Post("/{id}/refund", h.RefundJob)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/accounts", h.ListAccounts)
			r.Get("/accounts/{ownerID}", h.GetAccount)
			r.Post("/accounts/{ownerID}/topup", h.TopUp)
			r.Post("/accounts/{ownerID}/refund", h.Refund)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/transactions/export", h.ExportTransactions)
			r.Get("/verify", h.Verify)
		})

		r.Get("/audit/logs", h.AuditLogs)
	})

	return r
}
