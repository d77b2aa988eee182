package admin

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/pkg/errorhandler"
	"github.com/eficia/eficia-api/internal/pkg/response"
	"github.com/eficia/eficia-api/internal/pkg/validator"
)

const maxResultUpload = 50 << 20

// Handler handles admin HTTP requests
type Handler struct {
	service *Service
	jwtSvc  *JWTService
}

// NewHandler creates admin handler
func NewHandler(service *Service, jwtSvc *JWTService) *Handler {
	return &Handler{
		service: service,
		jwtSvc:  jwtSvc,
	}
}

// --- Authentication ---

// Login handles POST /admin/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	ip := r.Header.Get("X-Real-IP")
	if ip == "" {
		ip = r.RemoteAddr
	}

	admin, err := h.service.Login(r.Context(), req.Email, req.Password, ip)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			response.Unauthorized(w, "Invalid email or password")
		case errors.Is(err, ErrAdminInactive):
			response.Forbidden(w, "Account is inactive")
		default:
			errorhandler.HandleInternal(r.Context(), w, err)
		}
		return
	}

	token, err := h.jwtSvc.GenerateToken(admin)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}

	response.OK(w, &LoginResponse{
		AccessToken: token,
		Admin:       AdminResponseFromEntity(admin),
	})
}

// Me handles GET /admin/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c := GetCapability(r.Context())
	admin, err := h.service.GetAdminByID(r.Context(), c.AdminID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, AdminResponseFromEntity(admin))
}

// --- Admin Management ---

// ListAdmins handles GET /admin/admins
func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.service.ListAdmins(r.Context(), GetCapability(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	items := make([]*AdminResponse, len(admins))
	for i, a := range admins {
		items[i] = AdminResponseFromEntity(a)
	}
	response.OK(w, items)
}

// CreateAdmin handles POST /admin/admins
func (h *Handler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req CreateAdminRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	admin, err := h.service.CreateAdmin(r.Context(), GetCapability(r.Context()), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, AdminResponseFromEntity(admin))
}

// SetActive handles PATCH /admin/admins/{id}
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	admin, err := h.service.SetAdminActive(r.Context(), GetCapability(r.Context()), id, *req.IsActive, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, AdminResponseFromEntity(admin))
}

// --- Jobs ---

// ListJobs handles GET /admin/jobs?status=&owner_id=&limit=&offset=
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := job.Filter{
		Limit:  queryInt(q.Get("limit"), 20),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("status"); v != "" {
		st := job.Status(v)
		if !st.Valid() {
			response.BadRequest(w, "Unknown status")
			return
		}
		f.Status = &st
	}
	if v := q.Get("owner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "Invalid owner_id")
			return
		}
		f.OwnerID = &id
	}

	jobs, total, err := h.service.ListJobs(r.Context(), GetCapability(r.Context()), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WithMeta(w, jobs, response.NewMeta(total, f.Limit, f.Offset))
}

// JobStats handles GET /admin/jobs/stats
func (h *Handler) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.JobStats(r.Context(), GetCapability(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, stats)
}

// GetJob handles GET /admin/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	j, err := h.service.GetJob(r.Context(), GetCapability(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, j)
}

// JobFile handles GET /admin/jobs/{id}/file and /admin/jobs/{id}/result
func (h *Handler) JobFile(result bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		url, err := h.service.JobFileURL(r.Context(), GetCapability(r.Context()), id, result)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		response.OK(w, &FileURLResponse{URL: url, ExpiresAt: time.Now().Add(DownloadTTL).UTC()})
	}
}

// UpdateJob handles PATCH /admin/jobs/{id}
// @Summary Edit a job
// @Description Moves the job through its lifecycle. The first transition to completed deducts credited_numbers credits.
// @Tags Admin
// @Accept json
// @Produce json
// @Security AdminAuth
// @Param id path string true "Job ID"
// @Param request body UpdateJobRequest true "Fields to change"
// @Success 200 {object} response.Response{data=JobUpdateResponse}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /admin/jobs/{id} [patch]
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateJobRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.service.UpdateJob(r.Context(), GetCapability(r.Context()), id, req.Patch(), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OKWithWarnings(w, &JobUpdateResponse{Job: res.Job, Deduction: res.Deduction}, res.Warnings)
}

// UploadResult handles POST /admin/jobs/{id}/result (multipart, field "file")
func (h *Handler) UploadResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxResultUpload)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		response.PayloadTooLarge(w, "Result file too large or malformed form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "Missing file")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := h.service.UploadResult(r.Context(), GetCapability(r.Context()), id, header.Filename, contentType, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OKWithWarnings(w, &JobUpdateResponse{Job: res.Job}, res.Warnings)
}

// RefundJob handles POST /admin/jobs/{id}/refund
func (h *Handler) RefundJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req RefundJobRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	t, err := h.service.RefundJob(r.Context(), GetCapability(r.Context()), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, t)
}

// --- Credits ---

// ListAccounts handles GET /admin/credits/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := ledger.Pagination{Limit: queryInt(q.Get("limit"), 20), Offset: queryInt(q.Get("offset"), 0)}

	accounts, total, err := h.service.ListAccounts(r.Context(), GetCapability(r.Context()), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WithMeta(w, accounts, response.NewMeta(total, p.Limit, p.Offset))
}

// GetAccount handles GET /admin/credits/accounts/{ownerID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := pathUUID(w, r, "ownerID")
	if !ok {
		return
	}
	acc, err := h.service.GetAccount(r.Context(), GetCapability(r.Context()), ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, acc)
}

// ListTransactions handles GET /admin/credits/transactions?owner_id=&kind=&job_id=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, ok := transactionFilter(w, r)
	if !ok {
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), GetCapability(r.Context()), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, txs)
}

// ExportTransactions handles GET /admin/credits/transactions/export
func (h *Handler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	f, ok := transactionFilter(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if _, err := h.service.ExportTransactions(r.Context(), GetCapability(r.Context()), f, &buf); err != nil {
		h.fail(w, r, err)
		return
	}

	fileName := fmt.Sprintf("credit_transactions_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	buf.WriteTo(w)
}

// TopUp handles POST /admin/credits/accounts/{ownerID}/topup
// @Summary Grant credits
// @Tags Admin
// @Accept json
// @Produce json
// @Security AdminAuth
// @Param ownerID path string true "Owner ID"
// @Param request body TopUpRequest true "Amount and description"
// @Success 201 {object} response.Response{data=ledger.Transaction}
// @Failure 403 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /admin/credits/accounts/{ownerID}/topup [post]
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := pathUUID(w, r, "ownerID")
	if !ok {
		return
	}

	var req TopUpRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	t, err := h.service.TopUp(r.Context(), GetCapability(r.Context()), ownerID, req.Amount, req.Description, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, t)
}

// Refund handles POST /admin/credits/accounts/{ownerID}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := pathUUID(w, r, "ownerID")
	if !ok {
		return
	}

	var req RefundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	var related *uuid.UUID
	if req.RelatedJobID != nil {
		id := uuid.MustParse(*req.RelatedJobID)
		related = &id
	}

	t, err := h.service.Refund(r.Context(), GetCapability(r.Context()), ownerID, req.Amount, related, req.Description, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, t)
}

// Verify handles GET /admin/credits/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.VerifyLedger(r.Context(), GetCapability(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if found == nil {
		found = []ledger.Discrepancy{}
	}
	response.OK(w, &VerifyResponse{Consistent: len(found) == 0, Discrepancies: found})
}

// --- Audit ---

// AuditLogs handles GET /admin/audit/logs
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := AuditFilter{
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("action"); v != "" {
		f.Action = &v
	}
	if v := q.Get("entity_type"); v != "" {
		f.EntityType = &v
	}
	if v := q.Get("entity_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "Invalid entity_id")
			return
		}
		f.EntityID = &id
	}

	logs, total, err := h.service.ListAuditLogs(r.Context(), GetCapability(r.Context()), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WithMeta(w, logs, response.NewMeta(total, f.Limit, f.Offset))
}

// fail maps domain errors to HTTP responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrCannotManageRole):
		errorhandler.HandleError(ctx, w, http.StatusForbidden, "FORBIDDEN", err.Error(), err)
	case errors.Is(err, ErrAdminNotFound),
		errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrDeductionNotFound),
		errors.Is(err, ErrNoResultFile):
		errorhandler.HandleError(ctx, w, http.StatusNotFound, "NOT_FOUND", err.Error(), err)
	case errors.Is(err, job.ErrInvalidPatch),
		errors.Is(err, job.ErrInvalidUpload),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, ledger.ErrSignMismatch):
		errorhandler.HandleError(ctx, w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), err)
	case errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, job.ErrImmutableField),
		errors.Is(err, ledger.ErrAlreadyRefunded),
		errors.Is(err, ErrEmailTaken):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "CONFLICT", err.Error(), err)
	case errors.Is(err, ledger.ErrConcurrencyExhausted):
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "BUSY", "Ledger is busy, retry shortly", err)
	default:
		errorhandler.HandleInternal(ctx, w, err)
	}
}

func transactionFilter(w http.ResponseWriter, r *http.Request) (ledger.TransactionFilter, bool) {
	q := r.URL.Query()
	f := ledger.TransactionFilter{
		Limit:  queryInt(q.Get("limit"), 20),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("owner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "Invalid owner_id")
			return f, false
		}
		f.OwnerID = &id
	}
	if v := q.Get("job_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "Invalid job_id")
			return f, false
		}
		f.RelatedJobID = &id
	}
	if v := q.Get("kind"); v != "" {
		k := ledger.Kind(v)
		f.Kind = &k
	}
	return f, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.BadRequest(w, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
