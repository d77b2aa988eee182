package enrichment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/middleware"
	"github.com/eficia/eficia-api/internal/pkg/errorhandler"
	"github.com/eficia/eficia-api/internal/pkg/response"
	"github.com/eficia/eficia-api/internal/pkg/storage"
)

// Handler handles customer HTTP requests
type Handler struct {
	service       *Service
	maxUploadSize int64
}

// NewHandler creates enrichment handler
func NewHandler(service *Service, maxUploadSize int64) *Handler {
	return &Handler{service: service, maxUploadSize: maxUploadSize}
}

// OpenAccount handles POST /account
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentity(r.Context())

	acc, err := h.service.OpenAccount(r.Context(), identity.UserID, identity.Email)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	response.OK(w, acc)
}

// Credits handles GET /credits?limit=&offset=
// @Summary Credit balance
// @Description Returns the balance and the most recent ledger entries
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=CreditsResponse}
// @Router /credits [get]
func (h *Handler) Credits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.Credits(r.Context(), middleware.GetUserID(r.Context()), queryInt(q.Get("limit"), 20), queryInt(q.Get("offset"), 0))
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	response.OK(w, out)
}

// Upload handles POST /jobs (multipart, field "file")
// @Summary Upload a file to enrich
// @Tags Jobs
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "csv, xls or xlsx"
// @Success 201 {object} response.Response{data=UploadResponse}
// @Failure 413 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /jobs [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		response.PayloadTooLarge(w, "File too large or malformed form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "Missing file")
		return
	}
	defer file.Close()

	out, err := h.service.Upload(r.Context(), middleware.GetUserID(r.Context()), header.Filename, file)
	switch {
	case err == nil:
		response.Created(w, out)
	case errors.Is(err, storage.ErrFileTooLarge):
		response.PayloadTooLarge(w, err.Error())
	case errors.Is(err, storage.ErrInvalidExtension),
		errors.Is(err, storage.ErrEmptyFile),
		errors.Is(err, storage.ErrUnreadableSheet),
		errors.Is(err, job.ErrInvalidUpload):
		errorhandler.HandleError(r.Context(), w, http.StatusUnprocessableEntity, "INVALID_FILE", err.Error(), err)
	default:
		errorhandler.HandleInternal(r.Context(), w, err)
	}
}

// ListJobs handles GET /jobs?limit=&offset=
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := queryInt(q.Get("limit"), 20), queryInt(q.Get("offset"), 0)

	jobs, total, err := h.service.ListJobs(r.Context(), middleware.GetUserID(r.Context()), limit, offset)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	response.WithMeta(w, jobs, response.NewMeta(total, limit, offset))
}

// GetJob handles GET /jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid job id")
		return
	}

	j, err := h.service.GetJob(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.jobError(w, r, err)
		return
	}
	response.OK(w, j)
}

// Result handles GET /jobs/{id}/result
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid job id")
		return
	}

	out, err := h.service.ResultURL(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.jobError(w, r, err)
		return
	}
	response.OK(w, out)
}

func (h *Handler) jobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		response.NotFound(w, "Job not found")
	case errors.Is(err, ErrResultNotReady):
		response.Conflict(w, err.Error())
	default:
		errorhandler.HandleInternal(r.Context(), w, err)
	}
}

// Routes returns the customer router. Every route requires a user token.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/account", h.OpenAccount)
	r.Get("/credits", h.Credits)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Post("/", h.Upload)
		r.Get("/{id}", h.GetJob)
		r.Get("/{id}/result", h.Result)
	})

	return r
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
