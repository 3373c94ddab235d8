package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"ifcsplit/internal/domain"

	"github.com/google/uuid"
)

type Usecase interface {
	Submit(ctx context.Context, file io.Reader, size int64, p domain.SubmitParams) (domain.Job, error)
	GetStatus(ctx context.Context, jobID string) (domain.StatusResponse, error)
	GetResultFile(ctx context.Context, jobID string) (domain.DownloadResult, error)
	Health(ctx context.Context) domain.HealthResponse
}

type handler struct {
	maxUploadBytes int64
	usecase        Usecase
}

func NewHandler(maxUploadMb int64, uc Usecase) *handler {
	return &handler{
		maxUploadBytes: maxUploadMb << 20,
		usecase:        uc,
	}
}

func (h *handler) process(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := requestIDFrom(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "process"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Warn("missing file field")
		writeError(w, http.StatusBadRequest, "field `file` is required")
		return
	}
	defer file.Close()

	logger = logger.With(slog.String("file_name", header.Filename))

	params := domain.SubmitParams{
		OriginalName: header.Filename,
		Filter: domain.FilterSpec{
			GUIDs:   splitCommaList(r.FormValue("guids")),
			Types:   splitCommaList(r.FormValue("ifc_types")),
			Storeys: splitCommaList(r.FormValue("storeys")),
		},
		CallbackURL: r.FormValue("callback_url"),
	}

	job, err := h.usecase.Submit(r.Context(), file, header.Size, params)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			logger.Warn("submit rejected", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Submit usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot create filtering job")
		return
	}

	logger.Info("job accepted", slog.String("job_id", job.ID))
	writeJSON(w, http.StatusAccepted, domain.SubmitResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: "file uploaded, processing queued",
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	resp, err := h.usecase.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		slog.Error("GetStatus", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	jobID := jobIDFromPath(strings.TrimSuffix(r.URL.Path, "/download"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	result, err := h.usecase.GetResultFile(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, domain.ErrJobFailed):
			writeJSON(w, http.StatusConflict, h.statusSnapshot(r.Context(), jobID, domain.StatusFailed))
		case errors.Is(err, domain.ErrJobNotReady):
			// A queued job is reported as pending, not processing.
			writeJSON(w, http.StatusTooEarly, h.statusSnapshot(r.Context(), jobID, domain.StatusPending))
		default:
			slog.Error("GetResultFile", slog.String("job_id", jobID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot get result file")
		}
		return
	}
	defer result.Content.Close()

	// IFC files are STEP physical files.
	w.Header().Set("Content-Type", "application/x-step")
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.FileName+`"`)

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Content); err != nil {
		slog.Error("download: send file",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	writeJSON(w, http.StatusOK, h.usecase.Health(r.Context()))
}

// statusSnapshot returns the job's current status body for download
// error responses, falling back to the given status if the record
// vanished between the two reads.
func (h *handler) statusSnapshot(ctx context.Context, jobID string, fallback domain.JobStatus) domain.StatusResponse {
	if resp, err := h.usecase.GetStatus(ctx, jobID); err == nil {
		return resp
	}
	return domain.StatusResponse{JobID: jobID, Status: fallback}
}

// jobIDFromPath extracts the id segment from /api/v1/jobs/{id}[...].
func jobIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/jobs/")
	if rest == path {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func splitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
