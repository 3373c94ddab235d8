package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ifcsplit/internal/domain"
)

type fakeUsecase struct {
	submitJob    domain.Job
	submitErr    error
	submitParams domain.SubmitParams
	submitBody   []byte

	statusResp domain.StatusResponse
	statusErr  error

	result    domain.DownloadResult
	resultErr error
}

func (f *fakeUsecase) Submit(_ context.Context, file io.Reader, _ int64, p domain.SubmitParams) (domain.Job, error) {
	f.submitParams = p
	f.submitBody, _ = io.ReadAll(file)
	return f.submitJob, f.submitErr
}

func (f *fakeUsecase) GetStatus(_ context.Context, jobID string) (domain.StatusResponse, error) {
	return f.statusResp, f.statusErr
}

func (f *fakeUsecase) GetResultFile(_ context.Context, jobID string) (domain.DownloadResult, error) {
	return f.result, f.resultErr
}

func (f *fakeUsecase) Health(_ context.Context) domain.HealthResponse {
	return domain.HealthResponse{Status: "ok", ActiveJobs: 1, Capacity: 4}
}

func newTestServer(t *testing.T, uc *fakeUsecase) *httptest.Server {
	t.Helper()
	mux := NewRouter(NewHandler(64, uc)).MountRoutes(http.NewServeMux())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fmt.Fprint(fw, content)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeJSON[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestProcess_AcceptsUpload(t *testing.T) {
	uc := &fakeUsecase{
		submitJob: domain.Job{ID: "job-1", Status: domain.StatusPending},
	}
	srv := newTestServer(t, uc)

	body, contentType := multipartUpload(t, "building.ifc", "ifc payload", map[string]string{
		"guids":        "a,b",
		"ifc_types":    "IfcWall,IfcDoor",
		"storeys":      "Level 1",
		"callback_url": "https://example.com/hook",
	})

	resp, err := http.Post(srv.URL+"/api/v1/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/v1/process: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	got := decodeJSON[domain.SubmitResponse](t, resp.Body)
	if got.JobID != "job-1" || got.Status != "pending" {
		t.Fatalf("unexpected body %+v", got)
	}

	if uc.submitParams.OriginalName != "building.ifc" {
		t.Fatalf("original name = %q", uc.submitParams.OriginalName)
	}
	if string(uc.submitBody) != "ifc payload" {
		t.Fatalf("upload body = %q", uc.submitBody)
	}
	wantGUIDs := []string{"a", "b"}
	for i, g := range wantGUIDs {
		if uc.submitParams.Filter.GUIDs[i] != g {
			t.Fatalf("guids = %v, want %v", uc.submitParams.Filter.GUIDs, wantGUIDs)
		}
	}
	if len(uc.submitParams.Filter.Types) != 2 || len(uc.submitParams.Filter.Storeys) != 1 {
		t.Fatalf("filter fields lost: %+v", uc.submitParams.Filter)
	}
	if uc.submitParams.CallbackURL != "https://example.com/hook" {
		t.Fatalf("callback url = %q", uc.submitParams.CallbackURL)
	}
}

func TestProcess_ValidationErrorIsBadRequest(t *testing.T) {
	uc := &fakeUsecase{
		submitErr: fmt.Errorf("%w: supported only .ifc files", domain.ErrValidation),
	}
	srv := newTestServer(t, uc)

	body, contentType := multipartUpload(t, "drawing.dwg", "x", nil)
	resp, err := http.Post(srv.URL+"/api/v1/process", contentType, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	got := decodeJSON[domain.ErrorResponse](t, resp.Body)
	if !strings.Contains(got.Message, "supported only .ifc files") {
		t.Fatalf("message lost: %+v", got)
	}
}

func TestProcess_InternalErrorIsServerError(t *testing.T) {
	uc := &fakeUsecase{submitErr: errors.New("store unavailable")}
	srv := newTestServer(t, uc)

	body, contentType := multipartUpload(t, "model.ifc", "x", nil)
	resp, err := http.Post(srv.URL+"/api/v1/process", contentType, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestProcess_MissingFileField(t *testing.T) {
	srv := newTestServer(t, &fakeUsecase{})

	body, contentType := multipartUpload(t, "", "", map[string]string{"guids": "a"})
	resp, err := http.Post(srv.URL+"/api/v1/process", contentType, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProcess_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeUsecase{})

	resp, err := http.Get(srv.URL + "/api/v1/process")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestStatus_ReturnsJobState(t *testing.T) {
	uc := &fakeUsecase{
		statusResp: domain.StatusResponse{
			JobID:       "job-1",
			Status:      domain.StatusCompleted,
			DownloadURL: "/api/v1/jobs/job-1/download",
			OutputFile:  "job-1_filtered.ifc",
		},
	}
	srv := newTestServer(t, uc)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeJSON[domain.StatusResponse](t, resp.Body)
	if got.JobID != "job-1" || got.DownloadURL != "/api/v1/jobs/job-1/download" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestStatus_NotFound(t *testing.T) {
	uc := &fakeUsecase{statusErr: domain.ErrJobNotFound}
	srv := newTestServer(t, uc)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDownload_StreamsResult(t *testing.T) {
	uc := &fakeUsecase{
		result: domain.DownloadResult{
			FileName: "filtered_job-1.ifc",
			Size:     8,
			Content:  io.NopCloser(strings.NewReader("ISO-10303-21;")),
		},
	}
	srv := newTestServer(t, uc)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-1/download")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-step" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="filtered_job-1.ifc"` {
		t.Fatalf("content disposition = %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "ISO-10303-21;" {
		t.Fatalf("body = %q", data)
	}
}

func TestDownload_NotReadyAndFailed(t *testing.T) {
	uc := &fakeUsecase{
		resultErr:  domain.ErrJobNotReady,
		statusResp: domain.StatusResponse{JobID: "job-1", Status: domain.StatusPending},
	}
	srv := newTestServer(t, uc)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-1/download")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusTooEarly {
		t.Fatalf("not ready: status = %d, want 425", resp.StatusCode)
	}
	// A queued job is reported with its real status, not processing.
	got := decodeJSON[domain.StatusResponse](t, resp.Body)
	resp.Body.Close()
	if got.Status != domain.StatusPending {
		t.Fatalf("not ready body status = %q, want pending", got.Status)
	}

	uc.resultErr = domain.ErrJobFailed
	uc.statusResp = domain.StatusResponse{
		JobID:  "job-1",
		Status: domain.StatusFailed,
		Error:  &domain.JobError{Kind: domain.KindTimeout, Message: "deadline exceeded"},
	}
	resp, err = http.Get(srv.URL + "/api/v1/jobs/job-1/download")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("failed: status = %d, want 409", resp.StatusCode)
	}

	got = decodeJSON[domain.StatusResponse](t, resp.Body)
	if got.Status != domain.StatusFailed {
		t.Fatalf("unexpected body %+v", got)
	}
	if got.Error == nil || got.Error.Kind != domain.KindTimeout {
		t.Fatalf("recorded error not echoed: %+v", got.Error)
	}
}

func TestDownload_NotFound(t *testing.T) {
	uc := &fakeUsecase{resultErr: domain.ErrJobNotFound}
	srv := newTestServer(t, uc)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/missing/download")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeUsecase{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeJSON[domain.HealthResponse](t, resp.Body)
	if got.Status != "ok" || got.ActiveJobs != 1 || got.Capacity != 4 {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestJobIDFromPath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/jobs/abc":          "abc",
		"/api/v1/jobs/abc/download": "abc",
		"/api/v1/jobs/":             "",
		"/other/path":               "",
	}
	for path, want := range cases {
		if got := jobIDFromPath(path); got != want {
			t.Errorf("jobIDFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
