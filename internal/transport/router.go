package transport

import (
	"net/http"
	"strings"
)

type Handler interface {
	process(w http.ResponseWriter, r *http.Request)
	status(w http.ResponseWriter, r *http.Request)
	download(w http.ResponseWriter, r *http.Request)
	health(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h Handler
}

func NewRouter(h Handler) *router {
	return &router{h: h}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/api/v1/process", r.h.process)
	mux.HandleFunc("/api/v1/jobs/", r.jobs)
	mux.HandleFunc("/health", r.h.health)

	return mux
}

// jobs fans /api/v1/jobs/{id} and /api/v1/jobs/{id}/download out to
// the status and download handlers.
func (r *router) jobs(w http.ResponseWriter, req *http.Request) {
	if strings.HasSuffix(req.URL.Path, "/download") {
		r.h.download(w, req)
		return
	}
	r.h.status(w, req)
}
