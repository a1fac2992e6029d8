package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/jobs"
)

// Server exposes the job API over HTTP. All responses share one JSON
// envelope; binary downloads are the only exception.
type Server struct {
	svc            *jobs.Service
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewServer(svc *jobs.Service, maxUploadMB int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &Server{
		svc:            svc,
		maxUploadBytes: int64(maxUploadMB) << 20,
		logger:         logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/jobs", s.handleHistory)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/v1/jobs/{id}/logs", s.handleLogs)
	mux.HandleFunc("GET /api/v1/jobs/{id}/download", s.handleDownload)
	mux.HandleFunc("GET /api/v1/statistics", s.handleStats)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled", "method", r.Method, "path", r.URL.Path)
	})
}

// statusFor maps the service error taxonomy onto HTTP codes. Rejections are
// the caller's fault; everything else is ours.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrNotReady):
		return http.StatusConflict, "NOT_READY"
	case errors.Is(err, common.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT"
	case errors.Is(err, common.ErrMalformedInput):
		return http.StatusBadRequest, "MALFORMED_INPUT"
	case errors.Is(err, common.ErrUnrecognizedInstruction):
		return http.StatusBadRequest, "UNRECOGNIZED_INSTRUCTION"
	case errors.Is(err, common.ErrInvalidColumnSelection):
		return http.StatusBadRequest, "INVALID_COLUMNS"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
