package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/jobs"
	"github.com/Zikki-Qing/tabmend/internal/repository"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.respondErr(w, common.WrapError(common.ErrMalformedInput, "parse upload"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondErr(w, common.WrapError(common.ErrMalformedInput, "file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondErr(w, common.WrapError(err, "read upload"))
		return
	}

	instruction := strings.TrimSpace(r.FormValue("instruction"))
	if instruction == "" {
		s.respondErr(w, common.WrapError(common.ErrUnrecognizedInstruction, "instruction field is required"))
		return
	}

	job, err := s.svc.Submit(r.Context(), jobs.SubmitRequest{
		FileName:      header.Filename,
		FormatHint:    r.FormValue("format"),
		Data:          data,
		Instruction:   instruction,
		Replacement:   r.FormValue("replacement"),
		TargetColumns: splitColumns(r.FormValue("columns")),
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, job)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	job, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, job)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	entries, err := s.svc.GetLogs(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, entries)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	dl, err := s.svc.DownloadResult(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	if _, err := w.Write(dl.Data); err != nil {
		s.logger.Warn("download write failed", "job_id", id, "error", err)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter := repository.ListFilter{
		State:  constants.JobStatus(strings.ToUpper(r.URL.Query().Get("state"))),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	items, err := s.svc.ListHistory(r.Context(), filter)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, items)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.HealthCheck(r.Context())
	status := http.StatusOK
	if !h.QueueReachable || !h.StorageReachable {
		status = http.StatusServiceUnavailable
	}
	s.respond(w, status, h)
}

func jobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, common.WrapError(common.ErrNotFound, "invalid job id")
	}
	return id, nil
}

func splitColumns(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
