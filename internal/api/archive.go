package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/colourlab-core/internal/archive"
	"github.com/nerrad567/colourlab-core/internal/audit"
	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// handleListArchive serves GET /archive/experiments?status=&strategy=&limit=&offset=.
func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := archive.Filter{
		Status:   experiment.Status(q.Get("status")),
		Strategy: q.Get("strategy"),
	}
	if !parsePage(w, q, &filter.Limit, &filter.Offset) {
		return
	}

	result, err := s.archive.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing archived experiments", "error", err)
		writeInternalError(w, "failed to list archived experiments")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	rec, err := s.archive.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		s.logger.Error("loading archived experiment", "error", err)
		writeInternalError(w, "failed to load archived experiment")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListAudit serves GET /audit?action=&experiment_id=&source=&limit=&offset=.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:       q.Get("action"),
		ExperimentID: q.Get("experiment_id"),
		Source:       q.Get("source"),
	}
	if !parsePage(w, q, &filter.Limit, &filter.Offset) {
		return
	}

	result, err := s.audit.Repository().List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parsePage reads the limit and offset query parameters. On a bad value it
// writes a 400 and returns false.
func parsePage(w http.ResponseWriter, q url.Values, limit, offset *int) bool {
	for name, dst := range map[string]*int{"limit": limit, "offset": offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, name+" must be a non-negative integer")
			return false
		}
		*dst = n
	}
	return true
}
