package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/colourlab-core/internal/audit"
	"github.com/nerrad567/colourlab-core/internal/experiment"
	"github.com/nerrad567/colourlab-core/internal/scheduler"
	"github.com/nerrad567/colourlab-core/internal/strategy"
)

// startRequest is the optional body of POST /experiments/{id}/start.
// Omitted fields take the configured defaults.
type startRequest struct {
	Target   *[3]int `json:"target,omitempty"`
	NCalls   *int    `json:"n_calls,omitempty"`
	Strategy string  `json:"strategy,omitempty"`
}

type startResponse struct {
	Message      string              `json:"message"`
	ExperimentID string              `json:"experiment_id"`
	Experiment   experiment.Snapshot `json:"experiment"`
}

type cancelResponse struct {
	Message      string `json:"message"`
	ExperimentID string `json:"experiment_id"`
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req := scheduler.Request{
		ID:       chi.URLParam(r, "id"),
		Target:   experiment.RGB(s.expCfg.DefaultTarget),
		Budget:   s.expCfg.DefaultNCalls,
		Strategy: strategy.KindSurrogate,
	}
	if body.Target != nil {
		req.Target = experiment.RGB(*body.Target)
	}
	if body.NCalls != nil {
		req.Budget = *body.NCalls
	}
	if body.Strategy != "" {
		req.Strategy = strategy.Kind(body.Strategy)
	}
	s.start(w, r, req)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	s.handlePathStart(w, r, strategy.KindSurrogate)
}

func (s *Server) handleOptimizeLLM(w http.ResponseWriter, r *http.Request) {
	s.handlePathStart(w, r, strategy.KindAdvisory)
}

// handlePathStart serves the /optimize routes, which carry the target and
// budget in the path.
func (s *Server) handlePathStart(w http.ResponseWriter, r *http.Request, kind strategy.Kind) {
	var ints [4]int
	for i, name := range []string{"red", "green", "blue", "n_calls"} {
		v, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("%s must be an integer", name))
			return
		}
		ints[i] = v
	}

	s.start(w, r, scheduler.Request{
		ID:       chi.URLParam(r, "id"),
		Target:   experiment.RGB{ints[0], ints[1], ints[2]},
		Budget:   ints[3],
		Strategy: kind,
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, req scheduler.Request) {
	snap, err := s.sched.Start(req)
	if err != nil {
		s.logger.Warn("experiment start rejected",
			"experiment_id", req.ID,
			"strategy", req.Strategy,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeExperimentError(w, err)
		return
	}
	subject := subjectFrom(r.Context())
	s.logger.Info("experiment start requested",
		"experiment_id", snap.ID,
		"strategy", snap.Strategy,
		"subject", subject,
	)
	s.audit.Record(audit.Entry{
		Action:       audit.ActionStart,
		ExperimentID: snap.ID,
		Subject:      subject,
		Source:       audit.SourceAPI,
		Details: map[string]any{
			"strategy": snap.Strategy,
			"target":   snap.Target.Hex(),
			"n_calls":  snap.Budget,
		},
	})
	writeJSON(w, http.StatusOK, startResponse{
		Message:      "Experiment started",
		ExperimentID: snap.ID,
		Experiment:   snap,
	})
}

func (s *Server) handleExperimentStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sched.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleActionLog(w http.ResponseWriter, r *http.Request) {
	records, err := s.sched.ActionLog(chi.URLParam(r, "id"))
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, _ *http.Request) {
	list := s.sched.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"experiments": list,
		"count":       len(list),
	})
}

func (s *Server) handleCurrentExperiment(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.sched.Current()
	if !ok {
		writeNotFound(w, "no experiment has been started")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	running, err := s.sched.Cancel(id)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	if !running {
		writeError(w, http.StatusConflict, ErrCodeConflict, fmt.Sprintf("experiment %s is not running", id))
		return
	}
	s.cancelled(w, r, id)
}

func (s *Server) handleCancelCurrent(w http.ResponseWriter, r *http.Request) {
	id, running := s.sched.CancelCurrent()
	if !running {
		writeNotFound(w, "no experiment is running")
		return
	}
	s.cancelled(w, r, id)
}

func (s *Server) cancelled(w http.ResponseWriter, r *http.Request, id string) {
	subject := subjectFrom(r.Context())
	s.logger.Info("experiment cancel requested", "experiment_id", id, "subject", subject)
	s.audit.Record(audit.Entry{
		Action:       audit.ActionCancel,
		ExperimentID: id,
		Subject:      subject,
		Source:       audit.SourceAPI,
	})
	writeJSON(w, http.StatusOK, cancelResponse{Message: "Cancellation requested", ExperimentID: id})
}
