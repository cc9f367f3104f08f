package lab

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// maxDropsBody bounds an add_dyes request body.
const maxDropsBody = 1024

// NewHandler exposes a VirtualLab over the Lab HTTP API.
//
// Routes:
//
//	POST /well/{x}/{y}/add_dyes   {"drops":[a,b,c]}
//	GET  /well/{x}/{y}/color      -> {"color":"#rrggbb"}
//	POST /clear_plate
//	GET  /health
func NewHandler(v *VirtualLab) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Post("/clear_plate", func(w http.ResponseWriter, r *http.Request) {
		_ = v.ClearPlate(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"message": "plate cleared"})
	})
	r.Route("/well/{x}/{y}", func(r chi.Router) {
		r.Post("/add_dyes", func(w http.ResponseWriter, r *http.Request) {
			well, ok := parseWell(w, r)
			if !ok {
				return
			}
			var req addDyesRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDropsBody)).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
				return
			}
			if err := v.ApplyDrops(r.Context(), well, experiment.Candidate(req.Drops)); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "dyes added"})
		})
		r.Get("/color", func(w http.ResponseWriter, r *http.Request) {
			well, ok := parseWell(w, r)
			if !ok {
				return
			}
			rgb, err := v.ReadColor(r.Context(), well)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, ErrInvalidWell) {
					status = http.StatusBadRequest
				}
				writeJSON(w, status, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, colorResponse{Color: rgb.Hex()})
		})
	})

	return r
}

func parseWell(w http.ResponseWriter, r *http.Request) (experiment.Well, bool) {
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	well := experiment.Well{Row: x, Col: y}
	if errX != nil || errY != nil || !well.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid well coordinates"})
		return experiment.Well{}, false
	}
	return well, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
