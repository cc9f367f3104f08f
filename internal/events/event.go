package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// Type identifies an event. Types double as WebSocket channel names.
type Type string

// Event types.
const (
	TypeExperimentStarted   Type = "experiment.started"
	TypeExperimentAction    Type = "experiment.action"
	TypeExperimentIteration Type = "experiment.iteration"
	TypeExperimentFinished  Type = "experiment.finished"
)

// Event is one notification about an experiment.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	ExperimentID string    `json:"experiment_id"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      any       `json:"payload"`
}

// IterationPayload summarises one finished iteration.
type IterationPayload struct {
	Iteration     int                  `json:"iteration"`
	Well          experiment.Well      `json:"well"`
	Candidate     experiment.Candidate `json:"candidate"`
	Observed      experiment.RGB       `json:"observed"`
	Loss          float64              `json:"loss"`
	BestCandidate experiment.Candidate `json:"best_candidate"`
	BestLoss      float64              `json:"best_loss"`
	Progress      float64              `json:"progress"`
}

// New stamps a new event with an ID and the current time.
func New(typ Type, experimentID string, payload any) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         typ,
		ExperimentID: experimentID,
		Timestamp:    time.Now().UTC(),
		Payload:      payload,
	}
}
