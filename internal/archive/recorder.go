package archive

import (
	"context"
	"fmt"

	"github.com/nerrad567/colourlab-core/internal/events"
	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// ActionLogSource returns the authoritative action log of an experiment.
// The scheduler satisfies it.
type ActionLogSource interface {
	ActionLog(id string) ([]experiment.ActionRecord, error)
}

// Recorder is an events.Sink that archives experiments as they finish.
//
// On the finished event the full action log is read from the source, so
// action events dropped by the bus do not leave gaps. Actions published
// after that (late records from an abandoned run) are appended one at a
// time; duplicates of rows already saved are ignored by the repository.
// Handle runs on the bus dispatcher only.
type Recorder struct {
	repo     Repository
	source   ActionLogSource
	archived map[string]bool
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, source ActionLogSource) *Recorder {
	return &Recorder{
		repo:     repo,
		source:   source,
		archived: make(map[string]bool),
	}
}

// Name implements events.Sink.
func (r *Recorder) Name() string { return "archive" }

// Handle implements events.Sink.
func (r *Recorder) Handle(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.TypeExperimentAction:
		rec, ok := e.Payload.(experiment.ActionRecord)
		if !ok || !r.archived[e.ExperimentID] {
			return nil
		}
		return r.repo.AppendAction(ctx, rec)

	case events.TypeExperimentFinished:
		snap, ok := e.Payload.(experiment.Snapshot)
		if !ok {
			return nil
		}
		actions, err := r.source.ActionLog(e.ExperimentID)
		if err != nil {
			return fmt.Errorf("reading action log for %s: %w", e.ExperimentID, err)
		}
		if err := r.repo.Save(ctx, snap, actions); err != nil {
			return fmt.Errorf("archiving %s: %w", e.ExperimentID, err)
		}
		r.archived[e.ExperimentID] = true
	}
	return nil
}
