package events

import (
	"context"

	"github.com/nerrad567/colourlab-core/internal/experiment"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/influxdb"
)

// MetricsWriter is the part of influxdb.Client the sink uses.
type MetricsWriter interface {
	WriteIteration(p influxdb.IterationPoint)
	WriteOutcome(p influxdb.OutcomePoint)
}

// InfluxSink writes iteration and outcome points.
//
// It remembers each experiment's strategy from its started event. Handle
// runs on the bus dispatcher only, so the map needs no lock.
type InfluxSink struct {
	writer     MetricsWriter
	strategies map[string]string
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w MetricsWriter) *InfluxSink {
	return &InfluxSink{writer: w, strategies: make(map[string]string)}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Handle implements Sink.
func (s *InfluxSink) Handle(_ context.Context, e Event) error {
	switch e.Type {
	case TypeExperimentStarted:
		if snap, ok := e.Payload.(experiment.Snapshot); ok {
			s.strategies[e.ExperimentID] = snap.Strategy
		}
	case TypeExperimentIteration:
		p, ok := e.Payload.(IterationPayload)
		if !ok {
			return nil
		}
		s.writer.WriteIteration(influxdb.IterationPoint{
			ExperimentID: e.ExperimentID,
			Strategy:     s.strategies[e.ExperimentID],
			Iteration:    p.Iteration,
			Candidate:    p.Candidate,
			Observed:     p.Observed,
			Loss:         p.Loss,
			BestLoss:     p.BestLoss,
			Time:         e.Timestamp,
		})
	case TypeExperimentFinished:
		snap, ok := e.Payload.(experiment.Snapshot)
		if !ok {
			return nil
		}
		delete(s.strategies, e.ExperimentID)
		point := influxdb.OutcomePoint{
			ExperimentID: e.ExperimentID,
			Strategy:     snap.Strategy,
			Status:       string(snap.Status),
			Iterations:   snap.IterationsCompleted,
			Time:         e.Timestamp,
		}
		if snap.StartedAt != nil && snap.EndedAt != nil {
			point.Duration = snap.EndedAt.Sub(*snap.StartedAt)
		}
		if snap.Result != nil {
			point.HasResult = true
			point.BestLoss = snap.Result.BestLoss
		}
		s.writer.WriteOutcome(point)
	}
	return nil
}
