package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementIteration = "experiment_iteration"
	MeasurementOutcome   = "experiment_outcome"
)

// IterationPoint is one evaluated well.
type IterationPoint struct {
	ExperimentID string
	Strategy     string
	Iteration    int
	Candidate    [3]int
	Observed     [3]int
	Loss         float64
	BestLoss     float64
	Time         time.Time
}

// OutcomePoint is the terminal state of an experiment.
type OutcomePoint struct {
	ExperimentID string
	Strategy     string
	Status       string
	Iterations   int
	BestLoss     float64
	HasResult    bool
	Duration     time.Duration
	Time         time.Time
}

// WriteIteration records one iteration. Non-blocking; dropped silently
// when the client is closed.
func (c *Client) WriteIteration(p IterationPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(iterationPoint(p))
}

// WriteOutcome records how an experiment ended.
func (c *Client) WriteOutcome(p OutcomePoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(outcomePoint(p))
}

func iterationPoint(p IterationPoint) *write.Point {
	return write.NewPoint(
		MeasurementIteration,
		map[string]string{
			"experiment_id": p.ExperimentID,
			"strategy":      p.Strategy,
		},
		map[string]any{
			"iteration": p.Iteration,
			"loss":      p.Loss,
			"best_loss": p.BestLoss,
			"drops_r":   p.Candidate[0],
			"drops_g":   p.Candidate[1],
			"drops_b":   p.Candidate[2],
			"r":         p.Observed[0],
			"g":         p.Observed[1],
			"b":         p.Observed[2],
		},
		timestampOrNow(p.Time),
	)
}

func outcomePoint(p OutcomePoint) *write.Point {
	fields := map[string]any{
		"iterations":  p.Iterations,
		"duration_ms": p.Duration.Milliseconds(),
	}
	if p.HasResult {
		fields["best_loss"] = p.BestLoss
	}
	return write.NewPoint(
		MeasurementOutcome,
		map[string]string{
			"experiment_id": p.ExperimentID,
			"strategy":      p.Strategy,
			"status":        p.Status,
		},
		fields,
		timestampOrNow(p.Time),
	)
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
