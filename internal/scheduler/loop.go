package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/colourlab-core/internal/events"
	"github.com/nerrad567/colourlab-core/internal/experiment"
	"github.com/nerrad567/colourlab-core/internal/lab"
	"github.com/nerrad567/colourlab-core/internal/strategy"
)

// outcome is how a loop ended.
type outcome struct {
	status    experiment.Status
	result    experiment.Result
	err       error
	iteration int
}

func cancelled(i int) outcome {
	return outcome{status: experiment.StatusCancelled, iteration: i}
}

func failed(i int, err error) outcome {
	return outcome{status: experiment.StatusFailed, err: err, iteration: i}
}

// stopping reports whether the run has been asked to stop.
func stopping(ctx context.Context, exp *experiment.Experiment) bool {
	return exp.CancelRequested() || ctx.Err() != nil
}

// loop is the evaluate/log cycle shared by every strategy.
//
// Each iteration logs place, dispenses, reads back, logs read, scores and
// logs step, in that order. Cancellation is checked before proposing and
// again before dispensing, never between a dispense and its read.
//
// A Lab fault ends the run immediately. The place record for the failed
// well is then the last entry in the log and has no matching read.
func (s *Scheduler) loop(ctx context.Context, r *run, p strategy.Proposer) outcome {
	exp := r.exp
	budget := exp.Budget()
	target := exp.Target()

	if s.opts.ClearPlateOnStart {
		if clearer, ok := s.lab.(lab.PlateClearer); ok {
			labCtx, cancel := s.labContext(ctx)
			err := clearer.ClearPlate(labCtx)
			cancel()
			if err != nil {
				s.logger.Error("clearing plate failed", "experiment_id", exp.ID(), "error", err)
				return failed(0, fmt.Errorf("clearing plate: %w", err))
			}
		}
	}

	history := make([]strategy.Observation, 0, budget)
	var best strategy.Observation

	for i := range budget {
		if stopping(ctx, exp) {
			return cancelled(i)
		}

		well, err := experiment.WellAt(i)
		if err != nil {
			return failed(i, err)
		}

		candidate, err := p.Propose(ctx, history)
		if err != nil {
			if stopping(ctx, exp) && errors.Is(err, context.Canceled) {
				return cancelled(i)
			}
			s.logger.Error("strategy failed to propose",
				"experiment_id", exp.ID(), "iteration", i, "error", err)
			return failed(i, err)
		}
		if err := strategy.CheckCandidate(candidate, s.opts.Bounds); err != nil {
			s.logger.Error("strategy proposed invalid candidate",
				"experiment_id", exp.ID(), "iteration", i, "error", err)
			return failed(i, err)
		}
		if stopping(ctx, exp) {
			return cancelled(i)
		}

		s.record(r, experiment.ActionPlace, experiment.PlaceData{X: well.Row, Y: well.Col, DropletCounts: candidate})
		observed, err := s.measure(ctx, well, candidate)
		if err != nil {
			s.logger.Error("lab fault",
				"experiment_id", exp.ID(), "iteration", i, "well", well.String(), "error", err)
			return failed(i, err)
		}
		s.record(r, experiment.ActionRead, experiment.ReadData{X: well.Row, Y: well.Col, Color: observed.Hex(), RGB: observed})

		loss := experiment.Loss(target, observed)
		obs := strategy.Observation{Candidate: candidate, Observed: observed, Loss: loss}
		history = append(history, obs)
		s.record(r, experiment.ActionStep, experiment.StepData{Iteration: i, Loss: loss, Candidate: candidate})

		if len(history) == 1 || loss < best.Loss {
			best = obs
		}
		exp.RecordIteration(i + 1)

		s.logger.Debug("iteration complete",
			"experiment_id", exp.ID(), "iteration", i, "well", well.String(),
			"candidate", [3]int(candidate), "loss", loss, "best_loss", best.Loss)
		s.events.Publish(events.New(events.TypeExperimentIteration, exp.ID(), events.IterationPayload{
			Iteration:     i,
			Well:          well,
			Candidate:     candidate,
			Observed:      observed,
			Loss:          loss,
			BestCandidate: best.Candidate,
			BestLoss:      best.Loss,
			Progress:      float64(i+1) / float64(budget),
		}))

		if s.opts.IterationDelay > 0 && i < budget-1 {
			s.pause(ctx, s.opts.IterationDelay)
		}
	}

	if exp.CancelRequested() {
		return cancelled(budget)
	}
	return outcome{
		status:    experiment.StatusCompleted,
		result:    experiment.Result{OptimalParams: best.Candidate, BestLoss: best.Loss},
		iteration: budget,
	}
}

// measure dispenses into well and reads it back. Both calls run on a
// context that ignores cancellation so a dispensed well is always read.
func (s *Scheduler) measure(ctx context.Context, well experiment.Well, candidate experiment.Candidate) (experiment.RGB, error) {
	applyCtx, cancelApply := s.labContext(ctx)
	err := s.lab.ApplyDrops(applyCtx, well, candidate)
	cancelApply()
	if err != nil {
		return experiment.RGB{}, err
	}

	readCtx, cancelRead := s.labContext(ctx)
	defer cancelRead()
	return s.lab.ReadColor(readCtx, well)
}

func (s *Scheduler) labContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.LabTimeout)
}

// record appends to the run's log and publishes the record.
func (s *Scheduler) record(r *run, typ experiment.ActionType, data any) {
	rec := r.log.Append(typ, data)
	if rec.Late {
		s.logger.Warn("late action from abandoned experiment",
			"experiment_id", rec.ExperimentID, "type", rec.Type, "seq", rec.Seq)
	}
	s.events.Publish(events.New(events.TypeExperimentAction, rec.ExperimentID, rec))
}

// pause sleeps for d or until ctx is cancelled.
func (s *Scheduler) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
