package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/colourlab-core/internal/infrastructure/mqtt"
)

// MQTTPublisher is the part of mqtt.Client the sink uses.
type MQTTPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink mirrors experiment events onto colourlab/experiment/{id}/{kind}.
// Status snapshots are retained so late subscribers see the latest state.
type MQTTSink struct {
	client MQTTPublisher
	topics mqtt.Topics
}

// NewMQTTSink creates a sink publishing through client.
func NewMQTTSink(client MQTTPublisher) *MQTTSink {
	return &MQTTSink{client: client}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Handle implements Sink.
func (s *MQTTSink) Handle(_ context.Context, e Event) error {
	if !mqtt.ValidSegment(e.ExperimentID) {
		return fmt.Errorf("mqtt sink: experiment id %q is not a valid topic segment", e.ExperimentID)
	}

	switch e.Type {
	case TypeExperimentStarted:
		return s.client.PublishJSON(s.topics.Experiment(e.ExperimentID, mqtt.KindStatus), e.Payload, true)
	case TypeExperimentAction:
		return s.client.PublishJSON(s.topics.Experiment(e.ExperimentID, mqtt.KindAction), e.Payload, false)
	case TypeExperimentIteration:
		return s.client.PublishJSON(s.topics.Experiment(e.ExperimentID, mqtt.KindIteration), e.Payload, false)
	case TypeExperimentFinished:
		if err := s.client.PublishJSON(s.topics.Experiment(e.ExperimentID, mqtt.KindStatus), e.Payload, true); err != nil {
			return err
		}
		return s.client.PublishJSON(s.topics.Experiment(e.ExperimentID, mqtt.KindResult), e.Payload, false)
	}
	return nil
}

// Canceller is the scheduler surface used by remote cancel commands.
type Canceller interface {
	Cancel(id string) (bool, error)
	CancelCurrent() (string, bool)
}

// cancelCommand is the optional body of colourlab/command/cancel.
type cancelCommand struct {
	ExperimentID string `json:"experiment_id"`
}

// CancelHandler returns an MQTT handler for colourlab/command/cancel. An
// empty payload, or one without experiment_id, cancels the running
// experiment.
func CancelHandler(c Canceller, logger Logger) mqtt.MessageHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(topic string, payload []byte) error {
		var cmd cancelCommand
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &cmd); err != nil {
				return fmt.Errorf("parsing cancel command: %w", err)
			}
		}

		if cmd.ExperimentID == "" {
			id, ok := c.CancelCurrent()
			logger.Info("remote cancel command", "topic", topic, "experiment_id", id, "cancelled", ok)
			return nil
		}

		ok, err := c.Cancel(cmd.ExperimentID)
		if err != nil {
			return fmt.Errorf("cancelling %s: %w", cmd.ExperimentID, err)
		}
		logger.Info("remote cancel command", "topic", topic, "experiment_id", cmd.ExperimentID, "cancelled", ok)
		return nil
	}
}
