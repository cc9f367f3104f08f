package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Colour Lab topic.
const TopicPrefix = "colourlab"

// Experiment topic kinds published under colourlab/experiment/{id}/{kind}.
const (
	KindStatus    = "status"
	KindAction    = "action"
	KindIteration = "iteration"
	KindResult    = "result"
)

// Topics provides builders for Colour Lab MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Experiment("exp-42", mqtt.KindStatus)
//	// Returns: "colourlab/experiment/exp-42/status"
type Topics struct{}

// Experiment returns the topic for one kind of experiment event.
func (Topics) Experiment(experimentID, kind string) string {
	return fmt.Sprintf("%s/experiment/%s/%s", TopicPrefix, experimentID, kind)
}

// AllExperiments matches every experiment topic.
func (Topics) AllExperiments() string {
	return TopicPrefix + "/experiment/#"
}

// CancelCommand is where operators publish cancel requests. An empty
// payload cancels the running experiment; {"experiment_id": "..."} cancels
// a specific one.
func (Topics) CancelCommand() string {
	return TopicPrefix + "/command/cancel"
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ValidSegment reports whether s can be used as a single topic level.
// Experiment IDs are validated upstream, this guards topic construction
// from other callers.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
