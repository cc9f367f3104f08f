// Package events carries experiment notifications from the scheduler to
// the outside world.
//
// The scheduler publishes four event types:
//
//	experiment.started    payload experiment.Snapshot
//	experiment.action     payload experiment.ActionRecord
//	experiment.iteration  payload IterationPayload
//	experiment.finished   payload experiment.Snapshot
//
// A Bus queues them without blocking the scheduler and delivers each to
// every registered Sink in order: the WebSocket hub, MQTT, InfluxDB and
// the SQLite archive.
package events
