// Package influxdb records experiment telemetry in InfluxDB.
//
// Two measurements are written:
//
//	experiment_iteration  tags: experiment_id, strategy
//	                      fields: iteration, loss, best_loss, drops_r/g/b, r/g/b
//	experiment_outcome    tags: experiment_id, strategy, status
//	                      fields: iterations, duration_ms, best_loss
//
// Writes go through the client's batching write API and never block the
// experiment loop.
package influxdb
