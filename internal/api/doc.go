// Package api implements the HTTP API and WebSocket stream for Colour Lab.
//
// Routes:
//
//	POST /experiments/{id}/start                              body {target, n_calls, strategy}, all optional
//	POST /experiments/{id}/optimize/{r}/{g}/{b}/{n_calls}     surrogate strategy
//	POST /experiments/{id}/optimize_llm/{r}/{g}/{b}/{n_calls} advisory strategy
//	POST /experiments/{id}/cancel
//	POST /cancel_experiment                                   cancels the current experiment
//	GET  /experiments/{id}/status
//	GET  /experiments/{id}/action_log
//	GET  /experiments, /experiments/current
//	GET  /archive/experiments, /archive/experiments/{id}     when the archive is enabled
//	GET  /audit                                               operator command history, likewise
//	GET  /health, /metrics
//	GET  /ws
//
// When security.jwt.secret is set, every POST route requires an operator
// bearer token. Read routes and the WebSocket stream stay open. Starts and
// cancels are recorded in the audit trail with the token subject.
//
// Errors are JSON objects of the form {"status": 404, "code": "not_found",
// "error": "..."}.
//
// The WebSocket Hub is also an events.Sink: each experiment event is
// broadcast on the channel named by its type, for example
// "experiment.iteration". Clients subscribe with
//
//	{"type": "subscribe", "id": "1", "payload": {"channels": ["experiment.iteration"]}}
//
// and may use "*" to receive every channel.
package api
