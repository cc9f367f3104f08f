// Package audit records operator commands: experiment starts and
// cancellations, with who issued them and over which surface.
//
// Entries are written asynchronously by a Writer so that an API request or
// MQTT command never waits on SQLite. Writing is best effort: when the
// buffer is full the entry is dropped and a warning is logged.
//
//	w := audit.NewWriter(audit.NewSQLiteRepository(db.DB), logger)
//	go w.Run(ctx)
//	w.Record(audit.Entry{Action: audit.ActionStart, ExperimentID: "exp-1", Source: audit.SourceAPI})
package audit
