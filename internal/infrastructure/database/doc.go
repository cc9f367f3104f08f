// Package database opens the SQLite store behind the experiment archive
// and applies its schema migrations.
//
// The default path ":memory:" keeps the archive for the life of the
// process only. A file path persists it across restarts; archived rows
// are history and are never loaded back into the scheduler.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. All queries use placeholders.
package database
