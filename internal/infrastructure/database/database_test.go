package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(dir string) Config
	}{
		{name: "memory", cfg: func(string) Config { return Config{Path: MemoryPath} }},
		{name: "empty path is memory", cfg: func(string) Config { return Config{} }},
		{name: "file", cfg: func(dir string) Config { return Config{Path: filepath.Join(dir, "archive.db"), BusyTimeout: 5} }},
		{name: "file with WAL in new dir", cfg: func(dir string) Config {
			return Config{Path: filepath.Join(dir, "nested", "archive.db"), WALMode: true, BusyTimeout: 5}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg(t.TempDir())
			db, err := Open(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			if db.Path() != cfg.Path {
				t.Errorf("Path() = %q, want %q", db.Path(), cfg.Path)
			}
			if err := db.HealthCheck(context.Background()); err != nil {
				t.Errorf("HealthCheck() error = %v", err)
			}
		})
	}
}

func TestMemoryDatabaseKeepsData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO t VALUES (7)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var v int
	if err := db.QueryRowContext(ctx, "SELECT v FROM t").Scan(&v); err != nil || v != 7 {
		t.Errorf("read back %d, %v", v, err)
	}
}

func TestExecContext_Error(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.ExecContext(context.Background(), "NOT SQL"); err == nil {
		t.Error("expected error for invalid SQL")
	}
}

func TestBeginTx_Rollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatal(err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil || n != 0 {
		t.Errorf("count after rollback = %d, %v", n, err)
	}
}

func TestClose_Nil(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"m/20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"m/20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"m/20260102_000000_second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER PRIMARY KEY);")},
		"m/20260102_000000_second.down.sql": {Data: []byte("DROP TABLE second;")},
		"m/README.md":                       {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys, "m"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "first") || !tableExists(t, db, "second") {
		t.Fatal("tables not created")
	}

	// Idempotent.
	if err := db.Migrate(ctx, fsys, "m"); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, "m")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys, "m"); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx, fsys, "m"); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "second") {
		t.Error("second table survived rollback")
	}
	if !tableExists(t, db, "first") {
		t.Error("first table rolled back too")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys, "m")
	if err != nil || len(pending) != 1 || pending[0].Name != "second" {
		t.Errorf("pending = %+v, %v", pending, err)
	}
}

func TestMigrate_FailureStopsAtBadMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"m/20260101_000000_good.up.sql":  {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"m/20260102_000000_bad.up.sql":   {Data: []byte("CREATE TABLE nonsense (")},
		"m/20260103_000000_later.up.sql": {Data: []byte("CREATE TABLE later (id INTEGER);")},
	}

	if err := db.Migrate(ctx, fsys, "m"); err == nil {
		t.Fatal("expected error from bad migration")
	}
	if !tableExists(t, db, "good") {
		t.Error("earlier migration not committed")
	}
	if tableExists(t, db, "later") {
		t.Error("later migration applied after failure")
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations(), "m")
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations", len(migrations))
	}
	if migrations[0].Name != "first" || migrations[0].DownSQL == "" {
		t.Errorf("migrations[0] = %+v", migrations[0])
	}

	if m, err := LoadMigrations(nil, "."); err != nil || m != nil {
		t.Errorf("nil fs = %v, %v", m, err)
	}
	if _, err := LoadMigrations(fstest.MapFS{}, "missing"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"20260118_120000_initial_schema.up.sql", "20260118_120000", true, true},
		{"20260118_120000_initial_schema.down.sql", "20260118_120000", false, true},
		{"20260118_120000_initial_schema.sql", "", false, false},
		{"readme.md", "", false, false},
		{"nounderscore.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.name)
			if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = %q, %v, %v", tt.name, version, isUp, ok)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	if got := extractMigrationName("20260118_120000_experiment_archive.up.sql"); got != "experiment_archive" {
		t.Errorf("got %q", got)
	}
	if got := extractMigrationName("short.sql"); got != "short" {
		t.Errorf("got %q", got)
	}
}
