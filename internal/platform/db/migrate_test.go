package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigrationFixtures(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write fixture %s: %v", name, err)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFixtures(t, dir, map[string]string{
		"001_core.sql":     "CREATE TABLE patients (id SERIAL PRIMARY KEY);",
		"002_invoices.sql": "CREATE TABLE invoices (id SERIAL PRIMARY KEY);",
		"003_payments.sql": "CREATE TABLE payments (id SERIAL PRIMARY KEY);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	want := []struct {
		version int
		name    string
	}{
		{1, "001_core.sql"},
		{2, "002_invoices.sql"},
		{3, "003_payments.sql"},
	}
	for i, w := range want {
		if migrations[i].Version != w.version {
			t.Errorf("migration[%d]: version = %d, want %d", i, migrations[i].Version, w.version)
		}
		if migrations[i].Name != w.name {
			t.Errorf("migration[%d]: name = %s, want %s", i, migrations[i].Name, w.name)
		}
	}
	if migrations[0].SQL != "CREATE TABLE patients (id SERIAL PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SortsByVersionNotFilename(t *testing.T) {
	dir := t.TempDir()
	// Written out of order; versions 1, 2, 5, 10 must come back ascending
	// even though lexicographic sort would put 010 before 002.
	writeMigrationFixtures(t, dir, map[string]string{
		"010_claims.sql":   "SELECT 10;",
		"002_invoices.sql": "SELECT 2;",
		"001_core.sql":     "SELECT 1;",
		"005_payments.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	var got []int
	for _, m := range migrations {
		got = append(got, m.Version)
	}
	want := []int{1, 2, 5, 10}
	if len(got) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestLoadMigrations_SkipsUnversionedFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFixtures(t, dir, map[string]string{
		"001_core.sql":     "SELECT 1;",
		"002_invoices.sql": "SELECT 2;",
		"readme.sql":       "-- no version prefix",
		"notes.txt":        "not a sql file",
		"abc_invalid.sql":  "-- non-numeric prefix",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("got versions %d, %d; want 1, 2", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	migrations, err := NewMigrator(nil, t.TempDir()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations from empty dir, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/migrations").LoadMigrations(); err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestMigrationStatus_AppliedAndPending(t *testing.T) {
	// Status needs a live pool to read schema_migrations, so this exercises
	// the categorization it is built from: loaded files joined against the
	// set of applied versions.
	dir := t.TempDir()
	writeMigrationFixtures(t, dir, map[string]string{
		"001_core.sql":     "CREATE TABLE patients (id SERIAL);",
		"002_invoices.sql": "CREATE TABLE invoices (id SERIAL);",
		"003_payments.sql": "CREATE TABLE payments (id SERIAL);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	applied := map[int]bool{1: true}
	var statuses []MigrationStatus
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.Version,
			Name:    mig.Name,
			Applied: applied[mig.Version],
		})
	}

	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied {
		t.Error("expected migration 001 to be applied")
	}
	for _, s := range statuses[1:] {
		if s.Applied {
			t.Errorf("expected migration %s to be pending", s.Name)
		}
		if s.AppliedAt != nil {
			t.Errorf("pending migration %s has non-nil AppliedAt", s.Name)
		}
	}
	if statuses[2].Name != "003_payments.sql" {
		t.Errorf("status[2].Name = %s, want 003_payments.sql", statuses[2].Name)
	}
}

func TestNewMigrator(t *testing.T) {
	m := NewMigrator(nil, "/srv/hms/migrations")
	if m == nil {
		t.Fatal("expected non-nil Migrator")
	}
	if m.dir != "/srv/hms/migrations" {
		t.Errorf("dir = %s, want /srv/hms/migrations", m.dir)
	}
	if m.pool != nil {
		t.Error("expected nil pool")
	}
}
