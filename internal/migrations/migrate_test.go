package migrations

import "testing"

func TestLatestVersionReadsEmbeddedFiles(t *testing.T) {
	if got := LatestVersion(); got != 1 {
		t.Fatalf("expected latest embedded version 1, got %d", got)
	}
}

func TestRunMigrationsRejectsEmptyURL(t *testing.T) {
	if err := RunMigrations(""); err == nil {
		t.Fatal("expected error for empty database URL")
	}
}
