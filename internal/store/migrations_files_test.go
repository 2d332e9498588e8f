package store

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"canvas/api/internal/store/migrations"
)

func TestMigrationsHaveUpAndDownSections(t *testing.T) {
	entries, err := fs.ReadDir(migrations.Migrations, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{5})_[a-z0-9_]+\.sql$`)
	seen := map[string]bool{}
	count := 0
	for _, entry := range entries {
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("unexpected migration file name %q", name)
		}
		if seen[match[1]] {
			t.Fatalf("duplicate migration version %s", match[1])
		}
		seen[match[1]] = true
		count++

		body, err := fs.ReadFile(migrations.Migrations, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		text := string(body)
		if !strings.Contains(text, "-- +goose Up") || !strings.Contains(text, "-- +goose Down") {
			t.Fatalf("%s must contain goose Up and Down sections", name)
		}
	}
	if count == 0 {
		t.Fatal("expected at least one migration")
	}
}
