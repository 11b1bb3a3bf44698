package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		text    string
		wantDay int
	}{
		{"2024-07-01", 1},
		{"yesterday", 9},
		{"3 days ago", 7},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := parseSince(tt.text, now)
			if err != nil {
				t.Fatalf("parseSince() failed: %v", err)
			}
			if got.Day() != tt.wantDay || got.Month() != time.July {
				t.Errorf("parseSince(%q) = %v, want July %d", tt.text, got, tt.wantDay)
			}
			if !got.Before(now) {
				t.Errorf("parseSince(%q) = %v, want before %v", tt.text, got, now)
			}
		})
	}

	if _, err := parseSince("the colour blue", now); err == nil {
		t.Error("parseSince() on nonsense succeeded, want error")
	}
}

func TestFilterSince(t *testing.T) {
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	entries := []*schema.CleaningHistory{
		{ID: "a", CleaningDate: base},
		{ID: "b", CleaningDate: base.Add(48 * time.Hour)},
		{ID: "c", CleaningDate: base.Add(96 * time.Hour)},
	}

	got := filterSince(entries, base.Add(24*time.Hour))
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Errorf("filterSince() = %v, want b and c", got)
	}
	if got := filterSince(entries, time.Time{}); len(got) != 3 {
		t.Errorf("filterSince(zero) returned %d entries, want 3", len(got))
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "loyalty.yaml")
	content := fmt.Sprintf(`
db:
  path: %s
remote:
  backend: file
  dir: %s
`, filepath.Join(dir, "loyalty.db"), filepath.Join(dir, "remote"))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCommands(t *testing.T) {
	path := writeConfig(t)
	exportPath := filepath.Join(t.TempDir(), "export.jsonl")

	steps := [][]string{
		{"init"},
		{"generate", "3"},
		{"assign", "PDC000001", "--name", "Ada", "--phone", "555-0100"},
		{"scan", "PDC000001"},
		{"clients"},
		{"history", "--since", "2000-01-01"},
		{"sync"},
		{"status"},
		{"export", exportPath},
		{"import", exportPath, "--dry-run"},
		{"config", "show"},
		{"config", "show", "--format", "toml"},
	}
	for _, step := range steps {
		if err := run(t, append([]string{"--config", path}, step...)...); err != nil {
			t.Fatalf("loyalty %v failed: %v", step, err)
		}
	}

	if _, err := os.Stat(exportPath); err != nil {
		t.Errorf("export file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "remote")); err != nil {
		t.Errorf("remote directory missing: %v", err)
	}
}

func TestCommandErrors(t *testing.T) {
	path := writeConfig(t)

	tests := [][]string{
		{"generate", "many"},
		{"scan", "PDC999999"},
		{"assign", "PDC999999", "--name", "Ada", "--phone", "555-0100"},
	}
	for _, args := range tests {
		if err := run(t, append([]string{"--config", path}, args...)...); err == nil {
			t.Errorf("loyalty %v succeeded, want error", args)
		}
	}
}
