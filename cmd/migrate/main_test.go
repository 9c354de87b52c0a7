package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}
	return path
}

func TestLoadSeedRules_Defaults(t *testing.T) {
	ruleSet, err := loadSeedRules("")
	if err != nil {
		t.Fatalf("loadSeedRules() failed: %v", err)
	}
	if len(ruleSet) != 16 {
		t.Errorf("loadSeedRules() returned %d rules, want 16", len(ruleSet))
	}
}

func TestLoadSeedRules_File(t *testing.T) {
	path := writeRules(t, `
rules:
  - id: adults-only
    name: Adults only
    type: content-filtering
    enabled: true
    conditions:
      - field: userProfile.age
        operator: less-than
        value: 18
    actions: []
`)

	ruleSet, err := loadSeedRules(path)
	if err != nil {
		t.Fatalf("loadSeedRules() failed: %v", err)
	}
	if len(ruleSet) != 1 || ruleSet[0].ID != "adults-only" {
		t.Errorf("loadSeedRules() = %v, want [adults-only]", ruleSet)
	}
}

func TestLoadSeedRules_Rejects(t *testing.T) {
	testCases := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{"unknown operator", func(t *testing.T) string {
			return writeRules(t, `
rules:
  - id: broken
    name: Broken
    type: compliance
    enabled: true
    conditions:
      - field: userProfile.age
        operator: roughly
        value: 18
`)
		}},
		{"duplicate ids", func(t *testing.T) string {
			return writeRules(t, `
rules:
  - {id: twin, name: One, type: recommendation, enabled: true}
  - {id: twin, name: Two, type: recommendation, enabled: true}
`)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadSeedRules(tc.path(t)); err == nil {
				t.Error("loadSeedRules() expected an error, got nil")
			}
		})
	}
}
