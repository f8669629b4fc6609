package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INGEST_DSN", "/tmp/ingest.db")
	t.Setenv("INGEST_POLL_INTERVAL", "500ms")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DSN != "/tmp/ingest.db" {
		t.Errorf("DSN = %q", c.DSN)
	}
	if c.LogFormat != "text" || c.PageSize != 1000 || c.BatchSize != 500 {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %s", c.PollInterval)
	}
	if err := c.ValidateWithDSN(); err != nil {
		t.Errorf("ValidateWithDSN: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := Config{LogFormat: "json", PageSize: 10, BatchSize: 10}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"sqlite", func(c *Config) { c.Driver = "sqlite" }, false},
		{"bad driver", func(c *Config) { c.Driver = "mysql" }, true},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"zero page", func(c *Config) { c.PageSize = 0 }, true},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	c := base
	if err := c.ValidateWithDSN(); err == nil {
		t.Error("expected error for missing DSN")
	}
}

func TestLoadDocument_Valid(t *testing.T) {
	path := writeFile(t, `
subject_config:
  code_format: "Sub-{SubjectCode:03d}"
  map_keys: [PatientName, PatientBirthDate]
scanner:
  type: template
  levels: 3
`)
	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	want := `{"scanner":{"levels":3,"type":"template"},"subject_config":{"code_format":"Sub-{SubjectCode:03d}","map_keys":["PatientName","PatientBirthDate"]}}`
	if string(doc) != want {
		t.Errorf("got %s\nwant %s", doc, want)
	}
}

func TestLoadDocument_EmptyPathAndFile(t *testing.T) {
	doc, err := LoadDocument("")
	if err != nil || string(doc) != "{}" {
		t.Fatalf("LoadDocument(\"\") = %s, %v", doc, err)
	}
	doc, err = LoadDocument(writeFile(t, ""))
	if err != nil || string(doc) != "{}" {
		t.Fatalf("empty file = %s, %v", doc, err)
	}
}

func TestLoadDocument_Invalid(t *testing.T) {
	tests := map[string]string{
		"not a mapping":     "- a\n- b\n",
		"bad subject":       "subject_config: 3\n",
		"bad format":        "subject_config:\n  code_format: [x]\n",
		"negative serial":   "subject_config:\n  code_serial: -1\n",
		"map keys not list": "subject_config:\n  map_keys: PatientName\n",
		"map key not text":  "subject_config:\n  map_keys: [{a: b}]\n",
		"broken yaml":       "subject_config: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadDocument(writeFile(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadDocument_MissingFile(t *testing.T) {
	if _, err := LoadDocument("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
