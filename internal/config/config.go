package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for an ingestctl run. Values come
// from INGEST_* environment variables and are overridden by flags.
type Config struct {
	DSN          string        `env:"DSN"`
	Driver       string        `env:"DRIVER"` // "postgres", "sqlite" or empty to infer from DSN
	LogFormat    string        `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	PageSize     int           `env:"PAGE_SIZE" envDefault:"1000"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"500"`
	Worker       string        `env:"WORKER"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	MetricsAddr  string        `env:"METRICS_ADDR"`
}

// Load reads Config from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "INGEST_"}); err != nil {
		return c, fmt.Errorf("parse environment: %w", err)
	}
	return c, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	switch c.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown driver %q: want postgres or sqlite", c.Driver)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q: want text or json", c.LogFormat)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// ValidateWithDSN checks Validate plus the store location.
func (c *Config) ValidateWithDSN() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("--dsn or INGEST_DSN is required")
	}
	return nil
}

// LoadDocument reads a YAML ingest config document and returns it as JSON.
// An empty path yields an empty object.
func LoadDocument(path string) (json.RawMessage, error) {
	if path == "" {
		return json.RawMessage("{}"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if doc == nil {
		return json.RawMessage("{}"), nil
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("config file %s: top level must be a mapping", path)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode config file %s: %w", path, err)
	}
	if err := validateSubjectConfig(out); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return out, nil
}

// validateSubjectConfig checks the shape of subject_config when present.
func validateSubjectConfig(doc []byte) error {
	sc := gjson.GetBytes(doc, "subject_config")
	if !sc.Exists() {
		return nil
	}
	if !sc.IsObject() {
		return fmt.Errorf("subject_config must be a mapping")
	}
	if f := sc.Get("code_format"); f.Exists() && f.Type != gjson.String {
		return fmt.Errorf("subject_config.code_format must be a string")
	}
	if s := sc.Get("code_serial"); s.Exists() && (s.Type != gjson.Number || s.Int() < 0) {
		return fmt.Errorf("subject_config.code_serial must be a non-negative number")
	}
	if k := sc.Get("map_keys"); k.Exists() {
		if !k.IsArray() {
			return fmt.Errorf("subject_config.map_keys must be a list")
		}
		for _, key := range k.Array() {
			if key.Type != gjson.String {
				return fmt.Errorf("subject_config.map_keys must hold strings")
			}
		}
	}
	return nil
}
