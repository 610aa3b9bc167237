package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trawlgrid.yaml")
	body := `inputs:
  hauls: hauls.csv
  catch: catch.csv
  taxonomy: taxonomy.csv
export:
  formats: [ndjson]
blob:
  driver: memory
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Blob.Driver != BlobDriverMemory || cfg.Export.Prefix != "runs" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Export.Formats) != 1 || cfg.Export.Formats[0] != "ndjson" {
		t.Fatalf("formats not overridden: %v", cfg.Export.Formats)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("inputs: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TRAWLGRID_BLOB_DRIVER":        "s3",
		"TRAWLGRID_BLOB_S3_BUCKET":     "survey-artifacts",
		"TRAWLGRID_BLOB_S3_PATH_STYLE": "TRUE",
		"TRAWLGRID_SQLITE_PATH":        "/tmp/grid.db",
		"TRAWLGRID_MIN_PERFORMANCE":    "-1",
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Blob.Driver != "s3" || cfg.Blob.S3.Bucket != "survey-artifacts" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("blob overrides missing: %+v", cfg.Blob)
	}
	if cfg.Database.SQLitePath != "/tmp/grid.db" || cfg.Filter.MinPerformance != -1 {
		t.Fatalf("overrides missing: %+v", cfg)
	}

	env["TRAWLGRID_MIN_PERFORMANCE"] = "high"
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Inputs = InputsConfig{Hauls: "h", Catch: "c", Taxonomy: "t"}
		return c
	}
	cases := map[string]func(*Config){
		"missing hauls":  func(c *Config) { c.Inputs.Hauls = "" },
		"missing catch":  func(c *Config) { c.Inputs.Catch = "" },
		"s3 no bucket":   func(c *Config) { c.Blob.Driver = BlobDriverS3 },
		"unknown driver": func(c *Config) { c.Blob.Driver = "ftp" },
		"bad format":     func(c *Config) { c.Export.Formats = []string{"xlsx"} },
		"bad level":      func(c *Config) { c.Log.Level = "loud" },
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline invalid: %v", err)
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateFormatsIgnoreCaseAndSpace(t *testing.T) {
	c := DefaultConfig()
	c.Inputs = InputsConfig{Hauls: "h", Catch: "c", Taxonomy: "t"}
	c.Export.Formats = []string{"CSV", " json ", "NDJson"}
	if err := c.Validate(); err != nil {
		t.Fatalf("mixed-case formats should validate: %v", err)
	}
}
