package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.linksmart.eu/dt/ops-console/pipeline"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.yml")
	content := `
bindAddr: ":9000"
tokens:
  - hash
restartSettle: 20s
layout:
  backendRepo: src/api
  markerLine: 7
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONSOLE_ADDR", "")
	t.Setenv("ELASTIC_URL", "http://localhost:9200")

	c, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.BindAddr != ":9000" || c.TargetsFile != DefaultTargetsFile || c.ElasticURL != "http://localhost:9200" {
		t.Errorf("unexpected config: %+v", c)
	}
	if c.RestartSettle != 20*time.Second || c.ReschemaSettle != pipeline.DefaultReschemaSettle {
		t.Errorf("unexpected settle intervals: %s %s", c.RestartSettle, c.ReschemaSettle)
	}
	if c.Layout.BackendRepo != "src/api" || c.Layout.MarkerLine != 7 || c.Layout.UIRepo != "source_code/ui" {
		t.Errorf("unexpected layout: %+v", c.Layout)
	}

	t.Setenv("CONSOLE_ADDR", ":7000")
	c, err = loadConfig(path)
	if err != nil || c.BindAddr != ":7000" {
		t.Errorf("env override ignored: %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := loadConfig(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("expected error without tokens")
	}
	path := filepath.Join(dir, "typo.yml")
	if err := os.WriteFile(path, []byte("tokens: [x]\nbindadress: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected error for unknown field")
	}
}
