package targets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"code.linksmart.eu/dt/ops-console/model"
)

const envConfig = `# atomiton
production
# port
8686
# database
qa_db
#
#
#
#
# source
/data2/Atomiton/WaterTRN/QA
`

func write(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseEnvConfig(t *testing.T) {
	env, err := ParseEnvConfig(strings.NewReader(envConfig))
	if err != nil {
		t.Fatal(err)
	}
	expected := model.EnvConfig{Environment: "production", Port: "8686", Database: "qa_db", Source: "/data2/Atomiton/WaterTRN/QA"}
	if *env != expected {
		t.Fatalf("got %+v, want %+v", *env, expected)
	}
}

func TestParseEnvConfigMalformed(t *testing.T) {
	_, err := ParseEnvConfig(strings.NewReader("production\n8686\n"))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	envPath := write(t, dir, "atomiton.env", envConfig)
	path := write(t, dir, "targets.yml", `
targets:
  - id: qa
    name: QA
    tag: QA.APP
    path: /data/qa
    port: "8686"
    role: APP
  - id: veo
    name: Veolia
    mode: remote
    alias: veodev
    envConfig: `+envPath+`
  - id: old
    name: Old
    path: /data/old
    enabled: false
`)

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	qa, err := f.Resolve("qa")
	if err != nil {
		t.Fatal(err)
	}
	if qa.Mode != model.ModeLocal || qa.Path != "/data/qa" || qa.Env != nil {
		t.Errorf("unexpected target: %+v", qa)
	}

	veo, err := f.Resolve("veo")
	if err != nil {
		t.Fatal(err)
	}
	if !veo.Remote() || veo.Env == nil || veo.Env.Source != "/data2/Atomiton/WaterTRN/QA" {
		t.Errorf("unexpected target: %+v", veo)
	}

	if _, err := f.Resolve("old"); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	if _, err := f.Resolve("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := f.List()
	if err != nil || len(list) != 3 {
		t.Fatalf("expected 3 targets, got %d %v", len(list), err)
	}
	// resolution never mutates the stored targets
	if list[1].Env != nil {
		t.Error("stored target was modified")
	}
}

func TestResolveMissingEnvConfig(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "targets.yml", "targets:\n  - id: qa\n    envConfig: "+filepath.Join(dir, "missing.env")+"\n")
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Resolve("qa"); err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"duplicate.yml": "targets:\n  - id: a\n    path: /a\n  - id: a\n    path: /b\n",
		"noid.yml":      "targets:\n  - name: x\n",
		"noalias.yml":   "targets:\n  - id: r\n    mode: remote\n    path: /r\n",
		"broken.yml":    "targets: [",
	} {
		if _, err := Load(write(t, dir, name, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}
