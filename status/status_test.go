package status

import (
	"context"
	"testing"

	"code.linksmart.eu/dt/ops-console/executor"
	"code.linksmart.eu/dt/ops-console/model"
	"code.linksmart.eu/dt/ops-console/pipeline"
	"github.com/davecgh/go-spew/spew"
)

// scripted answers queries by step name, concurrent use is read-only
type scripted map[string]model.StepResult

func (s scripted) Open(ctx context.Context, mode model.Mode, host string, execute bool) executor.Executor {
	return s
}

func (s scripted) Run(ctx context.Context, spec model.CommandSpec) model.StepResult {
	res, found := s[spec.Name]
	if !found {
		return model.StepResult{Name: spec.Name, ReturnCode: 127, Stderr: "command not found"}
	}
	return res
}

func (s scripted) Close() error { return nil }

func ok(stdout string) model.StepResult {
	return model.StepResult{Success: true, Stdout: stdout}
}

var target = &model.Target{
	ID:   "qa",
	Path: "/data/qa",
	Env:  &model.EnvConfig{Environment: "production", Port: "8686"},
}

func TestStatus(t *testing.T) {
	r := NewReporter(scripted{
		"engine":           ok("1234\n5678\n"),
		"backend-revision": ok("abc123\n"),
		"ui-revision":      ok("def456\n"),
		"read-environment": ok("production\n"),
	}, pipeline.NewBuilder(pipeline.Layout{}))

	s := r.Status(context.Background(), target)
	if s.Engine != model.EngineRunning || len(s.PIDs) != 2 || s.PIDs[1] != "5678" {
		t.Errorf("unexpected engine state:\n%s", spew.Sdump(s))
	}
	if s.BackendRevision != "abc123" || s.UIRevision != "def456" || s.Environment != "production" {
		t.Errorf("unexpected snapshot:\n%s", spew.Sdump(s))
	}
	if s.ConfiguredEnv != "production" || s.Port != "8686" || len(s.Errors) != 0 {
		t.Errorf("unexpected snapshot:\n%s", spew.Sdump(s))
	}
	if s.HostMemory == 0 {
		t.Error("expected host memory for a local target")
	}
	if s.Time.IsZero() {
		t.Error("time not set")
	}
}

func TestStatusPartialFailure(t *testing.T) {
	r := NewReporter(scripted{
		"engine":           model.LaunchFailure(model.CommandSpec{Name: "engine"}, context.DeadlineExceeded),
		"backend-revision": ok("abc123\n"),
		"ui-revision":      ok("def456\n"),
	}, pipeline.NewBuilder(pipeline.Layout{}))

	s := r.Status(context.Background(), target)
	if s.Engine != model.Unknown {
		t.Errorf("Engine = %s, want unknown", s.Engine)
	}
	if s.BackendRevision != "abc123" || s.UIRevision != "def456" {
		t.Errorf("revisions lost on engine failure:\n%s", spew.Sdump(s))
	}
	if s.Environment != model.Unknown {
		t.Errorf("Environment = %s, want unknown", s.Environment)
	}
	if len(s.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", s.Errors)
	}
}

func TestStatusAllFailed(t *testing.T) {
	r := NewReporter(scripted{}, pipeline.NewBuilder(pipeline.Layout{}))
	s := r.Status(context.Background(), &model.Target{ID: "bare", Path: "/data/bare"})
	for name, value := range map[string]string{
		"Engine":          s.Engine,
		"BackendRevision": s.BackendRevision,
		"UIRevision":      s.UIRevision,
		"Environment":     s.Environment,
		"ConfiguredEnv":   s.ConfiguredEnv,
		"Port":            s.Port,
	} {
		if value != model.Unknown {
			t.Errorf("%s = %q, want unknown", name, value)
		}
	}
}

func TestEngineStopped(t *testing.T) {
	r := NewReporter(scripted{
		"engine": {ReturnCode: 1},
	}, pipeline.NewBuilder(pipeline.Layout{}))

	s := r.Status(context.Background(), target)
	if s.Engine != model.EngineStopped || len(s.PIDs) != 0 {
		t.Fatalf("unexpected engine state:\n%s", spew.Sdump(s))
	}
}
