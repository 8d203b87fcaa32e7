package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
)

func TestLocalSuccess(t *testing.T) {
	dir := t.TempDir()
	l := &Local{Timeout: 10 * time.Second}

	res := l.Run(context.Background(), model.CommandSpec{Name: "pwd", Command: "pwd; echo oops >&2", Dir: dir})
	if !res.Success || res.ReturnCode != 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	if !strings.Contains(res.Stdout, filepath.Base(dir)) {
		t.Errorf("Stdout = %q, want to contain %q", res.Stdout, dir)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "oops\n")
	}
	if res.Dir != dir {
		t.Errorf("Dir = %q, want %q", res.Dir, dir)
	}
	if res.Error != "" {
		t.Errorf("unexpected error %q", res.Error)
	}
}

func TestLocalNonZeroExit(t *testing.T) {
	l := &Local{}
	res := l.Run(context.Background(), model.CommandSpec{Command: "echo failing >&2; exit 3"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ReturnCode != 3 {
		t.Errorf("ReturnCode = %d, want 3", res.ReturnCode)
	}
	if res.Stderr != "failing\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.Error != "" {
		t.Errorf("non-zero exit must not set Error, got %q", res.Error)
	}
}

func TestLocalLaunchFailure(t *testing.T) {
	l := &Local{}
	res := l.Run(context.Background(), model.CommandSpec{Command: "true", Dir: "/nonexistent/dir/xyz"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ReturnCode != model.ReturnCodeLaunchFailure {
		t.Errorf("ReturnCode = %d, want %d", res.ReturnCode, model.ReturnCodeLaunchFailure)
	}
	if res.Error == "" {
		t.Error("expected error message")
	}
}

func TestLocalCapturesLargeOutput(t *testing.T) {
	l := &Local{}
	res := l.Run(context.Background(), model.CommandSpec{Command: "head -c 300000 /dev/zero | tr '\\0' a"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if len(res.Stdout) != 300000 {
		t.Errorf("len(Stdout) = %d, want 300000", len(res.Stdout))
	}
}

func TestLocalTimeout(t *testing.T) {
	l := &Local{}
	start := time.Now()
	res := l.Run(context.Background(), model.CommandSpec{Command: "sleep 10", Timeout: 200 * time.Millisecond})
	if res.Success {
		t.Fatal("expected failure on timeout")
	}
	if res.Error == "" {
		t.Error("expected error message on timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestLocalDetachedChild(t *testing.T) {
	// the background sleep inherits stdout; the step must not wait for it
	l := &Local{}
	start := time.Now()
	res := l.Run(context.Background(), model.CommandSpec{Command: "sleep 30 &"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("step waited for detached child: %s", time.Since(start))
	}
}

func TestDryRun(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	res := DryRun{}.Run(context.Background(), model.CommandSpec{Name: "touch", Command: "touch " + marker})
	if !res.Success || !res.DryRun {
		t.Fatalf("expected dry-run success, got %+v", res)
	}
	if res.Stdout != "touch "+marker {
		t.Errorf("command not echoed: %q", res.Stdout)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("dry-run executed the command")
	}

	res = DryRun{}.Run(context.Background(), model.CommandSpec{})
	if res.Success {
		t.Fatal("empty command must not validate")
	}
}

func TestUnreachable(t *testing.T) {
	u := &Unreachable{Host: "veodev", Err: errors.New("connection refused")}
	res := u.Run(context.Background(), model.CommandSpec{Command: "git pull"})
	if res.Success || res.ReturnCode != -1 || res.Error != "connection refused" || res.Host != "veodev" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory(nil, 0)
	if _, ok := f.Open(context.Background(), model.ModeLocal, "", false).(DryRun); !ok {
		t.Error("expected DryRun when execute is false")
	}
	if _, ok := f.Open(context.Background(), model.ModeRemote, "veodev", false).(DryRun); !ok {
		t.Error("expected DryRun for remote without execute")
	}
	if _, ok := f.Open(context.Background(), model.ModeLocal, "", true).(*Local); !ok {
		t.Error("expected Local")
	}
	if f.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %s", f.Timeout)
	}
}

func TestFactoryWithoutDialer(t *testing.T) {
	e := NewFactory(nil, 0).Open(context.Background(), model.ModeRemote, "veodev", true)
	res := e.Run(context.Background(), model.CommandSpec{Command: "uptime"})
	if res.Success || res.ReturnCode != model.ReturnCodeLaunchFailure || res.Error == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
}
