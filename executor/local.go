package executor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os/exec"
	"syscall"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
)

// time given to pipes of detached children after the shell itself exited
const pipeWaitDelay = 2 * time.Second

// Local runs commands through the host's shell. Command text is passed verbatim.
type Local struct {
	Timeout time.Duration
}

func (l *Local) Run(ctx context.Context, spec model.CommandSpec) model.StepResult {
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(spec, l.Timeout))
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.WaitDelay = pipeWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := model.StepResult{
		Name:     spec.Name,
		Command:  spec.Command,
		Dir:      spec.Dir,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Started:  start,
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		// a detached child may keep the pipes open after a successful exit
		res.Success = true
	case errors.As(err, &exitErr):
		res.ReturnCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
		}
	default:
		res.ReturnCode = model.ReturnCodeLaunchFailure
		res.Error = err.Error()
	}
	if res.ReturnCode == -1 && res.Error == "" {
		// killed by a signal
		res.Error = err.Error()
	}

	log.Printf("executor: [%s] %q in %q returned %d", spec.Name, spec.Command, spec.Dir, res.ReturnCode)
	return res
}

func (l *Local) Close() error { return nil }
