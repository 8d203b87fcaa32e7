package executor

import (
	"context"
	"log"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
	"code.linksmart.eu/dt/ops-console/remote"
)

// Remote runs commands over one session. The session is closed with the executor.
type Remote struct {
	Session *remote.Session
	Timeout time.Duration
}

func (r *Remote) Run(ctx context.Context, spec model.CommandSpec) model.StepResult {
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(spec, r.Timeout))
	defer cancel()

	res := r.Session.Execute(ctx, spec)
	log.Printf("executor: [%s] %q on %s returned %d", spec.Name, spec.Command, r.Session.Alias, res.ReturnCode)
	return res
}

func (r *Remote) Close() error {
	return r.Session.Close()
}

// Unreachable stands in for a remote session that could not be established
type Unreachable struct {
	Host string
	Err  error
}

func (u *Unreachable) Run(ctx context.Context, spec model.CommandSpec) model.StepResult {
	res := model.LaunchFailure(spec, u.Err)
	res.Host = u.Host
	return res
}

func (u *Unreachable) Close() error { return nil }

// DryRun validates and echoes commands without running them
type DryRun struct{}

func (DryRun) Run(ctx context.Context, spec model.CommandSpec) model.StepResult {
	res := model.StepResult{
		Name:    spec.Name,
		Command: spec.Command,
		Dir:     spec.Dir,
		Host:    spec.Host,
		DryRun:  true,
		Started: time.Now(),
	}
	if spec.Command == "" {
		res.ReturnCode = model.ReturnCodeLaunchFailure
		res.Error = "empty command"
		return res
	}
	res.Success = true
	res.Stdout = spec.Command
	return res
}

func (DryRun) Close() error { return nil }
