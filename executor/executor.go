// Package executor runs single commands on the local host or over a remote shell session
// and normalizes the outcome into a model.StepResult.
package executor

import (
	"context"
	"errors"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
	"code.linksmart.eu/dt/ops-console/remote"
)

// DefaultTimeout bounds a single step when the command does not set one
const DefaultTimeout = 10 * time.Minute

// Executor runs one command at a time. Commands with no natural termination (log tails)
// must not be passed to an Executor.
type Executor interface {
	Run(ctx context.Context, spec model.CommandSpec) model.StepResult
	Close() error
}

// Opener returns the executor for one pipeline run
type Opener interface {
	Open(ctx context.Context, mode model.Mode, host string, execute bool) Executor
}

// Factory selects the executor implementation for a pipeline run
type Factory struct {
	Dialer  *remote.Dialer
	Timeout time.Duration
}

// NewFactory returns a factory using the given dialer for remote targets
func NewFactory(dialer *remote.Dialer, timeout time.Duration) *Factory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Factory{Dialer: dialer, Timeout: timeout}
}

// Open never fails: if a remote connection cannot be made, the returned executor
// reports the connection error as the result of every step.
func (f *Factory) Open(ctx context.Context, mode model.Mode, host string, execute bool) Executor {
	if !execute {
		return DryRun{}
	}
	if mode != model.ModeRemote {
		return &Local{Timeout: f.Timeout}
	}
	if f.Dialer == nil {
		return &Unreachable{Host: host, Err: errors.New("remote execution is not configured")}
	}
	session, err := f.Dialer.Connect(ctx, host)
	if err != nil {
		return &Unreachable{Host: host, Err: err}
	}
	return &Remote{Session: session, Timeout: f.Timeout}
}

func timeoutOf(spec model.CommandSpec, fallback time.Duration) time.Duration {
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}
