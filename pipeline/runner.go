package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"code.linksmart.eu/dt/ops-console/console/env"
	"code.linksmart.eu/dt/ops-console/executor"
	"code.linksmart.eu/dt/ops-console/model"
	"github.com/davecgh/go-spew/spew"
)

// Runner executes pipelines with a fail-fast policy
type Runner struct {
	Opener executor.Opener
}

func NewRunner(opener executor.Opener) *Runner {
	return &Runner{Opener: opener}
}

// Run executes the steps in order and stops at the first failure. Finally steps always run afterwards,
// even if ctx is cancelled. The executor is opened once per run and closed on return.
func (r *Runner) Run(ctx context.Context, p *model.Pipeline) *model.PipelineRun {
	run := &model.PipelineRun{
		Intent:   p.Intent,
		TargetID: p.TargetID,
		Execute:  p.Execute,
		Steps:    make([]model.StepResult, 0, len(p.Steps)),
		Started:  time.Now(),
	}
	log.Printf("runner: %s on %s started with %d step(s), execute=%v", p.Intent, p.TargetID, len(p.Steps), p.Execute)

	exec := r.Opener.Open(ctx, p.Mode, p.Host, p.Execute)
	defer func() {
		if err := exec.Close(); err != nil {
			log.Printf("runner: error closing executor for %s: %s", p.TargetID, err)
		}
	}()

	for _, spec := range p.Steps {
		res := r.step(ctx, exec, spec, p.Execute)
		run.Steps = append(run.Steps, res)
		if !res.Success {
			break
		}
	}

	cleanupCtx := context.WithoutCancel(ctx)
	for _, spec := range p.Finally {
		run.Cleanup = append(run.Cleanup, r.step(cleanupCtx, exec, spec, p.Execute))
	}

	run.Finished = time.Now()
	failed := run.Failed()
	run.Success = failed == nil
	if run.Success {
		run.Message = fmt.Sprintf("%s completed %d step(s)", p.Intent, len(run.Steps)+len(run.Cleanup))
	} else {
		run.Message = failureMessage(failed)
	}
	log.Printf("runner: %s on %s finished in %s: %s", p.Intent, p.TargetID, run.Finished.Sub(run.Started), run.Message)
	if env.Debug {
		log.Printf("runner: %s", spew.Sdump(run))
	}
	return run
}

func (r *Runner) step(ctx context.Context, exec executor.Executor, spec model.CommandSpec, execute bool) model.StepResult {
	if execute && spec.Delay > 0 {
		if err := settle(ctx, spec.Delay); err != nil {
			return model.LaunchFailure(spec, fmt.Errorf("interrupted while settling: %w", err))
		}
	}
	return exec.Run(ctx, spec)
}

func settle(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureMessage(res *model.StepResult) string {
	reason := strings.TrimSpace(res.Stderr)
	if res.Error != "" {
		reason = res.Error
	}
	if reason == "" {
		return fmt.Sprintf("step %s failed with code %d", res.Name, res.ReturnCode)
	}
	return fmt.Sprintf("step %s failed with code %d: %s", res.Name, res.ReturnCode, reason)
}
