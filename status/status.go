// Package status reports a point-in-time view of a target
package status

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"code.linksmart.eu/dt/ops-console/executor"
	"code.linksmart.eu/dt/ops-console/model"
	"code.linksmart.eu/dt/ops-console/pipeline"
	"github.com/pbnjay/memory"
	"golang.org/x/sync/errgroup"
)

const DefaultQueryTimeout = 10 * time.Second

// Reporter runs independent read-only queries against a target
type Reporter struct {
	Opener       executor.Opener
	Builder      *pipeline.Builder
	QueryTimeout time.Duration
}

func NewReporter(opener executor.Opener, builder *pipeline.Builder) *Reporter {
	return &Reporter{
		Opener:       opener,
		Builder:      builder,
		QueryTimeout: DefaultQueryTimeout,
	}
}

// Status never fails as a whole: a failed query sets its own fields to model.Unknown
func (r *Reporter) Status(ctx context.Context, target *model.Target) model.StatusSnapshot {
	s := model.StatusSnapshot{
		TargetID:        target.ID,
		Engine:          model.Unknown,
		BackendRevision: model.Unknown,
		UIRevision:      model.Unknown,
		Environment:     model.Unknown,
		ConfiguredEnv:   model.Unknown,
		Port:            target.Port,
	}
	if target.Env != nil {
		s.ConfiguredEnv = target.Env.Environment
		s.Port = target.Env.Port
	}
	if s.Port == "" {
		s.Port = model.Unknown
	}
	if !target.Remote() {
		s.HostMemory = memory.TotalMemory()
	}

	exec := r.Opener.Open(ctx, target.Mode, target.Alias, true)
	defer exec.Close()

	paths := r.Builder.Layout.For(target)
	var mutex sync.Mutex
	failed := func(query string, res model.StepResult) {
		reason := strings.TrimSpace(res.Stderr)
		if res.Error != "" {
			reason = res.Error
		}
		mutex.Lock()
		s.Errors = append(s.Errors, fmt.Sprintf("%s: code %d: %s", query, res.ReturnCode, reason))
		mutex.Unlock()
	}
	run := func(ctx context.Context, spec model.CommandSpec) model.StepResult {
		spec.Mode = target.Mode
		if target.Remote() {
			spec.Host = target.Alias
		}
		spec.Timeout = r.QueryTimeout
		return exec.Run(ctx, spec)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res := run(gctx, model.CommandSpec{Name: "engine", Command: fmt.Sprintf("pgrep -f '%s'", pipeline.EnginePattern(paths))})
		switch {
		case res.Success:
			s.Engine = model.EngineRunning
			s.PIDs = strings.Fields(res.Stdout)
		case res.ReturnCode == 1 && res.Error == "":
			// no process matched
			s.Engine = model.EngineStopped
		default:
			failed("engine", res)
		}
		return nil
	})
	g.Go(func() error {
		res := run(gctx, model.CommandSpec{Name: "backend-revision", Command: "git rev-parse --short HEAD", Dir: paths.BackendRepo()})
		if rev := strings.TrimSpace(res.Stdout); res.Success && rev != "" {
			s.BackendRevision = rev
		} else {
			failed("backend-revision", res)
		}
		return nil
	})
	g.Go(func() error {
		res := run(gctx, model.CommandSpec{Name: "ui-revision", Command: "git rev-parse --short HEAD", Dir: paths.UIRepo()})
		if rev := strings.TrimSpace(res.Stdout); res.Success && rev != "" {
			s.UIRevision = rev
		} else {
			failed("ui-revision", res)
		}
		return nil
	})
	g.Go(func() error {
		res := run(gctx, r.Builder.MarkerProbe(target))
		if env := strings.TrimSpace(res.Stdout); res.Success && env != "" {
			s.Environment = env
		} else {
			failed("environment", res)
		}
		return nil
	})
	_ = g.Wait()

	s.Time = time.Now()
	return s
}
