// Package deploy turns operator requests into pipelines and schedules them
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"code.linksmart.eu/dt/ops-console/executor"
	"code.linksmart.eu/dt/ops-console/model"
	"code.linksmart.eu/dt/ops-console/pipeline"
	"code.linksmart.eu/dt/ops-console/scheduler"
	"code.linksmart.eu/dt/ops-console/status"
	"code.linksmart.eu/dt/ops-console/tailer"
	"code.linksmart.eu/dt/ops-console/targets"
)

// LogKind names one of the log views of a target
type LogKind string

const (
	LogEngine LogKind = "engine"
	LogRaw    LogKind = "raw"
	LogWorker LogKind = "worker"
	LogErrors LogKind = "errors"
)

var ErrUnknownLog = errors.New("unknown log")

// intents whose callers wait for the result unless asked otherwise
var waitByDefault = map[model.Intent]bool{
	model.IntentPullUI:     true,
	model.IntentSyncPlugin: true,
	model.IntentClearCache: true,
	model.IntentKillAll:    true,
}

// Request is an operator request for one intent
type Request struct {
	TargetID    string       `json:"target"`
	Intent      model.Intent `json:"intent"`
	Commit      string       `json:"commit,omitempty"`
	Environment string       `json:"environment,omitempty"`
	Restart     bool         `json:"restart,omitempty"`
	Execute     bool         `json:"execute"`
	Wait        *bool        `json:"wait,omitempty"` // nil for the intent's default
}

// Outcome tells what happened to a request. Run is nil for detached requests.
type Outcome struct {
	Message  string             `json:"message"`
	NoOp     bool               `json:"noop,omitempty"`
	Pipeline *model.Pipeline    `json:"pipeline,omitempty"`
	Run      *model.PipelineRun `json:"run,omitempty"`
	Task     *model.TaskRecord  `json:"task,omitempty"`
}

type Service struct {
	Targets   targets.Resolver
	Builder   *pipeline.Builder
	Scheduler *scheduler.Scheduler
	Opener    executor.Opener
	Reporter  *status.Reporter
	Tailer    *tailer.Tailer
}

// Trigger resolves the target, builds the pipeline and schedules it.
// An error means nothing has been run.
func (s *Service) Trigger(ctx context.Context, req Request) (*Outcome, error) {
	target, err := s.Targets.Resolve(req.TargetID)
	if err != nil {
		return nil, err
	}
	params := pipeline.Params{
		Commit:      req.Commit,
		Environment: req.Environment,
		Restart:     req.Restart,
		Execute:     req.Execute,
	}

	switch req.Intent {
	case model.IntentChangeEnvironment:
		if !s.Builder.ValidEnvironment(req.Environment) {
			return nil, fmt.Errorf("%w: %q", pipeline.ErrInvalidEnvironment, req.Environment)
		}
		if req.Execute {
			current, err := s.probe(ctx, target)
			if err != nil {
				return nil, err
			}
			if current == req.Environment {
				log.Printf("deploy: %s is already in %s environment", target.ID, current)
				return &Outcome{Message: fmt.Sprintf("already in %s environment", current), NoOp: true}, nil
			}
		}
	case model.IntentReschema:
		if req.Execute {
			current, err := s.probe(ctx, target)
			if err == nil && s.Builder.ValidEnvironment(current) {
				params.CurrentEnvironment = current
			} else {
				log.Printf("deploy: could not read environment of %s, restoring the default after re-schema", target.ID)
			}
		}
	}

	p, err := s.Builder.Build(req.Intent, target, params)
	if err != nil {
		return nil, err
	}

	wait := waitByDefault[req.Intent]
	if req.Wait != nil {
		wait = *req.Wait
	}
	if !wait {
		task := s.Scheduler.RunAsync(p)
		record := task.Record()
		return &Outcome{
			Message:  fmt.Sprintf("%s started on %s", p.Intent, target.ID),
			Pipeline: p,
			Task:     &record,
		}, nil
	}

	// a waiting caller going away must not leave a half applied pipeline
	run, task := s.Scheduler.RunSync(context.WithoutCancel(ctx), p)
	record := task.Record()
	return &Outcome{
		Message:  run.Message,
		Pipeline: p,
		Run:      run,
		Task:     &record,
	}, nil
}

// probe reads the active environment of the server
func (s *Service) probe(ctx context.Context, target *model.Target) (string, error) {
	exec := s.Opener.Open(ctx, target.Mode, target.Alias, true)
	defer exec.Close()

	res := exec.Run(ctx, s.Builder.MarkerProbe(target))
	if !res.Success {
		reason := strings.TrimSpace(res.Stderr)
		if res.Error != "" {
			reason = res.Error
		}
		return "", fmt.Errorf("error reading environment of %s: %s", target.ID, reason)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Status returns the snapshot of a target
func (s *Service) Status(ctx context.Context, targetID string) (*model.StatusSnapshot, error) {
	target, err := s.Targets.Resolve(targetID)
	if err != nil {
		return nil, err
	}
	snapshot := s.Reporter.Status(ctx, target)
	return &snapshot, nil
}

// LogPath returns the location of a log on the target
func (s *Service) LogPath(target *model.Target, kind LogKind) (string, error) {
	paths := s.Builder.Layout.For(target)
	switch kind {
	case LogEngine:
		return paths.EngineLog(), nil
	case LogRaw, LogErrors:
		return paths.RawLog(), nil
	case LogWorker:
		return paths.WorkerLog(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLog, kind)
}

// OpenLog starts a tail of a target log. The cursor must be closed by the caller.
func (s *Service) OpenLog(ctx context.Context, targetID string, kind LogKind) (*tailer.Cursor, error) {
	target, err := s.Targets.Resolve(targetID)
	if err != nil {
		return nil, err
	}
	path, err := s.LogPath(target, kind)
	if err != nil {
		return nil, err
	}
	var filter tailer.Filter
	if kind == LogErrors {
		filter = tailer.Contains("error")
	}
	return s.Tailer.Open(ctx, target, path, filter), nil
}

// LogFiles returns the paths of all logs of a target
func (s *Service) LogFiles(target *model.Target) []string {
	paths := s.Builder.Layout.For(target)
	return []string{paths.EngineLog(), paths.RawLog(), paths.WorkerLog()}
}
