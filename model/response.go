package model

import "time"

// ReturnCodeLaunchFailure is set when a command could not be started at all
const ReturnCodeLaunchFailure = -1

// StepResult is the outcome of one CommandSpec
type StepResult struct {
	Name       string        `json:"name"`
	Command    string        `json:"command"`
	Dir        string        `json:"dir,omitempty"`
	Host       string        `json:"host,omitempty"`
	Success    bool          `json:"success"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ReturnCode int           `json:"returnCode"`
	Error      string        `json:"error,omitempty"` // launch or transport failure
	DryRun     bool          `json:"dryRun,omitempty"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
}

// LaunchFailure returns the result of a command that could not be started
func LaunchFailure(spec CommandSpec, err error) StepResult {
	return StepResult{
		Name:       spec.Name,
		Command:    spec.Command,
		Dir:        spec.Dir,
		Host:       spec.Host,
		ReturnCode: ReturnCodeLaunchFailure,
		Error:      err.Error(),
		Started:    time.Now(),
	}
}

// PipelineRun is the execution record of a Pipeline
type PipelineRun struct {
	Intent   Intent       `json:"intent"`
	TargetID string       `json:"target"`
	Execute  bool         `json:"execute"`
	Steps    []StepResult `json:"steps"`
	Cleanup  []StepResult `json:"cleanup,omitempty"`
	Success  bool         `json:"success"`
	Message  string       `json:"message,omitempty"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
}

// Failed returns the first failing step or cleanup result, nil if none failed
func (r *PipelineRun) Failed() *StepResult {
	for i := range r.Steps {
		if !r.Steps[i].Success {
			return &r.Steps[i]
		}
	}
	for i := range r.Cleanup {
		if !r.Cleanup[i].Success {
			return &r.Cleanup[i]
		}
	}
	return nil
}
