package model

import "time"

// CommandSpec is a single shell invocation
type CommandSpec struct {
	Name    string        `json:"name"`
	Command string        `json:"command"`
	Dir     string        `json:"dir,omitempty"`
	Mode    Mode          `json:"mode"`
	Host    string        `json:"host,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"` // settle interval waited before the step
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Pipeline is an ordered fail-fast sequence of commands implementing one deployment intent
type Pipeline struct {
	Intent   Intent        `json:"intent"`
	TargetID string        `json:"target"`
	Mode     Mode          `json:"mode"`
	Host     string        `json:"host,omitempty"`
	Execute  bool          `json:"execute"`
	Steps    []CommandSpec `json:"steps"`
	// Finally steps run after Steps regardless of their outcome
	Finally []CommandSpec `json:"finally,omitempty"`
}

// Add appends steps, stamping them with the execution mode of the pipeline
func (p *Pipeline) Add(specs ...CommandSpec) {
	p.Steps = append(p.Steps, p.stamp(specs)...)
}

// AddFinally appends steps that always run at the end of the pipeline
func (p *Pipeline) AddFinally(specs ...CommandSpec) {
	p.Finally = append(p.Finally, p.stamp(specs)...)
}

func (p *Pipeline) stamp(specs []CommandSpec) []CommandSpec {
	for i := range specs {
		specs[i].Mode = p.Mode
		specs[i].Host = p.Host
	}
	return specs
}

// Intent is the label of a deployment intent
type Intent string

const (
	IntentPullBackend       Intent = "pull-backend"
	IntentPullUI            Intent = "pull-ui"
	IntentSyncPlugin        Intent = "sync-plugin"
	IntentRestart           Intent = "restart"
	IntentChangeEnvironment Intent = "change-environment"
	IntentReschema          Intent = "re-schema"
	IntentKillAll           Intent = "kill-all"
	IntentClearCache        Intent = "clear-cache"
)

// Intents lists all known intents
var Intents = []Intent{
	IntentPullBackend,
	IntentPullUI,
	IntentSyncPlugin,
	IntentRestart,
	IntentChangeEnvironment,
	IntentReschema,
	IntentKillAll,
	IntentClearCache,
}
