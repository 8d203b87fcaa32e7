package model

import "time"

const (
	Unknown       = "unknown"
	EngineRunning = "running"
	EngineStopped = "stopped"
)

// StatusSnapshot is a point-in-time view of a target. Fields whose query failed are set to Unknown.
type StatusSnapshot struct {
	TargetID        string    `json:"target"`
	Engine          string    `json:"engine"`
	PIDs            []string  `json:"pids,omitempty"`
	BackendRevision string    `json:"backendRevision"`
	UIRevision      string    `json:"uiRevision"`
	Environment     string    `json:"serverEnvironment"`
	ConfiguredEnv   string    `json:"environment"`
	Port            string    `json:"port"`
	HostMemory      uint64    `json:"hostMemory,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
	Time            time.Time `json:"lastUpdated"`
}
