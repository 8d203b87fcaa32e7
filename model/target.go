package model

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Mode tells where the commands of a target are executed
type Mode string

// Target is a deployment destination. It is owned by the target store and is never modified by the console.
type Target struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Tag         string `json:"tag,omitempty" yaml:"tag"`
	Alias       string `json:"alias,omitempty" yaml:"alias"` // ssh host alias
	Mode        Mode   `json:"mode" yaml:"mode"`
	Path        string `json:"path" yaml:"path"` // filesystem root
	Port        string `json:"port,omitempty" yaml:"port"`
	Role        string `json:"role,omitempty" yaml:"role"`
	EnvConfig   string `json:"envConfig,omitempty" yaml:"envConfig"` // line-positional environment config file
	Enabled     *bool  `json:"enabled,omitempty" yaml:"enabled"`

	// Env is populated from EnvConfig during resolution
	Env *EnvConfig `json:"env,omitempty" yaml:"-"`
}

// Remote returns true if commands must go over a remote shell session
func (t *Target) Remote() bool {
	return t.Mode == ModeRemote
}

// IsEnabled returns false only if the target has been explicitly disabled
func (t *Target) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// EnvConfig holds the fields of a line-positional environment config file
type EnvConfig struct {
	Environment string `json:"environment"`
	Port        string `json:"port"`
	Database    string `json:"database"`
	Source      string `json:"source"`
}
