package pipeline

import (
	"path"

	"code.linksmart.eu/dt/ops-console/model"
)

// Layout describes where things live under a target root. All paths are relative to the root.
type Layout struct {
	BackendRepo    string   `yaml:"backendRepo"`
	BackendBranch  string   `yaml:"backendBranch"`
	UIRepo         string   `yaml:"uiRepo"`
	UIArtifact     string   `yaml:"uiArtifact"` // built UI, relative to UIRepo
	UIBranch       string   `yaml:"uiBranch"`
	PluginRepo     string   `yaml:"pluginRepo"`
	PluginArtifact string   `yaml:"pluginArtifact"` // relative to PluginRepo
	PluginBranch   string   `yaml:"pluginBranch"`
	ServerDir      string   `yaml:"serverDir"`
	UIDir          string   `yaml:"uiDir"`
	ExtensionsDir  string   `yaml:"extensionsDir"`
	CacheDir       string   `yaml:"cacheDir"`
	StageDir       string   `yaml:"stageDir"`
	StageExcludes  []string `yaml:"stageExcludes"` // never copied from source into the server directory
	ServerConfig   string   `yaml:"serverConfig"`
	MarkerLine     int      `yaml:"markerLine"` // line of ServerConfig holding the active environment
	EngineJar      string   `yaml:"engineJar"`  // relative to ServerDir
	EngineOptions  string   `yaml:"engineOptions"`
	Worker         string   `yaml:"worker"`
	Interpreter    string   `yaml:"interpreter"`
	ReschemaScript string   `yaml:"reschemaScript"`
	EngineLog      string   `yaml:"engineLog"`
	RawLog         string   `yaml:"rawLog"`
	WorkerLog      string   `yaml:"workerLog"`
}

// DefaultLayout returns the layout of a standard installation
func DefaultLayout() Layout {
	return Layout{
		BackendRepo:    "source_code/backend",
		BackendBranch:  "dev",
		UIRepo:         "source_code/ui",
		UIArtifact:     "api-1.0",
		UIBranch:       "build",
		PluginRepo:     "source_code/plugin",
		PluginArtifact: "widget",
		PluginBranch:   "build",
		ServerDir:      "server",
		UIDir:          "server/ui",
		ExtensionsDir:  "server/extensions",
		CacheDir:       "server/application/spaces/caches",
		StageDir:       ".stage",
		StageExcludes:  []string{".git", "logs", "*.db", "*.sqlite", "nohup.out", "output.log", "sff.auto.config.cdm"},
		ServerConfig:   "server/sff.auto.config.cdm",
		MarkerLine:     5,
		EngineJar:      "tql.engine2.4.jar",
		EngineOptions:  "@java-options.txt",
		Worker:         "pyastackcore/pyastackcore/co_engine.py",
		Interpreter:    "python3",
		ReschemaScript: "scripts/Reschema.py",
		EngineLog:      "server/logs/engine.log",
		RawLog:         "server/nohup.out",
		WorkerLog:      "server/output.log",
	}
}

// WithDefaults returns a copy of the layout with empty fields taken from DefaultLayout
func (l Layout) WithDefaults() Layout {
	d := DefaultLayout()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&l.BackendRepo, d.BackendRepo)
	fill(&l.BackendBranch, d.BackendBranch)
	fill(&l.UIRepo, d.UIRepo)
	fill(&l.UIArtifact, d.UIArtifact)
	fill(&l.UIBranch, d.UIBranch)
	fill(&l.PluginRepo, d.PluginRepo)
	fill(&l.PluginArtifact, d.PluginArtifact)
	fill(&l.PluginBranch, d.PluginBranch)
	fill(&l.ServerDir, d.ServerDir)
	fill(&l.UIDir, d.UIDir)
	fill(&l.ExtensionsDir, d.ExtensionsDir)
	fill(&l.CacheDir, d.CacheDir)
	fill(&l.StageDir, d.StageDir)
	fill(&l.ServerConfig, d.ServerConfig)
	fill(&l.EngineJar, d.EngineJar)
	fill(&l.EngineOptions, d.EngineOptions)
	fill(&l.Worker, d.Worker)
	fill(&l.Interpreter, d.Interpreter)
	fill(&l.ReschemaScript, d.ReschemaScript)
	fill(&l.EngineLog, d.EngineLog)
	fill(&l.RawLog, d.RawLog)
	fill(&l.WorkerLog, d.WorkerLog)
	if l.StageExcludes == nil {
		l.StageExcludes = d.StageExcludes
	}
	if l.MarkerLine <= 0 {
		l.MarkerLine = d.MarkerLine
	}
	return l
}

// Root returns the filesystem root of the target: its path, or else the source root of its env config
func Root(t *model.Target) string {
	if t.Path != "" {
		return t.Path
	}
	if t.Env != nil {
		return t.Env.Source
	}
	return ""
}

// Paths resolves a layout against the root of one target
type Paths struct {
	Root string
	l    Layout
}

func (l Layout) For(t *model.Target) Paths {
	return Paths{Root: Root(t), l: l}
}

func (p Paths) join(rel string) string {
	if path.IsAbs(rel) {
		return rel
	}
	return path.Join(p.Root, rel)
}

func (p Paths) BackendRepo() string { return p.join(p.l.BackendRepo) }
func (p Paths) UIRepo() string { return p.join(p.l.UIRepo) }
func (p Paths) UIArtifact() string { return path.Join(p.UIRepo(), p.l.UIArtifact) }
func (p Paths) PluginRepo() string { return p.join(p.l.PluginRepo) }
func (p Paths) PluginArtifact() string { return path.Join(p.PluginRepo(), p.l.PluginArtifact) }
func (p Paths) Server() string { return p.join(p.l.ServerDir) }
func (p Paths) UI() string { return p.join(p.l.UIDir) }
func (p Paths) Extensions() string { return p.join(p.l.ExtensionsDir) }
func (p Paths) Cache() string { return p.join(p.l.CacheDir) }
func (p Paths) Stage(name string) string {
	return path.Join(p.join(p.l.StageDir), name)
}
func (p Paths) ServerConfig() string { return p.join(p.l.ServerConfig) }
func (p Paths) EngineJar() string { return path.Join(p.Server(), p.l.EngineJar) }
func (p Paths) Worker() string { return p.join(p.l.Worker) }
func (p Paths) ReschemaScript() string { return p.join(p.l.ReschemaScript) }
func (p Paths) EngineLog() string { return p.join(p.l.EngineLog) }
func (p Paths) RawLog() string { return p.join(p.l.RawLog) }
func (p Paths) WorkerLog() string { return p.join(p.l.WorkerLog) }
