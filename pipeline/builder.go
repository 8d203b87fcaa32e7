// Package pipeline composes deployment intents into ordered command sequences and runs them
package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
	"github.com/satori/go.uuid"
)

const (
	DefaultRestartSettle  = 10 * time.Second
	DefaultReschemaSettle = 15 * time.Second

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

var (
	ErrUnknownIntent      = errors.New("unknown intent")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidRef         = errors.New("invalid revision")
	ErrNoRoot             = errors.New("target has no root path")
)

var refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// Params are the caller supplied parameters of an intent
type Params struct {
	Commit             string // revision to check out, default branch if empty
	Environment        string // requested environment for change-environment
	CurrentEnvironment string // environment to restore at the end of re-schema
	Restart            bool   // restart after a backend pull
	Execute            bool
}

// Builder composes pipelines from intents
type Builder struct {
	Layout         Layout
	RestartSettle  time.Duration
	ReschemaSettle time.Duration
	Environments   []string
	// Transitional is the environment the server is switched to while re-schema runs
	Transitional string
}

func NewBuilder(layout Layout) *Builder {
	return &Builder{
		Layout:         layout.WithDefaults(),
		RestartSettle:  DefaultRestartSettle,
		ReschemaSettle: DefaultReschemaSettle,
		Environments:   []string{EnvDevelopment, EnvProduction},
		Transitional:   EnvDevelopment,
	}
}

// ValidEnvironment returns true if env is one of the allowed environments
func (b *Builder) ValidEnvironment(env string) bool {
	for _, e := range b.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// Build returns the pipeline implementing intent on the target. Errors are configuration errors:
// no command has been run when Build fails.
func (b *Builder) Build(intent model.Intent, target *model.Target, params Params) (*model.Pipeline, error) {
	paths := b.Layout.For(target)
	if paths.Root == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRoot, target.ID)
	}
	if params.Commit != "" && !refPattern.MatchString(params.Commit) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, params.Commit)
	}

	p := &model.Pipeline{
		Intent:   intent,
		TargetID: target.ID,
		Mode:     target.Mode,
		Execute:  params.Execute,
	}
	if p.Mode == "" {
		p.Mode = model.ModeLocal
	}
	if target.Remote() {
		p.Host = target.Alias
	}

	switch intent {
	case model.IntentPullBackend:
		b.pullBackend(p, paths, params)
	case model.IntentPullUI:
		b.pullUI(p, paths, params)
	case model.IntentSyncPlugin:
		b.syncPlugin(p, paths, params)
	case model.IntentRestart:
		b.restart(p, paths)
	case model.IntentChangeEnvironment:
		if !b.ValidEnvironment(params.Environment) {
			return nil, fmt.Errorf("%w: %q, must be one of %s", ErrInvalidEnvironment, params.Environment, strings.Join(b.Environments, ", "))
		}
		p.Add(b.setMarker("set-environment", paths, params.Environment))
		b.restart(p, paths)
	case model.IntentReschema:
		b.reschema(p, paths, params)
	case model.IntentKillAll:
		p.Add(b.kill(paths))
	case model.IntentClearCache:
		p.Add(model.CommandSpec{
			Name:    "clear-cache",
			Command: fmt.Sprintf("rm -rf %s/*", paths.Cache()),
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}
	return p, nil
}

// checkout resets the working tree and moves it to ref. Branches are pulled, fixed revisions are not.
func (b *Builder) checkout(p *model.Pipeline, repo, branch, commit string) {
	ref := commit
	if ref == "" {
		ref = branch
	}
	p.Add(
		model.CommandSpec{Name: "reset", Command: "git reset --hard", Dir: repo},
		model.CommandSpec{Name: "fetch", Command: "git fetch", Dir: repo},
		model.CommandSpec{Name: "checkout", Command: "git checkout " + ref, Dir: repo},
	)
	if commit == "" {
		p.Add(model.CommandSpec{Name: "pull", Command: "git pull", Dir: repo})
	}
}

func (b *Builder) pullBackend(p *model.Pipeline, paths Paths, params Params) {
	repo := paths.BackendRepo()
	stage := paths.Stage("backend")
	excludes := b.excludes()

	b.checkout(p, repo, b.Layout.BackendBranch, params.Commit)
	p.Add(
		model.CommandSpec{
			Name:    "stage",
			Command: fmt.Sprintf("rm -rf %s && mkdir -p %s && rsync -a%s %s/ %s/", stage, stage, excludes, repo, stage),
		},
		// no --delete: the server directory also holds the ui, extensions and generated files
		model.CommandSpec{
			Name:    "sync",
			Command: fmt.Sprintf("mkdir -p %s && rsync -a --delay-updates%s %s/ %s/", paths.Server(), excludes, stage, paths.Server()),
		},
	)
	p.AddFinally(model.CommandSpec{Name: "remove-stage", Command: "rm -rf " + stage})
	if params.Restart {
		b.restart(p, paths)
	}
}

func (b *Builder) pullUI(p *model.Pipeline, paths Paths, params Params) {
	stash := paths.Stage("ui-config")
	ui := paths.UI()
	// written once the stash is complete, unique per pipeline so a stale stash is never restored
	saved := stash + "/.saved-" + uuid.NewV4().String()

	b.checkout(p, paths.UIRepo(), b.Layout.UIBranch, params.Commit)
	p.Add(
		model.CommandSpec{
			Name:    "save-config",
			Command: fmt.Sprintf("rm -rf %s && mkdir -p %s && if [ -d %s/config ]; then cp -a %s/config %s/; fi && touch %s", stash, stash, ui, ui, stash, saved),
		},
		model.CommandSpec{
			Name:    "sync",
			Command: fmt.Sprintf("mkdir -p %s && rsync -a --delete %s/ %s/", ui, paths.UIArtifact(), ui),
		},
	)
	p.AddFinally(model.CommandSpec{
		Name:    "restore-config",
		Command: fmt.Sprintf("if [ -f %s ] && [ -d %s/config ]; then rm -rf %s/config && cp -a %s/config %s/; fi; rm -rf %s", saved, stash, ui, stash, ui, stash),
	})
}

func (b *Builder) syncPlugin(p *model.Pipeline, paths Paths, params Params) {
	ext := paths.Extensions()

	b.checkout(p, paths.PluginRepo(), b.Layout.PluginBranch, params.Commit)
	p.Add(model.CommandSpec{
		Name:    "sync",
		Command: fmt.Sprintf("mkdir -p %s && rsync -a --delete %s/ %s/", ext, paths.PluginArtifact(), ext),
	})
}

func (b *Builder) restart(p *model.Pipeline, paths Paths) {
	server := paths.Server()
	p.Add(
		b.kill(paths),
		model.CommandSpec{
			Name: "start-engine",
			Command: fmt.Sprintf("nohup java %s -jar %s > %s 2>&1 < /dev/null &",
				b.Layout.EngineOptions, paths.EngineJar(), paths.RawLog()),
			Dir: server,
		},
		model.CommandSpec{
			Name: "start-worker",
			Command: fmt.Sprintf("nohup %s %s > %s 2>&1 < /dev/null &",
				b.Layout.Interpreter, paths.Worker(), paths.WorkerLog()),
			Dir:   server,
			Delay: b.RestartSettle,
		},
	)
}

// kill terminates engine and worker. pkill exits 1 when nothing matched, which is not a failure.
func (b *Builder) kill(paths Paths) model.CommandSpec {
	return model.CommandSpec{
		Name: "kill",
		Command: fmt.Sprintf("pkill -f '%s'; e=$?; pkill -f '%s'; w=$?; test $e -le 1 && test $w -le 1",
			EnginePattern(paths), WorkerPattern(b.Layout.Interpreter, paths)),
	}
}

func (b *Builder) reschema(p *model.Pipeline, paths Paths, params Params) {
	restore := params.CurrentEnvironment
	if restore == "" {
		restore = EnvProduction
	}
	p.Add(
		b.setMarker("set-transitional", paths, b.Transitional),
		model.CommandSpec{
			Name:    "migrate",
			Command: fmt.Sprintf("%s %s", b.Layout.Interpreter, paths.ReschemaScript()),
			Dir:     paths.Root,
			Delay:   b.ReschemaSettle,
		},
	)
	// the marker is restored whether or not the migration succeeded
	p.AddFinally(b.setMarker("restore-environment", paths, restore))
}

// setMarker rewrites the value of the marker line in place, keeping its key and any comment
func (b *Builder) setMarker(name string, paths Paths, env string) model.CommandSpec {
	return model.CommandSpec{
		Name: name,
		Command: fmt.Sprintf(`sed -i -E '%ds/^([^:]*:[[:space:]]*)[^[:space:]#]+/\1%s/' %s`,
			b.Layout.MarkerLine, env, paths.ServerConfig()),
	}
}

// MarkerProbe returns the command printing the active environment of the server
func (b *Builder) MarkerProbe(target *model.Target) model.CommandSpec {
	paths := b.Layout.For(target)
	spec := model.CommandSpec{
		Name: "read-environment",
		Command: fmt.Sprintf(`sed -n '%ds/.*:[[:space:]]*//p' %s | sed 's/ *#.*//'`,
			b.Layout.MarkerLine, paths.ServerConfig()),
		Mode: target.Mode,
	}
	if target.Remote() {
		spec.Host = target.Alias
	}
	return spec
}

func (b *Builder) excludes() string {
	var s strings.Builder
	for _, e := range b.Layout.StageExcludes {
		s.WriteString(" --exclude='" + e + "'")
	}
	return s.String()
}

// EnginePattern matches the command line of the engine of a target.
// The bracket keeps the pattern from matching the shell running pkill or pgrep.
func EnginePattern(paths Paths) string {
	return "[j]ava.*" + paths.Server()
}

func WorkerPattern(interpreter string, paths Paths) string {
	return "[" + interpreter[:1] + "]" + interpreter[1:] + ".*" + paths.Worker()
}
