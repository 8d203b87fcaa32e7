// Package targets resolves deployment targets from a file owned by the target store
package targets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
	"gopkg.in/yaml.v2"
)

var (
	ErrNotFound  = errors.New("target not found")
	ErrDisabled  = errors.New("target disabled")
	ErrMalformed = errors.New("malformed environment config")
)

// line numbers of the environment config file, starting at 1
const (
	lineEnvironment = 2
	linePort        = 4
	lineDatabase    = 6
	lineSource      = 12
)

// Resolver gives read-only access to targets
type Resolver interface {
	Resolve(id string) (*model.Target, error)
	List() ([]model.Target, error)
}

// File is a resolver backed by a YAML file. The file is re-read when it changes.
type File struct {
	Path string

	mutex   sync.Mutex
	targets []model.Target
	modTime time.Time
}

type document struct {
	Targets []model.Target `yaml:"targets"`
}

// Load reads the targets file
func Load(path string) (*File, error) {
	f := &File{Path: path}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) reload() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	info, err := os.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("error reading targets: %w", err)
	}
	if !info.ModTime().After(f.modTime) && f.targets != nil {
		return nil
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("error reading targets: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("error parsing %s: %w", f.Path, err)
	}
	seen := make(map[string]bool)
	for i, t := range doc.Targets {
		if t.ID == "" {
			return fmt.Errorf("target %d in %s has no id", i, f.Path)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate target %s in %s", t.ID, f.Path)
		}
		seen[t.ID] = true
		if t.Mode == "" {
			doc.Targets[i].Mode = model.ModeLocal
		}
		if t.Mode == model.ModeRemote && t.Alias == "" {
			return fmt.Errorf("remote target %s has no alias", t.ID)
		}
	}
	if doc.Targets == nil {
		doc.Targets = []model.Target{}
	}
	f.targets = doc.Targets
	f.modTime = info.ModTime()
	log.Printf("targets: loaded %d target(s) from %s", len(f.targets), f.Path)
	return nil
}

// List returns all targets as they are in the file
func (f *File) List() ([]model.Target, error) {
	if err := f.reload(); err != nil {
		return nil, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]model.Target(nil), f.targets...), nil
}

// Resolve returns an enabled target with its environment config parsed
func (f *File) Resolve(id string) (*model.Target, error) {
	if err := f.reload(); err != nil {
		return nil, err
	}
	f.mutex.Lock()
	var target *model.Target
	for i := range f.targets {
		if f.targets[i].ID == id {
			t := f.targets[i]
			target = &t
			break
		}
	}
	f.mutex.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !target.IsEnabled() {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, id)
	}
	if target.EnvConfig != "" {
		env, err := ReadEnvConfig(target.EnvConfig)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", id, err)
		}
		target.Env = env
	}
	if target.Path == "" && (target.Env == nil || target.Env.Source == "") {
		return nil, fmt.Errorf("target %s has neither a path nor a source root", id)
	}
	return target, nil
}

// ReadEnvConfig parses the line-positional environment config file at path
func ReadEnvConfig(path string) (*model.EnvConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading environment config: %w", err)
	}
	defer file.Close()
	return ParseEnvConfig(file)
}

func ParseEnvConfig(r io.Reader) (*model.EnvConfig, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading environment config: %w", err)
	}
	if len(lines) < lineSource {
		return nil, fmt.Errorf("%w: %d line(s), expected at least %d", ErrMalformed, len(lines), lineSource)
	}
	env := &model.EnvConfig{
		Environment: lines[lineEnvironment-1],
		Port:        lines[linePort-1],
		Database:    lines[lineDatabase-1],
		Source:      lines[lineSource-1],
	}
	if env.Source == "" {
		return nil, fmt.Errorf("%w: empty source root on line %d", ErrMalformed, lineSource)
	}
	return env, nil
}
