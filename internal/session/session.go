// Package session saves the shell's modules and connection settings on exit
// and restores them on the next start.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/streamline/internal/connection"
	"github.com/kingrea/streamline/internal/module"
)

// FileName is the state file inside .streamline/state.
const FileName = "session.yaml"

// ModuleState is the persisted form of one module.
type ModuleState struct {
	ID     int    `yaml:"id"`
	Open   bool   `yaml:"open"`
	Source string `yaml:"source"`
}

// EndpointState is the persisted form of a host/port pair.
type EndpointState struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ConnectionState is the persisted form of connection.Settings.
type ConnectionState struct {
	Scheme     string        `yaml:"scheme"`
	Direct     EndpointState `yaml:"direct"`
	Management EndpointState `yaml:"management"`
	Timeout    string        `yaml:"timeout"`
}

// State is everything written to session.yaml.
type State struct {
	Version    int              `yaml:"version"`
	SavedAt    time.Time        `yaml:"saved_at"`
	Modules    []ModuleState    `yaml:"modules"`
	Connection *ConnectionState `yaml:"connection,omitempty"`
}

// Path returns the session file for a state directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// Capture copies the registry and settings into a State.
func Capture(reg *module.Registry, settings connection.Settings, now time.Time) State {
	state := State{Version: 1, SavedAt: now.UTC()}
	if reg != nil {
		for _, m := range reg.Snapshot() {
			state.Modules = append(state.Modules, ModuleState{ID: m.ID, Open: m.Open, Source: m.Source})
		}
	}
	state.Connection = &ConnectionState{
		Scheme:     settings.Scheme,
		Direct:     EndpointState{Host: settings.Direct.Host, Port: settings.Direct.Port},
		Management: EndpointState{Host: settings.Management.Host, Port: settings.Management.Port},
		Timeout:    settings.Timeout.String(),
	}
	return state
}

// RestoreInto inserts the saved modules into reg.
func (s State) RestoreInto(reg *module.Registry) {
	if reg == nil {
		return
	}
	modules := make([]module.Module, 0, len(s.Modules))
	for _, m := range s.Modules {
		modules = append(modules, module.Module{ID: m.ID, Open: m.Open, Source: m.Source})
	}
	reg.Restore(modules)
}

// Settings returns the saved connection settings, if any were saved.
func (s State) Settings() (connection.Settings, bool) {
	if s.Connection == nil {
		return connection.Settings{}, false
	}
	timeout, err := time.ParseDuration(s.Connection.Timeout)
	if err != nil {
		timeout = connection.DefaultTimeout
	}
	return connection.Settings{
		Scheme:     s.Connection.Scheme,
		Direct:     connection.Endpoint{Host: s.Connection.Direct.Host, Port: s.Connection.Direct.Port},
		Management: connection.Endpoint{Host: s.Connection.Management.Host, Port: s.Connection.Management.Port},
		Timeout:    timeout,
	}.Normalized(), true
}

// Load reads the session file. A missing file yields an empty State.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{Version: 1}, nil
		}
		return State{}, fmt.Errorf("session: read %s: %w", path, err)
	}
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("session: parse %s: %w", path, err)
	}
	if state.Version == 0 {
		state.Version = 1
	}
	seen := map[int]struct{}{}
	for _, m := range state.Modules {
		if _, dup := seen[m.ID]; dup {
			return State{}, fmt.Errorf("session: %s: duplicate module id %d", path, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return state, nil
}

// Save writes the state atomically, preserving directory structure.
func Save(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session: ensure state dir: %w", err)
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: replace %s: %w", path, err)
	}
	return nil
}
