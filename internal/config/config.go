// internal/config/config.go
//
// This package handles configuration and the .streamline directory structure.
// Every project that uses streamline gets a .streamline/ folder in its root
// holding the connection settings, logs and saved session state.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/streamline/internal/connection"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".streamline"

	yamlFile = "config.yaml"
	tomlFile = "config.toml"
)

const defaultProjectConfigYAML = `# streamline project configuration
version: 1

# URL scheme for both endpoints: http or https.
scheme: http

# Direct evaluation endpoint (send code).
direct:
  host: localhost
  port: 7869

# Block/module management endpoint (load, execute, undefine).
# The port must be between 1000 and 10000.
management:
  host: localhost
  port: 8080

# Upper bound for every remote call.
timeout: 10s
`

// EndpointConfig declares one host/port pair.
type EndpointConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// ProjectConfig models .streamline/config.yaml (or config.toml).
type ProjectConfig struct {
	Version    int            `yaml:"version" toml:"version"`
	Scheme     string         `yaml:"scheme" toml:"scheme"`
	Direct     EndpointConfig `yaml:"direct" toml:"direct"`
	Management EndpointConfig `yaml:"management" toml:"management"`
	Timeout    string         `yaml:"timeout" toml:"timeout"`
}

// Config holds the on-disk configuration for one project.
type Config struct {
	// ProjectDir is the directory where the user ran `streamline` from
	ProjectDir string

	// StreamlineDir is ProjectDir/.streamline
	StreamlineDir string

	// Project is the effective configuration: file values with STREAMLINE_*
	// overrides layered on top.
	Project ProjectConfig

	// file holds the values read from disk, without env overrides. It is what
	// Apply writes back.
	file ProjectConfig

	// format records which file the project config came from: "yaml" or "toml".
	format string
}

// InitDir creates the .streamline directory structure in the given project directory.
//
// Structure created:
// .streamline/
// ├── config.yaml
// ├── logs/         <- streamline.log and journey.log
// └── state/        <- saved session (modules + connection settings)
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if _, err := os.Stat(filepath.Join(root, tomlFile)); err == nil {
		return nil
	}
	return ensureProjectConfig(filepath.Join(root, yamlFile))
}

// Load reads the project configuration and applies environment overrides.
// A missing file yields defaults.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:    projectDir,
		StreamlineDir: filepath.Join(projectDir, Dir),
		Project:       defaultProjectConfig(),
		format:        "yaml",
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.file = cfg.Project
	cfg.Project.applyEnvOverrides()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StreamlineDir, "logs")
}

// StateDir returns the path to the saved session directory
func (c *Config) StateDir() string {
	return filepath.Join(c.StreamlineDir, "state")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	if c.format == "toml" {
		return filepath.Join(c.StreamlineDir, tomlFile)
	}
	return filepath.Join(c.StreamlineDir, yamlFile)
}

// Settings converts the project config into connection settings.
func (c *Config) Settings() connection.Settings {
	return c.Project.settings()
}

// Apply validates settings coming from an editor and persists them. Invalid
// settings are rejected before they reach the file or any connection.Config.
// STREAMLINE_* overrides are never written to disk and keep precedence in
// Project after the save.
func (c *Config) Apply(settings connection.Settings) error {
	if err := ValidateSettings(settings); err != nil {
		return err
	}
	// Fields left at their effective value keep the file value, so an env
	// override shown in an editor is not persisted by an unrelated save.
	effective := c.Project
	next := c.file
	if settings.Scheme != effective.Scheme {
		next.Scheme = settings.Scheme
	}
	if settings.Direct.Host != effective.Direct.Host {
		next.Direct.Host = settings.Direct.Host
	}
	if settings.Direct.Port != effective.Direct.Port {
		next.Direct.Port = settings.Direct.Port
	}
	if settings.Management.Host != effective.Management.Host {
		next.Management.Host = settings.Management.Host
	}
	if settings.Management.Port != effective.Management.Port {
		next.Management.Port = settings.Management.Port
	}
	if settings.Timeout != effective.settings().Timeout {
		next.Timeout = settings.Timeout.String()
	}
	if err := c.saveProjectConfig(next); err != nil {
		return err
	}
	c.file = next
	c.Project = next
	c.Project.applyEnvOverrides()
	return nil
}

func (c *Config) loadProjectConfig() error {
	tomlPath := filepath.Join(c.StreamlineDir, tomlFile)
	if _, err := os.Stat(tomlPath); err == nil {
		var parsed ProjectConfig
		if _, err := toml.DecodeFile(tomlPath, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", tomlPath, err)
		}
		c.format = "toml"
		return c.accept(parsed, tomlPath)
	}

	path := filepath.Join(c.StreamlineDir, yamlFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c.accept(parsed, path)
}

func (c *Config) accept(parsed ProjectConfig, path string) error {
	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:    1,
		Scheme:     connection.DefaultScheme,
		Direct:     EndpointConfig{Host: connection.DefaultHost, Port: connection.DefaultDirectPort},
		Management: EndpointConfig{Host: connection.DefaultHost, Port: connection.DefaultManagementPort},
		Timeout:    connection.DefaultTimeout.String(),
	}
}

func (pc *ProjectConfig) applyDefaults() {
	defaults := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = defaults.Version
	}
	if strings.TrimSpace(pc.Scheme) == "" {
		pc.Scheme = defaults.Scheme
	}
	if strings.TrimSpace(pc.Direct.Host) == "" {
		pc.Direct.Host = defaults.Direct.Host
	}
	if pc.Direct.Port == 0 {
		pc.Direct.Port = defaults.Direct.Port
	}
	if strings.TrimSpace(pc.Management.Host) == "" {
		pc.Management.Host = defaults.Management.Host
	}
	if pc.Management.Port == 0 {
		pc.Management.Port = defaults.Management.Port
	}
	if strings.TrimSpace(pc.Timeout) == "" {
		pc.Timeout = defaults.Timeout
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Scheme = strings.ToLower(strings.TrimSpace(pc.Scheme))
	pc.Direct.Host = strings.TrimSpace(pc.Direct.Host)
	pc.Management.Host = strings.TrimSpace(pc.Management.Host)
	pc.Timeout = strings.TrimSpace(pc.Timeout)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if _, err := time.ParseDuration(pc.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return ValidateSettings(pc.settings())
}

func (pc ProjectConfig) settings() connection.Settings {
	timeout, err := time.ParseDuration(pc.Timeout)
	if err != nil {
		timeout = connection.DefaultTimeout
	}
	return connection.Settings{
		Scheme:     pc.Scheme,
		Direct:     connection.Endpoint{Host: pc.Direct.Host, Port: pc.Direct.Port},
		Management: connection.Endpoint{Host: pc.Management.Host, Port: pc.Management.Port},
		Timeout:    timeout,
	}
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig(pc ProjectConfig) error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	pc.applyDefaults()
	pc.normalize()
	if err := pc.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.StreamlineDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure streamline dir: %w", err)
	}
	var data []byte
	if c.format == "toml" {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(pc); err != nil {
			return fmt.Errorf("config: encode config: %w", err)
		}
		data = buf.Bytes()
	} else {
		encoded, err := yaml.Marshal(pc)
		if err != nil {
			return fmt.Errorf("config: encode config: %w", err)
		}
		data = encoded
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
