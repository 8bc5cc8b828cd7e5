package supervise

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// UnitBuilder provides a fluent interface for materializing unit directories:
// the unit.yaml definition, the env/ directory, the log/ directory, and an
// optional down file.
type UnitBuilder struct {
	// Name is the unit name
	Name string
	// Dir is the base directory where the unit directory will be created
	Dir string
	// Cmd is the command and arguments to execute
	Cmd []string
	// Cwd is the working directory for the process
	Cwd string
	// Env contains environment variables written to the env/ directory
	Env map[string]string
	// Restart is the relaunch policy
	Restart RestartPolicy
	// RestartDelay overrides the default relaunch delay when non-zero
	RestartDelay time.Duration
	// Umask is the process file creation mask as an octal string
	Umask string
	// UpdateCmd is the update command recorded in the unit definition
	UpdateCmd []string
	// Log holds log sink settings; zero values fall back to defaults at load
	Log LogConfig
	// Down marks the unit as disabled on creation
	Down bool
}

// NewUnitBuilder creates a new UnitBuilder with default settings
func NewUnitBuilder(name, dir string) *UnitBuilder {
	return &UnitBuilder{
		Name:    name,
		Dir:     dir,
		Env:     make(map[string]string),
		Restart: RestartOnFailure,
	}
}

// WithCmd sets the command to execute
func (b *UnitBuilder) WithCmd(cmd []string) *UnitBuilder {
	b.Cmd = cmd
	return b
}

// WithCwd sets the working directory
func (b *UnitBuilder) WithCwd(cwd string) *UnitBuilder {
	b.Cwd = cwd
	return b
}

// WithEnv adds an environment variable
func (b *UnitBuilder) WithEnv(key, value string) *UnitBuilder {
	b.Env[key] = value
	return b
}

// WithRestart sets the relaunch policy
func (b *UnitBuilder) WithRestart(policy RestartPolicy) *UnitBuilder {
	b.Restart = policy
	return b
}

// WithRestartDelay sets the relaunch delay
func (b *UnitBuilder) WithRestartDelay(d time.Duration) *UnitBuilder {
	b.RestartDelay = d
	return b
}

// WithUmask sets the process file creation mask (octal string, e.g. "027")
func (b *UnitBuilder) WithUmask(mask string) *UnitBuilder {
	b.Umask = mask
	return b
}

// WithUpdateCmd sets the update command
func (b *UnitBuilder) WithUpdateCmd(cmd []string) *UnitBuilder {
	b.UpdateCmd = cmd
	return b
}

// WithLog sets the log sink settings
func (b *UnitBuilder) WithLog(fn func(*LogConfig)) *UnitBuilder {
	fn(&b.Log)
	return b
}

// WithDown marks the unit as disabled on creation
func (b *UnitBuilder) WithDown() *UnitBuilder {
	b.Down = true
	return b
}

// unitFileDoc is the serialized shape of unit.yaml
type unitFileDoc struct {
	Name         string         `yaml:"name"`
	Command      []string       `yaml:"command"`
	WorkingDir   string         `yaml:"working_dir,omitempty"`
	Restart      string         `yaml:"restart,omitempty"`
	RestartDelay string         `yaml:"restart_delay,omitempty"`
	Umask        string         `yaml:"umask,omitempty"`
	UpdateCmd    []string       `yaml:"update_command,omitempty"`
	Log          map[string]any `yaml:"log,omitempty"`
}

// Build creates the unit directory structure and definition file
func (b *UnitBuilder) Build() error {
	if b.Dir == "" {
		return fmt.Errorf("unit directory not specified")
	}
	if len(b.Cmd) == 0 {
		return fmt.Errorf("command not specified")
	}

	unitDir := filepath.Join(b.Dir, b.Name)
	if err := os.MkdirAll(unitDir, DirMode); err != nil {
		return fmt.Errorf("creating unit directory: %w", err)
	}

	if len(b.Env) > 0 {
		envDir := filepath.Join(unitDir, EnvDir)
		if err := os.MkdirAll(envDir, DirMode); err != nil {
			return fmt.Errorf("creating env directory: %w", err)
		}

		for key, value := range b.Env {
			envFile := filepath.Join(envDir, key)
			if err := renameio.WriteFile(envFile, []byte(value), FileMode); err != nil {
				return fmt.Errorf("writing env file %s: %w", key, err)
			}
		}
	}

	doc := unitFileDoc{
		Name:       b.Name,
		Command:    b.Cmd,
		WorkingDir: b.Cwd,
		Restart:    string(b.Restart),
		Umask:      b.Umask,
		UpdateCmd:  b.UpdateCmd,
	}
	if b.RestartDelay > 0 {
		doc.RestartDelay = b.RestartDelay.String()
	}
	if lm := b.logMap(); len(lm) > 0 {
		doc.Log = lm
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", UnitFile, err)
	}
	if err := renameio.WriteFile(filepath.Join(unitDir, UnitFile), data, FileMode); err != nil {
		return fmt.Errorf("writing %s: %w", UnitFile, err)
	}

	if err := os.MkdirAll(filepath.Join(unitDir, LogDir), DirMode); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	if b.Down {
		if err := renameio.WriteFile(filepath.Join(unitDir, DownFile), nil, FileMode); err != nil {
			return fmt.Errorf("writing down file: %w", err)
		}
	}

	return nil
}

// logMap renders non-zero log settings for unit.yaml
func (b *UnitBuilder) logMap() map[string]any {
	m := map[string]any{}
	if b.Log.Path != "" {
		m["path"] = b.Log.Path
	}
	if b.Log.MaxSizeMB > 0 {
		m["max_size_mb"] = b.Log.MaxSizeMB
	}
	if b.Log.MaxBackups > 0 {
		m["max_backups"] = b.Log.MaxBackups
	}
	if b.Log.MaxAgeDays > 0 {
		m["max_age_days"] = b.Log.MaxAgeDays
	}
	if b.Log.Compress {
		m["compress"] = true
	}
	return m
}
