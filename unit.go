package supervise

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RestartPolicy controls whether the daemon relaunches the unit process
// after it exits.
type RestartPolicy string

const (
	// RestartAlways relaunches after every exit, clean or not
	RestartAlways RestartPolicy = "always"
	// RestartOnFailure relaunches only after an abnormal exit
	RestartOnFailure RestartPolicy = "on-failure"
	// RestartNever leaves the unit down after any exit
	RestartNever RestartPolicy = "never"
)

// Unit describes one supervised process. It is loaded from the unit.yaml
// file inside a unit directory.
type Unit struct {
	// Name identifies the unit; defaults to the unit directory base name
	Name string `mapstructure:"name" validate:"required,hostname_rfc1123"`

	// Command is the argv to execute
	Command []string `mapstructure:"command" validate:"required,min=1,dive,required"`

	// WorkingDir is the working directory for the process;
	// defaults to the unit directory
	WorkingDir string `mapstructure:"working_dir"`

	// Env contains environment variables set for the process, merged over
	// the contents of the unit's env/ directory
	Env map[string]string `mapstructure:"env"`

	// Restart selects the relaunch policy after the process exits
	Restart RestartPolicy `mapstructure:"restart" validate:"oneof=always on-failure never"`

	// RestartDelay is the pause before a relaunch
	RestartDelay time.Duration `mapstructure:"restart_delay" validate:"min=0"`

	// StopSignal names the signal sent on stop (TERM, INT, HUP, QUIT, KILL)
	StopSignal string `mapstructure:"stop_signal" validate:"oneof=TERM INT HUP QUIT KILL"`

	// StopTimeout is how long to wait after StopSignal before SIGKILL
	StopTimeout time.Duration `mapstructure:"stop_timeout" validate:"min=0"`

	// Umask is the file creation mask for the process as an octal string
	// (e.g. "027"). Quote it in unit.yaml so it stays octal. Empty
	// inherits the daemon's umask.
	Umask string `mapstructure:"umask"`

	// UpdateCommand is the argv run by the update sequence (e.g. git pull);
	// empty means updates are not configured for this unit
	UpdateCommand []string `mapstructure:"update_command"`

	// Log configures the unit's log sink
	Log LogConfig `mapstructure:"log"`
}

// LogConfig configures the rotated log file the unit process writes to
type LogConfig struct {
	// Path is the log file path; defaults to <unit>/log/current
	Path string `mapstructure:"path"`

	// MaxSizeMB is the size in megabytes at which the log rotates
	MaxSizeMB int `mapstructure:"max_size_mb" validate:"min=1"`

	// MaxBackups is the number of rotated files to keep
	MaxBackups int `mapstructure:"max_backups" validate:"min=0"`

	// MaxAgeDays is the maximum age of rotated files in days
	MaxAgeDays int `mapstructure:"max_age_days" validate:"min=0"`

	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// Unit configuration defaults
const (
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 14
	DefaultStopSignal    = "TERM"
)

var unitValidate = validator.New()

// LoadUnit reads and validates the unit definition from the given unit
// directory. Values come from unit.yaml, overridden by SUPERVISE_* environment
// variables, with defaults applied for everything optional.
func LoadUnit(dir string) (*Unit, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving unit dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(absDir, UnitFile))
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SUPERVISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setUnitDefaults(v, absDir)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", UnitFile, err)
	}

	u := &Unit{}
	if err := v.Unmarshal(u); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", UnitFile, err)
	}

	if u.WorkingDir == "" {
		u.WorkingDir = absDir
	}
	if u.Log.Path == "" {
		u.Log.Path = filepath.Join(absDir, LogDir, LogCurrentFile)
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// setUnitDefaults registers defaults for everything optional in unit.yaml
func setUnitDefaults(v *viper.Viper, dir string) {
	v.SetDefault("name", filepath.Base(dir))
	v.SetDefault("restart", string(RestartOnFailure))
	v.SetDefault("restart_delay", DefaultRestartDelay)
	v.SetDefault("stop_signal", DefaultStopSignal)
	v.SetDefault("stop_timeout", DefaultStopTimeout)
	v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAgeDays)
}

// Validate checks the unit definition against its struct constraints
func (u *Unit) Validate() error {
	if err := unitValidate.Struct(u); err != nil {
		return fmt.Errorf("invalid unit %q: %w", u.Name, err)
	}
	if u.Umask != "" {
		if _, err := parseUmask(u.Umask); err != nil {
			return fmt.Errorf("invalid unit %q: %w", u.Name, err)
		}
	}
	return nil
}

// parseUmask parses an octal umask string such as "027"
func parseUmask(s string) (int, error) {
	v, err := strconv.ParseUint(s, 8, 12)
	if err != nil {
		return 0, fmt.Errorf("parsing umask %q: %w", s, err)
	}
	return int(v), nil
}

// Environ returns the process environment for the unit: the daemon's own
// environment, extended by the env/ directory (one file per variable, file
// name is the key, trimmed contents the value), extended by unit.yaml env.
// Later sources win.
func (u *Unit) Environ(dir string) ([]string, error) {
	merged := map[string]string{}

	fromDir, err := readEnvDir(filepath.Join(dir, EnvDir))
	if err != nil {
		return nil, err
	}
	for k, val := range fromDir {
		merged[k] = val
	}
	for k, val := range u.Env {
		merged[k] = val
	}

	env := os.Environ()
	for k, val := range merged {
		env = append(env, k+"="+val)
	}
	return env, nil
}

// readEnvDir reads an env directory in the daemontools envdir format
func readEnvDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading env dir: %w", err)
	}

	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading env file %s: %w", entry.Name(), err)
		}
		env[entry.Name()] = strings.TrimRight(string(data), "\r\n")
	}
	return env, nil
}
