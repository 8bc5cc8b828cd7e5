package supervise

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultUpdateTimeout bounds the update command; a hung fetch should not
// wedge the operator's session
const DefaultUpdateTimeout = 5 * time.Minute

// Updater runs a unit's update sequence: execute the configured update
// command (typically a VCS pull) in the unit's working directory, then
// restart the unit so the running process reflects the fetched revision.
type Updater struct {
	// UnitDir is the canonical path to the unit directory
	UnitDir string

	// Unit is the loaded unit definition
	Unit *Unit

	// Timeout bounds the update command
	Timeout time.Duration

	log *zap.Logger
}

// UpdaterOption configures an Updater
type UpdaterOption func(*Updater)

// WithUpdateTimeout bounds the update command
func WithUpdateTimeout(d time.Duration) UpdaterOption {
	return func(u *Updater) {
		u.Timeout = d
	}
}

// WithUpdateLogger sets the updater's diagnostic logger
func WithUpdateLogger(l *zap.Logger) UpdaterOption {
	return func(u *Updater) {
		u.log = l
	}
}

// NewUpdater creates an Updater for the unit directory
func NewUpdater(unitDir string, opts ...UpdaterOption) (*Updater, error) {
	unit, err := LoadUnit(unitDir)
	if err != nil {
		return nil, err
	}

	u := &Updater{
		UnitDir: unitDir,
		Unit:    unit,
		Timeout: DefaultUpdateTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = zap.NewNop()
	}
	return u, nil
}

// Run executes the update command and restarts the unit, waiting until the
// process is running again. The wait is bounded by ctx.
func (u *Updater) Run(ctx context.Context) error {
	if len(u.Unit.UpdateCommand) == 0 {
		return ErrNoUpdateCommand
	}

	cmdCtx := ctx
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}

	name, args := u.Unit.UpdateCommand[0], u.Unit.UpdateCommand[1:]
	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Dir = u.Unit.WorkingDir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("update command %q: %w: %s",
			strings.Join(u.Unit.UpdateCommand, " "), err, strings.TrimSpace(string(out)))
	}

	u.log.Info("update command finished",
		zap.String("unit", u.Unit.Name),
		zap.String("output", strings.TrimSpace(string(out))),
	)

	client, err := NewClient(u.UnitDir)
	if err != nil {
		return err
	}
	if err := client.Restart(ctx); err != nil {
		return err
	}

	if _, err := client.Wait(ctx, []State{StateRunning}); err != nil {
		return fmt.Errorf("waiting for unit after update: %w", err)
	}

	u.log.Info("unit restarted on updated source", zap.String("unit", u.Unit.Name))
	return nil
}
