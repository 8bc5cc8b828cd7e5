//go:build linux || darwin

package supervise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
	"vawter.tech/stopper"
)

// Daemon supervises exactly one unit: it launches the unit process, relaunches
// it after the restart delay when it dies, rewrites the binary status record on
// every transition, and serves control bytes on the unit's control socket.
//
// Exactly one daemon may run per unit directory; a second Run fails with
// ErrAlreadySupervised.
type Daemon struct {
	// UnitDir is the canonical path to the unit directory
	UnitDir string

	// Unit is the loaded unit definition
	Unit *Unit

	log  *zap.Logger
	sink io.WriteCloser

	// Supervision state, owned by the supervise loop goroutine
	pid     int
	since   time.Time
	want    byte
	terming bool
	once    bool
}

// DaemonOption configures a Daemon
type DaemonOption func(*Daemon)

// WithLogger sets the daemon's own diagnostic logger
func WithLogger(l *zap.Logger) DaemonOption {
	return func(d *Daemon) {
		d.log = l
	}
}

// WithUnit supplies a pre-loaded unit definition instead of reading unit.yaml
func WithUnit(u *Unit) DaemonOption {
	return func(d *Daemon) {
		d.Unit = u
	}
}

// NewDaemon creates a Daemon for the unit directory, loading the unit
// definition unless one is supplied with WithUnit.
func NewDaemon(unitDir string, opts ...DaemonOption) (*Daemon, error) {
	absPath, err := filepath.Abs(unitDir)
	if err != nil {
		return nil, fmt.Errorf("resolving unit dir: %w", err)
	}
	// Trees hand us the scan-dir symlink; operate on the real directory so
	// runtime files stay reachable after the link is removed
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	d := &Daemon{UnitDir: absPath}
	for _, opt := range opts {
		opt(d)
	}

	if d.Unit == nil {
		u, err := LoadUnit(absPath)
		if err != nil {
			return nil, err
		}
		d.Unit = u
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}

	return d, nil
}

// Run supervises the unit until ctx is cancelled or an exit operation is
// received on the control socket. The unit process is started immediately
// unless the unit is disabled (down file present).
func (d *Daemon) Run(ctx context.Context) error {
	superviseDir := filepath.Join(d.UnitDir, SuperviseDir)
	if err := os.MkdirAll(superviseDir, DirMode); err != nil {
		return fmt.Errorf("creating supervise dir: %w", err)
	}

	lock, err := acquireLock(filepath.Join(superviseDir, LockFile))
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	controlPath := filepath.Join(superviseDir, ControlFile)
	// A previous daemon that died hard leaves the socket behind
	_ = os.Remove(controlPath)

	ln, err := net.Listen("unix", controlPath)
	if err != nil {
		return &OpError{Op: OpUnknown, Path: controlPath, Err: err}
	}

	d.sink = newSink(d.Unit)

	d.want = 'd'
	if Enabled(d.UnitDir) {
		d.want = 'u'
	}
	d.since = time.Now()

	ops := make(chan Operation, 16)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = os.Remove(controlPath)
		_ = d.sink.Close()
	})

	// Bridge parent cancellation into the stopper and unblock the accept
	// loop by closing the listener once shutdown begins
	sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-ctx.Done():
			sctx.Stop(time.Second)
		case <-sctx.Stopping():
		}
		_ = ln.Close()
		return nil
	})

	sctx.Go(func(sctx *stopper.Context) error {
		return d.acceptLoop(sctx, ln, ops)
	})

	sctx.Go(func(sctx *stopper.Context) error {
		return d.superviseLoop(sctx, ops)
	})

	d.log.Info("supervising unit",
		zap.String("unit", d.Unit.Name),
		zap.String("dir", d.UnitDir),
		zap.String("want", string(d.want)),
	)

	return sctx.Wait()
}

// superviseLoop owns the unit process lifecycle. It is the only goroutine
// that touches the supervision state.
func (d *Daemon) superviseLoop(sctx *stopper.Context, ops <-chan Operation) error {
	exits := make(chan error, 1)
	var delayC <-chan time.Time
	var killC <-chan time.Time

	d.writeStatus()

	maybeStart := func() {
		if d.want != 'u' || d.pid > 0 || delayC != nil {
			return
		}
		if err := d.start(exits); err != nil {
			d.log.Error("launch failed", zap.String("unit", d.Unit.Name), zap.Error(err))
			delayC = time.After(d.Unit.RestartDelay)
		}
	}
	maybeStart()

	for {
		select {
		case <-sctx.Stopping():
			if d.pid > 0 {
				d.stopChild(exits)
				d.writeStatus()
			}
			return nil

		case op := <-ops:
			switch op {
			case OpUp:
				d.once = false
				d.want = 'u'
				delayC = nil
				d.writeStatus()
				maybeStart()
			case OpOnce:
				d.once = true
				d.want = 'u'
				delayC = nil
				d.writeStatus()
				maybeStart()
			case OpDown:
				d.want = 'd'
				d.once = false
				delayC = nil
				if d.pid > 0 && !d.terming {
					d.signal(d.stopSignal())
					d.terming = true
					killC = time.After(d.Unit.StopTimeout)
				}
				d.writeStatus()
			case OpTerm:
				d.signal(d.stopSignal())
			case OpInterrupt:
				d.signal(syscall.SIGINT)
			case OpHUP:
				d.signal(syscall.SIGHUP)
			case OpKill:
				d.signal(syscall.SIGKILL)
			case OpExit:
				d.want = 'd'
				if d.pid > 0 {
					d.stopChild(exits)
				}
				d.writeStatus()
				d.log.Info("exit requested, stopping daemon", zap.String("unit", d.Unit.Name))
				sctx.Stop(time.Second)
				return nil
			}

		case err := <-exits:
			d.onExit(err, &delayC)
			killC = nil

		case <-delayC:
			delayC = nil
			maybeStart()

		case <-killC:
			killC = nil
			if d.pid > 0 {
				d.log.Warn("stop timeout exceeded, sending SIGKILL",
					zap.String("unit", d.Unit.Name), zap.Int("pid", d.pid))
				d.signal(syscall.SIGKILL)
			}
		}
	}
}

// onExit records a process exit and arms the restart delay when the policy
// calls for a relaunch
func (d *Daemon) onExit(err error, delayC *<-chan time.Time) {
	clean := err == nil
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		d.log.Warn("process exited",
			zap.String("unit", d.Unit.Name),
			zap.Int("pid", d.pid),
			zap.Int("code", exitErr.ExitCode()),
		)
	} else if clean {
		d.log.Info("process exited cleanly",
			zap.String("unit", d.Unit.Name), zap.Int("pid", d.pid))
	} else {
		d.log.Warn("process wait failed",
			zap.String("unit", d.Unit.Name), zap.Int("pid", d.pid), zap.Error(err))
	}

	d.pid = 0
	d.terming = false
	d.since = time.Now()

	switch {
	case d.once || d.want == 'd':
		d.want = 'd'
		d.once = false
	case d.Unit.Restart == RestartNever:
		d.want = 'd'
	case d.Unit.Restart == RestartOnFailure && clean:
		d.want = 'd'
	default:
		d.log.Info("restarting after delay",
			zap.String("unit", d.Unit.Name),
			zap.Duration("delay", d.Unit.RestartDelay),
		)
		*delayC = time.After(d.Unit.RestartDelay)
	}

	d.writeStatus()
}

// start launches the unit process in its own session with output wired to
// the log sink
func (d *Daemon) start(exits chan<- error) error {
	env, err := d.Unit.Environ(d.UnitDir)
	if err != nil {
		return err
	}

	cmd := exec.Command(d.Unit.Command[0], d.Unit.Command[1:]...)
	cmd.Dir = d.Unit.WorkingDir
	cmd.Env = env
	cmd.Stdout = d.sink
	cmd.Stderr = d.sink
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	// The umask is process-wide; swap it in just for the launch
	if d.Unit.Umask != "" {
		mask, err := parseUmask(d.Unit.Umask)
		if err != nil {
			return err
		}
		defer syscall.Umask(syscall.Umask(mask))
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %q: %w", d.Unit.Command[0], err)
	}

	d.pid = cmd.Process.Pid
	d.since = time.Now()
	d.terming = false
	d.writeStatus()

	d.log.Info("process started",
		zap.String("unit", d.Unit.Name), zap.Int("pid", d.pid))

	go func() { exits <- cmd.Wait() }()
	return nil
}

// stopChild synchronously brings the unit process down: stop signal, then
// SIGKILL after the stop timeout
func (d *Daemon) stopChild(exits <-chan error) {
	d.signal(d.stopSignal())
	d.terming = true
	d.writeStatus()

	select {
	case <-exits:
	case <-time.After(d.Unit.StopTimeout):
		d.signal(syscall.SIGKILL)
		<-exits
	}

	d.pid = 0
	d.terming = false
	d.since = time.Now()
}

// signal delivers sig to the unit's process group
func (d *Daemon) signal(sig syscall.Signal) {
	if d.pid <= 0 {
		return
	}
	if err := syscall.Kill(-d.pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		d.log.Warn("signal failed",
			zap.String("unit", d.Unit.Name),
			zap.Int("pid", d.pid),
			zap.String("signal", sig.String()),
			zap.Error(err),
		)
	}
}

// stopSignal resolves the unit's configured stop signal
func (d *Daemon) stopSignal() syscall.Signal {
	switch d.Unit.StopSignal {
	case "INT":
		return syscall.SIGINT
	case "HUP":
		return syscall.SIGHUP
	case "QUIT":
		return syscall.SIGQUIT
	case "KILL":
		return syscall.SIGKILL
	default:
		return syscall.SIGTERM
	}
}

// writeStatus atomically replaces the binary status record
func (d *Daemon) writeStatus() {
	rec := statusRecord{
		since:   d.since,
		pid:     d.pid,
		want:    d.want,
		terming: d.terming,
	}

	path := filepath.Join(d.UnitDir, SuperviseDir, StatusFile)
	if err := renameio.WriteFile(path, rec.encode(), FileMode); err != nil {
		d.log.Error("writing status record",
			zap.String("unit", d.Unit.Name), zap.Error(err))
	}
}
