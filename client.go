package supervise

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axondata/go-supervise/internal/unix"
)

// Client provides control and status operations for a single supervised unit.
// It communicates directly with the unit's daemon through the control socket
// and status record, without shelling out to any control binary.
type Client struct {
	// UnitDir is the canonical path to the unit directory
	UnitDir string

	// DialTimeout is the timeout for establishing control socket connections
	DialTimeout time.Duration

	// WriteTimeout is the timeout for writing control commands
	WriteTimeout time.Duration

	// ReadTimeout is the timeout for reading status information
	ReadTimeout time.Duration

	// BackoffMin is the minimum duration between retry attempts
	BackoffMin time.Duration

	// BackoffMax is the maximum duration between retry attempts
	BackoffMax time.Duration

	// MaxAttempts is the maximum number of retry attempts for control operations
	MaxAttempts int

	// WatchDebounce is the debounce duration for watch events to coalesce rapid changes
	WatchDebounce time.Duration

	// mu protects concurrent access to send operations
	mu sync.Mutex
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithDialTimeout sets the timeout for control socket connections
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.DialTimeout = d
	}
}

// WithWriteTimeout sets the timeout for control write operations
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.WriteTimeout = d
	}
}

// WithReadTimeout sets the timeout for status read operations
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.ReadTimeout = d
	}
}

// WithBackoff sets the minimum and maximum backoff durations for retries
func WithBackoff(minBackoff, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.BackoffMin = minBackoff
		c.BackoffMax = maxBackoff
	}
}

// WithMaxAttempts sets the maximum number of retry attempts
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		c.MaxAttempts = n
	}
}

// WithWatchDebounce sets the debounce duration for watch events
func WithWatchDebounce(d time.Duration) ClientOption {
	return func(c *Client) {
		c.WatchDebounce = d
	}
}

// NewClient creates a new Client for the specified unit directory.
// It verifies a daemon has set up the supervise directory and applies
// any provided options.
func NewClient(unitDir string, opts ...ClientOption) (*Client, error) {
	absPath, err := filepath.Abs(unitDir)
	if err != nil {
		return nil, fmt.Errorf("resolving unit dir: %w", err)
	}

	c := &Client{
		UnitDir:       absPath,
		DialTimeout:   DefaultDialTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		ReadTimeout:   DefaultReadTimeout,
		BackoffMin:    DefaultBackoffMin,
		BackoffMax:    DefaultBackoffMax,
		MaxAttempts:   DefaultMaxAttempts,
		WatchDebounce: DefaultWatchDebounce,
	}

	for _, opt := range opts {
		opt(c)
	}

	superviseDir := filepath.Join(c.UnitDir, SuperviseDir)
	if _, err := os.Stat(superviseDir); os.IsNotExist(err) {
		return nil, &OpError{Op: OpUnknown, Path: superviseDir, Err: ErrNotSupervised}
	}

	return c, nil
}

// send writes a single control byte to the unit's control socket.
// It implements exponential backoff and retries for transient failures.
// A FIFO at the control path is supported as a fallback so clients keep
// working against runit-style trees.
func (c *Client) send(ctx context.Context, op Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	controlPath := filepath.Join(c.UnitDir, SuperviseDir, ControlFile)
	cmd := op.Byte()

	var lastErr error
	backoff := c.BackoffMin

	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > c.BackoffMax {
				backoff = c.BackoffMax
			}
		}

		conn, err := net.DialTimeout("unix", controlPath, c.DialTimeout)
		if err == nil {
			if c.WriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
			}

			_, werr := conn.Write([]byte{cmd})
			_ = conn.Close()
			if werr == nil {
				return nil
			}
			lastErr = werr
			continue
		}

		file, err := os.OpenFile(controlPath, os.O_WRONLY|unix.ONonblock, 0)
		if err == nil {
			_, werr := file.Write([]byte{cmd})
			_ = file.Close()
			if werr == nil {
				return nil
			}
			lastErr = werr
			continue
		}

		lastErr = err
	}

	if lastErr != nil {
		return &OpError{Op: op, Path: controlPath, Err: lastErr}
	}
	return &OpError{Op: op, Path: controlPath, Err: ErrControlNotReady}
}

// Up starts the unit (sets want up)
func (c *Client) Up(ctx context.Context) error {
	return c.send(ctx, OpUp)
}

// Once starts the unit once (no restart when it exits)
func (c *Client) Once(ctx context.Context) error {
	return c.send(ctx, OpOnce)
}

// Down stops the unit (sets want down)
func (c *Client) Down(ctx context.Context) error {
	return c.send(ctx, OpDown)
}

// Term sends the unit its stop signal without changing want
func (c *Client) Term(ctx context.Context) error {
	return c.send(ctx, OpTerm)
}

// Interrupt sends SIGINT to the unit process
func (c *Client) Interrupt(ctx context.Context) error {
	return c.send(ctx, OpInterrupt)
}

// HUP sends SIGHUP to the unit process
func (c *Client) HUP(ctx context.Context) error {
	return c.send(ctx, OpHUP)
}

// Kill sends SIGKILL to the unit process
func (c *Client) Kill(ctx context.Context) error {
	return c.send(ctx, OpKill)
}

// ExitSupervise stops the unit and terminates its daemon
func (c *Client) ExitSupervise(ctx context.Context) error {
	return c.send(ctx, OpExit)
}

// Start is the operator-facing alias for Up
func (c *Client) Start(ctx context.Context) error {
	return c.Up(ctx)
}

// Stop is the operator-facing alias for Down
func (c *Client) Stop(ctx context.Context) error {
	return c.Down(ctx)
}

// Restart stops the unit, waits until the process is gone, then starts it
// again. The wait is bounded by ctx.
func (c *Client) Restart(ctx context.Context) error {
	if err := c.Down(ctx); err != nil {
		return err
	}
	if _, err := c.Wait(ctx, []State{StateDown}); err != nil {
		return err
	}
	return c.Up(ctx)
}

// Status reads and decodes the unit's binary status record
func (c *Client) Status(_ context.Context) (Status, error) {
	statusPath := filepath.Join(c.UnitDir, SuperviseDir, StatusFile)

	file, err := os.Open(statusPath)
	if err != nil {
		return Status{}, &OpError{Op: OpStatus, Path: statusPath, Err: err}
	}
	defer func() { _ = file.Close() }()

	var buf [StatusRecordSize]byte
	n, err := io.ReadFull(file, buf[:])
	if err != nil && err != io.ErrUnexpectedEOF {
		return Status{}, &OpError{Op: OpStatus, Path: statusPath, Err: err}
	}
	if n != StatusRecordSize {
		return Status{}, &OpError{Op: OpStatus, Path: statusPath, Err: ErrDecode}
	}

	status, err := decodeStatus(buf[:])
	if err != nil {
		return Status{}, &OpError{Op: OpStatus, Path: statusPath, Err: err}
	}

	return status, nil
}
