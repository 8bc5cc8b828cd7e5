package supervise

import (
	"context"
	"sync"
	"time"
)

// Manager handles operations on multiple units concurrently.
// It provides bulk operations with configurable concurrency and timeouts.
type Manager struct {
	// Concurrency is the maximum number of concurrent operations
	Concurrency int
	// Timeout is the per-operation timeout
	Timeout time.Duration
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithConcurrency sets the maximum number of concurrent operations
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		m.Concurrency = n
	}
}

// WithTimeout sets the per-operation timeout
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.Timeout = d
	}
}

// NewManager creates a new Manager with default settings
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		Concurrency: 10,
		Timeout:     5 * time.Second,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.Concurrency < 1 {
		m.Concurrency = 1
	}

	return m
}

func (m *Manager) execute(ctx context.Context, units []string, op func(context.Context, *Client) error) error {
	if len(units) == 0 {
		return nil
	}

	// Semaphore for concurrency control
	sem := make(chan struct{}, m.Concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	merr := &MultiError{}

	for _, unit := range units {
		wg.Add(1)
		go func(dir string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
				return
			}

			client, err := NewClient(dir)
			if err != nil {
				mu.Lock()
				merr.Add(&OpError{Op: OpUnknown, Path: dir, Err: err})
				mu.Unlock()
				return
			}

			opCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}

			if err := op(opCtx, client); err != nil {
				mu.Lock()
				merr.Add(err)
				mu.Unlock()
			}
		}(unit)
	}

	wg.Wait()

	return merr.Err()
}

// Up starts the specified units
func (m *Manager) Up(ctx context.Context, units ...string) error {
	return m.execute(ctx, units, func(ctx context.Context, c *Client) error {
		return c.Up(ctx)
	})
}

// Down stops the specified units
func (m *Manager) Down(ctx context.Context, units ...string) error {
	return m.execute(ctx, units, func(ctx context.Context, c *Client) error {
		return c.Down(ctx)
	})
}

// Term sends the stop signal to the specified units
func (m *Manager) Term(ctx context.Context, units ...string) error {
	return m.execute(ctx, units, func(ctx context.Context, c *Client) error {
		return c.Term(ctx)
	})
}

// Kill sends SIGKILL to the specified units
func (m *Manager) Kill(ctx context.Context, units ...string) error {
	return m.execute(ctx, units, func(ctx context.Context, c *Client) error {
		return c.Kill(ctx)
	})
}

// Restart restarts the specified units
func (m *Manager) Restart(ctx context.Context, units ...string) error {
	return m.execute(ctx, units, func(ctx context.Context, c *Client) error {
		return c.Restart(ctx)
	})
}

// Status retrieves the status of the specified units
func (m *Manager) Status(ctx context.Context, units ...string) (map[string]Status, error) {
	if len(units) == 0 {
		return make(map[string]Status), nil
	}

	sem := make(chan struct{}, m.Concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]Status)
	merr := &MultiError{}

	for _, unit := range units {
		wg.Add(1)
		go func(dir string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
				return
			}

			client, err := NewClient(dir)
			if err != nil {
				mu.Lock()
				merr.Add(&OpError{Op: OpStatus, Path: dir, Err: err})
				mu.Unlock()
				return
			}

			opCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}

			status, err := client.Status(opCtx)
			mu.Lock()
			if err != nil {
				merr.Add(err)
			} else {
				results[dir] = status
			}
			mu.Unlock()
		}(unit)
	}

	wg.Wait()

	return results, merr.Err()
}
