//go:build linux || darwin

package supervise

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// watchState manages the state of a watch operation
type watchState struct {
	mu              sync.Mutex
	lastRaw         [StatusRecordSize]byte
	debouncer       *time.Timer
	spinStartTime   time.Time
	spinCount       int
	backoffInterval time.Duration
}

// Watch monitors the unit's status record for changes. It returns a channel
// of events and a cleanup function; the channel is closed when the watch
// stops. Rapid rewrites are debounced, and a status file being rewritten
// without changing (a spinning writer) pushes the debounce into backoff.
func (c *Client) Watch(ctx context.Context) (<-chan WatchEvent, WatchCleanupFunc, error) {
	superviseDir := filepath.Join(c.UnitDir, SuperviseDir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, &OpError{Op: OpStatus, Path: superviseDir, Err: err}
	}

	if err := watcher.Add(superviseDir); err != nil {
		_ = watcher.Close()
		return nil, nil, &OpError{Op: OpStatus, Path: superviseDir, Err: err}
	}

	ch := make(chan WatchEvent, 10)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	state := &watchState{}

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	readAndSend := func() {
		if sctx.IsStopping() {
			return
		}

		status, err := c.Status(ctx)
		if err != nil {
			if !sctx.IsStopping() {
				select {
				case ch <- WatchEvent{Err: err}:
				case <-sctx.Stopping():
				}
			}
			return
		}

		state.mu.Lock()
		defer state.mu.Unlock()

		if status.Raw != state.lastRaw {
			state.lastRaw = status.Raw

			// Reset spin detection on a real change
			state.spinCount = 0
			state.spinStartTime = time.Time{}
			state.backoffInterval = 0

			if !sctx.IsStopping() {
				select {
				case ch <- WatchEvent{Status: status}:
				case <-sctx.Stopping():
				}
			}
			return
		}

		// The record was rewritten without changing; track spinning
		now := time.Now()
		if state.spinStartTime.IsZero() {
			state.spinStartTime = now
			state.spinCount = 1
		} else {
			state.spinCount++
			if now.Sub(state.spinStartTime) >= 5*time.Second && state.backoffInterval == 0 {
				state.backoffInterval = time.Second
			}
		}
	}

	// Initial read
	readAndSend()

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			state.mu.Lock()
			if state.debouncer != nil {
				state.debouncer.Stop()
			}
			state.mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}

				if filepath.Base(event.Name) == StatusFile {
					state.mu.Lock()

					debounceTime := c.WatchDebounce
					if state.backoffInterval > 0 {
						debounceTime = state.backoffInterval
					}

					if state.debouncer != nil {
						state.debouncer.Stop()
					}
					state.debouncer = time.AfterFunc(debounceTime, readAndSend)
					state.mu.Unlock()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !sctx.IsStopping() {
					select {
					case ch <- WatchEvent{Err: err}:
					case <-sctx.Stopping():
						return nil
					}
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}

// Wait blocks until the unit reaches one of the specified states or the
// context is cancelled. If states is nil or empty, it waits for any status
// change.
//
// Example:
//
//	// Wait for the unit to come up
//	status, err := client.Wait(ctx, []State{StateRunning})
func (c *Client) Wait(ctx context.Context, states []State) (Status, error) {
	if len(states) == 0 {
		events, cleanup, err := c.Watch(ctx)
		if err != nil {
			return Status{}, err
		}
		defer func() { _ = cleanup() }()

		select {
		case event := <-events:
			if event.Err != nil {
				return Status{}, event.Err
			}
			return event.Status, nil
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}

	// Check the current state before watching
	status, err := c.Status(ctx)
	if err == nil {
		for _, target := range states {
			if status.State == target {
				return status, nil
			}
		}
	}

	events, cleanup, err := c.Watch(ctx)
	if err != nil {
		return Status{}, err
	}
	defer func() { _ = cleanup() }()

	for {
		select {
		case event := <-events:
			if event.Err != nil {
				return Status{}, event.Err
			}
			for _, target := range states {
				if event.Status.State == target {
					return event.Status, nil
				}
			}
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
}
