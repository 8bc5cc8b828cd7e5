//go:build linux || darwin

package supervise

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"vawter.tech/stopper"
)

// Tree supervises every unit linked into a scan directory: one Daemon per
// unit, started at boot and whenever a new link appears, stopped when the
// link is removed. Registering a single Tree process with the host init is
// enough to bring all enabled units up after a reboot.
type Tree struct {
	// ScanDir is the directory holding links to unit directories
	ScanDir string

	log *zap.Logger

	mu      sync.Mutex
	entries map[string]*treeEntry
}

// treeEntry tracks one running daemon
type treeEntry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TreeOption configures a Tree
type TreeOption func(*Tree)

// WithTreeLogger sets the tree's diagnostic logger
func WithTreeLogger(l *zap.Logger) TreeOption {
	return func(t *Tree) {
		t.log = l
	}
}

// NewTree creates a Tree for the scan directory
func NewTree(scanDir string, opts ...TreeOption) (*Tree, error) {
	absDir, err := filepath.Abs(scanDir)
	if err != nil {
		return nil, fmt.Errorf("resolving scan dir: %w", err)
	}

	t := &Tree{
		ScanDir: absDir,
		entries: make(map[string]*treeEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	return t, nil
}

// Run starts a daemon for every unit currently linked into the scan
// directory, then reacts to links being added or removed until ctx is
// cancelled.
func (t *Tree) Run(ctx context.Context) error {
	if err := os.MkdirAll(t.ScanDir, DirMode); err != nil {
		return fmt.Errorf("creating scan dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(t.ScanDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching scan dir: %w", err)
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		t.stopAll()
	})

	// Bridge parent cancellation into the stopper
	sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-ctx.Done():
			sctx.Stop(time.Second)
		case <-sctx.Stopping():
		}
		return nil
	})

	if err := t.scan(sctx); err != nil {
		sctx.Stop(time.Second)
		_ = sctx.Wait()
		return err
	}

	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				name := filepath.Base(event.Name)
				switch {
				case event.Op.Has(fsnotify.Create):
					t.startEntry(sctx, name)
				case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
					t.stopEntry(name)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					t.log.Warn("scan watcher error", zap.Error(err))
				}
			}
		}
	})

	t.log.Info("supervising tree", zap.String("scan_dir", t.ScanDir))
	return sctx.Wait()
}

// scan starts daemons for everything already linked into the scan directory
func (t *Tree) scan(sctx *stopper.Context) error {
	dirEntries, err := os.ReadDir(t.ScanDir)
	if err != nil {
		return fmt.Errorf("reading scan dir: %w", err)
	}

	for _, entry := range dirEntries {
		t.startEntry(sctx, entry.Name())
	}
	return nil
}

// startEntry starts a daemon for one scan-dir entry if it looks like a unit
// and is not already supervised by this tree
func (t *Tree) startEntry(sctx *stopper.Context, name string) {
	unitDir := filepath.Join(t.ScanDir, name)
	if _, err := os.Stat(filepath.Join(unitDir, UnitFile)); err != nil {
		return
	}

	t.mu.Lock()
	if _, ok := t.entries[name]; ok {
		t.mu.Unlock()
		return
	}
	dctx, cancel := context.WithCancel(context.Background())
	entry := &treeEntry{cancel: cancel, done: make(chan struct{})}
	t.entries[name] = entry
	t.mu.Unlock()

	sctx.Go(func(sctx *stopper.Context) error {
		defer close(entry.done)

		daemon, err := NewDaemon(unitDir, WithLogger(t.log.Named(name)))
		if err != nil {
			t.log.Error("starting unit daemon",
				zap.String("unit", name), zap.Error(err))
			return nil
		}

		t.log.Info("unit daemon starting", zap.String("unit", name))
		done := make(chan error, 1)
		go func() { done <- daemon.Run(dctx) }()

		select {
		case err = <-done:
		case <-sctx.Stopping():
			entry.cancel()
			err = <-done
		}
		if err != nil {
			t.log.Error("unit daemon stopped",
				zap.String("unit", name), zap.Error(err))
		}
		return nil
	})
}

// stopEntry stops the daemon for a removed scan-dir entry
func (t *Tree) stopEntry(name string) {
	t.mu.Lock()
	entry, ok := t.entries[name]
	if ok {
		delete(t.entries, name)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.log.Info("unit unlinked, stopping daemon", zap.String("unit", name))
	entry.cancel()
	<-entry.done
}

// stopAll stops every daemon the tree is running
func (t *Tree) stopAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*treeEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		entry.cancel()
	}
	for _, entry := range entries {
		<-entry.done
	}
}
