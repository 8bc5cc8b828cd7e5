package supervise

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/renameio/v2"
)

// newMockUnit creates a unit directory with a supervise subdirectory and a
// status record, without a running daemon.
func newMockUnit(t *testing.T, pid int, want byte) string {
	t.Helper()

	unitDir := filepath.Join(t.TempDir(), "bot")
	superviseDir := filepath.Join(unitDir, SuperviseDir)
	if err := os.MkdirAll(superviseDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeMockStatus(t, unitDir, pid, want)
	return unitDir
}

func writeMockStatus(t *testing.T, unitDir string, pid int, want byte) {
	t.Helper()

	rec := statusRecord{since: time.Now(), pid: pid, want: want}
	path := filepath.Join(unitDir, SuperviseDir, StatusFile)
	if err := renameio.WriteFile(path, rec.encode(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// serveControl accepts control connections and forwards every received byte
func serveControl(t *testing.T, unitDir string) <-chan byte {
	t.Helper()

	controlPath := filepath.Join(unitDir, SuperviseDir, ControlFile)
	ln, err := net.Listen("unix", controlPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan byte, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 16)
			n, _ := conn.Read(buf)
			for _, b := range buf[:n] {
				received <- b
			}
			_ = conn.Close()
		}
	}()
	return received
}

func TestNewClientNotSupervised(t *testing.T) {
	_, err := NewClient(t.TempDir())
	if !errors.Is(err, ErrNotSupervised) {
		t.Errorf("err = %v, want ErrNotSupervised", err)
	}
}

func TestClientStatus(t *testing.T) {
	unitDir := newMockUnit(t, 4323, 'u')

	client, err := NewClient(unitDir)
	if err != nil {
		t.Fatal(err)
	}

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StateRunning {
		t.Errorf("State = %v, want running", status.State)
	}
	if status.PID != 4323 {
		t.Errorf("PID = %d, want 4323", status.PID)
	}
	if status.Since.IsZero() {
		t.Error("Since is zero, want set")
	}
}

func TestClientStatusTruncated(t *testing.T) {
	unitDir := newMockUnit(t, 0, 'd')

	path := filepath.Join(unitDir, SuperviseDir, StatusFile)
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}

	client, err := NewClient(unitDir)
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Status(context.Background())
	if !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestClientControlBytes(t *testing.T) {
	unitDir := newMockUnit(t, 4323, 'u')
	received := serveControl(t, unitDir)

	client, err := NewClient(unitDir)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tests := []struct {
		name string
		call func(context.Context) error
		want byte
	}{
		{"up", client.Up, 'u'},
		{"once", client.Once, 'o'},
		{"down", client.Down, 'd'},
		{"term", client.Term, 't'},
		{"interrupt", client.Interrupt, 'i'},
		{"hup", client.HUP, 'h'},
		{"kill", client.Kill, 'k'},
		{"exit", client.ExitSupervise, 'x'},
		{"start alias", client.Start, 'u'},
		{"stop alias", client.Stop, 'd'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(ctx); err != nil {
				t.Fatal(err)
			}
			select {
			case b := <-received:
				if b != tt.want {
					t.Errorf("control byte = %q, want %q", b, tt.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("no control byte received")
			}
		})
	}
}

func TestClientSendNoEndpoint(t *testing.T) {
	unitDir := newMockUnit(t, 0, 'd')

	client, err := NewClient(unitDir,
		WithMaxAttempts(2),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}

	err = client.Up(context.Background())
	if err == nil {
		t.Fatal("expected error without a control endpoint")
	}

	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %T, want *OpError", err)
	}
	if opErr.Op != OpUp {
		t.Errorf("Op = %v, want up", opErr.Op)
	}
}

func TestClientSendContextCancelled(t *testing.T) {
	unitDir := newMockUnit(t, 0, 'd')

	client, err := NewClient(unitDir,
		WithMaxAttempts(100),
		WithBackoff(50*time.Millisecond, time.Second),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = client.Up(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("send did not honor context cancellation, took %v", elapsed)
	}
}

func TestClientOptions(t *testing.T) {
	unitDir := newMockUnit(t, 0, 'd')

	client, err := NewClient(unitDir,
		WithDialTimeout(3*time.Second),
		WithWriteTimeout(4*time.Second),
		WithReadTimeout(5*time.Second),
		WithBackoff(time.Millisecond, time.Minute),
		WithMaxAttempts(7),
		WithWatchDebounce(time.Second),
	)
	if err != nil {
		t.Fatal(err)
	}

	if client.DialTimeout != 3*time.Second {
		t.Errorf("DialTimeout = %v", client.DialTimeout)
	}
	if client.WriteTimeout != 4*time.Second {
		t.Errorf("WriteTimeout = %v", client.WriteTimeout)
	}
	if client.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", client.ReadTimeout)
	}
	if client.BackoffMin != time.Millisecond || client.BackoffMax != time.Minute {
		t.Errorf("Backoff = %v/%v", client.BackoffMin, client.BackoffMax)
	}
	if client.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d", client.MaxAttempts)
	}
	if client.WatchDebounce != time.Second {
		t.Errorf("WatchDebounce = %v", client.WatchDebounce)
	}
}
