//go:build linux

package supervise

import (
	"context"
	"os"
	"testing"
)

func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestClientSendReleasesDescriptors(t *testing.T) {
	unitDir := newMockUnit(t, 4323, 'u')
	received := serveControl(t, unitDir)

	client, err := NewClient(unitDir)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	before := openFDs(t)

	for i := 0; i < 200; i++ {
		if err := client.Up(ctx); err != nil {
			t.Fatal(err)
		}
		<-received
	}

	// Every control connection must be closed as soon as its attempt is
	// done, so the descriptor count stays flat under sustained sends
	after := openFDs(t)
	if after > before+4 {
		t.Errorf("open fds grew from %d to %d", before, after)
	}
}
