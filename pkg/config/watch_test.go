package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherEmitsReloadOnWrite(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	w := NewWatcher(path)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"\nmax_in_flight: 16\n"), 0644))

	select {
	case doc := <-w.Changes:
		require.Equal(t, 16, doc.MaxInFlight)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
