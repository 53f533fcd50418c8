package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherDebouncesBurstOfWrites(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	go w.Run()

	require.NoError(t, w.Add(dir))

	path := filepath.Join(dir, "module.go")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package m"), 0o644))
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case ev := <-w.Events():
		require.Equal(t, path, ev.Path)
		require.Greater(t, ev.Coalesced, 0)
	case <-time.After(time.Second):
		t.Fatal("expected a debounced event")
	}
}
