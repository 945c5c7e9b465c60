package runinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func waitForPath(t *testing.T, w *Watcher, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got, ok := <-w.Paths():
			require.True(t, ok, "watcher closed before %s was seen", want)
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestWatcherSeesInfoFileInRoot(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := Watch(dir)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "2025-01-17_10-30-00_run_info.txt")
	require.NoError(t, os.WriteFile(path, []byte("Events: 1\n"), 0o644))

	waitForPath(t, w, path)
}

func TestWatcherFollowsNewRunDirectory(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := Watch(dir)
	require.NoError(t, err)
	defer w.Close()

	runDir := filepath.Join(dir, "2025-01-17_11-00-00")
	require.NoError(t, os.Mkdir(runDir, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(runDir, "2025-01-17_11-00-00_run_info.txt")
	require.NoError(t, os.WriteFile(path, []byte("Events: 1\n"), 0o644))

	waitForPath(t, w, path)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := Watch(dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "wave_0_0.dat"), []byte("x"), 0o644))
	select {
	case p, ok := <-w.Paths():
		if ok {
			t.Fatalf("unexpected path %s", p)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := Watch(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
