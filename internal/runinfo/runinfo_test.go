package runinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInfo(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFindLatestInRunDirectory(t *testing.T) {
	dir := t.TempDir()
	writeInfo(t, dir, "2025-01-17_10-30-00_run_info.txt", "old")
	want := writeInfo(t, dir, "2025-01-17_11-00-00_run_info.txt", "new")

	got, err := FindLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindLatestDescendsRunSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeInfo(t, filepath.Join(dir, "2025-01-17_10-30-00"),
		"2025-01-17_10-30-00_run_info.txt", "old")
	want := writeInfo(t, filepath.Join(dir, "2025-01-17_11-00-00"),
		"2025-01-17_11-00-00_run_info.txt", "new")

	got, err := FindLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindLatestFallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	older := writeInfo(t, dir, "a_run_info.txt", "a")
	want := writeInfo(t, dir, "b_run_info.txt", "b")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	got, err := FindLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindLatestNoFiles(t *testing.T) {
	_, err := FindLatest(t.TempDir())
	assert.Error(t, err)

	_, err = FindLatest(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPrependSetup(t *testing.T) {
	dir := t.TempDir()
	path := writeInfo(t, dir, "2025-01-17_10-30-00_run_info.txt",
		"Events: 12345\nDuration: 600 s\n")

	setup := Setup{
		PMT:          "R7600U-200",
		PMTHV:        "1800 V",
		Source:       "Sr-90",
		Scintillator: "BC-404 5x5x50mm",
	}
	require.NoError(t, PrependSetup(path, setup))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(content)
	assert.Contains(t, s, "=== SETUP ===")
	assert.Contains(t, s, "PMT: R7600U-200")
	assert.Contains(t, s, "PMT_HV: 1800 V")
	assert.Contains(t, s, "SOURCE: Sr-90")
	assert.Contains(t, s, "SCINTILATOR: BC-404 5x5x50mm")
	assert.Contains(t, s, "Events: 12345", "original content preserved")
	assert.True(t, len(s) > 0 && s[0] == '=', "setup block comes first")
}

func TestPrependSetupIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeInfo(t, dir, "x_run_info.txt", "Events: 1\n")
	setup := Setup{PMT: "R7600U-200"}

	require.NoError(t, PrependSetup(path, setup))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, PrependSetup(path, setup))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPrependSetupSkipsEmptySetup(t *testing.T) {
	dir := t.TempDir()
	path := writeInfo(t, dir, "x_run_info.txt", "Events: 1\n")

	require.NoError(t, PrependSetup(path, Setup{}))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Events: 1\n", string(content))
}

func TestPrependSetupMissingFile(t *testing.T) {
	err := PrependSetup(filepath.Join(t.TempDir(), "nope_run_info.txt"), Setup{PMT: "x"})
	assert.Error(t, err)
}
