package acquisition

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives /bin/sh")
	}
}

func TestLaunchStreamsCombinedOutput(t *testing.T) {
	requireUnix(t)

	p, err := ExecLauncher{}.Launch(LaunchSpec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo out1; echo err1 1>&2; echo out2"},
	})
	require.NoError(t, err)

	var lines []string
	for line := range p.Lines() {
		lines = append(lines, line)
	}
	require.NoError(t, p.Wait(5*time.Second))

	// stdout and stderr end up in one stream; relative order of the two
	// streams is not guaranteed, content is.
	assert.ElementsMatch(t, []string{"out1", "err1", "out2"}, lines)
	assert.False(t, p.Alive())
}

func TestLaunchMissingExecutable(t *testing.T) {
	_, err := ExecLauncher{}.Launch(LaunchSpec{Executable: "/nonexistent/acq-binary"})
	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "/nonexistent/acq-binary", le.Executable)
}

func TestQuitReachesStdin(t *testing.T) {
	requireUnix(t)

	// The script exits as soon as it reads the first quit character.
	p, err := ExecLauncher{}.Launch(LaunchSpec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "read line; echo got $line"},
	})
	require.NoError(t, err)

	require.NoError(t, p.Quit())

	var lines []string
	for line := range p.Lines() {
		lines = append(lines, line)
	}
	require.NoError(t, p.Wait(5*time.Second))
	assert.Equal(t, []string{"got q"}, lines)
}

func TestWaitTimesOutWhileAlive(t *testing.T) {
	requireUnix(t)

	p, err := ExecLauncher{}.Launch(LaunchSpec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "sleep 30"},
	})
	require.NoError(t, err)
	defer func() {
		_ = p.Kill()
		_ = p.Wait(5 * time.Second)
		for range p.Lines() {
		}
	}()

	err = p.Wait(50 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
	assert.True(t, p.Alive())
}

func TestTerminateStopsProcess(t *testing.T) {
	requireUnix(t)

	p, err := ExecLauncher{}.Launch(LaunchSpec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "sleep 30"},
	})
	require.NoError(t, err)

	require.NoError(t, p.Terminate())
	err = p.Wait(5 * time.Second)
	// A signal death surfaces as an ExitError, not a wait failure.
	assert.NotErrorIs(t, err, ErrWaitTimeout)
	assert.False(t, p.Alive())
	for range p.Lines() {
	}
}
