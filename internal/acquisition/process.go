// Package acquisition owns the contract with the external acquisition
// program (WaveDemo_x743): it is invoked with a string-argument list,
// exposes a writable input stream plus one combined output stream, accepts a
// best-effort one-character cooperative quit command, and supports forced
// terminate and kill.
package acquisition

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

// ErrWaitTimeout is returned by Process.Wait when the process has not
// exited within the given grace period.
var ErrWaitTimeout = errors.New("timed out waiting for acquisition process")

// LaunchError indicates the acquisition executable could not be spawned.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// LaunchSpec describes one acquisition run.
type LaunchSpec struct {
	Executable string
	Args       []string
	Dir        string // working directory, empty = inherit
}

// Process is a handle on a live acquisition child process.
type Process interface {
	// Lines yields the combined stdout+stderr of the child line by line.
	// The channel closes when the output stream closes.
	Lines() <-chan string

	// Quit writes the cooperative quit command ("q", twice, newline
	// terminated) to the child's stdin and flushes it.
	Quit() error

	// Terminate sends the termination signal.
	Terminate() error

	// Kill forcibly kills the process.
	Kill() error

	// Wait blocks until the process exits or the timeout elapses, in
	// which case it returns ErrWaitTimeout.
	Wait(timeout time.Duration) error

	// Alive reports whether the process has not yet exited.
	Alive() bool
}

// Launcher spawns acquisition processes. The campaign worker holds a
// Launcher so tests can substitute a scripted child.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// ExecLauncher launches real processes with os/exec.
type ExecLauncher struct{}

// Launch starts the acquisition executable and begins streaming its output.
func (ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Executable: spec.Executable, Err: err}
	}

	// One combined output stream, exactly what the text-scanning
	// supervisor expects.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, &LaunchError{Executable: spec.Executable, Err: err}
	}
	logging.Acquisition("launched %s (pid %d)", spec.Executable, cmd.Process.Pid)

	p := &execProcess{
		cmd:   cmd,
		stdin: bufio.NewWriter(stdin),
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		close(p.lines)
	}()

	go func() {
		err := cmd.Wait()
		pw.Close()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
		logging.AcquisitionDebug("process %d exited: %v", cmd.Process.Pid, err)
	}()

	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin *bufio.Writer
	lines chan string
	done  chan struct{}

	mu      sync.Mutex
	waitErr error
}

func (p *execProcess) Lines() <-chan string { return p.lines }

func (p *execProcess) Quit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.stdin.WriteString("q\nq\n"); err != nil {
		return err
	}
	return p.stdin.Flush()
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait(timeout time.Duration) error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.waitErr
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
