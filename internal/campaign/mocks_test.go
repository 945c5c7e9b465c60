package campaign

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bmindur/d3df-digitizer-soft/internal/acquisition"
)

// fakeProcess scripts the child's output stream and records which
// cancellation signals it received. dieOn picks the first signal the fake
// honors, so each escalation rung can be exercised; "" ends the stream as
// soon as the script is consumed.
type fakeProcess struct {
	mu       sync.Mutex
	lines    chan string
	alive    bool
	quits    int
	terms    int
	kills    int
	dieOn    string // "quit", "term", "kill" or ""
	exitOnce sync.Once
}

func newFakeProcess(script []string, dieOn string) *fakeProcess {
	p := &fakeProcess{
		lines: make(chan string, len(script)+1),
		alive: true,
		dieOn: dieOn,
	}
	for _, l := range script {
		p.lines <- l
	}
	if dieOn == "" {
		p.exit()
	}
	return p
}

func (p *fakeProcess) exit() {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.alive = false
		p.mu.Unlock()
		close(p.lines)
	})
}

func (p *fakeProcess) Lines() <-chan string { return p.lines }

func (p *fakeProcess) Quit() error {
	p.mu.Lock()
	p.quits++
	p.mu.Unlock()
	if p.dieOn == "quit" {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terms++
	p.mu.Unlock()
	if p.dieOn == "term" {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProcess) Wait(timeout time.Duration) error {
	select {
	case <-time.After(timeout):
		return acquisition.ErrWaitTimeout
	default:
	}
	if p.Alive() {
		return acquisition.ErrWaitTimeout
	}
	return nil
}

func (p *fakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProcess) signals() (quits, terms, kills int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quits, p.terms, p.kills
}

// fakeLauncher hands out scripted processes in order and can refuse the
// first N launches.
type fakeLauncher struct {
	mu        sync.Mutex
	procs     []*fakeProcess
	launched  []acquisition.LaunchSpec
	failFirst int
}

var errLaunchRefused = errors.New("launch refused")

func (l *fakeLauncher) Launch(spec acquisition.LaunchSpec) (acquisition.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failFirst > 0 {
		l.failFirst--
		return nil, errLaunchRefused
	}
	l.launched = append(l.launched, spec)
	if len(l.procs) == 0 {
		return newFakeProcess(nil, ""), nil
	}
	p := l.procs[0]
	l.procs = l.procs[1:]
	return p, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

// fakeCommander answers every bus command with the current VMON readback,
// updated by SET, so settle succeeds on the first poll.
type fakeCommander struct {
	mu    sync.Mutex
	vmon  float64
	calls []string
	err   error
}

func (f *fakeCommander) Send(cmd, par string, val *float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd+"/"+par)
	if f.err != nil {
		return "", f.err
	}
	if cmd == "SET" && val != nil {
		f.vmon = *val
	}
	// Commanders return the parsed payload, not the raw frame.
	return fmt.Sprintf("%.2f", f.vmon), nil
}

func (f *fakeCommander) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var errBusDown = errors.New("serial port gone")

// stuckCommander reports a fixed readback no matter what was set, so
// settling never succeeds.
type stuckCommander struct {
	inner *fakeCommander
}

func (s stuckCommander) Send(cmd, par string, val *float64) (string, error) {
	s.inner.mu.Lock()
	s.inner.calls = append(s.inner.calls, cmd+"/"+par)
	vmon := s.inner.vmon
	s.inner.mu.Unlock()
	return fmt.Sprintf("%.2f", vmon), nil
}

// echoPrepare is the simplest PrepareFunc: it encodes the iteration into
// plain arguments without touching the filesystem.
func echoPrepare(spec Spec, it Iteration) ([]string, error) {
	args := []string{spec.ConfigYAML}
	if it.Threshold != nil {
		args = append(args, fmt.Sprintf("--threshold=%.2f", *it.Threshold))
	}
	args = append(args, spec.Tags...)
	return args, nil
}
