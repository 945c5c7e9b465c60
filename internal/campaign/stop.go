package campaign

import (
	"time"

	"github.com/bmindur/d3df-digitizer-soft/internal/acquisition"
	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

// StopTimings controls the escalating cancellation ladder. Zero values
// fall back to the defaults below.
type StopTimings struct {
	QuitWait time.Duration // grace after the cooperative quit command
	TermWait time.Duration // grace after SIGTERM
	KillWait time.Duration // reap window after SIGKILL
	Poll     time.Duration // liveness poll interval
}

func (t StopTimings) withDefaults() StopTimings {
	if t.QuitWait <= 0 {
		t.QuitWait = 5 * time.Second
	}
	if t.TermWait <= 0 {
		t.TermWait = 3 * time.Second
	}
	if t.KillWait <= 0 {
		t.KillWait = 1 * time.Second
	}
	if t.Poll <= 0 {
		t.Poll = 500 * time.Millisecond
	}
	return t
}

// Stop requests campaign cancellation. It clears the running flag first so
// no further iteration starts, then escalates against the child process
// currently acquiring, if any: cooperative quit over stdin, SIGTERM,
// SIGKILL. Safe to call more than once and from multiple goroutines; only
// the first call escalates, later calls return immediately.
func (c *Campaign) Stop() {
	c.mu.Lock()
	c.running = false
	proc := c.proc
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		c.escalate(proc)
	})
}

func (c *Campaign) escalate(proc acquisition.Process) {
	if proc == nil || !proc.Alive() {
		return
	}
	t := c.settings.Stop.withDefaults()

	c.logLine(c.logGeneral, "stop requested, sending quit command")
	if err := proc.Quit(); err != nil {
		c.logLine(c.logGeneral, "quit command failed: "+err.Error())
	}
	if waitGone(proc, t.QuitWait, t.Poll) {
		c.logLine(c.logGeneral, "acquisition exited after quit command")
		return
	}

	c.logLine(c.logGeneral, "acquisition still alive, sending SIGTERM")
	logging.Campaign("campaign %s: escalating stop to SIGTERM", c.id)
	c.noteForcedStop("acquisition ignored quit, terminated")
	if err := proc.Terminate(); err != nil {
		c.logLine(c.logGeneral, "SIGTERM failed: "+err.Error())
	}
	if waitGone(proc, t.TermWait, t.Poll) {
		c.logLine(c.logGeneral, "acquisition exited after SIGTERM")
		return
	}

	c.logLine(c.logGeneral, "acquisition still alive, sending SIGKILL")
	logging.Campaign("campaign %s: escalating stop to SIGKILL", c.id)
	c.noteForcedStop("acquisition ignored quit and terminate, killed")
	if err := proc.Kill(); err != nil {
		c.logLine(c.logGeneral, "SIGKILL failed: "+err.Error())
	}
	if err := proc.Wait(t.KillWait); err != nil {
		c.logLine(c.logGeneral, "acquisition did not reap after SIGKILL: "+err.Error())
		return
	}
	c.logLine(c.logGeneral, "acquisition exited after SIGKILL")
}

func (c *Campaign) noteForcedStop(reason string) {
	c.mu.Lock()
	c.forcedStop = reason
	c.mu.Unlock()
}

// waitGone polls liveness until the process exits or the grace period
// elapses.
func waitGone(proc acquisition.Process, grace, poll time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !proc.Alive() {
			return true
		}
		time.Sleep(poll)
	}
	return !proc.Alive()
}
