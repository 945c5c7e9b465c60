package campaign

import (
	"errors"
	"fmt"
	"time"

	"github.com/bmindur/d3df-digitizer-soft/internal/acquisition"
	"github.com/bmindur/d3df-digitizer-soft/internal/instrument"
	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
	"github.com/bmindur/d3df-digitizer-soft/internal/runinfo"
)

// reapGrace bounds the wait for the child to be reaped after its output
// stream ends. Missing the deadline is logged, never fatal.
const reapGrace = 5 * time.Second

// run is the campaign worker. It executes the planned iterations repeat by
// repeat until the plan is exhausted or the running flag is cleared. A
// cleared flag lets the iteration in flight finish; Stop tears the child
// down separately.
func (c *Campaign) run() {
	defer close(c.done)
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logging.Campaign("campaign %s: starting, %d iterations per repeat, repeats=%d",
		c.id, len(c.plan.Iterations), c.plan.Repeats)

	for repeat := 0; c.plan.Unbounded() || repeat < c.plan.Repeats; repeat++ {
		c.mu.Lock()
		c.repeatIndex = repeat
		c.mu.Unlock()

		for i, it := range c.plan.Iterations {
			if !c.Running() {
				logging.Campaign("campaign %s: stop requested, not starting iteration %d", c.id, i)
				return
			}
			c.runIteration(repeat, i, it)
			if c.launchBudgetExceeded() {
				c.logLine(c.logGeneral, "aborting campaign: consecutive launch failures exceeded limit")
				logging.Campaign("campaign %s: aborting after %d consecutive launch failures",
					c.id, c.spec.MaxLaunchFailures)
				return
			}
		}
	}
	logging.Campaign("campaign %s: plan exhausted", c.id)
}

// runIteration drives one planned configuration through its state machine:
// set HV, wait for it to settle, launch the acquisition program, follow its
// output, and record the outcome. Iterations without an HV value skip the
// instrument phases entirely.
func (c *Campaign) runIteration(repeat, index int, it Iteration) {
	timer := logging.StartTimer(logging.CategoryCampaign, fmt.Sprintf("iteration %d/%d", repeat, index))
	defer timer.Stop()

	c.beginIteration(repeat, index, it)

	rec := RunRecord{
		Iteration: index,
		Repeat:    repeat,
		HV:        it.HV,
		Threshold: it.Threshold,
		StartedAt: time.Now(),
	}

	if it.HV != nil {
		if ok := c.setAndSettle(*it.HV, &rec); !ok {
			rec.EndedAt = time.Now()
			c.finishIteration(rec)
			return
		}
	}

	// A stop during the instrument phases must not start a child the
	// escalation ladder has already run past.
	if !c.Running() {
		rec.State = StateSkipped
		rec.Error = "campaign stopped before launch"
		rec.EndedAt = time.Now()
		c.finishIteration(rec)
		return
	}

	c.setState(StateLaunching)
	proc, err := c.launch(it)
	if err != nil {
		c.mu.Lock()
		c.launchFailures++
		c.mu.Unlock()
		rec.State = StateFailed
		rec.Error = err.Error()
		rec.EndedAt = time.Now()
		c.logLine(c.logGeneral, "launch failed: "+err.Error())
		logging.Campaign("campaign %s: iteration %d/%d launch failed: %v", c.id, repeat, index, err)
		c.finishIteration(rec)
		return
	}
	c.mu.Lock()
	c.launchFailures = 0
	c.proc = proc
	c.mu.Unlock()
	rec.StartedAt = time.Now()

	c.setState(StateAcquiring)
	c.followOutput(proc)

	if err := proc.Wait(reapGrace); err != nil {
		c.logLine(c.logGeneral, "acquisition process not reaped in time: "+err.Error())
		logging.Campaign("campaign %s: wait after output end: %v", c.id, err)
		// A stop that raced the launch can leave the child without an
		// escalation ladder; do not abandon a live process.
		if !c.Running() && proc.Alive() {
			_ = proc.Kill()
			_ = proc.Wait(time.Second)
		}
	}

	c.mu.Lock()
	rec.Events = c.events
	rec.Rate = c.rate
	if !c.acqStart.IsZero() {
		t := c.acqStart
		rec.AcqStart = &t
	}
	infoDir := c.infoDir
	rec.Error = c.forcedStop
	c.proc = nil
	c.mu.Unlock()

	rec.EndedAt = time.Now()
	rec.State = StateCompleted
	rec.InfoPath = c.annotateRunInfo(infoDir)
	c.finishIteration(rec)
}

// setAndSettle performs the instrument phases. It returns false when the
// iteration must not proceed to launch, with rec filled in accordingly: a
// bus failure fails the iteration, a settle timeout skips it.
func (c *Campaign) setAndSettle(target float64, rec *RunRecord) bool {
	c.setState(StateSettingHV)
	logging.Campaign("campaign %s: setting HV to %.1f V", c.id, target)
	if err := c.gateway.Set(target); err != nil {
		rec.State = StateFailed
		rec.Error = err.Error()
		c.logLine(c.logGeneral, fmt.Sprintf("HV set to %.1f V failed: %v", target, err))
		return false
	}

	c.setState(StateWaitingSettle)
	maxWait := c.settleMaxWait()
	settled, err := c.gateway.Settle(target, c.settings.SettleTolerance, maxWait, c.settings.SettlePoll)
	if settled {
		c.logLine(c.logGeneral, fmt.Sprintf("HV settled at %.1f V", target))
		return true
	}

	var timeout *instrument.SettleTimeoutError
	if errors.As(err, &timeout) {
		rec.State = StateSkipped
		rec.Error = err.Error()
		c.logLine(c.logGeneral, fmt.Sprintf("HV did not settle at %.1f V: %v", target, err))
		logging.Campaign("campaign %s: skipping iteration, HV did not settle: %v", c.id, err)
		return false
	}
	rec.State = StateFailed
	if err != nil {
		rec.Error = err.Error()
	}
	c.logLine(c.logGeneral, fmt.Sprintf("HV readback failed while settling at %.1f V: %v", target, err))
	return false
}

// settleMaxWait scales the settle deadline with the bus timeout so a slow
// serial link is not mistaken for a drifting supply.
func (c *Campaign) settleMaxWait() time.Duration {
	if c.settings.SettleMaxWait > 0 {
		return c.settings.SettleMaxWait
	}
	w := 10 * c.settings.BusTimeout
	if w < 30*time.Second {
		w = 30 * time.Second
	}
	return w
}

func (c *Campaign) launch(it Iteration) (acquisition.Process, error) {
	args, err := c.prepare(c.spec, it)
	if err != nil {
		return nil, fmt.Errorf("prepare acquisition config: %w", err)
	}
	spec := acquisition.LaunchSpec{
		Executable: c.spec.Executable,
		Args:       args,
		Dir:        c.spec.DataOutput,
	}
	c.logLine(c.logGeneral, "launching "+spec.Executable)
	logging.Acquisition("campaign %s: launching %s %v", c.id, spec.Executable, args)
	return c.launcher.Launch(spec)
}

// followOutput consumes the child's output until the stream closes. When
// the running flag is cleared mid-run the loop detaches and drains the
// remainder in the background so the child never blocks on a full pipe.
func (c *Campaign) followOutput(proc acquisition.Process) {
	for line := range proc.Lines() {
		c.applyLine(line)
		if !c.Running() {
			go func() {
				for range proc.Lines() {
				}
			}()
			return
		}
	}
}

// applyLine records one line of child output and folds any extracted
// facts into the live counters.
func (c *Campaign) applyLine(line string) {
	c.logAcquisition.Push(line)
	f := scanLine(line)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLine = line
	if f.acqStarted && c.acqStart.IsZero() {
		c.acqStart = time.Now()
	}
	if f.hasInfoDir {
		c.infoDir = f.infoDir
	}
	if f.hasEvents {
		c.events = f.events
	}
	switch {
	case f.hasRate:
		c.rate = f.rate
	case f.hasElapsed && f.elapsed > 0:
		// Batch progress lines carry no rate; derive one.
		c.rate = float64(f.events) / float64(f.elapsed)
	case c.events > 0:
		// Chatter between progress reports still refreshes the
		// average so the reported rate never goes stale.
		if since := time.Since(c.startTime).Seconds(); since > 0 {
			c.rate = float64(c.events) / since
		}
	}
}

// annotateRunInfo locates the freshest run info file and stamps the
// campaign's setup block into it. Best effort: a missing file only means
// the child never got far enough to write one.
func (c *Campaign) annotateRunInfo(infoDir string) string {
	dir := infoDir
	if dir == "" {
		dir = c.spec.DataOutput
	}
	if dir == "" {
		return ""
	}
	path, err := runinfo.FindLatest(dir)
	if err != nil {
		c.logLine(c.logGeneral, "no run info file found: "+err.Error())
		return ""
	}
	if err := runinfo.PrependSetup(path, c.spec.Setup); err != nil {
		c.logLine(c.logGeneral, "failed to annotate run info file: "+err.Error())
		logging.Campaign("campaign %s: annotate %s: %v", c.id, path, err)
	}
	return path
}

func (c *Campaign) beginIteration(repeat, index int, it Iteration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iteration = index
	c.repeatIndex = repeat
	c.runsStarted++
	c.state = StatePlanned
	c.currentHV = it.HV
	c.currentThreshold = it.Threshold
	c.events = 0
	c.rate = 0
	c.lastLine = ""
	c.acqStart = time.Time{}
	c.infoDir = ""
}

func (c *Campaign) finishIteration(rec RunRecord) {
	c.mu.Lock()
	c.state = rec.State
	c.history = append(c.history, rec)
	c.mu.Unlock()

	c.logLine(c.logGeneral, fmt.Sprintf("iteration %d (repeat %d) finished: %s, %d events",
		rec.Iteration, rec.Repeat, rec.State, rec.Events))
	logging.Campaign("campaign %s: iteration %d/%d -> %s (%d events, %.2f Hz)",
		c.id, rec.Repeat, rec.Iteration, rec.State, rec.Events, rec.Rate)

	if c.sink != nil {
		if err := c.sink.AppendRun(c.id, rec); err != nil {
			logging.Store("campaign %s: persist run record: %v", c.id, err)
		}
	}
}

func (c *Campaign) launchBudgetExceeded() bool {
	if c.spec.MaxLaunchFailures <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launchFailures >= c.spec.MaxLaunchFailures
}

func (c *Campaign) setState(s RunState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// logLine pushes to a ring buffer and mirrors to the category log file.
func (c *Campaign) logLine(buf *LogBuffer, line string) {
	buf.Push(line)
	logging.Campaign("campaign %s: %s", c.id, line)
}
