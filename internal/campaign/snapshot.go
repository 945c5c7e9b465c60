package campaign

import "time"

// Snapshot is a point-in-time view of a campaign, safe to serialize. All
// durations are seconds.
type Snapshot struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`

	State            RunState `json:"state"`
	CurrentHV        *float64 `json:"current_hv,omitempty"`
	CurrentThreshold *float64 `json:"current_threshold,omitempty"`

	Iteration     int `json:"iteration"` // 0-based within the repeat
	IterationsPer int `json:"iterations_per_repeat"`
	Repeat        int `json:"repeat"`  // 0-based
	Repeats       int `json:"repeats"` // -1 when unbounded
	TotalRuns     int `json:"total_runs"`
	RunsStarted   int `json:"runs_started"`

	Elapsed float64 `json:"elapsed"` // since campaign start

	// Per-run progress, present only while a run is acquiring with an
	// observed start marker and a configured time budget.
	RunElapsed   *float64 `json:"run_elapsed,omitempty"`
	RunRemaining *float64 `json:"run_remaining,omitempty"`

	// Whole-campaign estimate; nil when the plan is unbounded.
	Remaining *float64 `json:"remaining,omitempty"`

	Events   int64   `json:"events"`
	Rate     float64 `json:"rate"`
	LastLine string  `json:"last_line,omitempty"`

	History []RunRecord `json:"history"`

	Log            []string `json:"log"`
	InstrumentLog  []string `json:"instrument_log"`
	AcquisitionLog []string `json:"acquisition_log"`
}

// Snapshot captures the campaign state. The buffers and history are
// copied, so the result does not alias campaign internals.
func (c *Campaign) Snapshot() Snapshot {
	now := time.Now()

	c.mu.Lock()
	s := Snapshot{
		ID:               c.id,
		Running:          c.running,
		State:            c.state,
		CurrentHV:        c.currentHV,
		CurrentThreshold: c.currentThreshold,
		Iteration:        c.iteration,
		IterationsPer:    len(c.plan.Iterations),
		Repeat:           c.repeatIndex,
		Repeats:          c.plan.Repeats,
		TotalRuns:        c.plan.TotalRuns(),
		RunsStarted:      c.runsStarted,
		Elapsed:          now.Sub(c.startTime).Seconds(),
		Events:           c.events,
		Rate:             c.rate,
		LastLine:         c.lastLine,
		History:          append([]RunRecord(nil), c.history...),
	}
	acqStart := c.acqStart
	acquiring := c.state == StateAcquiring
	maxTime := c.spec.MaxTime
	c.mu.Unlock()

	if acquiring && !acqStart.IsZero() && maxTime > 0 {
		elapsed := now.Sub(acqStart).Seconds()
		remaining := float64(maxTime) - elapsed
		if remaining < 0 {
			remaining = 0
		}
		s.RunElapsed = &elapsed
		s.RunRemaining = &remaining
	}

	s.Remaining = c.estimateRemaining(s)

	s.Log = c.logGeneral.Lines()
	s.InstrumentLog = c.logInstrument.Lines()
	s.AcquisitionLog = c.logAcquisition.Lines()
	return s
}

// estimateRemaining projects the campaign's remaining wall time from the
// average duration of finished runs, falling back to the configured per-run
// budget before any run has finished. Unbounded plans have no estimate.
func (c *Campaign) estimateRemaining(s Snapshot) *float64 {
	if s.Repeats < 0 {
		return nil
	}
	if !s.Running {
		zero := 0.0
		return &zero
	}

	avg := float64(c.spec.MaxTime)
	if n := len(s.History); n > 0 {
		var sum float64
		for _, r := range s.History {
			sum += r.TotalDuration().Seconds()
		}
		avg = sum / float64(n)
	}

	doneInRepeat := 0
	for _, r := range s.History {
		if r.Repeat == s.Repeat {
			doneInRepeat++
		}
	}
	inProgress := !s.State.Terminal() && s.RunsStarted > 0
	leftInRepeat := s.IterationsPer - doneInRepeat
	if inProgress && leftInRepeat > 0 {
		leftInRepeat--
	}
	futureRuns := leftInRepeat + s.IterationsPer*(s.Repeats-s.Repeat-1)

	est := float64(futureRuns) * avg
	if inProgress {
		if s.RunRemaining != nil {
			est += *s.RunRemaining
		} else {
			est += avg
		}
	}
	if est < 0 {
		est = 0
	}
	return &est
}
