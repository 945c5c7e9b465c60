// Package campaign implements the measurement campaign orchestrator: the
// sweep planner, the per-iteration run supervisor, the escalating
// cancellation controller, the progress reporter, and the coordinator that
// owns one background worker per campaign.
//
// A campaign sweeps the HV setpoint and trigger threshold across a planned
// grid, launching the acquisition program once per configuration and
// tracking its progress from text output. No iteration failure aborts a
// campaign on its own; every outcome is recorded for the caller to act on.
package campaign

import (
	"sync"
	"time"

	"github.com/bmindur/d3df-digitizer-soft/internal/acquisition"
	"github.com/bmindur/d3df-digitizer-soft/internal/instrument"
	"github.com/bmindur/d3df-digitizer-soft/internal/runinfo"
)

// RunState is the supervisor state of one iteration.
type RunState string

const (
	StatePlanned       RunState = "planned"
	StateSettingHV     RunState = "setting_hv"
	StateWaitingSettle RunState = "waiting_settle"
	StateLaunching     RunState = "launching"
	StateAcquiring     RunState = "acquiring"
	StateCompleted     RunState = "completed"
	StateSkipped       RunState = "skipped"
	StateFailed        RunState = "failed"
)

// Terminal reports whether the state is a final iteration outcome.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateSkipped || s == StateFailed
}

// InstrumentAddress identifies the HV module one campaign talks to.
// Zero fields fall back to the coordinator's defaults.
type InstrumentAddress struct {
	Device   string        `json:"device,omitempty"`
	Baudrate int           `json:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Board    string        `json:"board,omitempty"`
	Channel  string        `json:"channel,omitempty"`
}

// Empty reports whether no addressing was supplied at all.
func (a InstrumentAddress) Empty() bool {
	return a == InstrumentAddress{}
}

// Spec is the caller-supplied description of one campaign.
type Spec struct {
	// Sweep definition. An empty sequence means "do not touch this
	// parameter".
	HVSequence []float64 `json:"hv_sequence,omitempty"`
	Thresholds []float64 `json:"thresholds,omitempty"`

	// Repeat policy: 0/unset = 1, N>0 = N, -1 = unbounded.
	Repeat int `json:"repeat,omitempty"`

	// Per-run budgets handed to the acquisition program (0 = unlimited).
	MaxEvents int `json:"max_events,omitempty"`
	MaxTime   int `json:"max_time,omitempty"` // seconds

	// Acquisition child process.
	Executable string `json:"executable"`
	ConfigYAML string `json:"config_yaml"`
	DataOutput string `json:"data_output"`
	BatchMode  int    `json:"batch_mode"`

	// Per-channel trigger threshold overrides, "board:channel" -> volts.
	ChannelThresholds map[string]float64 `json:"channel_thresholds,omitempty"`

	// Opaque metadata arguments forwarded unmodified to the child process.
	Tags []string `json:"tags,omitempty"`

	// Instrument addressing for this campaign. Left empty, the campaign
	// shares the coordinator's default bus commander.
	Instrument InstrumentAddress `json:"instrument,omitempty"`

	// Setup block written into the run info file after each run.
	Setup runinfo.Setup `json:"setup"`

	// Consecutive child-launch failures before the campaign aborts
	// (0 = keep going forever).
	MaxLaunchFailures int `json:"max_launch_failures,omitempty"`
}

// RunRecord is the immutable record of one attempted iteration. It is
// created when the run finishes and appended to the campaign history.
type RunRecord struct {
	Iteration int      `json:"iteration"` // index within the repeat, 0-based
	Repeat    int      `json:"repeat"`    // repeat index, 0-based
	State     RunState `json:"state"`     // completed, skipped or failed

	HV        *float64 `json:"hv,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`

	StartedAt time.Time  `json:"started_at"`          // child launch time
	AcqStart  *time.Time `json:"acq_start,omitempty"` // first acquisition-start marker
	EndedAt   time.Time  `json:"ended_at"`

	Events int64   `json:"events"`
	Rate   float64 `json:"rate"`

	InfoPath string `json:"info_path,omitempty"` // run info file, when discovered
	Error    string `json:"error,omitempty"`
}

// TotalDuration is the wall time from child launch to run end.
func (r RunRecord) TotalDuration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// MeasuredDuration is the acquisition time net of setup and launch
// overhead. Without an observed acquisition-start marker it equals
// TotalDuration.
func (r RunRecord) MeasuredDuration() time.Duration {
	if r.AcqStart == nil {
		return r.TotalDuration()
	}
	return r.EndedAt.Sub(*r.AcqStart)
}

// RunSink receives completed RunRecords, e.g. for persistence.
type RunSink interface {
	AppendRun(campaignID string, rec RunRecord) error
}

// PrepareFunc produces the argument list for one acquisition launch, for
// example by generating an INI file with the iteration's threshold
// overrides. It runs in the worker goroutine, outside the campaign lock.
type PrepareFunc func(spec Spec, it Iteration) (args []string, err error)

// Settings are the orchestration knobs a campaign runs with, resolved from
// the application configuration by the coordinator.
type Settings struct {
	SettleTolerance float64
	SettlePoll      time.Duration
	SettleMaxWait   time.Duration // 0 = derive from BusTimeout
	BusTimeout      time.Duration
	LogBufferSize   int
	Stop            StopTimings
}

// Campaign is one orchestrated sweep. All mutable fields are guarded by mu,
// which is only ever held for short field reads and writes; no I/O happens
// under the lock.
type Campaign struct {
	mu sync.Mutex

	id        string
	spec      Spec
	plan      Plan
	settings  Settings
	startTime time.Time

	running     bool
	state       RunState
	iteration   int // 0-based index within the current repeat
	repeatIndex int // 0-based
	runsStarted int // total across repeats

	currentHV        *float64
	currentThreshold *float64

	// Live counters for the run in progress.
	events   int64
	rate     float64
	lastLine string
	acqStart time.Time // zero until the start marker is seen
	infoDir  string

	proc           acquisition.Process
	launchFailures int    // consecutive
	forcedStop     string // how far the stop escalation had to go, if beyond quit

	history []RunRecord

	logGeneral     *LogBuffer
	logInstrument  *LogBuffer
	logAcquisition *LogBuffer

	gateway  *instrument.Gateway
	launcher acquisition.Launcher
	prepare  PrepareFunc
	sink     RunSink

	stopOnce sync.Once
	done     chan struct{}
}

// ID returns the campaign id.
func (c *Campaign) ID() string { return c.id }

// Done is closed when the worker goroutine has finished.
func (c *Campaign) Done() <-chan struct{} { return c.done }

// Running reports whether the campaign is still executing iterations.
func (c *Campaign) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
