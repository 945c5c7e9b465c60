package campaign

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bmindur/d3df-digitizer-soft/internal/acquisition"
	"github.com/bmindur/d3df-digitizer-soft/internal/instrument"
	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

// Coordinator owns the live campaign registry. Each started campaign gets
// its own worker goroutine; the coordinator itself never blocks on one.
type Coordinator struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign

	commander    instrument.Commander
	newCommander func(addr InstrumentAddress) instrument.Commander
	launcher     acquisition.Launcher
	prepare      PrepareFunc
	sink         RunSink
	settings     Settings
	retries      int
	retryWait    time.Duration
}

// CoordinatorConfig wires a Coordinator's collaborators. Commander,
// Launcher and Prepare are required. Sink is optional.
type CoordinatorConfig struct {
	Commander instrument.Commander
	Launcher  acquisition.Launcher
	Prepare   PrepareFunc
	Sink      RunSink

	// NewCommander builds a bus commander for a campaign that carries its
	// own instrument addressing. Nil means every campaign shares Commander.
	NewCommander func(addr InstrumentAddress) instrument.Commander

	Settings  Settings
	Retries   int
	RetryWait time.Duration
}

// NewCoordinator constructs an empty registry.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Commander == nil {
		return nil, fmt.Errorf("coordinator: nil instrument commander")
	}
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("coordinator: nil acquisition launcher")
	}
	if cfg.Prepare == nil {
		return nil, fmt.Errorf("coordinator: nil prepare func")
	}
	if cfg.Settings.LogBufferSize <= 0 {
		cfg.Settings.LogBufferSize = 10000
	}
	return &Coordinator{
		campaigns:    make(map[string]*Campaign),
		commander:    cfg.Commander,
		newCommander: cfg.NewCommander,
		launcher:     cfg.Launcher,
		prepare:      cfg.Prepare,
		sink:         cfg.Sink,
		settings:     cfg.Settings,
		retries:      cfg.Retries,
		retryWait:    cfg.RetryWait,
	}, nil
}

// Start plans and launches a campaign, returning it immediately while the
// worker runs in the background.
func (co *Coordinator) Start(spec Spec) (*Campaign, error) {
	if spec.Executable == "" {
		return nil, fmt.Errorf("campaign: no acquisition executable")
	}
	plan := BuildPlan(spec.HVSequence, spec.Thresholds, spec.Repeat)

	c := &Campaign{
		id:             uuid.NewString(),
		spec:           spec,
		plan:           plan,
		settings:       co.settings,
		startTime:      time.Now(),
		running:        true,
		state:          StatePlanned,
		launcher:       co.launcher,
		prepare:        co.prepare,
		sink:           co.sink,
		logGeneral:     NewLogBuffer(co.settings.LogBufferSize),
		logInstrument:  NewLogBuffer(co.settings.LogBufferSize),
		logAcquisition: NewLogBuffer(co.settings.LogBufferSize),
		done:           make(chan struct{}),
	}
	commander := co.commander
	if co.newCommander != nil && !spec.Instrument.Empty() {
		commander = co.newCommander(spec.Instrument)
	}
	c.gateway = instrument.NewGateway(instrument.GatewayConfig{
		Commander:  commander,
		Retries:    co.retries,
		RetryDelay: co.retryWait,
		Sink:       c.logInstrument.Push,
	})

	co.mu.Lock()
	co.campaigns[c.id] = c
	co.mu.Unlock()

	logging.Campaign("coordinator: started campaign %s (%d runs planned)", c.id, plan.TotalRuns())
	go c.run()
	return c, nil
}

// Get looks up a campaign by id.
func (co *Coordinator) Get(id string) (*Campaign, bool) {
	co.mu.RLock()
	defer co.mu.RUnlock()
	c, ok := co.campaigns[id]
	return c, ok
}

// List returns all known campaigns, finished ones included, ordered by
// start time.
func (co *Coordinator) List() []*Campaign {
	co.mu.RLock()
	out := make([]*Campaign, 0, len(co.campaigns))
	for _, c := range co.campaigns {
		out = append(out, c)
	}
	co.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].startTime.Before(out[j].startTime)
	})
	return out
}

// Stop cancels one campaign and waits for its worker to exit.
func (co *Coordinator) Stop(id string) error {
	c, ok := co.Get(id)
	if !ok {
		return fmt.Errorf("campaign: unknown id %s", id)
	}
	c.Stop()
	<-c.Done()
	return nil
}

// StopAll cancels every running campaign concurrently and waits for all
// workers to exit.
func (co *Coordinator) StopAll() error {
	var g errgroup.Group
	for _, c := range co.List() {
		c := c
		g.Go(func() error {
			c.Stop()
			<-c.Done()
			return nil
		})
	}
	return g.Wait()
}
