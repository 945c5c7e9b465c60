package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bmindur/d3df-digitizer-soft/internal/acqconfig"
	"github.com/bmindur/d3df-digitizer-soft/internal/acquisition"
	"github.com/bmindur/d3df-digitizer-soft/internal/caen"
	"github.com/bmindur/d3df-digitizer-soft/internal/campaign"
	"github.com/bmindur/d3df-digitizer-soft/internal/instrument"
	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
	"github.com/bmindur/d3df-digitizer-soft/internal/runinfo"
	"github.com/bmindur/d3df-digitizer-soft/internal/store"
)

var (
	hvList            string
	thresholdList     string
	repeatCount       int
	maxTime           int
	maxEvents         int
	channelThresholds string
	tagArgs           []string
	setupPMT          string
	setupSource       string
	setupScintillator string
	hvDevice          string
	hvBaudrate        int
	hvTimeout         time.Duration
	hvChannel         string
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Plan and run measurement campaigns",
}

var measurePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the run grid a campaign would execute",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hv, thr, err := parseSweeps()
		if err != nil {
			return err
		}
		plan := campaign.BuildPlan(hv, thr, repeatCount)

		fmt.Printf("%-5s %-12s %-12s\n", "#", "HV [V]", "THRESHOLD [V]")
		for i, it := range plan.Iterations {
			fmt.Printf("%-5d %-12s %-12s\n", i+1, fmtOpt(it.HV, "%.1f"), fmtOpt(it.Threshold, "%.3f"))
		}
		if plan.Unbounded() {
			fmt.Printf("\n%d iterations per repeat, repeated until stopped\n", len(plan.Iterations))
		} else {
			fmt.Printf("\n%d iterations x %d repeats = %d runs\n",
				len(plan.Iterations), plan.Repeats, plan.TotalRuns())
		}
		return nil
	},
}

var measureRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a measurement campaign",
	Long: `Runs the full campaign: for every planned HV/threshold combination the
HV is set and settled, the acquisition configuration is generated and the
acquisition program launched. Progress is reported from its output.
Ctrl-C stops the campaign, shutting the acquisition down gracefully.`,
	Args: cobra.NoArgs,
	RunE: runCampaign,
}

func runCampaign(cmd *cobra.Command, args []string) error {
	spec, err := buildSpec()
	if err != nil {
		return err
	}

	var sink campaign.RunSink
	if cfg.Campaign.HistoryDB != "" {
		h, err := store.Open(cfg.Campaign.HistoryDB)
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer h.Close()
		sink = h
	}

	co, err := campaign.NewCoordinator(campaign.CoordinatorConfig{
		Commander:    newCommander(),
		NewCommander: commanderFor,
		Launcher:     acquisition.ExecLauncher{},
		Prepare:      prepareAcquisition,
		Sink:         sink,
		Retries:      cfg.Instrument.Retries,
		RetryWait:    cfg.RetryDelay(),
		Settings: campaign.Settings{
			SettleTolerance: cfg.Campaign.SettleTolerance,
			SettlePoll:      cfg.SettlePoll(),
			BusTimeout:      cfg.BusTimeout(),
			LogBufferSize:   cfg.Campaign.LogBufferSize,
		},
	})
	if err != nil {
		return err
	}

	watcher := watchRunInfo(spec.DataOutput)
	if watcher != nil {
		defer watcher.Close()
	}

	c, err := co.Start(spec)
	if err != nil {
		return err
	}
	logger.Info("campaign started",
		zap.String("id", c.ID()),
		zap.Int("planned_runs", campaign.BuildPlan(spec.HVSequence, spec.Thresholds, spec.Repeat).TotalRuns()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			printSummary(c.Snapshot())
			return nil
		case <-sig:
			fmt.Println("\nStopping campaign...")
			c.Stop()
			<-c.Done()
			printSummary(c.Snapshot())
			return nil
		case <-ticker.C:
			printStatus(c.Snapshot())
		}
	}
}

// prepareAcquisition generates the per-run INI and assembles the child's
// argument list.
func prepareAcquisition(spec campaign.Spec, it campaign.Iteration) ([]string, error) {
	overrides := map[string]any{
		"DATAFILE_PATH": spec.DataOutput,
		"BATCH_MODE":    spec.BatchMode,
	}
	if spec.MaxEvents > 0 {
		overrides["BATCH_MAX_EVENTS"] = spec.MaxEvents
	}
	if spec.MaxTime > 0 {
		overrides["BATCH_MAX_TIME"] = spec.MaxTime
	}
	if it.Threshold != nil {
		overrides["TRIGGER_THRESHOLD"] = *it.Threshold
	}

	channels := make(map[acqconfig.ChannelKey]map[string]any)
	for key, v := range spec.ChannelThresholds {
		ck, err := acqconfig.ParseChannelKey(key)
		if err != nil {
			return nil, err
		}
		channels[ck] = map[string]any{"TRIGGER_THRESHOLD": v}
	}

	iniPath := filepath.Join(spec.DataOutput, "WaveDemoConfig.generated.ini")
	if err := acqconfig.Generate(spec.ConfigYAML, iniPath, overrides, channels); err != nil {
		return nil, err
	}

	cmdArgs := []string{iniPath,
		"--batch-mode", strconv.Itoa(spec.BatchMode),
		"--output-path", spec.DataOutput}
	cmdArgs = append(cmdArgs, spec.Tags...)
	return cmdArgs, nil
}

// commanderFor builds the protocol client for a campaign that carries its
// own instrument addressing, filling unset fields from the configuration.
func commanderFor(addr campaign.InstrumentAddress) instrument.Commander {
	cl := &caen.Client{
		Device:   addr.Device,
		Baudrate: addr.Baudrate,
		Timeout:  addr.Timeout,
		Board:    addr.Board,
		Channel:  addr.Channel,
	}
	if cl.Device == "" {
		cl.Device = cfg.Instrument.Device
	}
	if cl.Baudrate <= 0 {
		cl.Baudrate = cfg.Instrument.Baudrate
	}
	if cl.Timeout <= 0 {
		cl.Timeout = cfg.BusTimeout()
	}
	if cl.Board == "" {
		cl.Board = cfg.Instrument.Board
	}
	if cl.Channel == "" {
		cl.Channel = cfg.Instrument.Channel
	}
	return cl
}

// watchRunInfo reports run info files as the acquisition creates them.
// Failure to watch is not fatal; discovery still happens at run end.
func watchRunInfo(dir string) *runinfo.Watcher {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	w, err := runinfo.Watch(dir)
	if err != nil {
		logging.Acquisition("run info watcher unavailable: %v", err)
		return nil
	}
	go func() {
		for path := range w.Paths() {
			logger.Info("run info file written", zap.String("path", path))
		}
	}()
	return w
}

func buildSpec() (campaign.Spec, error) {
	hv, thr, err := parseSweeps()
	if err != nil {
		return campaign.Spec{}, err
	}
	chans, err := parseChannelThresholds(channelThresholds)
	if err != nil {
		return campaign.Spec{}, err
	}

	spec := campaign.Spec{
		HVSequence:        hv,
		Thresholds:        thr,
		Repeat:            repeatCount,
		MaxEvents:         maxEvents,
		MaxTime:           maxTime,
		Executable:        cfg.Acquisition.Executable,
		ConfigYAML:        cfg.Acquisition.ConfigYAML,
		DataOutput:        cfg.Acquisition.DataOutput,
		BatchMode:         cfg.Acquisition.BatchMode,
		ChannelThresholds: chans,
		Tags:              tagArgs,
		Instrument: campaign.InstrumentAddress{
			Device:   hvDevice,
			Baudrate: hvBaudrate,
			Timeout:  hvTimeout,
			Channel:  hvChannel,
		},
		MaxLaunchFailures: cfg.Campaign.MaxLaunchFailures,
		Setup: runinfo.Setup{
			PMT:          setupPMT,
			Source:       setupSource,
			Scintillator: setupScintillator,
		},
	}
	if len(hv) > 0 {
		spec.Setup.PMTHV = fmt.Sprintf("%.0f V", hv[0])
	}
	if spec.MaxEvents == 0 {
		spec.MaxEvents = cfg.Acquisition.MaxEvents
	}
	if spec.MaxTime == 0 {
		spec.MaxTime = cfg.Acquisition.MaxTime
	}
	return spec, nil
}

func parseSweeps() (hv, thr []float64, err error) {
	if hv, err = parseFloats(hvList); err != nil {
		return nil, nil, fmt.Errorf("bad --hv list: %w", err)
	}
	if thr, err = parseFloats(thresholdList); err != nil {
		return nil, nil, fmt.Errorf("bad --threshold list: %w", err)
	}
	return hv, thr, nil
}

func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseChannelThresholds parses "0:0=-0.1,0:1=-0.2".
func parseChannelThresholds(s string) (map[string]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, fmt.Errorf("bad channel threshold %q (want board:channel=volts)", part)
		}
		if _, err := acqconfig.ParseChannelKey(key); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("bad channel threshold %q: %w", part, err)
		}
		out[key] = v
	}
	return out, nil
}

func printStatus(s campaign.Snapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] run %d", s.State, s.RunsStarted)
	if s.TotalRuns > 0 {
		fmt.Fprintf(&b, "/%d", s.TotalRuns)
	}
	if s.CurrentHV != nil {
		fmt.Fprintf(&b, "  HV %.1f V", *s.CurrentHV)
	}
	if s.CurrentThreshold != nil {
		fmt.Fprintf(&b, "  thr %.3f V", *s.CurrentThreshold)
	}
	fmt.Fprintf(&b, "  events %d", s.Events)
	if s.Rate > 0 {
		fmt.Fprintf(&b, "  %.2f Hz", s.Rate)
	}
	if s.RunRemaining != nil {
		fmt.Fprintf(&b, "  run ends in %.0fs", *s.RunRemaining)
	}
	if s.Remaining != nil {
		fmt.Fprintf(&b, "  est. remaining %.0fs", *s.Remaining)
	}
	fmt.Println(b.String())
}

func printSummary(s campaign.Snapshot) {
	fmt.Printf("\nCampaign %s finished: %d runs\n", s.ID, len(s.History))
	fmt.Printf("%-5s %-10s %-10s %-12s %-10s %-10s\n",
		"#", "HV [V]", "THR [V]", "STATE", "EVENTS", "RATE [Hz]")
	for i, r := range s.History {
		fmt.Printf("%-5d %-10s %-10s %-12s %-10d %-10.2f\n",
			i+1, fmtOpt(r.HV, "%.1f"), fmtOpt(r.Threshold, "%.3f"),
			r.State, r.Events, r.Rate)
	}
}

func fmtOpt(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func init() {
	for _, c := range []*cobra.Command{measurePlanCmd, measureRunCmd} {
		c.Flags().StringVar(&hvList, "hv", "", "comma-separated HV setpoints in volts")
		c.Flags().StringVar(&thresholdList, "threshold", "", "comma-separated trigger thresholds in volts")
		c.Flags().IntVar(&repeatCount, "repeat", 0, "sweep repetitions (-1 = until stopped)")
	}
	measureRunCmd.Flags().IntVar(&maxTime, "max-time", 0, "per-run time budget in seconds (0 = config default)")
	measureRunCmd.Flags().IntVar(&maxEvents, "max-events", 0, "per-run event budget (0 = config default)")
	measureRunCmd.Flags().StringVar(&channelThresholds, "channel-thresholds", "",
		"per-channel overrides like 0:0=-0.1,0:1=-0.2")
	measureRunCmd.Flags().StringArrayVar(&tagArgs, "tag", nil,
		"extra arguments forwarded to the acquisition program")
	measureRunCmd.Flags().StringVar(&setupPMT, "pmt", "HAMAMATSU_R4998", "PMT model for the run info header")
	measureRunCmd.Flags().StringVar(&setupSource, "source", "BKG", "source label for the run info header")
	measureRunCmd.Flags().StringVar(&setupScintillator, "scintilator", "RMPS470",
		"scintillator label for the run info header")
	measureRunCmd.Flags().StringVar(&hvDevice, "hv-device", "",
		"serial device of the HV module (default from config)")
	measureRunCmd.Flags().IntVar(&hvBaudrate, "hv-baudrate", 0,
		"HV serial baud rate (default from config)")
	measureRunCmd.Flags().DurationVar(&hvTimeout, "hv-timeout", 0,
		"HV bus read timeout (default from config)")
	measureRunCmd.Flags().StringVar(&hvChannel, "hv-channel", "",
		"HV output channel (default from config)")

	measureCmd.AddCommand(measurePlanCmd)
	measureCmd.AddCommand(measureRunCmd)
}
