package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bmindur/d3df-digitizer-soft/internal/caen"
	"github.com/bmindur/d3df-digitizer-soft/internal/instrument"
)

var (
	settleTolerance float64
	settleMaxWait   time.Duration
)

var hvCmd = &cobra.Command{
	Use:   "hv",
	Short: "Control the PMT high voltage module",
}

var hvSetCmd = &cobra.Command{
	Use:   "set [volts]",
	Short: "Set the HV setpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volts, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("bad voltage %q: %w", args[0], err)
		}
		gw := newGateway()
		if err := gw.Set(volts); err != nil {
			return err
		}
		logger.Info("HV setpoint written", zap.Float64("volts", volts))
		fmt.Printf("HV set to %.1f V\n", volts)
		return nil
	},
}

var hvReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read back the measured HV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newGateway().Read()
		if err != nil {
			return err
		}
		fmt.Printf("VMON: %.1f V\n", v)
		return nil
	},
}

var hvSettleCmd = &cobra.Command{
	Use:   "settle [volts]",
	Short: "Set the HV and wait until the readback settles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("bad voltage %q: %w", args[0], err)
		}
		gw := newGateway()
		if err := gw.Set(target); err != nil {
			return err
		}
		tol := settleTolerance
		if tol <= 0 {
			tol = cfg.Campaign.SettleTolerance
		}
		if _, err := gw.Settle(target, tol, settleMaxWait, cfg.SettlePoll()); err != nil {
			return err
		}
		fmt.Printf("HV settled at %.1f V\n", target)
		return nil
	},
}

var hvSendCmd = &cobra.Command{
	Use:   "send [CMD] [PAR] [VAL]",
	Short: "Send a raw command frame to the HV module",
	Long: `Sends one raw protocol command without retries, e.g.:

  d3df hv send MON VMON
  d3df hv send SET VSET 1800`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var val *float64
		if len(args) == 3 {
			v, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("bad value %q: %w", args[2], err)
			}
			val = &v
		}
		resp, err := newGateway().Send(args[0], args[1], val)
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

func init() {
	hvSettleCmd.Flags().Float64Var(&settleTolerance, "tolerance", 0,
		"settle tolerance in volts (default from config)")
	hvSettleCmd.Flags().DurationVar(&settleMaxWait, "max-wait", 30*time.Second,
		"maximum time to wait for the readback to settle")

	hvCmd.AddCommand(hvSetCmd)
	hvCmd.AddCommand(hvReadCmd)
	hvCmd.AddCommand(hvSettleCmd)
	hvCmd.AddCommand(hvSendCmd)
}

// newCommander builds the serial protocol client from the configuration.
func newCommander() instrument.Commander {
	return &caen.Client{
		Device:   cfg.Instrument.Device,
		Baudrate: cfg.Instrument.Baudrate,
		Timeout:  cfg.BusTimeout(),
		Board:    cfg.Instrument.Board,
		Channel:  cfg.Instrument.Channel,
	}
}

func newGateway() *instrument.Gateway {
	return instrument.NewGateway(instrument.GatewayConfig{
		Commander:  newCommander(),
		Retries:    cfg.Instrument.Retries,
		RetryDelay: cfg.RetryDelay(),
	})
}
