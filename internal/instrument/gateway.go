// Package instrument provides the gateway to the shared HV instrument bus.
// All reads and writes go through one process-wide lock because the physical
// bus admits a single in-flight transaction no matter how many campaigns or
// manual callers exist.
package instrument

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

// busMu serializes every transaction on the physical instrument bus.
// This is intentionally a package-level lock: there is exactly one bus.
var busMu sync.Mutex

// Commander issues one command on the instrument bus and returns the
// response payload with any frame addressing already stripped.
// Implementations own the addressing (device, board, channel, baud rate,
// timeout).
type Commander interface {
	Send(cmd, par string, val *float64) (string, error)
}

// LineSink receives one human-readable line per bus attempt. The campaign
// wires this to its instrument log buffer.
type LineSink func(line string)

// numberRe extracts the first signed decimal from an instrument response.
var numberRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// GatewayConfig holds construction parameters for a Gateway.
type GatewayConfig struct {
	Commander  Commander
	Retries    int           // attempts per operation (default 10)
	RetryDelay time.Duration // fixed delay between attempts (default 2s)
	Sink       LineSink      // optional
}

// Gateway is the retrying access layer to the HV instrument.
type Gateway struct {
	cmd     Commander
	retries int
	delay   time.Duration
	sink    LineSink

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewGateway creates a Gateway with the given configuration.
func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		cmd:     cfg.Commander,
		retries: cfg.Retries,
		delay:   cfg.RetryDelay,
		sink:    cfg.Sink,
		sleep:   time.Sleep,
	}
	if g.retries <= 0 {
		g.retries = 10
	}
	if g.delay <= 0 {
		g.delay = 2 * time.Second
	}
	return g
}

func (g *Gateway) emit(line string) {
	if g.sink != nil {
		g.sink(line)
	}
}

// transact runs one bus command under the process-wide bus lock with the
// fixed-delay retry policy. A non-nil check validates the response; a
// delivered but unusable response counts as a failed attempt and is
// retried like a bus error. Every attempt is logged.
func (g *Gateway) transact(op, cmd, par string, val *float64, check func(resp string) error) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.retries; attempt++ {
		busMu.Lock()
		resp, err := g.cmd.Send(cmd, par, val)
		busMu.Unlock()
		if err == nil && check != nil {
			err = check(resp)
		}
		if err == nil {
			logging.InstrumentDebug("%s %s/%s attempt %d ok: %q", op, cmd, par, attempt, resp)
			return resp, nil
		}
		lastErr = err
		g.emit("HV " + op + " attempt " + strconv.Itoa(attempt) + "/" + strconv.Itoa(g.retries) + " failed: " + err.Error())
		logging.Instrument("%s %s/%s attempt %d/%d failed: %v", op, cmd, par, attempt, g.retries, err)
		if attempt < g.retries {
			g.sleep(g.delay)
		}
	}
	return "", &CommError{Op: op, Attempts: g.retries, Err: lastErr}
}

// Read returns the monitored HV value (MON VMON). A garbled response is
// retried with the same policy as a bus failure.
func (g *Gateway) Read() (float64, error) {
	var v float64
	_, err := g.transact("read", "MON", "VMON", nil, func(resp string) error {
		parsed, perr := parseValue(resp)
		if perr != nil {
			return perr
		}
		v = parsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	g.emit("HV read: " + strconv.FormatFloat(v, 'f', -1, 64) + " V")
	return v, nil
}

// Set programs the HV setpoint (SET VSET).
func (g *Gateway) Set(value float64) error {
	_, err := g.transact("set", "SET", "VSET", &value, nil)
	if err != nil {
		return err
	}
	g.emit("HV set: " + strconv.FormatFloat(value, 'f', -1, 64) + " V")
	return nil
}

// Send issues a raw command on the bus, single attempt, for manual callers.
func (g *Gateway) Send(cmd, par string, val *float64) (string, error) {
	busMu.Lock()
	defer busMu.Unlock()
	resp, err := g.cmd.Send(cmd, par, val)
	if err != nil {
		return "", &CommError{Op: "send", Attempts: 1, Err: err}
	}
	return resp, nil
}

// Settle polls Read until the measured value is within tolerance of target
// or maxWait elapses. Returns (true, nil) once settled, (false,
// *SettleTimeoutError) on deadline, and (false, err) if the bus itself gave
// up. The poll interval is fixed.
func (g *Gateway) Settle(target, tolerance float64, maxWait, poll time.Duration) (bool, error) {
	start := time.Now()
	var last float64
	for {
		v, err := g.Read()
		if err != nil {
			return false, err
		}
		last = v
		diff := v - target
		if diff < 0 {
			diff = -diff
		}
		g.emit("HV settle: measured " + strconv.FormatFloat(v, 'f', 2, 64) +
			" target " + strconv.FormatFloat(target, 'f', 2, 64))
		if diff <= tolerance {
			logging.Instrument("settled at %.2f V (target %.2f ± %.2f) after %v", v, target, tolerance, time.Since(start))
			return true, nil
		}
		if time.Since(start) >= maxWait {
			logging.Instrument("settle timed out after %v (target %.2f, last %.2f)", maxWait, target, last)
			return false, &SettleTimeoutError{Target: target, Tolerance: tolerance, Last: last, Waited: maxWait}
		}
		g.sleep(poll)
	}
}

// parseValue extracts the numeric reading from a response payload such as
// "1800.2". The Commander strips frame addressing before the payload gets
// here, so the first number in the string is the value itself.
func parseValue(resp string) (float64, error) {
	m := numberRe.FindString(resp)
	if m == "" {
		return 0, fmt.Errorf("no numeric value in response %q", resp)
	}
	return strconv.ParseFloat(m, 64)
}
