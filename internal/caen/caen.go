// Package caen speaks the CAEN HV module's text protocol over a serial
// line. Commands look like
//
//	$BD:00,CMD:MON,CH:1,PAR:VMON
//	$BD:00,CMD:SET,CH:1,PAR:VSET,VAL:1800.0
//
// and the module answers with a short text frame whose payload follows the
// last colon. The package implements instrument.Commander; the orchestrator
// never sees protocol details, only command/parameter pairs.
package caen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

// Client sends commands to one CAEN HV module over a serial device.
// A fresh port is opened per command; the module's protocol is strictly
// request/response and the bus gateway already serializes callers.
type Client struct {
	Device   string        // serial device path or name
	Baudrate int           // typically 9600
	Timeout  time.Duration // read timeout per transaction
	Board    string        // board address in the frame, e.g. "00"
	Channel  string        // HV channel, e.g. "1"
}

// BuildCommand renders the command frame without the trailing CRLF.
func BuildCommand(board, channel, cmd, par string, val *float64) string {
	base := fmt.Sprintf("$BD:%s,CMD:%s,CH:%s,PAR:%s", board, cmd, channel, par)
	if val != nil {
		base += ",VAL:" + strconv.FormatFloat(*val, 'f', -1, 64)
	}
	return base
}

// ParseResponse extracts the payload from a raw response frame: the text
// after the last colon of the first line, trimmed. An empty frame stays
// empty.
func ParseResponse(raw string) string {
	out := strings.TrimSpace(raw)
	if out == "" {
		return ""
	}
	if i := strings.LastIndex(out, ":"); i >= 0 {
		out = out[i+1:]
	}
	if j := strings.IndexByte(out, '\n'); j >= 0 {
		out = out[:j]
	}
	return strings.TrimSpace(out)
}

// Send issues one command and returns the parsed response payload.
func (c *Client) Send(cmd, par string, val *float64) (string, error) {
	command := BuildCommand(c.Board, c.Channel, cmd, par, val)
	logging.InstrumentDebug("serial tx %s: %s", c.Device, command)

	// The module expects XON/XOFF software flow control, which
	// go.bug.st/serial does not expose. The frames are short enough that
	// neither side ever fills a buffer, so the port runs without it.
	mode := &serial.Mode{
		BaudRate: c.Baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(c.Device, mode)
	if err != nil {
		return "", fmt.Errorf("serial open failed: %w", err)
	}
	defer port.Close()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return "", fmt.Errorf("serial configure failed: %w", err)
	}

	if _, err := port.Write([]byte(command + "\r\n")); err != nil {
		return "", fmt.Errorf("serial write failed: %w", err)
	}

	// The module answers within the read timeout; collect bytes until the
	// line terminator or until the port goes quiet.
	var buf []byte
	chunk := make([]byte, 64)
	for {
		n, err := port.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("serial read failed: %w", err)
		}
		if n == 0 {
			break // read timeout, transmission over
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) > 0 && buf[len(buf)-1] == '\n' {
			break
		}
	}

	resp := ParseResponse(string(buf))
	logging.InstrumentDebug("serial rx %s: %q", c.Device, resp)
	return resp, nil
}
