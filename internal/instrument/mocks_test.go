package instrument

import (
	"errors"
	"sync"
)

// --- fakeCommander ---

// fakeCommander replays a scripted sequence of responses/errors and records
// every command it receives.
type fakeCommander struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []fakeCall
	// repeatLast keeps returning the final response once the script runs out.
	repeatLast bool
}

type fakeCall struct {
	cmd string
	par string
	val *float64
}

var errScriptExhausted = errors.New("no scripted response left")

func (f *fakeCommander) Send(cmd, par string, val *float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{cmd: cmd, par: par, val: val})

	i := len(f.calls) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if f.repeatLast && len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return "", errScriptExhausted
}

func (f *fakeCommander) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
