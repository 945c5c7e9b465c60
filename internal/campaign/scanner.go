package campaign

import (
	"regexp"
	"strconv"
	"strings"
)

// The acquisition program reports progress as free-form text. The
// extractors below pull structured facts out of single lines; they are
// pure so the supervisor can apply updates under its own lock.
var (
	// "Acquisition started. Press 's' to stop..."
	acqStartedRe = regexp.MustCompile(`(?i)acquisition started`)

	// "All files in: /data/output/2025-01-17_10-30-00"
	infoDirRe = regexp.MustCompile(`All files in:\s*(\S.*?)\s*$`)

	// "Batch mode progress: 42/600 seconds, 12345 events"
	batchProgressRe = regexp.MustCompile(`Batch mode progress:\s*(\d+)/(\d+)\s*seconds,\s*(\d+)\s*events`)

	// "| 9.44 Hz   12.3%   4.5%   12345" (trigger rate, busy, saturation,
	// event count). The unit prefix scales the rate.
	throughputRe = regexp.MustCompile(`\|\s*([\d.]+)\s*([KM]?)Hz\s+[\d.]+%\s+[\d.]+%\s+(\d+)`)
)

// lineFacts is what a single output line contributed, if anything.
type lineFacts struct {
	acqStarted bool

	infoDir    string
	hasInfoDir bool

	events    int64
	hasEvents bool

	elapsed    int // seconds, from batch progress
	budget     int // seconds, from batch progress
	hasElapsed bool

	rate    float64
	hasRate bool
}

// scanLine runs the extractors over one line of child output. Later
// extractors still run after an earlier one matched: a line can in
// principle carry more than one fact.
func scanLine(line string) lineFacts {
	var f lineFacts

	if acqStartedRe.MatchString(line) {
		f.acqStarted = true
	}

	if m := infoDirRe.FindStringSubmatch(line); m != nil {
		f.infoDir = strings.TrimSpace(m[1])
		f.hasInfoDir = f.infoDir != ""
	}

	if m := batchProgressRe.FindStringSubmatch(line); m != nil {
		elapsed, err1 := strconv.Atoi(m[1])
		budget, err2 := strconv.Atoi(m[2])
		events, err3 := strconv.ParseInt(m[3], 10, 64)
		if err1 == nil && err2 == nil && err3 == nil {
			f.elapsed = elapsed
			f.budget = budget
			f.hasElapsed = true
			f.events = events
			f.hasEvents = true
		}
	}

	if m := throughputRe.FindStringSubmatch(line); m != nil {
		rate, err1 := strconv.ParseFloat(m[1], 64)
		events, err2 := strconv.ParseInt(m[3], 10, 64)
		if err1 == nil && err2 == nil {
			switch m[2] {
			case "K":
				rate *= 1e3
			case "M":
				rate *= 1e6
			}
			f.rate = rate
			f.hasRate = true
			f.events = events
			f.hasEvents = true
		}
	}

	return f
}
