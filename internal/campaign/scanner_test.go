package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanLineAcquisitionStarted(t *testing.T) {
	f := scanLine("Acquisition started. Press 's' to stop, 'q' to quit")
	assert.True(t, f.acqStarted)
	assert.False(t, f.hasEvents)

	// Case-insensitive.
	assert.True(t, scanLine("ACQUISITION STARTED").acqStarted)
	assert.False(t, scanLine("Acquisition is stopped").acqStarted)
}

func TestScanLineInfoDir(t *testing.T) {
	f := scanLine("All files in: /data/output/2025-01-17_10-30-00")
	assert.True(t, f.hasInfoDir)
	assert.Equal(t, "/data/output/2025-01-17_10-30-00", f.infoDir)

	f = scanLine(`All files in: C:\data\run 42  `)
	assert.True(t, f.hasInfoDir)
	assert.Equal(t, `C:\data\run 42`, f.infoDir)

	assert.False(t, scanLine("no files here").hasInfoDir)
}

func TestScanLineBatchProgress(t *testing.T) {
	f := scanLine("Batch mode progress: 42/600 seconds, 12345 events")
	assert.True(t, f.hasElapsed)
	assert.Equal(t, 42, f.elapsed)
	assert.Equal(t, 600, f.budget)
	assert.True(t, f.hasEvents)
	assert.Equal(t, int64(12345), f.events)
	assert.False(t, f.hasRate)
}

func TestScanLineThroughput(t *testing.T) {
	f := scanLine("| 9.44 Hz   12.3%   4.5%   12345")
	assert.True(t, f.hasRate)
	assert.InDelta(t, 9.44, f.rate, 1e-9)
	assert.True(t, f.hasEvents)
	assert.Equal(t, int64(12345), f.events)
}

func TestScanLineThroughputUnits(t *testing.T) {
	f := scanLine("| 1.25 KHz   0.0%   0.0%   9000")
	assert.True(t, f.hasRate)
	assert.InDelta(t, 1250.0, f.rate, 1e-6)

	f = scanLine("| 2.0 MHz   0.0%   0.0%   100")
	assert.InDelta(t, 2e6, f.rate, 1e-3)
}

func TestScanLineNoMatch(t *testing.T) {
	for _, line := range []string{
		"",
		"Opening digitizer...",
		"| not a rate line",
		"Batch mode progress: soon",
	} {
		f := scanLine(line)
		assert.False(t, f.acqStarted, "line %q", line)
		assert.False(t, f.hasInfoDir, "line %q", line)
		assert.False(t, f.hasEvents, "line %q", line)
		assert.False(t, f.hasRate, "line %q", line)
	}
}
