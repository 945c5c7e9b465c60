package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmindur/d3df-digitizer-soft/internal/campaign"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func sampleRecord(iter int, state campaign.RunState) campaign.RunRecord {
	hv := 1800.0
	thr := -0.1
	start := time.Date(2025, 1, 17, 10, 30, 0, 0, time.UTC).Add(time.Duration(iter) * time.Minute)
	acq := start.Add(2 * time.Second)
	return campaign.RunRecord{
		Iteration: iter,
		State:     state,
		HV:        &hv,
		Threshold: &thr,
		StartedAt: start,
		AcqStart:  &acq,
		EndedAt:   start.Add(30 * time.Second),
		Events:    12345,
		Rate:      9.44,
		InfoPath:  "/data/run_info.txt",
	}
}

func TestAppendAndReadBack(t *testing.T) {
	h := openTestHistory(t)

	require.NoError(t, h.AppendRun("camp-1", sampleRecord(0, campaign.StateCompleted)))
	require.NoError(t, h.AppendRun("camp-1", sampleRecord(1, campaign.StateSkipped)))

	runs, err := h.Runs("camp-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	first := runs[0].Record
	assert.Equal(t, 0, first.Iteration)
	assert.Equal(t, campaign.StateCompleted, first.State)
	require.NotNil(t, first.HV)
	assert.Equal(t, 1800.0, *first.HV)
	require.NotNil(t, first.AcqStart)
	assert.Equal(t, int64(12345), first.Events)
	assert.InDelta(t, 9.44, first.Rate, 1e-9)
	assert.Equal(t, "/data/run_info.txt", first.InfoPath)

	assert.Equal(t, campaign.StateSkipped, runs[1].Record.State)
}

func TestRunsNullableFields(t *testing.T) {
	h := openTestHistory(t)

	rec := campaign.RunRecord{
		State:     campaign.StateFailed,
		StartedAt: time.Now().UTC(),
		EndedAt:   time.Now().UTC(),
		Error:     "launch refused",
	}
	require.NoError(t, h.AppendRun("camp-2", rec))

	runs, err := h.Runs("camp-2", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0].Record
	assert.Nil(t, got.HV)
	assert.Nil(t, got.Threshold)
	assert.Nil(t, got.AcqStart)
	assert.Empty(t, got.InfoPath)
	assert.Equal(t, "launch refused", got.Error)
}

func TestRunsFiltersByCampaign(t *testing.T) {
	h := openTestHistory(t)

	require.NoError(t, h.AppendRun("a", sampleRecord(0, campaign.StateCompleted)))
	require.NoError(t, h.AppendRun("b", sampleRecord(0, campaign.StateCompleted)))
	require.NoError(t, h.AppendRun("a", sampleRecord(1, campaign.StateCompleted)))

	runs, err := h.Runs("a", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	all, err := h.Runs("", 2)
	require.NoError(t, err)
	require.Len(t, all, 2, "limit applies")
	assert.Equal(t, "a", all[0].CampaignID, "newest first across campaigns")
}

func TestCampaignSummaries(t *testing.T) {
	h := openTestHistory(t)

	require.NoError(t, h.AppendRun("a", sampleRecord(0, campaign.StateCompleted)))
	require.NoError(t, h.AppendRun("a", sampleRecord(1, campaign.StateFailed)))
	require.NoError(t, h.AppendRun("b", sampleRecord(0, campaign.StateCompleted)))

	sums, err := h.Campaigns()
	require.NoError(t, err)
	require.Len(t, sums, 2)

	byID := map[string]CampaignSummary{}
	for _, s := range sums {
		byID[s.CampaignID] = s
	}
	assert.Equal(t, 2, byID["a"].Runs)
	assert.Equal(t, 1, byID["a"].Completed)
	assert.Equal(t, 1, byID["b"].Runs)
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	h, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, h.AppendRun("a", sampleRecord(0, campaign.StateCompleted)))
	require.NoError(t, h.Close())

	h2, err := Open(path)
	require.NoError(t, err)
	defer h2.Close()
	runs, err := h2.Runs("a", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
