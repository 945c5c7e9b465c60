// Package store persists the run history in a local SQLite database, one
// row per finished run. The coordinator appends records as runs complete;
// the history command reads them back.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bmindur/d3df-digitizer-soft/internal/campaign"
	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

// History is the run-history database handle. Safe for concurrent use;
// writes are serialized on a single connection.
type History struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc.org/sqlite serializes best over one connection.
	db.SetMaxOpenConns(1)

	h := &History{db: db, path: path}
	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) initialize() error {
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := h.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		repeat INTEGER NOT NULL,
		state TEXT NOT NULL,
		hv REAL,
		threshold REAL,
		started_at DATETIME NOT NULL,
		acq_start DATETIME,
		ended_at DATETIME NOT NULL,
		events INTEGER NOT NULL DEFAULT 0,
		rate REAL NOT NULL DEFAULT 0,
		info_path TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_campaign ON runs(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// AppendRun stores one finished run. Implements campaign.RunSink.
func (h *History) AppendRun(campaignID string, rec campaign.RunRecord) error {
	var acqStart any
	if rec.AcqStart != nil {
		acqStart = rec.AcqStart.UTC()
	}
	_, err := h.db.Exec(`
		INSERT INTO runs (campaign_id, iteration, repeat, state, hv, threshold,
			started_at, acq_start, ended_at, events, rate, info_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		campaignID, rec.Iteration, rec.Repeat, string(rec.State),
		nullFloat(rec.HV), nullFloat(rec.Threshold),
		rec.StartedAt.UTC(), acqStart, rec.EndedAt.UTC(),
		rec.Events, rec.Rate, nullString(rec.InfoPath), nullString(rec.Error))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	logging.Store("appended run: campaign=%s iter=%d repeat=%d state=%s",
		campaignID, rec.Iteration, rec.Repeat, rec.State)
	return nil
}

// StoredRun is one persisted run row.
type StoredRun struct {
	ID         int64
	CampaignID string
	Record     campaign.RunRecord
}

// Runs returns the runs of one campaign in insertion order. An empty
// campaignID returns the most recent runs across all campaigns, newest
// first, capped at limit (0 = no cap).
func (h *History) Runs(campaignID string, limit int) ([]StoredRun, error) {
	query := `
		SELECT id, campaign_id, iteration, repeat, state, hv, threshold,
			started_at, acq_start, ended_at, events, rate, info_path, error
		FROM runs`
	var args []any
	if campaignID != "" {
		query += " WHERE campaign_id = ? ORDER BY id"
		args = append(args, campaignID)
	} else {
		query += " ORDER BY id DESC"
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []StoredRun
	for rows.Next() {
		var (
			r         StoredRun
			state     string
			hv, thr   sql.NullFloat64
			acqStart  sql.NullTime
			info, msg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.Record.Iteration,
			&r.Record.Repeat, &state, &hv, &thr, &r.Record.StartedAt,
			&acqStart, &r.Record.EndedAt, &r.Record.Events, &r.Record.Rate,
			&info, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Record.State = campaign.RunState(state)
		if hv.Valid {
			r.Record.HV = &hv.Float64
		}
		if thr.Valid {
			r.Record.Threshold = &thr.Float64
		}
		if acqStart.Valid {
			t := acqStart.Time
			r.Record.AcqStart = &t
		}
		r.Record.InfoPath = info.String
		r.Record.Error = msg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Campaigns summarizes the stored campaigns, newest first.
type CampaignSummary struct {
	CampaignID string
	Runs       int
	Completed  int
	FirstRun   time.Time
	LastRun    time.Time
}

// Campaigns lists every campaign with run counts.
func (h *History) Campaigns() ([]CampaignSummary, error) {
	rows, err := h.db.Query(`
		SELECT campaign_id, COUNT(*),
			SUM(CASE WHEN state = ? THEN 1 ELSE 0 END),
			MIN(started_at), MAX(ended_at)
		FROM runs GROUP BY campaign_id ORDER BY MAX(ended_at) DESC`,
		string(campaign.StateCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var out []CampaignSummary
	for rows.Next() {
		var s CampaignSummary
		if err := rows.Scan(&s.CampaignID, &s.Runs, &s.Completed, &s.FirstRun, &s.LastRun); err != nil {
			return nil, fmt.Errorf("failed to scan campaign summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
