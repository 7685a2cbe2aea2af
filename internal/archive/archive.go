package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sentinelstack/sentinel-engine/internal/models"
	"github.com/sentinelstack/sentinel-engine/internal/utils"
)

const reportsSchema = `
CREATE TABLE IF NOT EXISTS consensus_reports (
    report_id   TEXT PRIMARY KEY,
    epoch       INTEGER NOT NULL,
    status      TEXT NOT NULL,
    summary     TEXT NOT NULL,
    results     TEXT NOT NULL,
    created_at  TEXT NOT NULL
);
`

const reportsIndex = `
CREATE INDEX IF NOT EXISTS idx_consensus_reports_created
ON consensus_reports(created_at DESC);
`

// ErrNotFound signals that no report matches the requested ID.
var ErrNotFound = errors.New("report not found")

// Store persists consensus reports in SQLite so diagnosis history survives
// restarts. Provider results are stored as a JSON column; queries only ever
// filter on the scalar fields.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive at path (":memory:" for tests) and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.NewAppError("archive.open", "open database", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, utils.NewAppError("archive.open", "enable WAL", err)
	}
	for _, stmt := range []string{reportsSchema, reportsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, utils.NewAppError("archive.open", "apply schema", err)
		}
	}
	return &Store{db: db}, nil
}

// StoreReport inserts one consensus report. Replaying a report ID is a
// no-op, so sink retries stay idempotent.
func (s *Store) StoreReport(ctx context.Context, report models.ConsensusReport) error {
	results, err := json.Marshal(report.Results)
	if err != nil {
		return fmt.Errorf("marshal results for %s: %w", report.ReportID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO consensus_reports
		(report_id, epoch, status, summary, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		report.ReportID,
		report.Epoch,
		string(report.Status),
		report.Summary,
		string(results),
		report.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListReports returns up to limit reports, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]models.ConsensusReport, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, epoch, status, summary, results, created_at
		FROM consensus_reports
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]models.ConsensusReport, 0, limit)
	for rows.Next() {
		report, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// GetReport fetches one report by ID, returning ErrNotFound when absent.
func (s *Store) GetReport(ctx context.Context, reportID string) (models.ConsensusReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report_id, epoch, status, summary, results, created_at
		FROM consensus_reports
		WHERE report_id = ?`, reportID)
	report, err := scanReport(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConsensusReport{}, ErrNotFound
	}
	return report, err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func scanReport(scan func(...any) error) (models.ConsensusReport, error) {
	var (
		report    models.ConsensusReport
		status    string
		results   string
		createdAt string
	)
	if err := scan(&report.ReportID, &report.Epoch, &status, &report.Summary, &results, &createdAt); err != nil {
		return models.ConsensusReport{}, err
	}
	report.Status = models.ConsensusStatus(status)
	if err := json.Unmarshal([]byte(results), &report.Results); err != nil {
		return models.ConsensusReport{}, fmt.Errorf("decode results for %s: %w", report.ReportID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return models.ConsensusReport{}, fmt.Errorf("parse created_at for %s: %w", report.ReportID, err)
	}
	report.CreatedAt = ts
	return report, nil
}
