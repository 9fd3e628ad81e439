package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

// ClaimRun atomically claims the (location, hour_bucket) slot by inserting
// a Running row. The UNIQUE constraint is the idempotency gate: when a row
// already exists the insert affects zero rows and an IdempotencyConflict is
// returned, so two concurrently triggered cycles for the same hour never
// both proceed.
func (s *Store) ClaimRun(run *wx.Run) error {
	result, err := s.db.Exec(
		`INSERT INTO runs (id, location, hour_bucket, started_at, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(location, hour_bucket) DO NOTHING`,
		run.ID,
		run.Location,
		formatTime(run.HourBucket),
		formatTime(run.StartedAt),
		string(wx.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to claim run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run claim: %w", err)
	}
	if affected == 0 {
		return &wx.IdempotencyConflict{
			Location:   run.Location,
			HourBucket: formatTime(run.HourBucket),
		}
	}

	run.Status = wx.RunRunning
	s.logger.Info("Claimed run slot",
		logger.String("run_id", run.ID),
		logger.String("hour_bucket", formatTime(run.HourBucket)))

	return nil
}

// FinishRun records a run's terminal state, outcomes and counts
func (s *Store) FinishRun(run *wx.Run) error {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}
	errsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE runs
		SET finished_at = ?, status = ?, outcomes_json = ?, raw_count = ?, point_count = ?, errors_json = ?
		WHERE id = ?`,
		formatTimePtr(run.FinishedAt),
		string(run.Status),
		string(outcomes),
		run.RawCount,
		run.PointCount,
		string(errsJSON),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

// GetRun looks up a run by id
func (s *Store) GetRun(id string) (*wx.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, location, hour_bucket, started_at, finished_at, status, outcomes_json, raw_count, point_count, errors_json
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// GetRuns returns the most recent runs, newest first
func (s *Store) GetRuns(limit int) ([]*wx.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, location, hour_bucket, started_at, finished_at, status, outcomes_json, raw_count, point_count, errors_json
		FROM runs ORDER BY hour_bucket DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*wx.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func scanRun(row rowScanner) (*wx.Run, error) {
	var run wx.Run
	var hourBucket, startedAt, status string
	var finishedAt, outcomesJSON, errorsJSON *string

	if err := row.Scan(
		&run.ID,
		&run.Location,
		&hourBucket,
		&startedAt,
		&finishedAt,
		&status,
		&outcomesJSON,
		&run.RawCount,
		&run.PointCount,
		&errorsJSON,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = wx.RunStatus(status)

	var err error
	if run.HourBucket, err = parseTime(hourBucket); err != nil {
		return nil, fmt.Errorf("failed to parse hour_bucket: %w", err)
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	if outcomesJSON != nil && *outcomesJSON != "" {
		if err := json.Unmarshal([]byte(*outcomesJSON), &run.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
		}
	}
	if errorsJSON != nil && *errorsJSON != "" {
		if err := json.Unmarshal([]byte(*errorsJSON), &run.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}

	return &run, nil
}
