package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/yegors/wxbench/internal/wx"
)

// StoreRawPayload appends a captured HTTP exchange and returns its id.
// The content hash is computed here so callers can't forget it.
func (s *Store) StoreRawPayload(payload *wx.RawPayload) (int64, error) {
	sum := sha256.Sum256(payload.Body)
	payload.SHA256 = hex.EncodeToString(sum[:])

	result, err := s.db.Exec(
		`INSERT INTO raw_payloads
		(provider, endpoint, run_at_utc, request_url, response_status, body, sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(payload.Provider),
		payload.Endpoint,
		formatTime(payload.RunAt),
		payload.RequestURL,
		payload.ResponseStatus,
		payload.Body,
		payload.SHA256,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert raw payload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	payload.ID = id

	return id, nil
}

// GetRawPayload looks up one raw payload by id. DataPoints reference
// payloads by this id only; the reference is weak and a rollback may have
// removed the row, in which case sql.ErrNoRows is returned.
func (s *Store) GetRawPayload(id int64) (*wx.RawPayload, error) {
	row := s.db.QueryRow(
		`SELECT id, provider, endpoint, run_at_utc, request_url, response_status, body, sha256
		FROM raw_payloads WHERE id = ?`, id)

	var payload wx.RawPayload
	var provider, runAt string
	if err := row.Scan(
		&payload.ID,
		&provider,
		&payload.Endpoint,
		&runAt,
		&payload.RequestURL,
		&payload.ResponseStatus,
		&payload.Body,
		&payload.SHA256,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan raw payload: %w", err)
	}

	payload.Provider = wx.Provider(provider)
	parsed, err := parseTime(runAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run_at: %w", err)
	}
	payload.RunAt = parsed

	return &payload, nil
}

// CountRawPayloads returns the number of stored payloads, used by tests and
// the inspection API.
func (s *Store) CountRawPayloads() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM raw_payloads`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count raw payloads: %w", err)
	}
	return count, nil
}
