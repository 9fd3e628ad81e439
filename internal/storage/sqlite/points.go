package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

// naturalKey builds the idempotency key for a data point:
// (provider, product_kind, metric_type, valid_start|observed_at, lead_offset).
// Observations have no lead component and use "-".
func naturalKey(p *wx.DataPoint) string {
	lead := "-"
	if p.LeadOffset != nil {
		lead = fmt.Sprintf("%d", *p.LeadOffset)
	}
	return strings.Join([]string{
		string(p.Provider),
		string(p.ProductKind),
		p.MetricType,
		formatTime(p.EffectiveTime()),
		lead,
	}, "|")
}

// StoreDataPoints bulk-upserts a batch of readings inside one transaction,
// keyed by the natural key. Re-ingesting the same content produces no new
// rows; on conflict the value columns win but the original raw_id is
// retained so the first captured payload stays referenced. A reading that
// fails a model invariant is rejected, logged and excluded; its siblings
// still commit. Only a storage failure rolls the whole batch back, so a
// partial write is never observable.
func (s *Store) StoreDataPoints(points []wx.DataPoint) (int, []error, error) {
	if len(points) == 0 {
		return 0, nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO data_points (
			natural_key, raw_id, provider, product_kind, metric_type,
			value_num, value_text, unit, value_raw, unit_raw,
			observed_at_utc, valid_start_utc, valid_end_utc, issued_at_utc, run_at_utc,
			local_day, lead_unit, lead_offset, lead_label, lead_day_index,
			station, latitude, longitude, source_field, quality_flag
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(natural_key) DO UPDATE SET
			value_num = excluded.value_num,
			value_text = excluded.value_text,
			value_raw = excluded.value_raw,
			unit_raw = excluded.unit_raw,
			quality_flag = excluded.quality_flag
	`)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	var rejected []error
	for i := range points {
		p := &points[i]
		if err := p.Validate(); err != nil {
			rejected = append(rejected, err)
			s.logger.Warn("Rejected invalid data point",
				logger.String("provider", string(p.Provider)),
				logger.String("metric_type", p.MetricType),
				logger.Error(err))
			continue
		}

		_, err := stmt.Exec(
			naturalKey(p),
			p.RawID,
			string(p.Provider),
			string(p.ProductKind),
			p.MetricType,
			p.ValueNum,
			p.ValueText,
			nullIfEmpty(p.Unit),
			nullIfEmpty(p.ValueRaw),
			nullIfEmpty(p.UnitRaw),
			formatTimePtr(p.ObservedAt),
			formatTimePtr(p.ValidStart),
			formatTimePtr(p.ValidEnd),
			formatTimePtr(p.IssuedAt),
			formatTime(p.RunAt),
			nullIfEmpty(p.LocalDay),
			nullIfEmpty(string(p.LeadUnit)),
			p.LeadOffset,
			nullIfEmpty(p.LeadLabel),
			p.LeadDayIndex,
			nullIfEmpty(p.Station),
			p.Latitude,
			p.Longitude,
			nullIfEmpty(p.SourceField),
			nullIfEmpty(p.QualityFlag),
		)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to upsert data point %s: %w", p.MetricType, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	return stored, rejected, nil
}

// PointFilter narrows data point queries for the matcher, scorer and API
type PointFilter struct {
	Provider    wx.Provider
	ProductKind wx.ProductKind
	MetricType  string
	Limit       int
}

// GetDataPoints returns readings matching the filter, ordered by effective
// time then run time so results are deterministic.
func (s *Store) GetDataPoints(filter PointFilter) ([]wx.DataPoint, error) {
	query := `
		SELECT id, raw_id, provider, product_kind, metric_type,
			value_num, value_text, unit, value_raw, unit_raw,
			observed_at_utc, valid_start_utc, valid_end_utc, issued_at_utc, run_at_utc,
			local_day, lead_unit, lead_offset, lead_label, lead_day_index,
			station, latitude, longitude, source_field, quality_flag
		FROM data_points WHERE 1=1`
	var args []any

	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, string(filter.Provider))
	}
	if filter.ProductKind != "" {
		query += ` AND product_kind = ?`
		args = append(args, string(filter.ProductKind))
	}
	if filter.MetricType != "" {
		query += ` AND metric_type = ?`
		args = append(args, filter.MetricType)
	}
	query += ` ORDER BY COALESCE(valid_start_utc, observed_at_utc), run_at_utc`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query data points: %w", err)
	}
	defer rows.Close()

	var points []wx.DataPoint
	for rows.Next() {
		point, err := scanDataPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data points: %w", err)
	}

	return points, nil
}

// Forecasts returns all numeric forecast readings (hourly and daily)
func (s *Store) Forecasts() ([]wx.DataPoint, error) {
	points, err := s.GetDataPoints(PointFilter{ProductKind: wx.ProductForecastHourly})
	if err != nil {
		return nil, err
	}
	daily, err := s.GetDataPoints(PointFilter{ProductKind: wx.ProductForecastDaily})
	if err != nil {
		return nil, err
	}
	points = append(points, daily...)

	numeric := points[:0]
	for _, p := range points {
		if p.ValueNum != nil {
			numeric = append(numeric, p)
		}
	}
	return numeric, nil
}

// Observations returns numeric observations for the given provider,
// typically the designated ground truth.
func (s *Store) Observations(provider wx.Provider) ([]wx.DataPoint, error) {
	points, err := s.GetDataPoints(PointFilter{
		Provider:    provider,
		ProductKind: wx.ProductObservation,
	})
	if err != nil {
		return nil, err
	}
	numeric := points[:0]
	for _, p := range points {
		if p.ValueNum != nil {
			numeric = append(numeric, p)
		}
	}
	return numeric, nil
}

// CountDataPoints returns the number of stored readings
func (s *Store) CountDataPoints() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM data_points`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count data points: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataPoint(row rowScanner) (*wx.DataPoint, error) {
	var p wx.DataPoint
	var provider, productKind, runAt string
	var unit, valueRaw, unitRaw, localDay, leadUnit, leadLabel, station, sourceField, qualityFlag *string
	var observedAt, validStart, validEnd, issuedAt *string

	if err := row.Scan(
		&p.ID, &p.RawID, &provider, &productKind, &p.MetricType,
		&p.ValueNum, &p.ValueText, &unit, &valueRaw, &unitRaw,
		&observedAt, &validStart, &validEnd, &issuedAt, &runAt,
		&localDay, &leadUnit, &p.LeadOffset, &leadLabel, &p.LeadDayIndex,
		&station, &p.Latitude, &p.Longitude, &sourceField, &qualityFlag,
	); err != nil {
		return nil, fmt.Errorf("failed to scan data point: %w", err)
	}

	p.Provider = wx.Provider(provider)
	p.ProductKind = wx.ProductKind(productKind)
	p.Unit = deref(unit)
	p.ValueRaw = deref(valueRaw)
	p.UnitRaw = deref(unitRaw)
	p.LocalDay = deref(localDay)
	p.LeadUnit = wx.LeadUnit(deref(leadUnit))
	p.LeadLabel = deref(leadLabel)
	p.Station = deref(station)
	p.SourceField = deref(sourceField)
	p.QualityFlag = deref(qualityFlag)

	var err error
	if p.RunAt, err = parseTime(runAt); err != nil {
		return nil, fmt.Errorf("failed to parse run_at: %w", err)
	}
	if p.ObservedAt, err = parseTimePtr(observedAt); err != nil {
		return nil, fmt.Errorf("failed to parse observed_at: %w", err)
	}
	if p.ValidStart, err = parseTimePtr(validStart); err != nil {
		return nil, fmt.Errorf("failed to parse valid_start: %w", err)
	}
	if p.ValidEnd, err = parseTimePtr(validEnd); err != nil {
		return nil, fmt.Errorf("failed to parse valid_end: %w", err)
	}
	if p.IssuedAt, err = parseTimePtr(issuedAt); err != nil {
		return nil, fmt.Errorf("failed to parse issued_at: %w", err)
	}

	return &p, nil
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
