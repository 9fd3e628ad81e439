package providers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
)

// batch accumulates the canonical data points translated from one raw
// payload. Nil source values are skipped silently; a failed unit conversion
// or unknown metric poisons the batch and fails the whole payload, since it
// indicates a normalizer bug rather than missing upstream data.
type batch struct {
	raw         *wx.RawPayload
	kind        wx.ProductKind
	align       *timealign.Aligner
	station     string
	latitude    float64
	longitude   float64
	qualityFlag string
	cur         window
	points      []wx.DataPoint
	err         error
}

// window holds the alignment fields shared by every point of one forecast
// entry.
type window struct {
	start      time.Time
	end        time.Time
	issued     *time.Time
	leadUnit   wx.LeadUnit
	leadOffset int
	leadLabel  string
	localDay   string
	dayIndex   *int
}

func newBatch(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) *batch {
	return &batch{
		raw:       raw,
		kind:      kind,
		align:     align,
		latitude:  loc.Latitude,
		longitude: loc.Longitude,
	}
}

func (b *batch) setStation(station string)  { b.station = station }
func (b *batch) setCoords(lat, lon float64) { b.latitude, b.longitude = lat, lon }
func (b *batch) setQualityFlag(flag string) { b.qualityFlag = flag }

// setWindow fixes the validity window and lead alignment for the forecast
// points that follow. Hourly leads are whole floored-hour offsets from the
// run instant; daily leads are civil-date differences in the configured
// zone.
func (b *batch) setWindow(start, end time.Time, issued *time.Time, dayIndex *int) {
	start, end = start.UTC(), end.UTC()
	w := window{start: start, end: end, issued: issued, dayIndex: dayIndex}
	switch b.kind {
	case wx.ProductForecastHourly:
		w.leadUnit = wx.LeadHour
		w.leadOffset = b.align.HourlyLead(start)
	case wx.ProductForecastDaily:
		w.leadUnit = wx.LeadDay
		w.leadOffset = b.align.DailyLead(start)
	}
	w.leadLabel = timealign.Label(w.leadOffset, w.leadUnit)
	w.localDay = b.align.LocalDay(start)
	b.cur = w
}

// observed appends one observation metric, converting from the provider's
// native unit to the canonical one.
func (b *batch) observed(metric string, value *float64, rawUnit string, at time.Time, sourceField string) {
	p, ok := b.numeric(metric, value, rawUnit, sourceField)
	if !ok {
		return
	}
	observedAt := at.UTC()
	p.ObservedAt = &observedAt
	b.append(p)
}

// observedText appends one textual observation metric (e.g. the condition
// phrase). Empty strings are skipped.
func (b *batch) observedText(metric, value string, at time.Time, sourceField string) {
	if value == "" || b.err != nil {
		return
	}
	observedAt := at.UTC()
	text := value
	b.append(wx.DataPoint{
		MetricType:  metric,
		ValueText:   &text,
		Unit:        metrics.UnitText,
		ValueRaw:    value,
		UnitRaw:     metrics.UnitText,
		ObservedAt:  &observedAt,
		SourceField: sourceField,
	})
}

// forecast appends one forecast metric inside the current window.
func (b *batch) forecast(metric string, value *float64, rawUnit, sourceField string) {
	p, ok := b.numeric(metric, value, rawUnit, sourceField)
	if !ok {
		return
	}
	b.applyWindow(&p)
	b.append(p)
}

// forecastText appends one textual forecast metric inside the current window.
func (b *batch) forecastText(metric, value, sourceField string) {
	if value == "" || b.err != nil {
		return
	}
	text := value
	p := wx.DataPoint{
		MetricType:  metric,
		ValueText:   &text,
		Unit:        metrics.UnitText,
		ValueRaw:    value,
		UnitRaw:     metrics.UnitText,
		SourceField: sourceField,
	}
	b.applyWindow(&p)
	b.append(p)
}

func (b *batch) numeric(metric string, value *float64, rawUnit, sourceField string) (wx.DataPoint, bool) {
	if value == nil || b.err != nil {
		return wx.DataPoint{}, false
	}
	canonical, ok := metrics.CanonicalUnit(metric)
	if !ok {
		b.err = &wx.MappingError{Provider: b.raw.Provider, Field: sourceField,
			Detail: fmt.Sprintf("unknown metric type: %s", metric)}
		return wx.DataPoint{}, false
	}
	converted, err := metrics.Convert(*value, rawUnit, canonical)
	if err != nil {
		b.err = &wx.MappingError{Provider: b.raw.Provider, Field: sourceField, Detail: err.Error()}
		return wx.DataPoint{}, false
	}
	return wx.DataPoint{
		MetricType:  metric,
		ValueNum:    &converted,
		Unit:        canonical,
		ValueRaw:    strconv.FormatFloat(*value, 'g', -1, 64),
		UnitRaw:     rawUnit,
		SourceField: sourceField,
	}, true
}

func (b *batch) applyWindow(p *wx.DataPoint) {
	start, end := b.cur.start, b.cur.end
	offset := b.cur.leadOffset
	p.ValidStart = &start
	p.ValidEnd = &end
	p.IssuedAt = b.cur.issued
	p.LeadUnit = b.cur.leadUnit
	p.LeadOffset = &offset
	p.LeadLabel = b.cur.leadLabel
	p.LocalDay = b.cur.localDay
	if b.cur.dayIndex != nil {
		idx := *b.cur.dayIndex
		p.LeadDayIndex = &idx
	}
}

func (b *batch) append(p wx.DataPoint) {
	if b.err != nil {
		return
	}
	p.RawID = b.raw.ID
	p.Provider = b.raw.Provider
	p.ProductKind = b.kind
	p.RunAt = b.raw.RunAt
	p.Station = b.station
	p.Latitude = b.latitude
	p.Longitude = b.longitude
	if p.QualityFlag == "" {
		p.QualityFlag = b.qualityFlag
	}
	b.points = append(b.points, p)
}

func (b *batch) finish() ([]wx.DataPoint, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.points, nil
}

// parseISO parses the RFC 3339 timestamps used by provider APIs.
func parseISO(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// epochSeconds converts a Unix timestamp to UTC.
func epochSeconds(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func floatPtr(v float64) *float64 { return &v }
