package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Snapshot is the raw set of figures scraped from the dashboard in one run
type Snapshot struct {
	UsageGB    float64 `json:"usage_gb"`
	PlanGB     float64 `json:"plan_gb"` // 0 when the plan total could not be found
	CycleStart string  `json:"cycle_start"`
	CycleEnd   string  `json:"cycle_end"`
}

// UsageRecord represents one stored scrape of the account's data usage
type UsageRecord struct {
	ScrapedAt   Timestamp `json:"scraped_at"`
	WeekEnding  string    `json:"week_ending"` // YYYY-MM-DD
	UsageGB     float64   `json:"usage_gb"`
	PlanGB      float64   `json:"plan_gb"`
	RemainingGB *float64  `json:"remaining_gb,omitempty"` // nil when the plan is unknown
	PercentUsed float64   `json:"percent_used"`
	CycleStart  string    `json:"cycle_start"`
	CycleEnd    string    `json:"cycle_end"`
}

// HasPlan reports whether the plan total is known
func (r UsageRecord) HasPlan() bool {
	return r.PlanGB > 0
}

// Remaining returns the remaining quota, or 0 if it was never computed
func (r UsageRecord) Remaining() float64 {
	if r.RemainingGB == nil {
		return 0
	}
	return *r.RemainingGB
}

// NewRecord derives a storable record from a snapshot taken at now
func NewRecord(snap Snapshot, now time.Time) UsageRecord {
	usage := round(math.Max(snap.UsageGB, 0), 2)
	plan := round(math.Max(snap.PlanGB, 0), 2)

	rec := UsageRecord{
		ScrapedAt:  Timestamp{Time: now},
		WeekEnding: now.Format("2006-01-02"),
		UsageGB:    usage,
		PlanGB:     plan,
		CycleStart: snap.CycleStart,
		CycleEnd:   snap.CycleEnd,
	}

	if plan > 0 {
		remaining := round(snap.PlanGB-snap.UsageGB, 2)
		rec.RemainingGB = &remaining
		rec.PercentUsed = round(snap.UsageGB/snap.PlanGB*100, 1)
	}

	return rec
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Timestamp is a time.Time that also accepts the naive ISO-8601 form
// (no zone offset) written by older history files
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// MarshalJSON writes the timestamp as RFC 3339
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// UnmarshalJSON parses any of the supported layouts; naive values are taken as local time
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing scraped_at: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}

	return fmt.Errorf("unable to parse timestamp: %s", s)
}
