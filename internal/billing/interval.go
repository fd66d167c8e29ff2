// Package billing maintains the usage ledger: one interval per container
// run, opened and closed by lifecycle events, persisted in bbolt, and
// summarized per user and image over HTTP.
package billing

import (
	"math"
	"time"
)

// Interval status values.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Interval is one open or closed run of a container. A container has at
// most one active interval at any time.
type Interval struct {
	UserID          string     `json:"user_id"`
	ImageID         string     `json:"image_id"`
	ContainerID     string     `json:"container_id"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationMinutes int64      `json:"duration_minutes,omitempty"`
	Cost            float64    `json:"cost,omitempty"`
	Status          string     `json:"status"`
}

// Minutes returns the billed minutes between start and end: ceiling of the
// elapsed time in minutes, never negative.
func Minutes(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Minutes()))
}

// CostFor computes rate * minutes rounded to two decimals.
func CostFor(rate float64, minutes int64) float64 {
	return round2(rate * float64(minutes))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
