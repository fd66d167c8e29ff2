package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/event"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/metrics"
	"github.com/canopyrun/canopy/internal/stream"
)

// Ledger applies lifecycle events to usage intervals. It keeps the active
// interval per container in memory and writes every transition through to
// the store, so duplicate deliveries replay as no-ops.
type Ledger struct {
	mu     sync.Mutex
	active map[string]Interval // container id -> open interval

	store *Store
	rates RatePlan
	clk   clock.Clock
	log   *logging.Logger
}

// NewLedger creates a Ledger over an opened store.
func NewLedger(store *Store, rates RatePlan, clk clock.Clock, log *logging.Logger) *Ledger {
	return &Ledger{
		active: make(map[string]Interval),
		store:  store,
		rates:  rates,
		clk:    clk,
		log:    log.Component("billing"),
	}
}

// Restore loads open intervals from the store after a restart. Without this
// a container started before the restart would never be billed to a close.
func (l *Ledger) Restore() error {
	open, err := l.store.Active()
	if err != nil {
		return fmt.Errorf("restore open intervals: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, iv := range open {
		if prev, ok := l.active[iv.ContainerID]; ok && prev.Start.Before(iv.Start) {
			l.log.Warn("multiple open intervals for container, keeping earliest",
				"container_id", iv.ContainerID)
			continue
		}
		l.active[iv.ContainerID] = iv
	}
	l.log.Info("restored open intervals", "count", len(l.active))
	return nil
}

// Handlers returns the lifecycle dispatch table for the billing consumer
// group. Created and started both open; stopped and deleted both close.
func (l *Ledger) Handlers() stream.Handlers {
	return stream.Handlers{
		OnCreated: l.onOpen,
		OnStarted: l.onOpen,
		OnStopped: l.onClose,
		OnDeleted: l.onClose,
	}
}

func (l *Ledger) onOpen(_ context.Context, e *event.Lifecycle) error {
	if e.UserID == "" || e.ImageID == "" {
		metrics.EventsDropped.WithLabelValues("missing-user").Inc()
		l.log.Warn("dropping unattributable event",
			"kind", string(e.Event), "container_id", e.ContainerID,
			"user_id", e.UserID, "image_id", e.ImageID)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[e.ContainerID]; ok {
		// Duplicate delivery or started-after-created: the interval is
		// already open, nothing to do.
		return nil
	}

	iv := Interval{
		UserID:      e.UserID,
		ImageID:     e.ImageID,
		ContainerID: e.ContainerID,
		Start:       e.Time(l.clk.Now()),
		Status:      StatusActive,
	}
	if err := l.store.Put(iv); err != nil {
		return fmt.Errorf("persist open interval: %w", err)
	}
	l.active[e.ContainerID] = iv
	metrics.IntervalsOpened.Inc()
	l.log.Info("interval opened",
		"container_id", iv.ContainerID, "user_id", iv.UserID, "image_id", iv.ImageID)
	return nil
}

func (l *Ledger) onClose(_ context.Context, e *event.Lifecycle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	iv, ok := l.active[e.ContainerID]
	if !ok {
		l.log.Warn("close event without open interval",
			"kind", string(e.Event), "container_id", e.ContainerID)
		return nil
	}

	end := e.Time(l.clk.Now())
	iv.End = &end
	iv.DurationMinutes = Minutes(iv.Start, end)
	iv.Cost = CostFor(l.rates.For(iv.ImageID), iv.DurationMinutes)
	iv.Status = StatusCompleted

	if err := l.store.Put(iv); err != nil {
		return fmt.Errorf("persist closed interval: %w", err)
	}
	delete(l.active, e.ContainerID)
	metrics.IntervalsClosed.Inc()
	l.log.Info("interval closed",
		"container_id", iv.ContainerID, "minutes", iv.DurationMinutes, "cost", iv.Cost)
	return nil
}

// ContainerUsage is one interval as reported in a usage summary. Active
// intervals carry duration and cost estimated against now.
type ContainerUsage struct {
	ContainerID     string     `json:"container_id"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationMinutes int64      `json:"duration_minutes"`
	Cost            float64    `json:"cost"`
	Status          string     `json:"status"`
}

// ImageSummary aggregates a user's usage of one image.
type ImageSummary struct {
	ImageID          string           `json:"image_id"`
	TotalContainers  int              `json:"total_containers"`
	ActiveContainers int              `json:"active_containers"`
	TotalMinutes     int64            `json:"total_minutes"`
	TotalCost        float64          `json:"total_cost"`
	LastActivity     time.Time        `json:"last_activity"`
	Intervals        []ContainerUsage `json:"intervals,omitempty"`
}

// SummaryByImage returns the user's usage of a single image with the
// per-container interval breakdown.
func (l *Ledger) SummaryByImage(userID, imageID string) (ImageSummary, error) {
	summaries, err := l.summarize(userID, imageID, true)
	if err != nil {
		return ImageSummary{}, err
	}
	if len(summaries) == 0 {
		return ImageSummary{ImageID: imageID}, nil
	}
	return summaries[0], nil
}

// SummaryAllImages returns one summary row per image the user has run,
// sorted by last activity descending.
func (l *Ledger) SummaryAllImages(userID string) ([]ImageSummary, error) {
	return l.summarize(userID, "", false)
}

func (l *Ledger) summarize(userID, imageID string, withIntervals bool) ([]ImageSummary, error) {
	intervals, err := l.store.ByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load intervals: %w", err)
	}
	now := l.clk.Now().UTC()

	byImage := make(map[string]*ImageSummary)
	containers := make(map[string]map[string]bool) // image -> container set
	for _, iv := range intervals {
		if imageID != "" && iv.ImageID != imageID {
			continue
		}
		s, ok := byImage[iv.ImageID]
		if !ok {
			s = &ImageSummary{ImageID: iv.ImageID}
			byImage[iv.ImageID] = s
			containers[iv.ImageID] = make(map[string]bool)
		}
		containers[iv.ImageID][iv.ContainerID] = true

		usage := usageOf(iv, l.rates, now)
		s.TotalMinutes += usage.DurationMinutes
		s.TotalCost += usage.Cost
		if iv.Status == StatusActive {
			s.ActiveContainers++
		}
		if activity := lastActivity(iv, now); activity.After(s.LastActivity) {
			s.LastActivity = activity
		}
		if withIntervals {
			s.Intervals = append(s.Intervals, usage)
		}
	}

	out := make([]ImageSummary, 0, len(byImage))
	for img, s := range byImage {
		s.TotalContainers = len(containers[img])
		s.TotalCost = round2(s.TotalCost)
		if withIntervals {
			sort.Slice(s.Intervals, func(i, j int) bool {
				return s.Intervals[i].Start.Before(s.Intervals[j].Start)
			})
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// usageOf converts a stored interval into its reported form. A completed
// interval reports its recorded duration and cost; an active one is
// estimated as if it closed now.
func usageOf(iv Interval, rates RatePlan, now time.Time) ContainerUsage {
	u := ContainerUsage{
		ContainerID:     iv.ContainerID,
		Start:           iv.Start.UTC(),
		End:             iv.End,
		DurationMinutes: iv.DurationMinutes,
		Cost:            iv.Cost,
		Status:          iv.Status,
	}
	if iv.Status == StatusActive {
		u.DurationMinutes = Minutes(iv.Start, now)
		u.Cost = CostFor(rates.For(iv.ImageID), u.DurationMinutes)
	}
	return u
}

func lastActivity(iv Interval, now time.Time) time.Time {
	if iv.End != nil {
		return iv.End.UTC()
	}
	return now
}
