package feed

import (
	"context"
	"sort"
	"time"

	"github.com/flowstate/flowstate/internal/classify"
	"github.com/flowstate/flowstate/internal/model"
	"github.com/flowstate/flowstate/internal/store"
)

// Filter narrows the unified feed.
type Filter struct {
	Platform model.Platform
	Query    string
	Limit    int
}

// ConnectorStatus is the per-platform sync status shown in the UI.
type ConnectorStatus struct {
	Platform       model.Platform `json:"platform"`
	Connected      bool           `json:"connected"`
	Degraded       bool           `json:"degraded"`
	Paused         bool           `json:"paused"`
	LastSyncedAt   time.Time      `json:"last_synced_at"`
	ScannedPercent float64        `json:"scanned_percent"`
	ItemCount      int            `json:"item_count"`
}

// StatusSource exposes the scheduler's observable sync state. The feed only
// reads it; the scheduler is the sole writer.
type StatusSource interface {
	Snapshot() map[model.Platform]SyncState
}

// SyncState is one platform's live scheduler state.
type SyncState struct {
	Connected      bool
	Degraded       bool
	Paused         bool
	ScannedPercent float64
}

// Aggregator is the read side of the engine. It merges classified items
// across sources into ordered views and is the sole mutation entry point for
// item status.
type Aggregator struct {
	store  *store.Store
	status StatusSource
	loc    *time.Location
	now    func() time.Time
}

// New builds an Aggregator. status may be nil when no scheduler is running
// (one-shot sync, tests).
func New(st *store.Store, status StatusSource, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: st, status: status, loc: loc, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// AnnotatedItem is an item plus its bucket, which is derived at read time and
// therefore always consistent with the current clock.
type AnnotatedItem struct {
	model.Item
	Bucket model.Bucket `json:"bucket"`
}

// ListUnified returns the unified feed ordered by received time, newest
// first, with buckets computed against the current time.
func (a *Aggregator) ListUnified(ctx context.Context, filter Filter) ([]AnnotatedItem, error) {
	items, err := a.store.ListFeed(ctx, filter.Platform, filter.Query, filter.Limit)
	if err != nil {
		return nil, err
	}
	return a.annotate(items), nil
}

// ListBucket returns the items currently in one bucket, ordered by deadline
// ascending; items without a deadline (Unscheduled) keep received order.
func (a *Aggregator) ListBucket(ctx context.Context, bucket model.Bucket) ([]AnnotatedItem, error) {
	items, err := a.store.ListByDeadline(ctx)
	if err != nil {
		return nil, err
	}
	annotated := a.annotate(items)
	out := annotated[:0]
	for _, item := range annotated {
		if item.Bucket == bucket {
			out = append(out, item)
		}
	}
	// ListByDeadline already yields deadline-ascending order; keep it stable.
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Deadline, out[j].Deadline
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.DueAt.Before(dj.DueAt)
		}
	})
	return out, nil
}

// MarkStatus applies a user status transition with optimistic concurrency.
// On conflict the caller receives *model.ConflictError and must re-fetch.
func (a *Aggregator) MarkStatus(ctx context.Context, itemID string, next, expect model.Status) error {
	return a.store.MarkStatus(ctx, itemID, next, expect)
}

// CreateTask idempotently materializes an item as a downstream task.
func (a *Aggregator) CreateTask(ctx context.Context, itemID string) (model.Task, error) {
	return a.store.MaterializeTask(ctx, itemID)
}

// GetItem returns one annotated item.
func (a *Aggregator) GetItem(ctx context.Context, itemID string) (AnnotatedItem, error) {
	item, err := a.store.GetItem(ctx, itemID)
	if err != nil {
		return AnnotatedItem{}, err
	}
	now := a.now()
	return AnnotatedItem{Item: item, Bucket: classify.Item(item, now, a.loc)}, nil
}

// ConnectorStatuses reports sync status for every platform.
func (a *Aggregator) ConnectorStatuses(ctx context.Context) ([]ConnectorStatus, error) {
	var live map[model.Platform]SyncState
	if a.status != nil {
		live = a.status.Snapshot()
	}

	statuses := make([]ConnectorStatus, 0, len(model.Platforms()))
	for _, platform := range model.Platforms() {
		cursor, err := a.store.GetCursor(ctx, platform)
		if err != nil {
			return nil, err
		}
		count, err := a.store.CountItems(ctx, platform)
		if err != nil {
			return nil, err
		}
		status := ConnectorStatus{
			Platform:     platform,
			LastSyncedAt: cursor.LastSyncedAt,
			ItemCount:    count,
		}
		if state, ok := live[platform]; ok {
			status.Connected = state.Connected
			status.Degraded = state.Degraded
			status.Paused = state.Paused
			status.ScannedPercent = state.ScannedPercent
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (a *Aggregator) annotate(items []model.Item) []AnnotatedItem {
	// One clock reading per query keeps the snapshot internally consistent.
	now := a.now()
	annotated := make([]AnnotatedItem, len(items))
	for i, item := range items {
		annotated[i] = AnnotatedItem{Item: item, Bucket: classify.Item(item, now, a.loc)}
	}
	return annotated
}
