package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/model"
	"github.com/flowstate/flowstate/internal/testutil"
)

var now = time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)

type staticStatus map[model.Platform]SyncState

func (s staticStatus) Snapshot() map[model.Platform]SyncState { return s }

func newTestAggregator(t *testing.T, status StatusSource) *Aggregator {
	t.Helper()
	agg := New(testutil.OpenTestStore(t), status, time.UTC)
	agg.SetClock(func() time.Time { return now })
	return agg
}

func seedItem(nativeID string, receivedAt time.Time, deadline *time.Time) model.Item {
	item := model.Item{
		ID:             model.ItemID(model.PlatformMail, nativeID),
		Platform:       model.PlatformMail,
		SourceNativeID: nativeID,
		Title:          "item " + nativeID,
		ReceivedAt:     receivedAt,
		Priority:       model.DefaultPriority(),
		ActionType:     model.ActionNone,
		Category:       model.CategoryOther,
		Status:         model.StatusNew,
	}
	if deadline != nil {
		item.Deadline = &model.ExtractedDeadline{DueAt: *deadline, Confidence: 0.9}
	}
	return item
}

func commit(t *testing.T, agg *Aggregator, items ...model.Item) {
	t.Helper()
	if err := agg.store.Commit(context.Background(), model.PlatformMail,
		"1", items); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
}

func TestListUnifiedOrderAndBuckets(t *testing.T) {
	agg := newTestAggregator(t, nil)
	ctx := context.Background()

	overdueAt := now.Add(-2 * time.Hour)
	todayAt := now.Add(3 * time.Hour)
	commit(t, agg,
		seedItem("old", now.Add(-3*time.Hour), &overdueAt),
		seedItem("new", now.Add(-time.Hour), &todayAt),
		seedItem("none", now.Add(-2*time.Hour), nil),
	)

	items, err := agg.ListUnified(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListUnified() error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if items[0].SourceNativeID != "new" || items[2].SourceNativeID != "old" {
		t.Error("feed not newest first")
	}
	if items[0].Bucket != model.BucketDueToday {
		t.Errorf("Bucket = %v, want DueToday", items[0].Bucket)
	}
	if items[1].Bucket != model.BucketUnscheduled {
		t.Errorf("Bucket = %v, want Unscheduled", items[1].Bucket)
	}
	if items[2].Bucket != model.BucketOverdue {
		t.Errorf("Bucket = %v, want Overdue", items[2].Bucket)
	}
}

func TestListBucketFilterAndOrder(t *testing.T) {
	agg := newTestAggregator(t, nil)
	ctx := context.Background()

	thu := now.AddDate(0, 0, 1)
	sat := now.AddDate(0, 0, 3)
	month := now.AddDate(0, 1, 0)
	commit(t, agg,
		seedItem("sat", now.Add(-time.Hour), &sat),
		seedItem("thu", now.Add(-2*time.Hour), &thu),
		seedItem("month", now.Add(-3*time.Hour), &month),
		seedItem("none", now.Add(-4*time.Hour), nil),
	)

	week, err := agg.ListBucket(ctx, model.BucketDueThisWeek)
	if err != nil {
		t.Fatalf("ListBucket() error: %v", err)
	}
	if len(week) != 2 {
		t.Fatalf("len = %d, want 2", len(week))
	}
	if week[0].SourceNativeID != "thu" || week[1].SourceNativeID != "sat" {
		t.Error("bucket not ordered by deadline ascending")
	}

	unscheduled, err := agg.ListBucket(ctx, model.BucketUnscheduled)
	if err != nil {
		t.Fatalf("ListBucket() error: %v", err)
	}
	if len(unscheduled) != 1 || unscheduled[0].SourceNativeID != "none" {
		t.Errorf("unscheduled = %+v", unscheduled)
	}
}

func TestListBucketExcludesDismissed(t *testing.T) {
	agg := newTestAggregator(t, nil)
	ctx := context.Background()

	due := now.AddDate(0, 0, 2)
	item := seedItem("gone", now.Add(-time.Hour), &due)
	commit(t, agg, item)

	if err := agg.MarkStatus(ctx, item.ID, model.StatusDismissed, model.StatusNew); err != nil {
		t.Fatalf("MarkStatus() error: %v", err)
	}

	week, err := agg.ListBucket(ctx, model.BucketDueThisWeek)
	if err != nil {
		t.Fatalf("ListBucket() error: %v", err)
	}
	if len(week) != 0 {
		t.Errorf("len = %d, want dismissed item excluded", len(week))
	}
}

func TestMarkStatusConflictPassthrough(t *testing.T) {
	agg := newTestAggregator(t, nil)
	ctx := context.Background()

	item := seedItem("x", now.Add(-time.Hour), nil)
	commit(t, agg, item)

	if err := agg.MarkStatus(ctx, item.ID, model.StatusAcknowledged, model.StatusNew); err != nil {
		t.Fatalf("MarkStatus() error: %v", err)
	}
	err := agg.MarkStatus(ctx, item.ID, model.StatusDismissed, model.StatusNew)
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("MarkStatus() = %v, want conflict", err)
	}
}

func TestCreateTaskPassthrough(t *testing.T) {
	agg := newTestAggregator(t, nil)
	ctx := context.Background()

	item := seedItem("x", now.Add(-time.Hour), nil)
	commit(t, agg, item)

	task, err := agg.CreateTask(ctx, item.ID)
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if task.SourceItemID != item.ID {
		t.Errorf("SourceItemID = %q", task.SourceItemID)
	}

	again, err := agg.CreateTask(ctx, item.ID)
	if err != nil {
		t.Fatalf("second CreateTask() error: %v", err)
	}
	if again.ID != task.ID {
		t.Error("CreateTask not idempotent")
	}
}

func TestConnectorStatuses(t *testing.T) {
	status := staticStatus{
		model.PlatformMail: {Connected: true, ScannedPercent: 100},
		model.PlatformChat: {Connected: false, Paused: true},
	}
	agg := newTestAggregator(t, status)
	ctx := context.Background()

	commit(t, agg, seedItem("x", now.Add(-time.Hour), nil))

	statuses, err := agg.ConnectorStatuses(ctx)
	if err != nil {
		t.Fatalf("ConnectorStatuses() error: %v", err)
	}
	if len(statuses) != len(model.Platforms()) {
		t.Fatalf("len = %d, want one per platform", len(statuses))
	}

	byPlatform := map[model.Platform]ConnectorStatus{}
	for _, cs := range statuses {
		byPlatform[cs.Platform] = cs
	}
	mail := byPlatform[model.PlatformMail]
	if !mail.Connected || mail.ScannedPercent != 100 || mail.ItemCount != 1 {
		t.Errorf("mail status = %+v", mail)
	}
	if mail.LastSyncedAt.IsZero() {
		t.Error("mail LastSyncedAt not populated from cursor")
	}
	chat := byPlatform[model.PlatformChat]
	if !chat.Paused || chat.ItemCount != 0 {
		t.Errorf("chat status = %+v", chat)
	}
}

func TestGetItemAnnotated(t *testing.T) {
	agg := newTestAggregator(t, nil)
	ctx := context.Background()

	due := now.AddDate(0, 0, 20)
	item := seedItem("x", now.Add(-time.Hour), &due)
	commit(t, agg, item)

	got, err := agg.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem() error: %v", err)
	}
	if got.Bucket != model.BucketUpcoming {
		t.Errorf("Bucket = %v, want Upcoming", got.Bucket)
	}

	if _, err := agg.GetItem(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetItem(missing) = %v, want ErrNotFound", err)
	}
}
