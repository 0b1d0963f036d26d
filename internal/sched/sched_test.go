package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/config"
	"github.com/flowstate/flowstate/internal/connector"
	"github.com/flowstate/flowstate/internal/extract"
	"github.com/flowstate/flowstate/internal/model"
	"github.com/flowstate/flowstate/internal/store"
	"github.com/flowstate/flowstate/internal/testutil"
)

var wednesday = time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, conns ...connector.Connector) (*Scheduler, *store.Store, *Registry) {
	t.Helper()
	st := testutil.OpenTestStore(t)
	extractor := extract.New(extract.NewRuleAdapter(time.UTC, 0), extract.DefaultOptions())
	registry := NewRegistry()
	cfg := config.Defaults()
	cfg.BackoffBase = config.Duration(time.Minute)
	cfg.BackoffMax = config.Duration(10 * time.Minute)
	cfg.MaxAttempts = 3
	return New(st, extractor, registry, cfg, conns), st, registry
}

func TestRunOncePipeline(t *testing.T) {
	conn := connector.NewScripted(model.PlatformMail, []model.RawItem{
		model.RawMail{
			MessageID: "m-1",
			Subject:   "Design doc",
			From:      "dana@example.com",
			Body:      "Please respond by Thursday.",
			Date:      wednesday,
		},
		model.RawMail{
			MessageID: "m-2",
			Subject:   "Weekly digest",
			From:      "news@example.com",
			Body:      "Nothing actionable here.",
			Date:      wednesday.Add(time.Hour),
		},
	}, 10)
	s, st, registry := newTestScheduler(t, conn)
	ctx := context.Background()

	s.RunOnce(ctx, model.PlatformMail, conn)

	count, err := st.CountItems(ctx, model.PlatformMail)
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if count != 2 {
		t.Fatalf("CountItems() = %d, want 2", count)
	}

	cursor, err := st.GetCursor(ctx, model.PlatformMail)
	if err != nil {
		t.Fatalf("GetCursor() error: %v", err)
	}
	if cursor.CursorToken != "2" {
		t.Errorf("CursorToken = %q, want %q", cursor.CursorToken, "2")
	}

	item, err := st.GetItem(ctx, model.ItemID(model.PlatformMail, "m-1"))
	if err != nil {
		t.Fatalf("GetItem() error: %v", err)
	}
	if item.Deadline == nil {
		t.Fatal("deadline not extracted during sync")
	}
	// "by Thursday" received on Wednesday resolves to the next day.
	want := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	if !item.Deadline.DueAt.Equal(want) {
		t.Errorf("DueAt = %v, want %v", item.Deadline.DueAt, want)
	}
	if item.ActionType != model.ActionReplyNeeded {
		t.Errorf("ActionType = %v, want reply_needed", item.ActionType)
	}

	state := registry.Snapshot()[model.PlatformMail]
	if !state.Connected || state.ScannedPercent != 100 {
		t.Errorf("registry state = %+v", state)
	}
}

func TestRunOnceResumesFromCursor(t *testing.T) {
	conn := connector.NewScripted(model.PlatformChat, []model.RawItem{
		model.RawChat{MessageID: "c-1", ChannelID: "C1", Text: "one", SentAt: wednesday},
	}, 10)
	s, st, _ := newTestScheduler(t, conn)
	ctx := context.Background()

	s.RunOnce(ctx, model.PlatformChat, conn)
	conn.Append(model.RawChat{MessageID: "c-2", ChannelID: "C1", Text: "two", SentAt: wednesday.Add(time.Minute)})
	s.RunOnce(ctx, model.PlatformChat, conn)

	count, err := st.CountItems(ctx, model.PlatformChat)
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if count != 2 {
		t.Errorf("CountItems() = %d, want 2 (no duplicates)", count)
	}
	cursor, err := st.GetCursor(ctx, model.PlatformChat)
	if err != nil {
		t.Fatalf("GetCursor() error: %v", err)
	}
	if cursor.CursorToken != "2" {
		t.Errorf("CursorToken = %q, want %q", cursor.CursorToken, "2")
	}
}

func TestTransientFailureBacksOff(t *testing.T) {
	conn := connector.NewScripted(model.PlatformMail, []model.RawItem{
		model.RawMail{MessageID: "m-1", Subject: "hello", Date: wednesday},
	}, 10)
	conn.FailNext(&model.TransientFetchError{Platform: model.PlatformMail, Err: errors.New("503")})
	s, st, _ := newTestScheduler(t, conn)
	ctx := context.Background()

	s.RunOnce(ctx, model.PlatformMail, conn)

	cursor, err := st.GetCursor(ctx, model.PlatformMail)
	if err != nil {
		t.Fatalf("GetCursor() error: %v", err)
	}
	if cursor.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", cursor.ConsecutiveFailures)
	}
	if cursor.CursorToken != "" {
		t.Errorf("CursorToken = %q, want unchanged", cursor.CursorToken)
	}

	// Within the backoff window the next tick is a no-op; the queued items
	// stay unfetched even though the fault is gone.
	s.RunOnce(ctx, model.PlatformMail, conn)
	count, err := st.CountItems(ctx, model.PlatformMail)
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if count != 0 {
		t.Errorf("CountItems() = %d, want 0 during backoff", count)
	}
}

func TestBackoffDoublingCapped(t *testing.T) {
	cfg := config.Defaults()
	cfg.BackoffBase = config.Duration(time.Minute)
	cfg.BackoffMax = config.Duration(10 * time.Minute)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
		{20, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.failures); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestAuthErrorPausesUntilResume(t *testing.T) {
	conn := connector.NewScripted(model.PlatformCalendar, []model.RawItem{
		model.RawCalendar{EventID: "ev-1", Title: "standup", StartsAt: wednesday},
	}, 10)
	conn.FailNext(&model.AuthError{Platform: model.PlatformCalendar, Reason: "token expired"})
	s, st, registry := newTestScheduler(t, conn)
	ctx := context.Background()

	s.RunOnce(ctx, model.PlatformCalendar, conn)

	state := registry.Snapshot()[model.PlatformCalendar]
	if !state.Paused {
		t.Fatal("platform not paused after auth error")
	}

	// Paused platforms skip ticks entirely, no backoff involved.
	s.RunOnce(ctx, model.PlatformCalendar, conn)
	count, err := st.CountItems(ctx, model.PlatformCalendar)
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if count != 0 {
		t.Errorf("CountItems() = %d, want 0 while paused", count)
	}

	s.Resume(model.PlatformCalendar)
	s.RunOnce(ctx, model.PlatformCalendar, conn)

	count, err = st.CountItems(ctx, model.PlatformCalendar)
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if count != 1 {
		t.Errorf("CountItems() = %d, want 1 after resume", count)
	}
	state = registry.Snapshot()[model.PlatformCalendar]
	if state.Paused || !state.Connected {
		t.Errorf("registry state after resume = %+v", state)
	}
}

func TestMaxAttemptsMarksDegraded(t *testing.T) {
	conn := connector.NewScripted(model.PlatformMail, nil, 10)
	s, st, registry := newTestScheduler(t, conn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		conn.FailNext(&model.TransientFetchError{Platform: model.PlatformMail, Err: errors.New("503")})
		// Clear the backoff gate so each attempt actually runs.
		s.mu.Lock()
		s.nextAllowed[model.PlatformMail] = time.Time{}
		s.mu.Unlock()
		s.RunOnce(ctx, model.PlatformMail, conn)
	}

	cursor, err := st.GetCursor(ctx, model.PlatformMail)
	if err != nil {
		t.Fatalf("GetCursor() error: %v", err)
	}
	if cursor.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", cursor.ConsecutiveFailures)
	}
	if !registry.Snapshot()[model.PlatformMail].Degraded {
		t.Error("platform not marked degraded at max attempts")
	}
}

// stalledConn returns the same non-empty page with an unchanged cursor,
// the shape of a buggy upstream that never advances.
type stalledConn struct {
	fetches int
}

func (c *stalledConn) Platform() model.Platform { return model.PlatformMail }

func (c *stalledConn) Fetch(ctx context.Context, cursor string) (connector.Batch, error) {
	c.fetches++
	return connector.Batch{
		Items: []model.RawItem{
			model.RawMail{MessageID: "m-stall", Subject: "hello", Date: wednesday},
		},
		NewCursor: cursor,
	}, nil
}

func TestUnchangedCursorEndsRun(t *testing.T) {
	conn := &stalledConn{}
	s, st, _ := newTestScheduler(t, conn)
	ctx := context.Background()

	s.RunOnce(ctx, model.PlatformMail, conn)

	if conn.fetches != 1 {
		t.Errorf("fetches = %d, want 1 (run must stop when the cursor stalls)", conn.fetches)
	}
	count, err := st.CountItems(ctx, model.PlatformMail)
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if count != 1 {
		t.Errorf("CountItems() = %d, want 1 (stalled page is still committed)", count)
	}
}

func TestReloadReschedulesConnectors(t *testing.T) {
	mail := connector.NewScripted(model.PlatformMail, nil, 10)
	chat := connector.NewScripted(model.PlatformChat, nil, 10)
	cal := connector.NewScripted(model.PlatformCalendar, nil, 10)
	s, _, _ := newTestScheduler(t, mail, chat, cal)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	s.mu.Lock()
	mailBefore := s.entries[model.PlatformMail]
	calBefore := s.entries[model.PlatformCalendar]
	s.mu.Unlock()

	next := config.Defaults()
	mailCC := next.Connectors[model.PlatformMail]
	mailCC.SyncInterval = config.Duration(30 * time.Second)
	next.Connectors[model.PlatformMail] = mailCC
	chatCC := next.Connectors[model.PlatformChat]
	chatCC.Enabled = false
	next.Connectors[model.PlatformChat] = chatCC

	if err := s.Reload(ctx, next); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if got := s.entries[model.PlatformMail]; got == mailBefore {
		t.Error("mail entry not rescheduled after interval change")
	}
	if _, ok := s.entries[model.PlatformChat]; ok {
		t.Error("chat entry still scheduled after being disabled")
	}
	if got := s.entries[model.PlatformCalendar]; got != calBefore {
		t.Errorf("calendar entry changed (%v -> %v), want untouched", calBefore, got)
	}
	if s.cfg.Connectors[model.PlatformMail].SyncInterval != config.Duration(30*time.Second) {
		t.Error("config not swapped on reload")
	}
}

func TestDisabledConnectorNotScheduled(t *testing.T) {
	conn := connector.NewScripted(model.PlatformMail, nil, 10)
	st := testutil.OpenTestStore(t)
	extractor := extract.New(extract.NewRuleAdapter(time.UTC, 0), extract.DefaultOptions())
	registry := NewRegistry()

	cfg := config.Defaults()
	cc := cfg.Connectors[model.PlatformMail]
	cc.Enabled = false
	cfg.Connectors[model.PlatformMail] = cc

	s := New(st, extractor, registry, cfg, []connector.Connector{conn})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	if _, ok := registry.Snapshot()[model.PlatformMail]; ok {
		t.Error("disabled platform registered as connected")
	}
}
