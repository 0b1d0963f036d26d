// Package sched drives periodic ingestion. Each platform syncs on its own
// cadence; a sync run pages through the connector, normalizes and annotates
// every raw item, and commits the batch atomically with the advanced cursor.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowstate/flowstate/internal/config"
	"github.com/flowstate/flowstate/internal/connector"
	"github.com/flowstate/flowstate/internal/extract"
	"github.com/flowstate/flowstate/internal/feed"
	"github.com/flowstate/flowstate/internal/model"
	"github.com/flowstate/flowstate/internal/normalize"
	"github.com/flowstate/flowstate/internal/store"
)

// Scheduler runs connectors on their configured intervals. Reload swaps the
// config at runtime, so cfg and the cron entry table live behind the mutex.
type Scheduler struct {
	store     *store.Store
	extractor *extract.Extractor
	registry  *Registry

	cron *cron.Cron

	mu          sync.Mutex
	cfg         config.Config
	connectors  map[model.Platform]connector.Connector
	entries     map[model.Platform]cron.EntryID
	paused      map[model.Platform]bool
	nextAllowed map[model.Platform]time.Time
	running     map[model.Platform]bool
}

// New builds a Scheduler over the given connectors. Platforms disabled in the
// config are ignored even if a connector is supplied.
func New(st *store.Store, extractor *extract.Extractor, registry *Registry, cfg config.Config, connectors []connector.Connector) *Scheduler {
	s := &Scheduler{
		store:       st,
		extractor:   extractor,
		registry:    registry,
		cfg:         cfg,
		cron:        cron.New(),
		connectors:  make(map[model.Platform]connector.Connector),
		entries:     make(map[model.Platform]cron.EntryID),
		paused:      make(map[model.Platform]bool),
		nextAllowed: make(map[model.Platform]time.Time),
		running:     make(map[model.Platform]bool),
	}
	for _, conn := range connectors {
		s.connectors[conn.Platform()] = conn
	}
	return s
}

// Start registers cron entries and begins syncing. It returns immediately;
// call Stop to drain in-flight runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for platform, conn := range s.connectors {
		cc, ok := s.cfg.Connectors[platform]
		if !ok || !cc.Enabled {
			slog.Info("connector disabled", "platform", platform)
			continue
		}
		if err := s.scheduleLocked(ctx, platform, conn, cc.SyncInterval.Std()); err != nil {
			return err
		}
		s.registry.set(platform, func(st *feed.SyncState) { st.Connected = true })
	}
	s.cron.Start()
	return nil
}

// Reload applies a new config at runtime. Connectors whose enabled flag or
// interval changed are rescheduled; everything else (batch timeout, backoff,
// max attempts) takes effect on the next run because those values are read
// through config().
func (s *Scheduler) Reload(ctx context.Context, next config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = next

	for platform, conn := range s.connectors {
		oldCC := prev.Connectors[platform]
		newCC := next.Connectors[platform]
		if oldCC == newCC {
			continue
		}
		if id, ok := s.entries[platform]; ok {
			s.cron.Remove(id)
			delete(s.entries, platform)
		}
		if !newCC.Enabled {
			slog.Info("connector disabled on reload", "platform", platform)
			continue
		}
		if err := s.scheduleLocked(ctx, platform, conn, newCC.SyncInterval.Std()); err != nil {
			return err
		}
		slog.Info("connector rescheduled", "platform", platform, "interval", newCC.SyncInterval)
	}
	return nil
}

// scheduleLocked registers a cron entry for one connector. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(ctx context.Context, platform model.Platform, conn connector.Connector, interval time.Duration) error {
	spec := fmt.Sprintf("@every %s", interval)
	id, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx, platform, conn) })
	if err != nil {
		return fmt.Errorf("sched: schedule %s: %w", platform, err)
	}
	s.entries[platform] = id
	return nil
}

func (s *Scheduler) config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stop halts scheduling and waits for in-flight sync runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Resume clears an auth pause so the next tick retries the platform.
func (s *Scheduler) Resume(platform model.Platform) {
	s.mu.Lock()
	s.paused[platform] = false
	s.nextAllowed[platform] = time.Time{}
	s.mu.Unlock()
	s.registry.set(platform, func(st *feed.SyncState) {
		st.Paused = false
		st.Degraded = false
	})
	slog.Info("connector resumed", "platform", platform)
}

// RunOnce executes a single sync run for one platform. It is safe to call
// directly (the sync CLI command does) and is a no-op if a run for the same
// platform is already in flight or the platform is backing off.
func (s *Scheduler) RunOnce(ctx context.Context, platform model.Platform, conn connector.Connector) {
	if !s.claim(platform) {
		return
	}
	defer s.release(platform)

	runCtx, cancel := context.WithTimeout(ctx, s.config().BatchTimeout.Std())
	defer cancel()

	if err := s.sync(runCtx, platform, conn); err != nil {
		s.handleFailure(ctx, platform, err)
		return
	}

	s.mu.Lock()
	s.nextAllowed[platform] = time.Time{}
	s.mu.Unlock()
	s.registry.set(platform, func(st *feed.SyncState) {
		st.Connected = true
		st.Degraded = false
		st.ScannedPercent = 100
	})
}

// sync pages through the connector until the cursor stops advancing. Every
// page is persisted in its own transaction together with the new cursor, so
// a failure mid-run loses at most the page in flight and never re-delivers
// committed items.
func (s *Scheduler) sync(ctx context.Context, platform model.Platform, conn connector.Connector) error {
	cursor, err := s.store.GetCursor(ctx, platform)
	if err != nil {
		return err
	}
	token := cursor.CursorToken

	for page := 0; ; page++ {
		batch, err := conn.Fetch(ctx, token)
		if err != nil {
			return err
		}
		if len(batch.Items) == 0 && batch.NewCursor == token {
			if page == 0 {
				// Nothing new; still record the successful poll.
				return s.store.Commit(ctx, platform, token, nil)
			}
			return nil
		}

		items, dropped := normalize.Batch(batch.Items)
		if dropped > 0 {
			slog.Warn("dropped malformed raw items", "platform", platform, "count", dropped)
		}
		for i := range items {
			s.extractor.Extract(&items[i])
		}

		if err := s.store.Commit(ctx, platform, batch.NewCursor, items); err != nil {
			return err
		}
		slog.Info("synced page", "platform", platform, "items", len(items), "cursor", batch.NewCursor)

		s.registry.set(platform, func(st *feed.SyncState) {
			st.Connected = true
			if st.ScannedPercent < 100 {
				st.ScannedPercent = float64(page+1) / float64(page+2) * 100
			}
		})

		// A connector that returns items without advancing its cursor would
		// refetch the same page forever; commit it once and stop.
		if batch.NewCursor == token {
			slog.Warn("cursor did not advance, ending run", "platform", platform, "cursor", token)
			return nil
		}
		token = batch.NewCursor
	}
}

func (s *Scheduler) handleFailure(ctx context.Context, platform model.Platform, err error) {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		s.mu.Lock()
		s.paused[platform] = true
		s.mu.Unlock()
		s.registry.set(platform, func(st *feed.SyncState) {
			st.Connected = false
			st.Paused = true
		})
		slog.Error("connector paused, reauthorization required", "platform", platform, "reason", authErr.Reason)
		return
	}

	failures, recErr := s.store.RecordFailure(ctx, platform)
	if recErr != nil {
		slog.Error("record sync failure", "platform", platform, "error", recErr)
		failures = 1
	}

	cfg := s.config()
	delay := backoffDelay(cfg, failures)
	var transient *model.TransientFetchError
	if errors.As(err, &transient) && transient.RetryAfter > delay {
		delay = transient.RetryAfter
	}

	s.mu.Lock()
	s.nextAllowed[platform] = time.Now().Add(delay)
	s.mu.Unlock()

	degraded := failures >= cfg.MaxAttempts
	s.registry.set(platform, func(st *feed.SyncState) {
		st.Degraded = degraded
	})
	if degraded {
		slog.Error("connector degraded", "platform", platform, "failures", failures, "error", err)
	} else {
		slog.Warn("sync failed, backing off", "platform", platform, "failures", failures, "retry_in", delay, "error", err)
	}
}

// backoffDelay doubles per consecutive failure, capped at the configured max.
func backoffDelay(cfg config.Config, failures int) time.Duration {
	delay := cfg.BackoffBase.Std()
	max := cfg.BackoffMax.Std()
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (s *Scheduler) claim(platform model.Platform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[platform] || s.paused[platform] {
		return false
	}
	if next := s.nextAllowed[platform]; !next.IsZero() && time.Now().Before(next) {
		return false
	}
	s.running[platform] = true
	return true
}

func (s *Scheduler) release(platform model.Platform) {
	s.mu.Lock()
	s.running[platform] = false
	s.mu.Unlock()
}
