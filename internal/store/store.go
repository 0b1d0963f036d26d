package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/flowstate/flowstate/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Store is the sync state store: the only component with durable state. It
// owns items, per-connector cursors, and materialized tasks.
//
// Commits are serialized per platform; commits for different platforms
// proceed fully in parallel. Reads never block writers (sqlite WAL).
type Store struct {
	db *sql.DB

	commitMu map[model.Platform]*sync.Mutex
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return New(db), nil
}

// New wraps an already opened database. The schema must be applied.
func New(db *sql.DB) *Store {
	mu := make(map[model.Platform]*sync.Mutex, len(model.Platforms())+1)
	for _, p := range model.Platforms() {
		mu[p] = &sync.Mutex{}
	}
	// Shared fallback for unknown platforms; the map is read-only after New.
	mu[""] = &sync.Mutex{}
	return &Store{db: db, commitMu: mu}
}

// Schema returns the embedded schema, for test helpers.
func Schema() string { return schemaSQL }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) platformMu(platform model.Platform) *sync.Mutex {
	if mu, ok := s.commitMu[platform]; ok {
		return mu
	}
	// Unknown platforms share one lock; Commit will reject them anyway.
	return s.commitMu[""]
}

// GetCursor returns the sync cursor for a platform, or a zero cursor if the
// platform has never synced.
func (s *Store) GetCursor(ctx context.Context, platform model.Platform) (model.SyncCursor, error) {
	cursor := model.SyncCursor{Platform: platform}
	var lastSynced int64
	err := s.db.QueryRowContext(ctx, `
		SELECT cursor_token, last_synced_at, consecutive_failures
		FROM sync_cursors WHERE platform = ?
	`, string(platform)).Scan(&cursor.CursorToken, &lastSynced, &cursor.ConsecutiveFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return cursor, nil
	}
	if err != nil {
		return cursor, fmt.Errorf("store: get cursor %s: %w", platform, err)
	}
	if lastSynced > 0 {
		cursor.LastSyncedAt = time.Unix(lastSynced, 0).UTC()
	}
	return cursor, nil
}

// Commit durably upserts a normalized batch and advances the platform's
// cursor in one transaction, items first. A crash mid-commit rolls back the
// whole batch, so the cursor never advances past unpersisted items; replaying
// the fetch is safe because item ids are deterministic.
//
// Commit also resets the platform's consecutive failure count.
func (s *Store) Commit(ctx context.Context, platform model.Platform, newCursor string, items []model.Item) error {
	if _, err := model.ParsePlatform(string(platform)); err != nil {
		return err
	}
	mu := s.platformMu(platform)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin commit tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, item := range items {
		if err := upsertItem(ctx, tx, item, now); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_cursors (platform, cursor_token, last_synced_at, consecutive_failures)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(platform) DO UPDATE SET
			cursor_token = excluded.cursor_token,
			last_synced_at = excluded.last_synced_at,
			consecutive_failures = 0
	`, string(platform), newCursor, now)
	if err != nil {
		return fmt.Errorf("store: advance cursor %s: %w", platform, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit %s: %w", platform, err)
	}
	return nil
}

// upsertItem inserts or refreshes one item. ReceivedAt, created_at, and
// status survive re-ingestion: only the extracted annotations refresh.
func upsertItem(ctx context.Context, tx *sql.Tx, item model.Item, now int64) error {
	var deadlineAt, deadlineConf, deadlineSource any
	if item.Deadline != nil {
		deadlineAt = item.Deadline.DueAt.Unix()
		deadlineConf = item.Deadline.Confidence
		deadlineSource = item.Deadline.SourceText
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO items (
			id, platform, source_native_id, title, body, sender, context_tag,
			received_at, summary, deadline_at, deadline_confidence, deadline_source,
			priority_value, priority_label, action_type, action_required,
			category, extraction_skipped, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			sender = excluded.sender,
			context_tag = excluded.context_tag,
			summary = excluded.summary,
			deadline_at = excluded.deadline_at,
			deadline_confidence = excluded.deadline_confidence,
			deadline_source = excluded.deadline_source,
			priority_value = excluded.priority_value,
			priority_label = excluded.priority_label,
			action_type = excluded.action_type,
			action_required = excluded.action_required,
			category = excluded.category,
			extraction_skipped = excluded.extraction_skipped,
			updated_at = excluded.updated_at
	`,
		item.ID, string(item.Platform), item.SourceNativeID,
		item.Title, item.Body, item.Sender, item.ContextTag,
		item.ReceivedAt.Unix(), item.Summary,
		deadlineAt, deadlineConf, deadlineSource,
		item.Priority.Value, string(item.Priority.Label),
		string(item.ActionType), boolToInt(item.ActionRequired),
		string(item.Category), boolToInt(item.ExtractionSkipped),
		string(item.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert item %s: %w", item.ID, err)
	}
	return nil
}

// RecordFailure increments the platform's consecutive failure count and
// returns the new value. The cursor token does not move.
func (s *Store) RecordFailure(ctx context.Context, platform model.Platform) (int, error) {
	mu := s.platformMu(platform)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (platform, cursor_token, last_synced_at, consecutive_failures)
		VALUES (?, '', 0, 1)
		ON CONFLICT(platform) DO UPDATE SET
			consecutive_failures = consecutive_failures + 1
	`, string(platform))
	if err != nil {
		return 0, fmt.Errorf("store: record failure %s: %w", platform, err)
	}
	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT consecutive_failures FROM sync_cursors WHERE platform = ?
	`, string(platform)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: read failure count %s: %w", platform, err)
	}
	return count, nil
}

// GetItem returns one item by id.
func (s *Store) GetItem(ctx context.Context, id string) (model.Item, error) {
	row := s.db.QueryRowContext(ctx, selectItemSQL+` WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, model.ErrNotFound
	}
	return item, err
}

// ListFeed returns items newest first, optionally filtered by platform and a
// case-insensitive substring over title, body, sender, and summary.
func (s *Store) ListFeed(ctx context.Context, platform model.Platform, query string, limit int) ([]model.Item, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := selectItemSQL + ` WHERE 1=1`
	args := []any{}
	if platform != "" {
		q += ` AND platform = ?`
		args = append(args, string(platform))
	}
	if query != "" {
		pattern := "%" + query + "%"
		q += ` AND (title LIKE ? OR body LIKE ? OR sender LIKE ? OR summary LIKE ?)`
		args = append(args, pattern, pattern, pattern, pattern)
	}
	q += ` ORDER BY received_at DESC, id ASC LIMIT ?`
	args = append(args, limit)
	return s.queryItems(ctx, q, args...)
}

// ListByDeadline returns all non-dismissed items ordered by deadline
// ascending, items without a deadline last. The caller classifies buckets.
func (s *Store) ListByDeadline(ctx context.Context) ([]model.Item, error) {
	q := selectItemSQL + `
		WHERE status != ?
		ORDER BY deadline_at IS NULL, deadline_at ASC, received_at DESC, id ASC`
	return s.queryItems(ctx, q, string(model.StatusDismissed))
}

// MarkStatus transitions an item's status with optimistic concurrency: the
// update applies only if the current status equals expect, otherwise a
// *model.ConflictError is returned and the caller must re-fetch.
func (s *Store) MarkStatus(ctx context.Context, id string, next, expect model.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(next), time.Now().Unix(), id, string(expect))
	if err != nil {
		return fmt.Errorf("store: mark status %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark status %s: %w", id, err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM items WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: mark status %s: %w", id, err)
	}
	return &model.ConflictError{ItemID: id, Expected: expect, Current: model.Status(current)}
}

// MaterializeTask creates the downstream task for an item, at most once.
// Repeat calls return the existing task. The item's status moves to
// task_created in the same transaction as the task insert.
func (s *Store) MaterializeTask(ctx context.Context, itemID string) (model.Task, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return model.Task{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, fmt.Errorf("store: begin task tx: %w", err)
	}
	defer tx.Rollback()

	if task, err := scanTaskRow(tx.QueryRowContext(ctx,
		selectTaskSQL+` WHERE source_item_id = ?`, itemID)); err == nil {
		return task, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("store: lookup task for %s: %w", itemID, err)
	}

	task := model.Task{
		ID:           uuid.NewString(),
		SourceItemID: itemID,
		Title:        item.Title,
		Description:  item.Summary,
		Priority:     item.Priority.Label,
		CreatedAt:    time.Now().UTC(),
	}
	var dueAt any
	if item.Deadline != nil {
		due := item.Deadline.DueAt
		task.DueAt = &due
		dueAt = due.Unix()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, source_item_id, title, description, due_at, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.SourceItemID, task.Title, task.Description, dueAt, string(task.Priority), task.CreatedAt.Unix())
	if err != nil {
		// A concurrent materialization may have won the unique constraint.
		if existing, lookupErr := scanTaskRow(s.db.QueryRowContext(ctx,
			selectTaskSQL+` WHERE source_item_id = ?`, itemID)); lookupErr == nil {
			return existing, nil
		}
		return model.Task{}, fmt.Errorf("store: insert task for %s: %w", itemID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE items SET status = ?, updated_at = ? WHERE id = ?
	`, string(model.StatusTaskCreated), time.Now().Unix(), itemID)
	if err != nil {
		return model.Task{}, fmt.Errorf("store: mark task created %s: %w", itemID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Task{}, fmt.Errorf("store: commit task for %s: %w", itemID, err)
	}
	return task, nil
}

// CountItems returns the number of stored items for a platform.
func (s *Store) CountItems(ctx context.Context, platform model.Platform) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE platform = ?`, string(platform)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count items %s: %w", platform, err)
	}
	return n, nil
}

const selectItemSQL = `
	SELECT id, platform, source_native_id, title, body, sender, context_tag,
	       received_at, summary, deadline_at, deadline_confidence, deadline_source,
	       priority_value, priority_label, action_type, action_required,
	       category, extraction_skipped, status
	FROM items`

const selectTaskSQL = `
	SELECT id, source_item_id, title, description, due_at, priority, created_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (model.Item, error) {
	var item model.Item
	var platform, priorityLabel, actionType, category, status string
	var receivedAt int64
	var actionRequired, extractionSkipped int
	var deadlineAt sql.NullInt64
	var deadlineConf sql.NullFloat64
	var deadlineSource sql.NullString

	err := row.Scan(
		&item.ID, &platform, &item.SourceNativeID,
		&item.Title, &item.Body, &item.Sender, &item.ContextTag,
		&receivedAt, &item.Summary,
		&deadlineAt, &deadlineConf, &deadlineSource,
		&item.Priority.Value, &priorityLabel, &actionType, &actionRequired,
		&category, &extractionSkipped, &status,
	)
	if err != nil {
		return model.Item{}, err
	}

	item.Platform = model.Platform(platform)
	item.ReceivedAt = time.Unix(receivedAt, 0).UTC()
	item.Priority.Label = model.PriorityLabel(priorityLabel)
	item.ActionType = model.ActionType(actionType)
	item.ActionRequired = actionRequired != 0
	item.Category = model.Category(category)
	item.ExtractionSkipped = extractionSkipped != 0
	item.Status = model.Status(status)
	if deadlineAt.Valid {
		item.Deadline = &model.ExtractedDeadline{
			DueAt:      time.Unix(deadlineAt.Int64, 0).UTC(),
			Confidence: deadlineConf.Float64,
			SourceText: deadlineSource.String,
		}
	}
	return item, nil
}

func scanTaskRow(row rowScanner) (model.Task, error) {
	var task model.Task
	var priority string
	var dueAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&task.ID, &task.SourceItemID, &task.Title, &task.Description, &dueAt, &priority, &createdAt)
	if err != nil {
		return model.Task{}, err
	}
	task.Priority = model.PriorityLabel(priority)
	task.CreatedAt = time.Unix(createdAt, 0).UTC()
	if dueAt.Valid {
		due := time.Unix(dueAt.Int64, 0).UTC()
		task.DueAt = &due
	}
	return task, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate items: %w", err)
	}
	return items, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
