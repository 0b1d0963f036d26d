package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Platform identifies a source integration.
type Platform string

const (
	PlatformMail     Platform = "mail"
	PlatformChat     Platform = "chat"
	PlatformCalendar Platform = "calendar"
)

// Platforms returns the closed set of supported platforms in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformMail, PlatformChat, PlatformCalendar}
}

// ParsePlatform validates a platform string.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformMail, PlatformChat, PlatformCalendar:
		return Platform(s), nil
	}
	return "", fmt.Errorf("model: unknown platform %q", s)
}

// Status is the only item field mutable by user action.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusTaskCreated  Status = "task_created"
	StatusDismissed    Status = "dismissed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusAcknowledged, StatusTaskCreated, StatusDismissed:
		return Status(s), nil
	}
	return "", fmt.Errorf("model: unknown status %q", s)
}

// Bucket is the derived time-urgency classification. Buckets are computed on
// read from the extracted deadline and the current time, never persisted.
type Bucket string

const (
	BucketOverdue     Bucket = "overdue"
	BucketDueToday    Bucket = "due_today"
	BucketDueThisWeek Bucket = "due_this_week"
	BucketUpcoming    Bucket = "upcoming"
	BucketUnscheduled Bucket = "unscheduled"
)

// ParseBucket validates a bucket string.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case BucketOverdue, BucketDueToday, BucketDueThisWeek, BucketUpcoming, BucketUnscheduled:
		return Bucket(s), nil
	}
	return "", fmt.Errorf("model: unknown bucket %q", s)
}

// ActionType is the classified action an item asks of the user.
type ActionType string

const (
	ActionReplyNeeded    ActionType = "reply_needed"
	ActionReviewNeeded   ActionType = "review_needed"
	ActionMeetingRequest ActionType = "meeting_request"
	ActionTaskAssigned   ActionType = "task_assigned"
	ActionFYIOnly        ActionType = "fyi_only"
	ActionNone           ActionType = "none"
)

// RequiresAction reports whether the action type demands something of the user.
func (a ActionType) RequiresAction() bool {
	return a != ActionFYIOnly && a != ActionNone && a != ""
}

// Category is the coarse content category of an item.
type Category string

const (
	CategoryWork        Category = "work"
	CategoryPersonal    Category = "personal"
	CategorySchool      Category = "school"
	CategoryPromotional Category = "promotional"
	CategorySocial      Category = "social"
	CategoryFinance     Category = "finance"
	CategoryOther       Category = "other"
)

// PriorityLabel is the discrete rendering of a priority score.
type PriorityLabel string

const (
	PriorityUrgent PriorityLabel = "urgent"
	PriorityNormal PriorityLabel = "normal"
	PriorityLow    PriorityLabel = "low"
)

// PriorityScore is a normalized priority in [0,1] plus its discrete label.
type PriorityScore struct {
	Value float64       `json:"value"`
	Label PriorityLabel `json:"label"`
}

// DefaultPriority is assigned when extraction is skipped or fails.
func DefaultPriority() PriorityScore {
	return PriorityScore{Value: 0.5, Label: PriorityNormal}
}

// ExtractedDeadline is a deadline derived from item text.
type ExtractedDeadline struct {
	DueAt      time.Time `json:"due_at"`
	Confidence float64   `json:"confidence"`
	SourceText string    `json:"source_text,omitempty"`
}

// Item is the canonical representation of one piece of content from any
// source. Once persisted an item is immutable except for Status.
type Item struct {
	ID             string   `json:"id"`
	Platform       Platform `json:"platform"`
	SourceNativeID string   `json:"source_native_id"`

	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	Sender     string `json:"sender,omitempty"`
	ContextTag string `json:"context_tag,omitempty"`

	ReceivedAt time.Time `json:"received_at"`

	Summary           string             `json:"summary,omitempty"`
	Deadline          *ExtractedDeadline `json:"deadline,omitempty"`
	Priority          PriorityScore      `json:"priority"`
	ActionType        ActionType         `json:"action_type"`
	ActionRequired    bool               `json:"action_required"`
	Category          Category           `json:"category"`
	ExtractionSkipped bool               `json:"extraction_skipped,omitempty"`

	Status Status `json:"status"`
}

// ItemID derives the stable item identity from the platform and the
// platform's native id, so repeated ingestion of the same upstream item
// upserts instead of duplicating.
func ItemID(platform Platform, nativeID string) string {
	sum := sha256.Sum256([]byte(string(platform) + "/" + nativeID))
	return hex.EncodeToString(sum[:])
}

// SyncCursor is per-connector sync state. The cursor only advances after a
// fetch batch is fully normalized and persisted.
type SyncCursor struct {
	Platform            Platform  `json:"platform"`
	CursorToken         string    `json:"cursor_token"`
	LastSyncedAt        time.Time `json:"last_synced_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Task is the downstream side effect of "create task from item". The engine
// only materializes tasks; it does not own their lifecycle.
type Task struct {
	ID           string        `json:"id"`
	SourceItemID string        `json:"source_item_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	DueAt        *time.Time    `json:"due_at,omitempty"`
	Priority     PriorityLabel `json:"priority"`
	CreatedAt    time.Time     `json:"created_at"`
}
