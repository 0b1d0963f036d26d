package extract

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/flowstate/flowstate/internal/model"
)

// Options tune the extraction policy.
type Options struct {
	// Deadlines below this confidence are discarded rather than guessed:
	// false negatives are preferred over items misfiled into Overdue.
	ConfidenceThreshold float64

	// Priority label thresholds on the [0,1] score.
	UrgentThreshold float64
	NormalThreshold float64
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{ConfidenceThreshold: 0.6, UrgentThreshold: 0.75, NormalThreshold: 0.40}
}

// Extractor derives a deadline, priority, action type, category, and summary
// from item content. Text understanding is delegated to the adapter.
//
// Extract runs on scheduler goroutines while config hot-reload swaps the
// policy and adapter, so both live behind a lock and each Extract call works
// on one consistent snapshot.
type Extractor struct {
	mu      sync.RWMutex
	adapter TextAnalysisAdapter
	opts    Options
}

// New builds an Extractor around the given adapter.
func New(adapter TextAnalysisAdapter, opts Options) *Extractor {
	if opts.ConfidenceThreshold == 0 && opts.UrgentThreshold == 0 && opts.NormalThreshold == 0 {
		opts = DefaultOptions()
	}
	return &Extractor{adapter: adapter, opts: opts}
}

// SetOptions swaps the policy, used by config hot-reload.
func (e *Extractor) SetOptions(opts Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

// SetAdapter swaps the text-analysis backend, used by config hot-reload when
// the deadline anchoring settings change.
func (e *Extractor) SetAdapter(adapter TextAnalysisAdapter) {
	e.mu.Lock()
	e.adapter = adapter
	e.mu.Unlock()
}

func (e *Extractor) snapshot() (TextAnalysisAdapter, Options) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapter, e.opts
}

// Extract annotates the item in place. An adapter failure is non-fatal: the
// item keeps no deadline and the default priority, and ExtractionSkipped is
// set so the UI can distinguish "no deadline found" from "extraction failed".
func (e *Extractor) Extract(item *model.Item) {
	adapter, opts := e.snapshot()
	text := item.Title + "\n" + item.Body

	item.ActionType = classifyAction(item.Platform, text)
	item.ActionRequired = item.ActionType.RequiresAction()
	item.Category = categorize(text)

	summary, err := adapter.Summarize(item.Body)
	if err != nil {
		markSkipped(item, err)
		return
	}
	item.Summary = summary

	// Relative phrases resolve against ReceivedAt, not wall-clock time, so
	// replaying historical items is reproducible.
	hint, err := adapter.FindDeadline(text, item.ReceivedAt)
	if err != nil {
		markSkipped(item, err)
		return
	}
	if hint != nil && hint.Confidence >= opts.ConfidenceThreshold {
		item.Deadline = &model.ExtractedDeadline{
			DueAt:      hint.DueAt,
			Confidence: hint.Confidence,
			SourceText: hint.Span,
		}
	}

	item.Priority = scorePriority(item, text, opts)
	item.ExtractionSkipped = false
}

func markSkipped(item *model.Item, err error) {
	failure := &model.ExtractionFailure{ItemID: item.ID, Err: err}
	slog.Warn("extraction skipped", "item", item.ID, "platform", item.Platform, "error", failure)
	item.Deadline = nil
	item.Summary = ""
	item.Priority = model.DefaultPriority()
	item.ExtractionSkipped = true
}

// scorePriority maps content signals onto a [0,1] score plus discrete label.
func scorePriority(item *model.Item, text string, opts Options) model.PriorityScore {
	lower := strings.ToLower(text)
	score := 0.5

	switch {
	case containsAny(lower, "urgent", "asap", "emergency", "critical", "immediately"):
		score += 0.3
	case containsAny(lower, "important", "priority", "reminder"):
		score += 0.15
	}

	switch item.ActionType {
	case model.ActionTaskAssigned:
		score += 0.15
	case model.ActionReplyNeeded:
		score += 0.1
	case model.ActionMeetingRequest:
		score += 0.05
	case model.ActionFYIOnly:
		score -= 0.2
	case model.ActionNone:
		score -= 0.1
	}

	if item.Deadline != nil {
		score += 0.1
	}
	if item.Category == model.CategoryPromotional {
		score -= 0.25
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	label := model.PriorityLow
	switch {
	case score >= opts.UrgentThreshold:
		label = model.PriorityUrgent
	case score >= opts.NormalThreshold:
		label = model.PriorityNormal
	}
	return model.PriorityScore{Value: score, Label: label}
}

func classifyAction(platform model.Platform, text string) model.ActionType {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "fyi", "heads up", "no action needed", "for your information"):
		return model.ActionFYIOnly
	case platform == model.PlatformCalendar,
		containsAny(lower, "meeting", "invite", "schedule a call", "calendar"):
		return model.ActionMeetingRequest
	case containsAny(lower, "assigned to you", "your task", "please complete", "action item"):
		return model.ActionTaskAssigned
	case containsAny(lower, "please review", "review the", "take a look", "feedback on"):
		return model.ActionReviewNeeded
	case containsAny(lower, "please respond", "please reply", "let me know", "rsvp", "respond by"):
		return model.ActionReplyNeeded
	default:
		return model.ActionNone
	}
}

func categorize(text string) model.Category {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "invoice", "payment", "bank", "receipt", "statement", "billing"):
		return model.CategoryFinance
	case containsAny(lower, "unsubscribe", "discount", "sale ends", "limited time", "% off", "promo"):
		return model.CategoryPromotional
	case containsAny(lower, "homework", "assignment", "lecture", "professor", "semester", "exam"):
		return model.CategorySchool
	case containsAny(lower, "project", "sprint", "standup", "client", "report", "meeting", "deploy", "review"):
		return model.CategoryWork
	case containsAny(lower, "party", "dinner", "birthday", "weekend", "drinks"):
		return model.CategorySocial
	case containsAny(lower, "family", "doctor", "appointment", "dentist"):
		return model.CategoryPersonal
	default:
		return model.CategoryOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
