package extract

import "time"

// DeadlineHint is a candidate deadline found in item text.
type DeadlineHint struct {
	DueAt      time.Time
	Confidence float64
	// Span is the raw text fragment the deadline was derived from.
	Span string
}

// TextAnalysisAdapter is the boundary where any text-understanding backend
// attaches: rule-based, embedded model, or remote-with-consent. Adapters must
// be callable fully offline; no item content leaves the process unless the
// adapter itself is explicitly configured to send it.
type TextAnalysisAdapter interface {
	// Summarize produces a short summary of the text.
	Summarize(text string) (string, error)

	// FindDeadline looks for a deadline in the text. Relative phrases are
	// resolved against ref, not wall-clock time, so replaying historical
	// items is reproducible. Returns nil when no deadline is found.
	FindDeadline(text string, ref time.Time) (*DeadlineHint, error)
}
