package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// RuleAdapter is the default offline TextAnalysisAdapter. It recognizes
// explicit dates plus a small vocabulary of relative phrases, and assigns
// higher confidence when a deadline trigger word ("by", "due", "before")
// sits near the match.
type RuleAdapter struct {
	// Location used to anchor date-only deadlines.
	Loc *time.Location
	// Hour of day assigned to date-only deadlines.
	DefaultHour int
}

// NewRuleAdapter builds a rule adapter in the given location.
func NewRuleAdapter(loc *time.Location, defaultHour int) *RuleAdapter {
	if loc == nil {
		loc = time.UTC
	}
	return &RuleAdapter{Loc: loc, DefaultHour: defaultHour}
}

// Summarize returns the first sentence of the text, truncated.
func (a *RuleAdapter) Summarize(text string) (string, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return "", nil
	}
	if idx := strings.IndexAny(text, ".!?"); idx >= 0 && idx < len(text)-1 {
		text = text[:idx+1]
	}
	const max = 140
	if len(text) > max {
		text = strings.TrimSpace(text[:max]) + "…"
	}
	return text, nil
}

var (
	triggerRe = regexp.MustCompile(`(?i)\b(by|due|before|deadline|respond by|no later than|submit by|expires?)\b`)

	isoDateRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	slashDateRe   = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{2,4})\b`)
	monthDayRe    = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	weekdayRe     = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	eodRe         = regexp.MustCompile(`(?i)\b(eod|end of (?:the )?day|cob|close of business)\b`)
	eowRe         = regexp.MustCompile(`(?i)\b(eow|end of (?:the )?week)\b`)
	todayRe       = regexp.MustCompile(`(?i)\b(today|tonight)\b`)
	tomorrowRe    = regexp.MustCompile(`(?i)\btomorrow\b`)
	nextWeekRe    = regexp.MustCompile(`(?i)\bnext week\b`)
)

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// FindDeadline scans the text for the most confident deadline candidate.
// Ties between equally confident candidates go to the earlier due time,
// since misfiling an item as less urgent is worse than more urgent.
func (a *RuleAdapter) FindDeadline(text string, ref time.Time) (*DeadlineHint, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	ref = ref.In(a.Loc)

	var hints []DeadlineHint
	hints = append(hints, a.explicitDates(text, ref)...)
	hints = append(hints, a.relativePhrases(text, ref)...)
	if len(hints) == 0 {
		return nil, nil
	}

	best := hints[0]
	for _, h := range hints[1:] {
		if h.Confidence > best.Confidence ||
			(h.Confidence == best.Confidence && h.DueAt.Before(best.DueAt)) {
			best = h
		}
	}
	return &best, nil
}

func (a *RuleAdapter) explicitDates(text string, ref time.Time) []DeadlineHint {
	var hints []DeadlineHint

	add := func(span string, start int, due time.Time) {
		conf := 0.7
		if hasTriggerNearby(text, start) {
			conf = 0.9
		}
		hints = append(hints, DeadlineHint{DueAt: due.UTC(), Confidence: conf, Span: span})
	}

	for _, re := range []*regexp.Regexp{isoDateRe, slashDateRe} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			span := text[loc[0]:loc[1]]
			parsed, err := dateparse.ParseIn(span, a.Loc)
			if err != nil || !plausible(parsed, ref) {
				continue
			}
			due := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), a.DefaultHour, 0, 0, 0, a.Loc)
			add(span, loc[0], due)
		}
	}

	for _, m := range monthDayRe.FindAllStringSubmatchIndex(text, -1) {
		span := text[m[0]:m[1]]
		month, ok := monthsByName[strings.ToLower(text[m[2]:m[3]])]
		if !ok {
			continue
		}
		day, err := strconv.Atoi(text[m[4]:m[5]])
		if err != nil || day < 1 || day > 31 {
			continue
		}
		year := ref.Year()
		if m[6] >= 0 {
			year, err = strconv.Atoi(text[m[6]:m[7]])
			if err != nil {
				continue
			}
		}
		due := time.Date(year, month, day, a.DefaultHour, 0, 0, 0, a.Loc)
		// Year-less dates already past roll to next year.
		if m[6] < 0 && due.Before(startOfDay(ref)) {
			due = due.AddDate(1, 0, 0)
		}
		if !plausible(due, ref) {
			continue
		}
		add(span, m[0], due)
	}

	return hints
}

func (a *RuleAdapter) relativePhrases(text string, ref time.Time) []DeadlineHint {
	var hints []DeadlineHint

	add := func(span string, start int, due time.Time, base, boosted float64) {
		conf := base
		if hasTriggerNearby(text, start) {
			conf = boosted
		}
		hints = append(hints, DeadlineHint{DueAt: due.UTC(), Confidence: conf, Span: span})
	}

	if m := eodRe.FindStringIndex(text); m != nil {
		due := time.Date(ref.Year(), ref.Month(), ref.Day(), 17, 0, 0, 0, a.Loc)
		add(text[m[0]:m[1]], m[0], due, 0.75, 0.85)
	}
	if m := eowRe.FindStringIndex(text); m != nil {
		due := a.dateOnly(nextWeekday(ref, time.Friday))
		add(text[m[0]:m[1]], m[0], due, 0.65, 0.8)
	}
	if m := todayRe.FindStringIndex(text); m != nil {
		due := time.Date(ref.Year(), ref.Month(), ref.Day(), 23, 59, 0, 0, a.Loc)
		add(text[m[0]:m[1]], m[0], due, 0.6, 0.8)
	}
	if m := tomorrowRe.FindStringIndex(text); m != nil {
		due := a.dateOnly(ref.AddDate(0, 0, 1))
		add(text[m[0]:m[1]], m[0], due, 0.7, 0.85)
	}
	if m := nextWeekRe.FindStringIndex(text); m != nil {
		due := a.dateOnly(ref.AddDate(0, 0, 7))
		add(text[m[0]:m[1]], m[0], due, 0.5, 0.6)
	}
	for _, m := range weekdayRe.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[m[2]:m[3]])
		target, ok := weekdaysByName[name]
		if !ok {
			continue
		}
		due := a.dateOnly(nextWeekday(ref, target))
		add(text[m[0]:m[1]], m[0], due, 0.5, 0.8)
	}

	return hints
}

var weekdaysByName = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// nextWeekday returns the next occurrence of target strictly after ref's day.
// A mention of the current weekday means the one a week out.
func nextWeekday(ref time.Time, target time.Weekday) time.Time {
	days := (int(target) - int(ref.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return ref.AddDate(0, 0, days)
}

func (a *RuleAdapter) dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), a.DefaultHour, 0, 0, 0, a.Loc)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// hasTriggerNearby reports whether a deadline trigger word appears in the 32
// characters before the match.
func hasTriggerNearby(text string, matchStart int) bool {
	windowStart := matchStart - 32
	if windowStart < 0 {
		windowStart = 0
	}
	return triggerRe.MatchString(text[windowStart:matchStart])
}

// plausible rejects parses that land absurdly far from the reference time,
// which usually means a version number or id matched a date pattern.
func plausible(t, ref time.Time) bool {
	return t.After(ref.AddDate(-1, 0, 0)) && t.Before(ref.AddDate(5, 0, 0))
}
