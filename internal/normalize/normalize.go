package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowstate/flowstate/internal/model"
)

// Normalize maps one raw platform payload into the canonical Item. The item
// id is derived deterministically from the platform and native id, so
// re-ingesting the same upstream item is an upsert, not a duplicate.
func Normalize(raw model.RawItem) (model.Item, error) {
	switch r := raw.(type) {
	case model.RawMail:
		return normalizeMail(r)
	case model.RawChat:
		return normalizeChat(r)
	case model.RawCalendar:
		return normalizeCalendar(r)
	default:
		return model.Item{}, fmt.Errorf("normalize: unknown raw item variant %T", raw)
	}
}

// Batch normalizes a fetch batch. Malformed items are dropped with a logged
// reason and counted; they never fail the batch.
func Batch(raws []model.RawItem) (items []model.Item, dropped int) {
	for _, raw := range raws {
		item, err := Normalize(raw)
		if err != nil {
			dropped++
			slog.Warn("dropping malformed item",
				"platform", raw.RawPlatform(),
				"native_id", raw.NativeID(),
				"reason", err)
			continue
		}
		items = append(items, item)
	}
	return items, dropped
}

func normalizeMail(r model.RawMail) (model.Item, error) {
	if r.MessageID == "" {
		return model.Item{}, fmt.Errorf("mail message has no id")
	}
	if r.Date.IsZero() {
		return model.Item{}, fmt.Errorf("mail message %s has no date", r.MessageID)
	}
	title := strings.TrimSpace(r.Subject)
	if title == "" {
		title = "(no subject)"
	}
	return model.Item{
		ID:             model.ItemID(model.PlatformMail, r.MessageID),
		Platform:       model.PlatformMail,
		SourceNativeID: r.MessageID,
		Title:          title,
		Body:           strings.TrimSpace(r.Body),
		Sender:         strings.TrimSpace(r.From),
		ContextTag:     strings.TrimSpace(r.Folder),
		ReceivedAt:     r.Date.UTC(),
		Priority:       model.DefaultPriority(),
		ActionType:     model.ActionNone,
		Category:       model.CategoryOther,
		Status:         model.StatusNew,
	}, nil
}

func normalizeChat(r model.RawChat) (model.Item, error) {
	if r.MessageID == "" {
		return model.Item{}, fmt.Errorf("chat message has no id")
	}
	if r.SentAt.IsZero() {
		return model.Item{}, fmt.Errorf("chat message %s has no timestamp", r.MessageID)
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return model.Item{}, fmt.Errorf("chat message %s has no text", r.MessageID)
	}
	context := r.ChannelName
	if context == "" {
		context = r.ChannelID
	}
	return model.Item{
		ID:             model.ItemID(model.PlatformChat, r.MessageID),
		Platform:       model.PlatformChat,
		SourceNativeID: r.MessageID,
		Title:          firstLine(text, 120),
		Body:           text,
		Sender:         strings.TrimSpace(r.User),
		ContextTag:     context,
		ReceivedAt:     r.SentAt.UTC(),
		Priority:       model.DefaultPriority(),
		ActionType:     model.ActionNone,
		Category:       model.CategoryOther,
		Status:         model.StatusNew,
	}, nil
}

func normalizeCalendar(r model.RawCalendar) (model.Item, error) {
	if r.EventID == "" {
		return model.Item{}, fmt.Errorf("calendar event has no id")
	}
	if r.StartsAt.IsZero() {
		return model.Item{}, fmt.Errorf("calendar event %s has no start time", r.EventID)
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = "(untitled event)"
	}
	body := strings.TrimSpace(r.Description)
	if r.Location != "" {
		if body != "" {
			body += "\n"
		}
		body += "Location: " + r.Location
	}
	return model.Item{
		ID:             model.ItemID(model.PlatformCalendar, r.EventID),
		Platform:       model.PlatformCalendar,
		SourceNativeID: r.EventID,
		Title:          title,
		Body:           body,
		Sender:         strings.TrimSpace(r.Organizer),
		ContextTag:     strings.TrimSpace(r.CalendarName),
		ReceivedAt:     r.StartsAt.UTC(),
		Priority:       model.DefaultPriority(),
		ActionType:     model.ActionNone,
		Category:       model.CategoryOther,
		Status:         model.StatusNew,
	}, nil
}

func firstLine(s string, max int) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
