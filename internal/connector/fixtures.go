package connector

import (
	"time"

	"github.com/flowstate/flowstate/internal/model"
)

// Fixtures returns deterministic sample traffic for a platform, anchored at
// ref. The sync command uses these until real integrations are connected;
// native ids are stable so repeated syncs are idempotent.
func Fixtures(platform model.Platform, ref time.Time) []model.RawItem {
	ref = ref.UTC().Truncate(time.Hour)
	switch platform {
	case model.PlatformMail:
		return []model.RawItem{
			model.RawMail{
				MessageID: "fixture-mail-001",
				Subject:   "Quarterly report due Friday",
				From:      "pm@example.com",
				Folder:    "INBOX",
				Body:      "Please review the draft and respond by Friday with your edits.",
				Date:      ref.Add(-3 * time.Hour),
			},
			model.RawMail{
				MessageID: "fixture-mail-002",
				Subject:   "Invoice #4417",
				From:      "billing@example.com",
				Folder:    "INBOX",
				Body:      "Payment is due before " + ref.AddDate(0, 0, 12).Format("January 2, 2006") + ".",
				Date:      ref.Add(-2 * time.Hour),
			},
			model.RawMail{
				MessageID: "fixture-mail-003",
				Subject:   "FYI: office closed Monday",
				From:      "facilities@example.com",
				Folder:    "INBOX",
				Body:      "Heads up, no action needed. The office is closed next Monday.",
				Date:      ref.Add(-1 * time.Hour),
			},
		}
	case model.PlatformChat:
		return []model.RawItem{
			model.RawChat{
				MessageID:   "fixture-chat-001",
				ChannelID:   "C100",
				ChannelName: "team-core",
				User:        "dana",
				Text:        "Can you take a look at the deploy checklist? Need it done by EOD.",
				SentAt:      ref.Add(-90 * time.Minute),
			},
			model.RawChat{
				MessageID:   "fixture-chat-002",
				ChannelID:   "C100",
				ChannelName: "team-core",
				User:        "sam",
				Text:        "standup notes posted, nothing urgent",
				SentAt:      ref.Add(-30 * time.Minute),
			},
		}
	case model.PlatformCalendar:
		start := ref.AddDate(0, 0, 2).Add(14 * time.Hour)
		return []model.RawItem{
			model.RawCalendar{
				EventID:      "fixture-cal-001",
				Title:        "Sprint planning",
				Organizer:    "pm@example.com",
				CalendarName: "Work",
				Description:  "Planning for the next sprint.",
				Location:     "Room 4",
				StartsAt:     start,
				EndsAt:       start.Add(time.Hour),
			},
		}
	default:
		return nil
	}
}

// NewFixtureSet builds one scripted connector per platform, preloaded with
// fixture traffic.
func NewFixtureSet(ref time.Time, pageSize int) []Connector {
	platforms := model.Platforms()
	conns := make([]Connector, 0, len(platforms))
	for _, platform := range platforms {
		conns = append(conns, NewScripted(platform, Fixtures(platform, ref), pageSize))
	}
	return conns
}
