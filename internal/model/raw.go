package model

import "time"

// RawItem is the closed set of platform payload shapes a connector can
// return. Each platform has exactly one variant, converted by a dedicated
// normalizer function, so the pipeline never inspects payloads dynamically.
type RawItem interface {
	RawPlatform() Platform
	NativeID() string
}

// RawMail is one message fetched from a mail source.
type RawMail struct {
	MessageID string
	Subject   string
	From      string
	Folder    string
	Body      string
	Date      time.Time
}

func (r RawMail) RawPlatform() Platform { return PlatformMail }
func (r RawMail) NativeID() string      { return r.MessageID }

// RawChat is one message fetched from a chat source.
type RawChat struct {
	MessageID   string
	ChannelID   string
	ChannelName string
	User        string
	Text        string
	SentAt      time.Time
}

func (r RawChat) RawPlatform() Platform { return PlatformChat }
func (r RawChat) NativeID() string      { return r.MessageID }

// RawCalendar is one event fetched from a calendar source.
type RawCalendar struct {
	EventID      string
	Title        string
	Organizer    string
	CalendarName string
	Description  string
	Location     string
	StartsAt     time.Time
	EndsAt       time.Time
}

func (r RawCalendar) RawPlatform() Platform { return PlatformCalendar }
func (r RawCalendar) NativeID() string      { return r.EventID }
