package connector

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flowstate/flowstate/internal/model"
)

// Scripted is an in-memory connector that pages through a fixed sequence of
// raw items. It backs local development and tests; real integrations live
// behind the same Connector interface as external collaborators.
type Scripted struct {
	platform model.Platform
	items    []model.RawItem
	pageSize int

	// Optional fault injection, consumed in order per Fetch call.
	faults []error
}

// NewScripted builds a scripted connector over the given items.
func NewScripted(platform model.Platform, items []model.RawItem, pageSize int) *Scripted {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Scripted{platform: platform, items: items, pageSize: pageSize}
}

// FailNext queues errors to be returned by upcoming Fetch calls before any
// items are served.
func (s *Scripted) FailNext(errs ...error) {
	s.faults = append(s.faults, errs...)
}

// Append adds more items to the script, simulating new upstream activity.
func (s *Scripted) Append(items ...model.RawItem) {
	s.items = append(s.items, items...)
}

func (s *Scripted) Platform() model.Platform { return s.platform }

// Fetch returns the next page after the cursor. The cursor token is the
// decimal offset of the first unserved item; the empty cursor starts at zero.
// Calling Fetch again with the same cursor returns the same page.
func (s *Scripted) Fetch(ctx context.Context, cursor string) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, &model.TransientFetchError{Platform: s.platform, Err: err}
	}
	if len(s.faults) > 0 {
		err := s.faults[0]
		s.faults = s.faults[1:]
		return Batch{}, err
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Batch{}, &model.TransientFetchError{
				Platform: s.platform,
				Err:      fmt.Errorf("malformed cursor %q", cursor),
			}
		}
		offset = n
	}
	if offset > len(s.items) {
		offset = len(s.items)
	}

	end := offset + s.pageSize
	if end > len(s.items) {
		end = len(s.items)
	}
	page := make([]model.RawItem, end-offset)
	copy(page, s.items[offset:end])

	return Batch{Items: page, NewCursor: strconv.Itoa(end)}, nil
}
