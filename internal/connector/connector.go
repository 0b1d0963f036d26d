package connector

import (
	"context"

	"github.com/flowstate/flowstate/internal/model"
)

// Batch is one page of raw items plus the cursor to resume from. A connector
// that fails partway through a fetch must still return the items it has and a
// usable partial cursor, never silently drop them.
type Batch struct {
	Items     []model.RawItem
	NewCursor string
}

// Connector fetches raw items from one source platform since a cursor.
//
// Fetch must be safe to call repeatedly with the same cursor: a crash between
// fetch and cursor commit replays the batch, and item identity dedups it.
// Failures are reported as *model.TransientFetchError (retry with backoff) or
// *model.AuthError (pause scheduling until reauthorized).
type Connector interface {
	Platform() model.Platform
	Fetch(ctx context.Context, cursor string) (Batch, error)
}
