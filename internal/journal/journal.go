package journal

import (
	"context"
	"time"

	"github.com/starford/garnicia/internal/models"
)

// Journal defines the journal operations the scheduler, reconciler and note
// service depend on. Consumers should depend on this interface rather than
// the concrete *Store so tests can substitute failing stores.
type Journal interface {
	Upsert(ctx context.Context, id models.Identity, snapshot string, at time.Time) error
	Get(ctx context.Context, id models.Identity) (*models.Entry, bool, error)
	Remove(ctx context.Context, id models.Identity) error
	ListPending(ctx context.Context) ([]models.Entry, error)
	Rename(ctx context.Context, oldID, newID models.Identity) error
}

// Verify *Store satisfies Journal at compile time.
var _ Journal = (*Store)(nil)
