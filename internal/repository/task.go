package repository

import (
	"context"

	"torrent-bot/internal/domain"
)

// TaskJournal persists the set of active downloads so they can be re-added
// to the engine after a restart. Rows live exactly as long as the registry
// entry they mirror.
type TaskJournal interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, task domain.Task) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Task, error)
}
