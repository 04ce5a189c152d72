package queries

import "context"

type Repository interface {
	Create(ctx context.Context, q Query) error
	Update(ctx context.Context, q Query) error
	GetByID(ctx context.Context, id string) (Query, error)
	ListByEpisode(ctx context.Context, episodeID string) ([]Query, error)
}
