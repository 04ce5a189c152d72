package reverts

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, req Request) error
	GetByID(ctx context.Context, id string) (Request, error)
	ListByEpisode(ctx context.Context, episodeID string) ([]Request, error)
	// Resolve pasa la solicitud de Pending a status solo si sigue Pending.
	// Si otro revisor la resolvió antes, retorna ErrConflict.
	Resolve(ctx context.Context, id string, status Status, by string, at time.Time) (Request, error)
}
