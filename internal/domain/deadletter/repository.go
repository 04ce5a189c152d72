package deadletter

import "context"

type Repository interface {
	Create(ctx context.Context, r Record) error
	Update(ctx context.Context, r Record) error
	GetByID(ctx context.Context, id string) (Record, error)
	// List devuelve los más recientes primero. Status vacío = todos.
	List(ctx context.Context, status Status, limit int) ([]Record, error)
}
