package audit

import "context"

// Repository es append-only: no existe Update ni Delete.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	GetByID(ctx context.Context, id string) (Entry, error)
	// ListRecent devuelve las entradas más recientes primero
	// (timestamp desc; en empate, orden de escritura desc).
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	// LastForEntity devuelve la entrada más reciente con esa acción para la entidad.
	LastForEntity(ctx context.Context, entityType, entityID string, action Action) (Entry, error)
}
