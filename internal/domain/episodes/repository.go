package episodes

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, e Episode) error
	// Update persiste los campos de workflow. Los códigos se ignoran.
	Update(ctx context.Context, e Episode) error
	GetByID(ctx context.Context, id string) (Episode, error)
	List(ctx context.Context, filter ListFilter) ([]Episode, error)
	// ApplyCodes borra los códigos actuales e inserta los nuevos en una sola operación.
	ApplyCodes(ctx context.Context, id string, u CodeUpdate) (Episode, error)
}

type ListFilter struct {
	Status Status
	From   *time.Time // admission_date >= From
	To     *time.Time // admission_date <= To
	Limit  int
}
