package notify

import (
	"context"
	"time"
)

// QueryNotification es la consulta al clínico que se envía al flujo externo.
type QueryNotification struct {
	QueryID   string
	EpisodeID string
	To        string
	Subject   string
	Body      string
	CreatedBy string
	CreatedAt time.Time
}

// Notifier entrega la consulta y devuelve una referencia externa (p.ej. "HTTP 202").
// La referencia puede venir aun cuando err != nil.
type Notifier interface {
	NotifyQuery(ctx context.Context, n QueryNotification) (string, error)
}
