package queries

import "time"

const DefaultSubject = "Clinical Coding Query"

// Query es una consulta a un clínico sobre un episodio.
type Query struct {
	ID        string
	EpisodeID string

	ToClinician string
	Subject     string
	Body        string

	CreatedBy string
	CreatedAt time.Time

	// ExternalReference es lo que devolvió el flujo de entrega (ej. "HTTP 202").
	ExternalReference string

	ResponseText string
	RespondedBy  string
	RespondedAt  *time.Time
}

func (q Query) Responded() bool {
	return q.RespondedAt != nil
}
