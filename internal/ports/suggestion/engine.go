package suggestion

import (
	"context"
	"time"

	"clinical-coding/internal/domain/coding"
)

// EpisodeContext es lo que el motor recibe para sugerir códigos.
type EpisodeContext struct {
	EpisodeID     string
	Specialty     string
	Narrative     string
	AdmissionDate time.Time
	DischargeDate *time.Time
}

// Engine sugiere diagnósticos y procedimientos a partir del texto narrativo.
// "Sin sugerencia" se expresa con un CodeSet vacío, nunca con error;
// un error significa que el motor no está disponible.
type Engine interface {
	Suggest(ctx context.Context, ep EpisodeContext) (coding.CodeSet, error)
}
