// Package composite combina un motor principal (modelo) con un fallback
// (reglas) para cuando el principal falla o no sugiere nada.
package composite

import (
	"context"

	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/suggestion"
)

type Engine struct {
	primary  suggestion.Engine
	fallback suggestion.Engine
	log      logger.Logger
}

func New(primary, fallback suggestion.Engine, log logger.Logger) *Engine {
	return &Engine{
		primary:  primary,
		fallback: fallback,
		log:      log.With(map[string]any{"component": "composite-engine"}),
	}
}

func (e *Engine) Suggest(ctx context.Context, ep suggestion.EpisodeContext) (coding.CodeSet, error) {
	if e.primary != nil {
		out, err := e.primary.Suggest(ctx, ep)
		switch {
		case err == nil && !out.IsEmpty():
			return out, nil
		case err != nil:
			// un contexto cancelado no se tapa con el fallback
			if ctx.Err() != nil {
				return coding.CodeSet{}, ctx.Err()
			}
			e.log.Warn("primary engine unavailable, using fallback", map[string]any{
				"episode_id": ep.EpisodeID,
				"error":      err.Error(),
			})
		default:
			e.log.Info("primary engine returned nothing, using fallback", map[string]any{
				"episode_id": ep.EpisodeID,
			})
		}
	}
	return e.fallback.Suggest(ctx, ep)
}
