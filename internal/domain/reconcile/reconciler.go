package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/episodes"
	"clinical-coding/internal/domain/queries"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/platform/metrics"
	"clinical-coding/internal/ports/analytics"
	"clinical-coding/internal/ports/suggestion"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrQueryNotFound         = errors.New("query not found")
	ErrSuggestionUnavailable = errors.New("suggestion engine unavailable")
)

const (
	DefaultMinInterval = 5 * time.Minute

	// AnalyticsTable es la tabla del dataset donde van los deltas.
	AnalyticsTable = "SuggestionDeltas"

	flowActor = "flow"
)

type Outcome string

const (
	OutcomeApplied         Outcome = metrics.ReconcileApplied
	OutcomeSkippedDebounce Outcome = metrics.ReconcileSkippedDebounce
	OutcomeNoEpisode       Outcome = metrics.ReconcileNoEpisode
)

// Options se fija al construir el Reconciler.
type Options struct {
	// MinInterval entre dos re-sugerencias aplicadas al mismo episodio.
	// 0 desactiva el debounce.
	MinInterval time.Duration
	// LockPerEpisode serializa reconciliaciones concurrentes del mismo episodio.
	// Sin lock, la consistencia queda en manos del debounce y del reemplazo idempotente.
	LockPerEpisode bool
}

// EpisodeCodes lo implementa episodes.Repository.
type EpisodeCodes interface {
	GetByID(ctx context.Context, id string) (episodes.Episode, error)
	ApplyCodes(ctx context.Context, id string, u episodes.CodeUpdate) (episodes.Episode, error)
}

// Response es la respuesta de un clínico a una consulta.
type Response struct {
	QueryID      string `json:"queryId"`
	Responder    string `json:"responder,omitempty"`
	ResponseText string `json:"responseText"`
}

type Result struct {
	Outcome Outcome
	Query   queries.Query
	Episode episodes.Episode
	Change  audit.CodeChange
	AuditID string
}

type Reconciler struct {
	queries  *queries.Service
	episodes EpisodeCodes
	audit    *audit.Service
	engine   suggestion.Engine
	sink     analytics.Sink // puede ser nil
	log      logger.Logger
	opts     Options
	locks    *keyedLocks
	now      func() time.Time
}

func New(q *queries.Service, eps EpisodeCodes, auditLog *audit.Service, engine suggestion.Engine, sink analytics.Sink, log logger.Logger, opts Options) *Reconciler {
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	return &Reconciler{
		queries:  q,
		episodes: eps,
		audit:    auditLog,
		engine:   engine,
		sink:     sink,
		log:      log.With(map[string]any{"component": "reconciler"}),
		opts:     opts,
		locks:    newKeyedLocks(),
		now:      time.Now,
	}
}

// RecordResponse es solo el primer paso: guarda la respuesta en la consulta.
// Repetirlo con la misma respuesta no cambia nada.
func (r *Reconciler) RecordResponse(ctx context.Context, resp Response) (queries.Query, error) {
	if strings.TrimSpace(resp.QueryID) == "" || strings.TrimSpace(resp.ResponseText) == "" {
		return queries.Query{}, ErrInvalidInput
	}
	q, _, err := r.queries.RecordResponse(ctx, resp.QueryID, resp.Responder, resp.ResponseText)
	if err != nil {
		switch {
		case errors.Is(err, queries.ErrNotFound):
			return queries.Query{}, ErrQueryNotFound
		case errors.Is(err, queries.ErrInvalidInput):
			return queries.Query{}, ErrInvalidInput
		}
		return queries.Query{}, fmt.Errorf("record response: %w", err)
	}
	return q, nil
}

// Reconcile registra la respuesta y, si corresponde, vuelve a sugerir códigos
// con la narrativa ampliada y los reemplaza en el episodio.
//
// Si el contexto se cancela antes del reemplazo el episodio queda como estaba
// y no se escribe audit. Una vez reemplazados los códigos la entrada de audit
// se escribe aunque el contexto se cancele.
func (r *Reconciler) Reconcile(ctx context.Context, resp Response) (res Result, err error) {
	start := r.now()
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = metrics.ReconcileFailed
		}
		metrics.ReconcileTotal.WithLabelValues(outcome).Inc()
		metrics.ReconcileDuration.Observe(r.now().Sub(start).Seconds())
	}()

	q, err := r.RecordResponse(ctx, resp)
	if err != nil {
		return Result{}, err
	}
	res.Query = q

	ep, err := r.episodes.GetByID(ctx, q.EpisodeID)
	if err != nil {
		if errors.Is(err, episodes.ErrNotFound) {
			res.Outcome = OutcomeNoEpisode
			return res, nil
		}
		return Result{}, fmt.Errorf("load episode: %w", err)
	}

	if r.opts.LockPerEpisode {
		unlock, err := r.locks.lock(ctx, ep.ID)
		if err != nil {
			return Result{}, err
		}
		defer unlock()

		// Releer: otra reconciliación pudo cambiar códigos y narrativa mientras esperábamos.
		if ep, err = r.episodes.GetByID(ctx, ep.ID); err != nil {
			return Result{}, fmt.Errorf("reload episode: %w", err)
		}
	}
	res.Episode = ep

	actor := strings.TrimSpace(resp.Responder)
	if actor == "" {
		actor = flowActor
	}

	skipped, err := r.debounce(ctx, ep.ID, actor, q)
	if err != nil {
		return Result{}, err
	}
	if skipped {
		res.Outcome = OutcomeSkippedDebounce
		return res, nil
	}

	now := r.now().UTC()
	narrative := ep.SourceText + annotate(q.RespondedBy, q.ResponseText, now)

	suggested, err := r.engine.Suggest(ctx, ep.SuggestionContext(narrative))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSuggestionUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	change := audit.NewCodeChange(ep.Codes(), suggested)

	updated, err := r.episodes.ApplyCodes(ctx, ep.ID, episodes.CodeUpdate{
		Codes:     suggested,
		Narrative: &narrative,
		At:        now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply codes: %w", err)
	}

	entry, err := r.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: actor,
		Action:      audit.ActionReSuggestionApplied,
		EntityType:  audit.EntityEpisode,
		EntityID:    ep.ID,
		Payload:     change,
	})
	if err != nil {
		return Result{}, fmt.Errorf("audit re-suggestion: %w", err)
	}

	r.pushDeltas(ctx, ep.ID, entry.Timestamp, change)

	res.Outcome = OutcomeApplied
	res.Episode = updated
	res.Change = change
	res.AuditID = entry.ID
	return res, nil
}

// debounce escribe ReSuggestionSkipped_Debounce y devuelve true si la última
// re-sugerencia aplicada es más reciente que MinInterval.
func (r *Reconciler) debounce(ctx context.Context, episodeID, actor string, q queries.Query) (bool, error) {
	if r.opts.MinInterval <= 0 {
		return false, nil
	}

	last, err := r.audit.LastEventForEpisode(ctx, episodeID, audit.ActionReSuggestionApplied)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("debounce lookup: %w", err)
	}
	if r.now().Sub(last.Timestamp) >= r.opts.MinInterval {
		return false, nil
	}

	_, err = r.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: actor,
		Action:      audit.ActionReSuggestionSkipped,
		EntityType:  audit.EntityEpisode,
		EntityID:    episodeID,
		Payload: audit.DebounceSkipped{
			QueryID:         q.ID,
			Body:            q.ResponseText,
			LastAppliedID:   last.ID,
			LastAppliedAt:   last.Timestamp,
			MinIntervalSecs: int64(r.opts.MinInterval / time.Second),
		},
	})
	if err != nil {
		return false, fmt.Errorf("audit debounce: %w", err)
	}

	r.log.Info("re-suggestion skipped", map[string]any{
		"episode_id":      episodeID,
		"query_id":        q.ID,
		"last_applied_id": last.ID,
	})
	return true, nil
}

// pushDeltas es best-effort: un error se loguea y no afecta lo ya commiteado.
func (r *Reconciler) pushDeltas(ctx context.Context, episodeID string, at time.Time, c audit.CodeChange) {
	if r.sink == nil {
		return
	}

	row := analytics.Row{
		"EpisodeId": episodeID,
		"EventUtc":  at.UTC().Format(time.RFC3339),
		"DxAdded":   strings.Join(c.DxAdded, "|"),
		"DxRemoved": strings.Join(c.DxRemoved, "|"),
		"PxAdded":   strings.Join(c.PxAdded, "|"),
		"PxRemoved": strings.Join(c.PxRemoved, "|"),
	}
	if err := r.sink.PushRows(ctx, AnalyticsTable, []analytics.Row{row}); err != nil {
		metrics.AnalyticsPushFailures.Inc()
		r.log.Warn("analytics push failed", map[string]any{
			"episode_id": episodeID,
			"table":      AnalyticsTable,
			"error":      err.Error(),
		})
	}
}

func annotate(responder, text string, at time.Time) string {
	if strings.TrimSpace(responder) == "" {
		responder = "unknown"
	}
	return fmt.Sprintf("\n\nClinician response (%s on %s):\n%s", responder, at.UTC().Format("2006-01-02 15:04:05Z"), text)
}
