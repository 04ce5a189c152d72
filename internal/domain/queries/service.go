package queries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/notify"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// EpisodeLookup evita importar el paquete episodes.
type EpisodeLookup interface {
	Exists(ctx context.Context, episodeID string) (bool, error)
}

type Service struct {
	repo     Repository
	episodes EpisodeLookup
	audit    *audit.Service
	notifier notify.Notifier // puede ser nil
	log      logger.Logger
	now      func() time.Time
}

func NewService(repo Repository, eps EpisodeLookup, auditLog *audit.Service, notifier notify.Notifier, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		episodes: eps,
		audit:    auditLog,
		notifier: notifier,
		log:      log.With(map[string]any{"component": "queries"}),
		now:      time.Now,
	}
}

type CreateInput struct {
	EpisodeID   string
	ToClinician string
	Subject     string
	Body        string
	CreatedBy   string
}

// Create guarda la consulta, la envía al flujo externo (best-effort) y
// registra ClinicianQueryCreated.
func (s *Service) Create(ctx context.Context, in CreateInput) (Query, error) {
	episodeID := strings.TrimSpace(in.EpisodeID)
	to := strings.TrimSpace(in.ToClinician)
	body := strings.TrimSpace(in.Body)
	by := strings.TrimSpace(in.CreatedBy)
	if episodeID == "" || to == "" || body == "" || by == "" {
		return Query{}, ErrInvalidInput
	}

	ok, err := s.episodes.Exists(ctx, episodeID)
	if err != nil {
		return Query{}, err
	}
	if !ok {
		return Query{}, ErrNotFound
	}

	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	q := Query{
		ID:          uuid.NewString(),
		EpisodeID:   episodeID,
		ToClinician: to,
		Subject:     subject,
		Body:        body,
		CreatedBy:   by,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, q); err != nil {
		return Query{}, err
	}

	if s.notifier != nil {
		ref, err := s.notifier.NotifyQuery(ctx, notify.QueryNotification{
			QueryID:   q.ID,
			EpisodeID: q.EpisodeID,
			To:        q.ToClinician,
			Subject:   q.Subject,
			Body:      q.Body,
			CreatedBy: q.CreatedBy,
			CreatedAt: q.CreatedAt,
		})
		if err != nil {
			s.log.Warn("query notification failed", map[string]any{
				"query_id": q.ID,
				"error":    err.Error(),
			})
		}
		if ref != "" {
			q.ExternalReference = ref
			if err := s.repo.Update(ctx, q); err != nil {
				s.log.Warn("store external reference failed", map[string]any{
					"query_id": q.ID,
					"error":    err.Error(),
				})
			}
		}
	}

	if _, err := s.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: by,
		Action:      audit.ActionClinicianQueryCreated,
		EntityType:  audit.EntityClinicianQuery,
		EntityID:    q.ID,
		Payload: audit.QueryCreated{
			QueryID:           q.ID,
			EpisodeID:         q.EpisodeID,
			ToClinician:       q.ToClinician,
			Subject:           q.Subject,
			ExternalReference: q.ExternalReference,
		},
	}); err != nil {
		return Query{}, fmt.Errorf("audit query created: %w", err)
	}
	return q, nil
}

// RecordResponse guarda la respuesta del clínico. Es idempotente: si la
// misma respuesta (responder + texto) ya está registrada no se toca nada y
// changed=false. Una respuesta distinta reemplaza a la anterior.
func (s *Service) RecordResponse(ctx context.Context, id, responder, text string) (q Query, changed bool, err error) {
	id = strings.TrimSpace(id)
	responder = strings.TrimSpace(responder)
	text = strings.TrimSpace(text)
	if id == "" || text == "" {
		return Query{}, false, ErrInvalidInput
	}

	q, err = s.GetByID(ctx, id)
	if err != nil {
		return Query{}, false, err
	}

	if q.Responded() && q.RespondedBy == responder && q.ResponseText == text {
		return q, false, nil
	}

	now := s.now().UTC()
	q.RespondedBy = responder
	q.ResponseText = text
	q.RespondedAt = &now

	if err := s.repo.Update(ctx, q); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Query{}, false, ErrNotFound
		}
		return Query{}, false, err
	}
	return q, true, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Query, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Query{}, ErrInvalidInput
	}
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Query{}, ErrNotFound
		}
		return Query{}, err
	}
	return q, nil
}

func (s *Service) ListByEpisode(ctx context.Context, episodeID string) ([]Query, error) {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByEpisode(ctx, episodeID)
}
