package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000

	systemActor = "system"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

type AppendInput struct {
	PerformedBy string
	Action      Action
	EntityType  string
	EntityID    string
	Payload     Payload
}

// Append escribe una entrada nueva. El timestamp siempre es UTC y lo pone el servicio.
func (s *Service) Append(ctx context.Context, in AppendInput) (Entry, error) {
	entityID := strings.TrimSpace(in.EntityID)
	entityType := strings.TrimSpace(in.EntityType)
	if entityID == "" || entityType == "" {
		return Entry{}, ErrInvalidInput
	}
	if err := checkPayload(in.Action, in.Payload); err != nil {
		return Entry{}, err
	}

	by := strings.TrimSpace(in.PerformedBy)
	if by == "" {
		by = systemActor
	}

	e := Entry{
		ID:          uuid.NewString(),
		Timestamp:   s.now().UTC(),
		PerformedBy: by,
		Action:      in.Action,
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     in.Payload,
	}

	if err := s.repo.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, ErrInvalidInput
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (s *Service) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

// LastEventForEpisode devuelve la entrada más reciente de la acción para el episodio.
// Retorna ErrNotFound si no hay ninguna.
func (s *Service) LastEventForEpisode(ctx context.Context, episodeID string, action Action) (Entry, error) {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" || !action.Valid() {
		return Entry{}, ErrInvalidInput
	}
	e, err := s.repo.LastForEntity(ctx, EntityEpisode, episodeID, action)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}
