package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-coding/internal/domain/reconcile"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrMalformed    = errors.New("malformed payload")
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type Service struct {
	repo  Repository
	queue Queue
	proc  *Processor
	log   logger.Logger
	now   func() time.Time
}

func NewService(repo Repository, queue Queue, proc *Processor, log logger.Logger) *Service {
	return &Service{
		repo:  repo,
		queue: queue,
		proc:  proc,
		log:   log.With(map[string]any{"component": "deadletter"}),
		now:   time.Now,
	}
}

// Capture guarda la respuesta como dead-letter y la encola. Implementa
// reconcile.Capturer.
func (s *Service) Capture(ctx context.Context, resp reconcile.Response, cause error) error {
	id := uuid.NewString()
	body, err := json.Marshal(Payload{
		DeadLetterID: id,
		QueryID:      resp.QueryID,
		Responder:    resp.Responder,
		ResponseText: resp.ResponseText,
	})
	if err != nil {
		return fmt.Errorf("encode dead-letter: %w", err)
	}

	rec := Record{
		ID:        id,
		Kind:      KindQueryResponse,
		Payload:   body,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("store dead-letter: %w", err)
	}
	metrics.DeadLetterCaptured.Inc()

	// Si la cola falla el registro queda pending y se puede reintentar a mano.
	if err := s.queue.Enqueue(ctx, body); err != nil {
		s.log.Error("dead-letter enqueue failed", map[string]any{
			"dead_letter_id": id,
			"query_id":       resp.QueryID,
			"error":          err.Error(),
		})
		return fmt.Errorf("enqueue dead-letter: %w", err)
	}

	s.log.Warn("dead-letter captured", map[string]any{
		"dead_letter_id": id,
		"query_id":       resp.QueryID,
		"cause":          rec.Error,
	})
	return nil
}

// Retry reprocesa un dead-letter a mano. Attempts se incrementa siempre,
// salga bien o mal. Devuelve el registro actualizado y el error de proceso.
func (s *Service) Retry(ctx context.Context, id string) (Record, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return Record{}, err
	}

	_, perr := s.proc.Process(ctx, rec.Payload)

	rec = s.attempted(rec, perr)
	if perr == nil {
		rec.Status = StatusResolved
	}
	if err := s.repo.Update(context.WithoutCancel(ctx), rec); err != nil {
		return Record{}, fmt.Errorf("update dead-letter: %w", err)
	}
	return rec, perr
}

func (s *Service) GetByID(ctx context.Context, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, ErrInvalidInput
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, status Status, limit int) ([]Record, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.List(ctx, status, limit)
}

// settle actualiza el registro después de una entrega de la cola.
// Payloads sin deadLetterId (o de registros que no existen) se ignoran.
func (s *Service) settle(ctx context.Context, id string, status Status, perr error) {
	if strings.TrimSpace(id) == "" {
		return
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("dead-letter lookup failed", map[string]any{"dead_letter_id": id, "error": err.Error()})
		}
		return
	}

	rec = s.attempted(rec, perr)
	rec.Status = status
	if err := s.repo.Update(ctx, rec); err != nil {
		s.log.Warn("dead-letter update failed", map[string]any{"dead_letter_id": id, "error": err.Error()})
	}
}

func (s *Service) attempted(rec Record, perr error) Record {
	now := s.now().UTC()
	rec.Attempts++
	rec.LastTriedAt = &now
	if perr != nil {
		rec.Error = perr.Error()
	} else {
		rec.Error = ""
	}
	return rec
}
