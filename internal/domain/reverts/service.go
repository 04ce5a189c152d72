package reverts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/episodes"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadState     = errors.New("invalid state")
	ErrConflict     = errors.New("revert request already resolved")

	// ErrNotRevertable: la entrada de audit no trae snapshot de códigos revertible.
	ErrNotRevertable = errors.New("audit entry is not revertable")
)

// EpisodeCodes evita depender del servicio de episodios entero;
// episodes.Repository lo implementa.
type EpisodeCodes interface {
	GetByID(ctx context.Context, id string) (episodes.Episode, error)
	ApplyCodes(ctx context.Context, id string, u episodes.CodeUpdate) (episodes.Episode, error)
}

type Service struct {
	repo     Repository
	episodes EpisodeCodes
	audit    *audit.Service
	now      func() time.Time
}

func NewService(repo Repository, eps EpisodeCodes, auditLog *audit.Service) *Service {
	return &Service{
		repo:     repo,
		episodes: eps,
		audit:    auditLog,
		now:      time.Now,
	}
}

type RequestInput struct {
	EpisodeID   string
	AuditID     string
	RequestedBy string
	Notes       string
}

// RequestRevert crea una solicitud Pending y registra RevertRequested.
func (s *Service) RequestRevert(ctx context.Context, in RequestInput) (Request, error) {
	episodeID := strings.TrimSpace(in.EpisodeID)
	auditID := strings.TrimSpace(in.AuditID)
	requester := strings.TrimSpace(in.RequestedBy)
	if episodeID == "" || auditID == "" || requester == "" {
		return Request{}, ErrInvalidInput
	}

	if _, err := s.loadEpisode(ctx, episodeID); err != nil {
		return Request{}, err
	}
	if _, err := s.loadSnapshot(ctx, episodeID, auditID); err != nil {
		return Request{}, err
	}

	req := Request{
		ID:          uuid.NewString(),
		EpisodeID:   episodeID,
		AuditID:     auditID,
		RequestedBy: requester,
		RequestedAt: s.now().UTC(),
		Notes:       strings.TrimSpace(in.Notes),
		Status:      StatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return Request{}, err
	}

	if _, err := s.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: requester,
		Action:      audit.ActionRevertRequested,
		EntityType:  audit.EntityEpisode,
		EntityID:    episodeID,
		Payload:     audit.RevertRequested{RequestID: req.ID, SourceAuditID: auditID},
	}); err != nil {
		return Request{}, fmt.Errorf("audit revert requested: %w", err)
	}
	return req, nil
}

type ResolveInput struct {
	EpisodeID string
	RequestID string
	Approver  string
	Outcome   Status // StatusApproved | StatusRejected
	Notes     string
}

// ResolveRevert aprueba o rechaza una solicitud. Orden de validación:
// not found -> episodio distinto (ErrBadState) -> approver == requester
// (ErrForbidden, aun si ya está resuelta) -> no Pending (ErrConflict).
// Al aprobar se marca Approved, se aplica el snapshot y se registra
// ReSuggestionReverted; al rechazar solo se registra RevertRejected.
func (s *Service) ResolveRevert(ctx context.Context, in ResolveInput) (Request, episodes.Episode, error) {
	requestID := strings.TrimSpace(in.RequestID)
	approver := strings.TrimSpace(in.Approver)
	if requestID == "" || approver == "" {
		return Request{}, episodes.Episode{}, ErrInvalidInput
	}
	if in.Outcome != StatusApproved && in.Outcome != StatusRejected {
		return Request{}, episodes.Episode{}, ErrInvalidInput
	}

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Request{}, episodes.Episode{}, ErrNotFound
		}
		return Request{}, episodes.Episode{}, err
	}
	if req.EpisodeID != strings.TrimSpace(in.EpisodeID) {
		return Request{}, episodes.Episode{}, ErrBadState
	}
	if strings.EqualFold(req.RequestedBy, approver) {
		return Request{}, episodes.Episode{}, ErrForbidden
	}
	if req.Status != StatusPending {
		return Request{}, episodes.Episode{}, ErrConflict
	}

	if in.Outcome == StatusRejected {
		return s.reject(ctx, req, approver, in.Notes)
	}

	entry, err := s.loadSnapshot(ctx, req.EpisodeID, req.AuditID)
	if err != nil {
		return Request{}, episodes.Episode{}, err
	}

	// Primero se reclama la solicitud: si otro revisor la resolvió antes,
	// Resolve devuelve ErrConflict y no se toca ningún código.
	resolved, err := s.repo.Resolve(ctx, req.ID, StatusApproved, approver, s.now().UTC())
	if err != nil {
		return Request{}, episodes.Episode{}, err
	}

	// Ya Approved: el apply y el audit no se cortan aunque el cliente se vaya.
	ctx = context.WithoutCancel(ctx)
	ep, change, err := s.apply(ctx, req.EpisodeID, entry)
	if err != nil {
		// El reemplazo es completo; un Revert directo sobre la misma entrada converge.
		return Request{}, episodes.Episode{}, fmt.Errorf("apply approved revert %s: %w", req.ID, err)
	}

	if _, err := s.audit.Append(ctx, audit.AppendInput{
		PerformedBy: approver,
		Action:      audit.ActionReSuggestionReverted,
		EntityType:  audit.EntityEpisode,
		EntityID:    req.EpisodeID,
		Payload: audit.Reverted{
			CodeChange:      change,
			SourceAuditID:   req.AuditID,
			RevertRequestID: req.ID,
		},
	}); err != nil {
		return Request{}, episodes.Episode{}, fmt.Errorf("audit revert applied: %w", err)
	}
	return resolved, ep, nil
}

// Revert es el camino directo (sin solicitud previa). Aplica la misma
// reconstrucción y escribe la misma acción de audit.
func (s *Service) Revert(ctx context.Context, episodeID, auditID, user string) (episodes.Episode, error) {
	episodeID = strings.TrimSpace(episodeID)
	auditID = strings.TrimSpace(auditID)
	user = strings.TrimSpace(user)
	if episodeID == "" || auditID == "" || user == "" {
		return episodes.Episode{}, ErrInvalidInput
	}

	entry, err := s.loadSnapshot(ctx, episodeID, auditID)
	if err != nil {
		return episodes.Episode{}, err
	}

	ep, change, err := s.apply(ctx, episodeID, entry)
	if err != nil {
		return episodes.Episode{}, err
	}

	if _, err := s.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: user,
		Action:      audit.ActionReSuggestionReverted,
		EntityType:  audit.EntityEpisode,
		EntityID:    episodeID,
		Payload:     audit.Reverted{CodeChange: change, SourceAuditID: auditID},
	}); err != nil {
		return episodes.Episode{}, fmt.Errorf("audit revert applied: %w", err)
	}
	return ep, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Request{}, ErrInvalidInput
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	return req, nil
}

func (s *Service) ListByEpisode(ctx context.Context, episodeID string) ([]Request, error) {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByEpisode(ctx, episodeID)
}

func (s *Service) reject(ctx context.Context, req Request, approver, notes string) (Request, episodes.Episode, error) {
	resolved, err := s.repo.Resolve(ctx, req.ID, StatusRejected, approver, s.now().UTC())
	if err != nil {
		return Request{}, episodes.Episode{}, err
	}

	if _, err := s.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: approver,
		Action:      audit.ActionRevertRejected,
		EntityType:  audit.EntityEpisode,
		EntityID:    req.EpisodeID,
		Payload: audit.RevertRejected{
			RequestID:     req.ID,
			SourceAuditID: req.AuditID,
			Notes:         strings.TrimSpace(notes),
		},
	}); err != nil {
		return Request{}, episodes.Episode{}, fmt.Errorf("audit revert rejected: %w", err)
	}

	ep, err := s.loadEpisode(ctx, req.EpisodeID)
	if err != nil {
		return Request{}, episodes.Episode{}, err
	}
	return resolved, ep, nil
}

// apply reemplaza los códigos actuales por el snapshot "old" de la entrada.
// Reemplazo completo: aplicar el mismo snapshot dos veces deja el mismo set.
func (s *Service) apply(ctx context.Context, episodeID string, entry audit.Entry) (episodes.Episode, audit.CodeChange, error) {
	snapshot, _ := entry.CodeChange()

	current, err := s.loadEpisode(ctx, episodeID)
	if err != nil {
		return episodes.Episode{}, audit.CodeChange{}, err
	}

	target := snapshot.Old()
	change := audit.NewCodeChange(current.Codes(), target)

	ep, err := s.episodes.ApplyCodes(ctx, episodeID, episodes.CodeUpdate{
		Codes: target,
		At:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, episodes.ErrNotFound) {
			return episodes.Episode{}, audit.CodeChange{}, ErrNotFound
		}
		return episodes.Episode{}, audit.CodeChange{}, err
	}
	return ep, change, nil
}

// loadSnapshot valida que la entrada exista, sea del episodio y traiga snapshot.
func (s *Service) loadSnapshot(ctx context.Context, episodeID, auditID string) (audit.Entry, error) {
	entry, err := s.audit.GetByID(ctx, auditID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			return audit.Entry{}, ErrNotFound
		}
		return audit.Entry{}, err
	}
	if entry.EntityType != audit.EntityEpisode || entry.EntityID != episodeID {
		return audit.Entry{}, ErrBadState
	}
	if !entry.Revertable() {
		return audit.Entry{}, ErrNotRevertable
	}
	return entry, nil
}

func (s *Service) loadEpisode(ctx context.Context, id string) (episodes.Episode, error) {
	ep, err := s.episodes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, episodes.ErrNotFound) {
			return episodes.Episode{}, ErrNotFound
		}
		return episodes.Episode{}, err
	}
	return ep, nil
}
