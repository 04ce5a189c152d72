package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"clinical-coding/internal/domain/reverts"
)

type RevertRepo struct {
	mu   sync.RWMutex
	byID map[string]reverts.Request
}

func NewRevertRepo() *RevertRepo {
	return &RevertRepo{
		byID: make(map[string]reverts.Request),
	}
}

func (r *RevertRepo) Create(ctx context.Context, req reverts.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(req.ID) == "" {
		return errors.New("revert request id required")
	}
	if _, exists := r.byID[req.ID]; exists {
		return errors.New("revert request already exists")
	}
	r.byID[req.ID] = req
	return nil
}

func (r *RevertRepo) GetByID(ctx context.Context, id string) (reverts.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.byID[id]
	if !ok {
		return reverts.Request{}, reverts.ErrNotFound
	}
	return req, nil
}

func (r *RevertRepo) ListByEpisode(ctx context.Context, episodeID string) ([]reverts.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]reverts.Request, 0)
	for _, req := range r.byID {
		if req.EpisodeID == episodeID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

// Resolve solo pasa de Pending a otro estado; si no, ErrConflict.
func (r *RevertRepo) Resolve(ctx context.Context, id string, status reverts.Status, by string, at time.Time) (reverts.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.byID[id]
	if !ok {
		return reverts.Request{}, reverts.ErrNotFound
	}
	if req.Status != reverts.StatusPending {
		return reverts.Request{}, reverts.ErrConflict
	}
	req.Status = status
	req.ResolvedBy = by
	req.ResolvedAt = &at
	r.byID[id] = req
	return req, nil
}
