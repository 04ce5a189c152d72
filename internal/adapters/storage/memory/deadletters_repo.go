package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"clinical-coding/internal/domain/deadletter"
)

type DeadLetterRepo struct {
	mu   sync.RWMutex
	byID map[string]deadletter.Record
}

func NewDeadLetterRepo() *DeadLetterRepo {
	return &DeadLetterRepo{
		byID: make(map[string]deadletter.Record),
	}
}

func (r *DeadLetterRepo) Create(ctx context.Context, rec deadletter.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("dead-letter id required")
	}
	if _, exists := r.byID[rec.ID]; exists {
		return errors.New("dead-letter already exists")
	}
	r.byID[rec.ID] = rec
	return nil
}

func (r *DeadLetterRepo) Update(ctx context.Context, rec deadletter.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[rec.ID]; !exists {
		return deadletter.ErrNotFound
	}
	r.byID[rec.ID] = rec
	return nil
}

func (r *DeadLetterRepo) GetByID(ctx context.Context, id string) (deadletter.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return deadletter.Record{}, deadletter.ErrNotFound
	}
	return rec, nil
}

func (r *DeadLetterRepo) List(ctx context.Context, status deadletter.Status, limit int) ([]deadletter.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]deadletter.Record, 0)
	for _, rec := range r.byID {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
