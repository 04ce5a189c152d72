package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"clinical-coding/internal/domain/queries"
)

type QueryRepo struct {
	mu   sync.RWMutex
	byID map[string]queries.Query
}

func NewQueryRepo() *QueryRepo {
	return &QueryRepo{
		byID: make(map[string]queries.Query),
	}
}

func (r *QueryRepo) Create(ctx context.Context, q queries.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(q.ID) == "" {
		return errors.New("query id required")
	}
	if _, exists := r.byID[q.ID]; exists {
		return errors.New("query already exists")
	}
	r.byID[q.ID] = q
	return nil
}

func (r *QueryRepo) Update(ctx context.Context, q queries.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[q.ID]; !exists {
		return queries.ErrNotFound
	}
	r.byID[q.ID] = q
	return nil
}

func (r *QueryRepo) GetByID(ctx context.Context, id string) (queries.Query, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.byID[id]
	if !ok {
		return queries.Query{}, queries.ErrNotFound
	}
	return q, nil
}

func (r *QueryRepo) ListByEpisode(ctx context.Context, episodeID string) ([]queries.Query, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]queries.Query, 0)
	for _, q := range r.byID {
		if q.EpisodeID == episodeID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
