package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"clinical-coding/internal/domain/episodes"
)

type EpisodeRepo struct {
	mu   sync.RWMutex
	byID map[string]episodes.Episode
}

func NewEpisodeRepo() *EpisodeRepo {
	return &EpisodeRepo{
		byID: make(map[string]episodes.Episode),
	}
}

func (r *EpisodeRepo) Create(ctx context.Context, e episodes.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(e.ID) == "" {
		return errors.New("episode id required")
	}
	if _, exists := r.byID[e.ID]; exists {
		return errors.New("episode already exists")
	}
	r.byID[e.ID] = clone(e)
	return nil
}

// Update no toca códigos ni narrativa: eso solo cambia vía ApplyCodes.
func (r *EpisodeRepo) Update(ctx context.Context, e episodes.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.byID[e.ID]
	if !exists {
		return episodes.ErrNotFound
	}
	e.Diagnoses = cur.Diagnoses
	e.Procedures = cur.Procedures
	e.SourceText = cur.SourceText
	r.byID[e.ID] = e
	return nil
}

func (r *EpisodeRepo) GetByID(ctx context.Context, id string) (episodes.Episode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return episodes.Episode{}, episodes.ErrNotFound
	}
	return clone(e), nil
}

func (r *EpisodeRepo) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byID[id]
	return ok, nil
}

func (r *EpisodeRepo) List(ctx context.Context, f episodes.ListFilter) ([]episodes.Episode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]episodes.Episode, 0)
	for _, e := range r.byID {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.From != nil && e.AdmissionDate.Before(*f.From) {
			continue
		}
		if f.To != nil && e.AdmissionDate.After(*f.To) {
			continue
		}
		out = append(out, clone(e))
	}

	// Más recientes primero, igual que Postgres
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ApplyCodes reemplaza el set completo bajo el lock de escritura.
func (r *EpisodeRepo) ApplyCodes(ctx context.Context, id string, u episodes.CodeUpdate) (episodes.Episode, error) {
	if err := ctx.Err(); err != nil {
		return episodes.Episode{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return episodes.Episode{}, episodes.ErrNotFound
	}

	codes := u.Codes.Clone()
	e.Diagnoses = codes.Diagnoses
	e.Procedures = codes.Procedures
	if u.Narrative != nil {
		e.SourceText = *u.Narrative
	}
	if !u.At.IsZero() {
		e.UpdatedAt = u.At
	}
	r.byID[id] = e
	return clone(e), nil
}

// clone evita que quien llama comparta slices con el mapa.
func clone(e episodes.Episode) episodes.Episode {
	codes := e.Codes()
	e.Diagnoses = codes.Diagnoses
	e.Procedures = codes.Procedures
	return e
}
