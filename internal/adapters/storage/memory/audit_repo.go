package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"clinical-coding/internal/domain/audit"
)

// AuditRepo es append-only; el slice conserva el orden de escritura y
// byID apunta a la posición de cada entrada.
type AuditRepo struct {
	mu    sync.RWMutex
	items []audit.Entry
	byID  map[string]int
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{byID: map[string]int{}}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(e.ID) == "" {
		return errors.New("audit id required")
	}
	if _, ok := r.byID[e.ID]; ok {
		return errors.New("audit entry already exists")
	}
	r.byID[e.ID] = len(r.items)
	r.items = append(r.items, e)
	return nil
}

func (r *AuditRepo) GetByID(ctx context.Context, id string) (audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byID[id]
	if !ok {
		return audit.Entry{}, audit.ErrNotFound
	}
	return r.items[i], nil
}

func (r *AuditRepo) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.newestFirst()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AuditRepo) LastForEntity(ctx context.Context, entityType, entityID string, action audit.Action) (audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.newestFirst() {
		if e.EntityType == entityType && e.EntityID == entityID && e.Action == action {
			return e, nil
		}
	}
	return audit.Entry{}, audit.ErrNotFound
}

// newestFirst: timestamp desc y, en empate, el último escrito primero.
// Se llama con el lock tomado.
func (r *AuditRepo) newestFirst() []audit.Entry {
	out := make([]audit.Entry, len(r.items))
	for i := range r.items {
		out[len(r.items)-1-i] = r.items[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
