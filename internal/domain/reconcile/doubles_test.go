package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/domain/episodes"
	"clinical-coding/internal/domain/queries"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/analytics"
	"clinical-coding/internal/ports/suggestion"
)

type queryRepo struct {
	mu   sync.Mutex
	byID map[string]queries.Query
}

func (r *queryRepo) Create(ctx context.Context, q queries.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[q.ID] = q
	return nil
}

func (r *queryRepo) Update(ctx context.Context, q queries.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[q.ID]; !ok {
		return queries.ErrNotFound
	}
	r.byID[q.ID] = q
	return nil
}

func (r *queryRepo) GetByID(ctx context.Context, id string) (queries.Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byID[id]
	if !ok {
		return queries.Query{}, queries.ErrNotFound
	}
	return q, nil
}

func (r *queryRepo) ListByEpisode(ctx context.Context, episodeID string) ([]queries.Query, error) {
	return nil, nil
}

type episodeRepo struct {
	mu      sync.Mutex
	byID    map[string]episodes.Episode
	applies int
}

func (r *episodeRepo) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok, nil
}

func (r *episodeRepo) GetByID(ctx context.Context, id string) (episodes.Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.byID[id]
	if !ok {
		return episodes.Episode{}, episodes.ErrNotFound
	}
	return ep, nil
}

func (r *episodeRepo) ApplyCodes(ctx context.Context, id string, u episodes.CodeUpdate) (episodes.Episode, error) {
	if err := ctx.Err(); err != nil {
		return episodes.Episode{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.byID[id]
	if !ok {
		return episodes.Episode{}, episodes.ErrNotFound
	}
	codes := u.Codes.Clone()
	ep.Diagnoses = codes.Diagnoses
	ep.Procedures = codes.Procedures
	if u.Narrative != nil {
		ep.SourceText = *u.Narrative
	}
	ep.UpdatedAt = u.At
	r.byID[id] = ep
	r.applies++
	return ep, nil
}

type auditRepo struct {
	mu    sync.Mutex
	items []audit.Entry
}

func (r *auditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, e)
	return nil
}

func (r *auditRepo) GetByID(ctx context.Context, id string) (audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.items {
		if e.ID == id {
			return e, nil
		}
	}
	return audit.Entry{}, audit.ErrNotFound
}

func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]audit.Entry(nil), r.items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (r *auditRepo) LastForEntity(ctx context.Context, entityType, entityID string, action audit.Action) (audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		last  audit.Entry
		found bool
	)
	for _, e := range r.items {
		if e.EntityType != entityType || e.EntityID != entityID || e.Action != action {
			continue
		}
		if !found || !e.Timestamp.Before(last.Timestamp) {
			last, found = e, true
		}
	}
	if !found {
		return audit.Entry{}, audit.ErrNotFound
	}
	return last, nil
}

func (r *auditRepo) count(action audit.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.items {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (r *auditRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type stubEngine struct {
	mu    sync.Mutex
	out   coding.CodeSet
	err   error
	delay time.Duration
	calls int
	seen  []suggestion.EpisodeContext
	// hook corre dentro de Suggest (ej. para cancelar el contexto).
	hook func()
}

func (e *stubEngine) Suggest(ctx context.Context, ep suggestion.EpisodeContext) (coding.CodeSet, error) {
	e.mu.Lock()
	e.calls++
	e.seen = append(e.seen, ep)
	hook := e.hook
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return coding.CodeSet{}, e.err
	}
	return e.out.Clone(), nil
}

type stubSink struct {
	mu    sync.Mutex
	err   error
	table string
	rows  []analytics.Row
}

func (s *stubSink) PushRows(ctx context.Context, table string, rows []analytics.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = table
	s.rows = append(s.rows, rows...)
	return s.err
}

type fixture struct {
	rec     *Reconciler
	queries *queryRepo
	eps     *episodeRepo
	audits  *auditRepo
	engine  *stubEngine
	sink    *stubSink
}

// scenarioCodes es lo que devuelve el motor para
// "pneumonia, COPD, CXR, nebulisation, oxygen".
func scenarioCodes() coding.CodeSet {
	return coding.CodeSet{
		Diagnoses: []coding.Diagnosis{
			{Code: "J18.1", Description: "Lobar pneumonia", IsPrimary: true},
			{Code: "J44.9", Description: "COPD, unspecified"},
		},
		Procedures: []coding.Procedure{
			{Code: "U20.1", Description: "Chest X-ray"},
			{Code: "E85.3", Description: "Nebuliser therapy"},
			{Code: "E85.2", Description: "Oxygen therapy"},
		},
	}
}

func newFixture(opts Options) fixture {
	qs := &queryRepo{byID: map[string]queries.Query{
		"q-1": {ID: "q-1", EpisodeID: "ep-1", ToClinician: "dr.house", Body: "CXR?"},
		"q-2": {ID: "q-2", EpisodeID: "ep-gone", ToClinician: "dr.house", Body: "?"},
	}}
	eps := &episodeRepo{byID: map[string]episodes.Episode{
		"ep-1": {
			ID:         "ep-1",
			Specialty:  "Respiratory",
			SourceText: "Admitted with pneumonia.",
			Diagnoses:  []coding.Diagnosis{{Code: "J18.1", IsPrimary: true}},
			Status:     episodes.StatusSubmitted,
		},
	}}
	audits := &auditRepo{}
	auditSvc := audit.NewService(audits)
	engine := &stubEngine{out: scenarioCodes()}
	sink := &stubSink{}

	qsvc := queries.NewService(qs, eps, auditSvc, nil, logger.Nop())
	rec := New(qsvc, eps, auditSvc, engine, sink, logger.Nop(), opts)

	return fixture{rec: rec, queries: qs, eps: eps, audits: audits, engine: engine, sink: sink}
}

var errEngineDown = errors.New("engine down")
