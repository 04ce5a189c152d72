package episodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/ports/suggestion"
)

// -------------------------
// Test doubles
// -------------------------

type testRepo struct {
	byID map[string]Episode
}

func newTestRepo() *testRepo {
	return &testRepo{byID: map[string]Episode{}}
}

func (r *testRepo) Create(ctx context.Context, e Episode) error {
	if _, ok := r.byID[e.ID]; ok {
		return errors.New("repo: already exists")
	}
	r.byID[e.ID] = e
	return nil
}

func (r *testRepo) Update(ctx context.Context, e Episode) error {
	cur, ok := r.byID[e.ID]
	if !ok {
		return ErrNotFound
	}
	e.Diagnoses, e.Procedures = cur.Diagnoses, cur.Procedures
	r.byID[e.ID] = e
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (Episode, error) {
	e, ok := r.byID[id]
	if !ok {
		return Episode{}, ErrNotFound
	}
	return e, nil
}

func (r *testRepo) List(ctx context.Context, filter ListFilter) ([]Episode, error) {
	out := make([]Episode, 0)
	for _, e := range r.byID {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *testRepo) ApplyCodes(ctx context.Context, id string, u CodeUpdate) (Episode, error) {
	e, ok := r.byID[id]
	if !ok {
		return Episode{}, ErrNotFound
	}
	codes := u.Codes.Clone()
	e.Diagnoses, e.Procedures = codes.Diagnoses, codes.Procedures
	if u.Narrative != nil {
		e.SourceText = *u.Narrative
	}
	e.UpdatedAt = u.At
	r.byID[id] = e
	return e, nil
}

type auditRepo struct {
	items []audit.Entry
}

func (r *auditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.items = append(r.items, e)
	return nil
}

func (r *auditRepo) GetByID(ctx context.Context, id string) (audit.Entry, error) {
	for _, e := range r.items {
		if e.ID == id {
			return e, nil
		}
	}
	return audit.Entry{}, audit.ErrNotFound
}

func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	out := make([]audit.Entry, 0, len(r.items))
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.items[i])
	}
	return out, nil
}

func (r *auditRepo) LastForEntity(ctx context.Context, entityType, entityID string, action audit.Action) (audit.Entry, error) {
	for i := len(r.items) - 1; i >= 0; i-- {
		e := r.items[i]
		if e.EntityType == entityType && e.EntityID == entityID && e.Action == action {
			return e, nil
		}
	}
	return audit.Entry{}, audit.ErrNotFound
}

type stubEngine struct {
	codes coding.CodeSet
	err   error
	last  suggestion.EpisodeContext
}

func (s *stubEngine) Suggest(ctx context.Context, ep suggestion.EpisodeContext) (coding.CodeSet, error) {
	s.last = ep
	return s.codes, s.err
}

func newTestService(strict bool) (*Service, *testRepo, *auditRepo, *stubEngine) {
	repo := newTestRepo()
	ar := &auditRepo{}
	engine := &stubEngine{codes: coding.CodeSet{
		Diagnoses: []coding.Diagnosis{{Code: "J18.1", Description: "Lobar pneumonia, unspecified", IsPrimary: true}},
	}}
	svc := NewService(repo, audit.NewService(ar), engine, Options{StrictTransitions: strict})
	return svc, repo, ar, engine
}

func validInput() CreateInput {
	return CreateInput{
		NHSNumber:     "9434765919",
		PatientName:   "Jane Doe",
		AdmissionDate: time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC),
		Specialty:     "Respiratory",
		SourceText:    "Admitted with pneumonia.",
	}
}

// -------------------------
// Tests
// -------------------------

func TestService_Create_AssignsSuggestedCodesAndAudits(t *testing.T) {
	svc, repo, ar, engine := newTestService(false)

	now := time.Date(2025, 8, 12, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ep, err := svc.Create(context.Background(), "coder-1", validInput())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if ep.Status != StatusDraft {
		t.Fatalf("expected Draft, got %s", ep.Status)
	}
	if len(ep.Diagnoses) != 1 || ep.Diagnoses[0].Code != "J18.1" {
		t.Fatalf("expected suggested J18.1, got %#v", ep.Diagnoses)
	}
	if _, ok := repo.byID[ep.ID]; !ok {
		t.Fatalf("expected episode persisted")
	}
	if engine.last.Narrative != "Admitted with pneumonia." || engine.last.Specialty != "Respiratory" {
		t.Fatalf("engine got unexpected context: %#v", engine.last)
	}

	if len(ar.items) != 1 || ar.items[0].Action != audit.ActionEpisodeCreated {
		t.Fatalf("expected one EpisodeCreated entry, got %#v", ar.items)
	}
	change, ok := ar.items[0].CodeChange()
	if !ok || len(change.NewDx) != 1 || len(change.DxAdded) != 1 {
		t.Fatalf("expected created payload with new codes, got %#v", ar.items[0].Payload)
	}
}

func TestService_Create_EngineFailure(t *testing.T) {
	svc, repo, ar, engine := newTestService(false)
	engine.err = errors.New("timeout")

	_, err := svc.Create(context.Background(), "coder-1", validInput())
	if !errors.Is(err, ErrSuggestionUnavailable) {
		t.Fatalf("expected ErrSuggestionUnavailable, got %v", err)
	}
	if len(repo.byID) != 0 || len(ar.items) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestService_Create_RejectsInvalidInput(t *testing.T) {
	svc, _, _, _ := newTestService(false)

	in := validInput()
	in.SourceText = "  "
	if _, err := svc.Create(context.Background(), "coder-1", in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty narrative, got %v", err)
	}

	in = validInput()
	before := in.AdmissionDate.Add(-24 * time.Hour)
	in.DischargeDate = &before
	if _, err := svc.Create(context.Background(), "coder-1", in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for discharge before admission, got %v", err)
	}
}

func TestService_Transitions_Permissive(t *testing.T) {
	svc, _, ar, _ := newTestService(false)
	ctx := context.Background()

	ep, err := svc.Create(ctx, "coder-1", validInput())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// Sin strict: aprobar directamente desde Draft es válido.
	approved, err := svc.Approve(ctx, ep.ID, "reviewer-1", "looks fine")
	if err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if approved.Status != StatusApproved || approved.ReviewedBy != "reviewer-1" || approved.ReviewNotes != "looks fine" {
		t.Fatalf("unexpected approved episode: %#v", approved)
	}

	// ...y volver a enviar un episodio aprobado también.
	submitted, err := svc.Submit(ctx, ep.ID, "coder-1")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if submitted.Status != StatusSubmitted || submitted.SubmittedAt == nil {
		t.Fatalf("unexpected submitted episode: %#v", submitted)
	}

	actions := []audit.Action{}
	for _, e := range ar.items {
		actions = append(actions, e.Action)
	}
	want := []audit.Action{audit.ActionEpisodeCreated, audit.ActionEpisodeApproved, audit.ActionEpisodeSubmitted}
	if len(actions) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, actions)
		}
	}
}

func TestService_Transitions_Strict(t *testing.T) {
	svc, _, ar, _ := newTestService(true)
	ctx := context.Background()

	ep, err := svc.Create(ctx, "coder-1", validInput())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, err := svc.Approve(ctx, ep.ID, "reviewer-1", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition approving a Draft, got %v", err)
	}
	if len(ar.items) != 1 {
		t.Fatalf("failed transition must not write audit, got %d entries", len(ar.items))
	}

	if _, err := svc.Submit(ctx, ep.ID, "coder-1"); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if _, err := svc.Submit(ctx, ep.ID, "coder-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double submit, got %v", err)
	}

	rejected, err := svc.Reject(ctx, ep.ID, "reviewer-1", "missing codes")
	if err != nil {
		t.Fatalf("Reject error: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("expected Rejected, got %s", rejected.Status)
	}

	if _, err := svc.Approve(ctx, ep.ID, "reviewer-1", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal state, got %v", err)
	}
}

func TestService_Submit_NotFound(t *testing.T) {
	for _, strict := range []bool{false, true} {
		svc, _, _, _ := newTestService(strict)
		if _, err := svc.Submit(context.Background(), "missing", "coder-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("strict=%v: expected ErrNotFound, got %v", strict, err)
		}
	}
}

func TestService_CodeDiff_ReadsLastApplied(t *testing.T) {
	svc, _, ar, _ := newTestService(false)
	ctx := context.Background()

	ep, err := svc.Create(ctx, "coder-1", validInput())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, _, err := svc.CodeDiff(ctx, ep.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any re-suggestion, got %v", err)
	}

	change := audit.NewCodeChange(ep.Codes(), coding.CodeSet{
		Diagnoses: []coding.Diagnosis{{Code: "J18.1", IsPrimary: true}, {Code: "J44.9"}},
	})
	_ = ar.Append(ctx, audit.Entry{
		ID:         "a-1",
		Action:     audit.ActionReSuggestionApplied,
		EntityType: audit.EntityEpisode,
		EntityID:   ep.ID,
		Payload:    change,
	})

	e, got, err := svc.CodeDiff(ctx, ep.ID)
	if err != nil {
		t.Fatalf("CodeDiff error: %v", err)
	}
	if e.ID != "a-1" || len(got.DxAdded) != 1 || got.DxAdded[0] != "J44.9" {
		t.Fatalf("unexpected diff: %s %#v", e.ID, got)
	}
}

func TestService_CompareUpload(t *testing.T) {
	svc, _, _, engine := newTestService(false)
	engine.codes = coding.CodeSet{
		Diagnoses:  []coding.Diagnosis{{Code: "J18.1", IsPrimary: true}, {Code: "J44.9"}},
		Procedures: []coding.Procedure{{Code: "E85.2"}},
	}

	cmp, err := svc.CompareUpload(context.Background(), CompareInput{
		Narrative: "Pneumonia J18.1 with COPD; oxygen given.",
		CodesText: "",
	})
	if err != nil {
		t.Fatalf("CompareUpload error: %v", err)
	}
	if cmp.OldSource != CodeSourceNarrative {
		t.Fatalf("expected codes skimmed from narrative, got %s", cmp.OldSource)
	}
	if len(cmp.Diff.DxAdded) != 1 || cmp.Diff.DxAdded[0] != "J44.9" {
		t.Fatalf("unexpected dxAdded: %v", cmp.Diff.DxAdded)
	}

	cmp, err = svc.CompareUpload(context.Background(), CompareInput{
		Narrative: "Pneumonia with COPD; oxygen given.",
		CodesText: `{"diagnoses":[{"code":"J15.9","isPrimary":true}],"procedures":[]}`,
	})
	if err != nil {
		t.Fatalf("CompareUpload error: %v", err)
	}
	if cmp.OldSource != CodeSourceUpload {
		t.Fatalf("expected uploaded codes, got %s", cmp.OldSource)
	}
	if len(cmp.Diff.DxRemoved) != 1 || cmp.Diff.DxRemoved[0] != "J15.9" {
		t.Fatalf("unexpected dxRemoved: %v", cmp.Diff.DxRemoved)
	}
}
