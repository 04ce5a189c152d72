package episodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/ports/suggestion"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrSuggestionUnavailable = errors.New("suggestion engine unavailable")
)

type Options struct {
	// StrictTransitions: Submit solo desde Draft; Approve/Reject solo desde Submitted.
	// Sin strict, cualquier transición sobre un episodio existente es válida.
	StrictTransitions bool
}

type Service struct {
	repo   Repository
	audit  *audit.Service
	engine suggestion.Engine
	strict bool
	now    func() time.Time
}

func NewService(repo Repository, auditLog *audit.Service, engine suggestion.Engine, opts Options) *Service {
	return &Service{
		repo:   repo,
		audit:  auditLog,
		engine: engine,
		strict: opts.StrictTransitions,
		now:    time.Now,
	}
}

type CreateInput struct {
	NHSNumber     string
	PatientName   string
	AdmissionDate time.Time
	DischargeDate *time.Time
	Specialty     string
	SourceText    string
}

// Suggest arma un episodio con los códigos sugeridos, sin persistirlo.
func (s *Service) Suggest(ctx context.Context, in CreateInput) (Episode, error) {
	ep, err := s.build(in)
	if err != nil {
		return Episode{}, err
	}
	codes, err := s.suggest(ctx, ep, ep.SourceText)
	if err != nil {
		return Episode{}, err
	}
	ep.Diagnoses = codes.Diagnoses
	ep.Procedures = codes.Procedures
	return ep, nil
}

// Create corre el motor de sugerencias, guarda el episodio en Draft y
// registra EpisodeCreated con el set inicial de códigos.
func (s *Service) Create(ctx context.Context, user string, in CreateInput) (Episode, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return Episode{}, ErrInvalidInput
	}

	ep, err := s.Suggest(ctx, in)
	if err != nil {
		return Episode{}, err
	}

	now := s.now().UTC()
	ep.ID = uuid.NewString()
	ep.CreatedBy = user
	ep.CreatedAt = now
	ep.UpdatedAt = now

	if err := s.repo.Create(ctx, ep); err != nil {
		return Episode{}, err
	}

	if _, err := s.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: user,
		Action:      audit.ActionEpisodeCreated,
		EntityType:  audit.EntityEpisode,
		EntityID:    ep.ID,
		Payload:     audit.NewCodeChange(coding.CodeSet{}, ep.Codes()),
	}); err != nil {
		return Episode{}, fmt.Errorf("audit episode created: %w", err)
	}
	return ep, nil
}

func (s *Service) Submit(ctx context.Context, id, user string) (Episode, error) {
	return s.transition(ctx, id, user, StatusSubmitted, "")
}

func (s *Service) Approve(ctx context.Context, id, user, notes string) (Episode, error) {
	return s.transition(ctx, id, user, StatusApproved, notes)
}

func (s *Service) Reject(ctx context.Context, id, user, notes string) (Episode, error) {
	return s.transition(ctx, id, user, StatusRejected, notes)
}

func (s *Service) GetByID(ctx context.Context, id string) (Episode, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Episode{}, ErrInvalidInput
	}
	ep, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Episode{}, ErrNotFound
		}
		return Episode{}, err
	}
	return ep, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Episode, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidInput
	}
	return s.repo.List(ctx, filter)
}

// CodeDiff devuelve la última re-sugerencia aplicada al episodio.
func (s *Service) CodeDiff(ctx context.Context, id string) (audit.Entry, audit.CodeChange, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return audit.Entry{}, audit.CodeChange{}, err
	}

	e, err := s.audit.LastEventForEpisode(ctx, id, audit.ActionReSuggestionApplied)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			return audit.Entry{}, audit.CodeChange{}, ErrNotFound
		}
		return audit.Entry{}, audit.CodeChange{}, err
	}
	change, ok := e.CodeChange()
	if !ok {
		return audit.Entry{}, audit.CodeChange{}, ErrNotFound
	}
	return e, change, nil
}

type CompareInput struct {
	Narrative string
	// CodesText es opcional: JSON o CSV con los códigos actuales.
	// Si viene vacío o no se reconoce, se extraen del texto narrativo.
	CodesText string
	Specialty string
}

type CodeSource string

const (
	CodeSourceUpload    CodeSource = "upload"
	CodeSourceNarrative CodeSource = "narrative"
)

type Comparison struct {
	Old       coding.CodeSet
	New       coding.CodeSet
	Diff      coding.SetDiff
	OldSource CodeSource
}

// CompareUpload compara los códigos existentes de un documento contra
// lo que sugiere el motor. No persiste nada.
func (s *Service) CompareUpload(ctx context.Context, in CompareInput) (Comparison, error) {
	narrative := strings.TrimSpace(in.Narrative)
	if narrative == "" {
		return Comparison{}, ErrInvalidInput
	}

	oldSet, ok := coding.ParseCodeList(in.CodesText)
	src := CodeSourceUpload
	if !ok {
		oldSet = coding.GuessCodesFromText(narrative)
		src = CodeSourceNarrative
	}

	ep := Episode{Specialty: strings.TrimSpace(in.Specialty), AdmissionDate: s.now().UTC()}
	newSet, err := s.suggest(ctx, ep, narrative)
	if err != nil {
		return Comparison{}, err
	}

	return Comparison{
		Old:       oldSet,
		New:       newSet,
		Diff:      coding.DiffSets(oldSet, newSet),
		OldSource: src,
	}, nil
}

func (s *Service) transition(ctx context.Context, id, user string, to Status, notes string) (Episode, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return Episode{}, ErrInvalidInput
	}

	ep, err := s.GetByID(ctx, id)
	if err != nil {
		return Episode{}, err
	}

	from := ep.Status
	if s.strict && !allowed(from, to) {
		return Episode{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := s.now().UTC()
	ep.Status = to
	ep.UpdatedAt = now

	var action audit.Action
	switch to {
	case StatusSubmitted:
		ep.SubmittedBy = user
		ep.SubmittedAt = &now
		action = audit.ActionEpisodeSubmitted
	case StatusApproved, StatusRejected:
		ep.ReviewedBy = user
		ep.ReviewedAt = &now
		ep.ReviewNotes = strings.TrimSpace(notes)
		action = audit.ActionEpisodeApproved
		if to == StatusRejected {
			action = audit.ActionEpisodeRejected
		}
	default:
		return Episode{}, ErrInvalidInput
	}

	if err := s.repo.Update(ctx, ep); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Episode{}, ErrNotFound
		}
		return Episode{}, err
	}

	if _, err := s.audit.Append(context.WithoutCancel(ctx), audit.AppendInput{
		PerformedBy: user,
		Action:      action,
		EntityType:  audit.EntityEpisode,
		EntityID:    ep.ID,
		Payload: audit.Transition{
			From:  string(from),
			To:    string(to),
			Notes: strings.TrimSpace(notes),
		},
	}); err != nil {
		return Episode{}, fmt.Errorf("audit transition: %w", err)
	}
	return ep, nil
}

func allowed(from, to Status) bool {
	switch to {
	case StatusSubmitted:
		return from == StatusDraft
	case StatusApproved, StatusRejected:
		return from == StatusSubmitted
	}
	return false
}

func (s *Service) build(in CreateInput) (Episode, error) {
	if strings.TrimSpace(in.NHSNumber) == "" || strings.TrimSpace(in.SourceText) == "" {
		return Episode{}, ErrInvalidInput
	}
	if in.AdmissionDate.IsZero() {
		return Episode{}, ErrInvalidInput
	}
	if in.DischargeDate != nil && in.DischargeDate.Before(in.AdmissionDate) {
		return Episode{}, ErrInvalidInput
	}

	return Episode{
		NHSNumber:     strings.TrimSpace(in.NHSNumber),
		PatientName:   strings.TrimSpace(in.PatientName),
		AdmissionDate: in.AdmissionDate,
		DischargeDate: in.DischargeDate,
		Specialty:     strings.TrimSpace(in.Specialty),
		SourceText:    strings.TrimSpace(in.SourceText),
		Diagnoses:     []coding.Diagnosis{},
		Procedures:    []coding.Procedure{},
		Status:        StatusDraft,
	}, nil
}

func (s *Service) suggest(ctx context.Context, ep Episode, narrative string) (coding.CodeSet, error) {
	codes, err := s.engine.Suggest(ctx, ep.SuggestionContext(narrative))
	if err != nil {
		return coding.CodeSet{}, fmt.Errorf("%w: %v", ErrSuggestionUnavailable, err)
	}
	if codes.Diagnoses == nil {
		codes.Diagnoses = []coding.Diagnosis{}
	}
	if codes.Procedures == nil {
		codes.Procedures = []coding.Procedure{}
	}
	return codes, nil
}
