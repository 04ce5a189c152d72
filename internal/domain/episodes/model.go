package episodes

import (
	"time"

	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/ports/suggestion"
)

// Status del workflow de codificación.
// Draft -> Submitted -> {Approved, Rejected}
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusSubmitted Status = "Submitted"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Episode es un encuentro de paciente con sus códigos asignados.
// Nunca se borra; los códigos solo cambian vía ApplyCodes.
type Episode struct {
	ID string

	NHSNumber   string
	PatientName string

	AdmissionDate time.Time
	DischargeDate *time.Time
	Specialty     string

	// SourceText es la narrativa clínica; el reconciliador le agrega las respuestas del clínico.
	SourceText string

	Diagnoses  []coding.Diagnosis
	Procedures []coding.Procedure

	Status Status

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time

	SubmittedBy string
	SubmittedAt *time.Time

	ReviewedBy  string
	ReviewedAt  *time.Time
	ReviewNotes string
}

func (e Episode) Codes() coding.CodeSet {
	return coding.CodeSet{Diagnoses: e.Diagnoses, Procedures: e.Procedures}.Clone()
}

// SuggestionContext arma el input del motor de sugerencias con la narrativa dada.
func (e Episode) SuggestionContext(narrative string) suggestion.EpisodeContext {
	return suggestion.EpisodeContext{
		EpisodeID:     e.ID,
		Specialty:     e.Specialty,
		Narrative:     narrative,
		AdmissionDate: e.AdmissionDate,
		DischargeDate: e.DischargeDate,
	}
}

// CodeUpdate es el reemplazo atómico del set completo de códigos
// (y opcionalmente de la narrativa) de un episodio.
type CodeUpdate struct {
	Codes     coding.CodeSet
	Narrative *string
	At        time.Time
}
