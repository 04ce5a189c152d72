package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"clinical-coding/internal/domain/coding"
)

// Payload es la unión cerrada de payloads tipados. El Action de la entrada
// es el tag que decide cómo se (de)serializa.
type Payload interface {
	auditPayload()
}

// CodeChange es el snapshot completo antes/después de un cambio de códigos
// más los deltas calculados por el differ. Es la única fuente para reverts.
type CodeChange struct {
	OldDx []coding.Diagnosis `json:"oldDx"`
	OldPx []coding.Procedure `json:"oldPx"`
	NewDx []coding.Diagnosis `json:"newDx"`
	NewPx []coding.Procedure `json:"newPx"`

	DxAdded   []string `json:"dxAdded"`
	DxRemoved []string `json:"dxRemoved"`
	PxAdded   []string `json:"pxAdded"`
	PxRemoved []string `json:"pxRemoved"`
}

// NewCodeChange arma el payload usando el differ compartido.
func NewCodeChange(oldSet, newSet coding.CodeSet) CodeChange {
	oldSet, newSet = oldSet.Clone(), newSet.Clone()
	d := coding.DiffSets(oldSet, newSet)
	return CodeChange{
		OldDx:     oldSet.Diagnoses,
		OldPx:     oldSet.Procedures,
		NewDx:     newSet.Diagnoses,
		NewPx:     newSet.Procedures,
		DxAdded:   d.DxAdded,
		DxRemoved: d.DxRemoved,
		PxAdded:   d.PxAdded,
		PxRemoved: d.PxRemoved,
	}
}

func (c CodeChange) Old() coding.CodeSet {
	return coding.CodeSet{Diagnoses: c.OldDx, Procedures: c.OldPx}.Clone()
}

func (c CodeChange) New() coding.CodeSet {
	return coding.CodeSet{Diagnoses: c.NewDx, Procedures: c.NewPx}.Clone()
}

func (c CodeChange) Diff() coding.SetDiff {
	return coding.SetDiff{
		DxAdded:   c.DxAdded,
		DxRemoved: c.DxRemoved,
		PxAdded:   c.PxAdded,
		PxRemoved: c.PxRemoved,
	}
}

// Reverted registra un revert aplicado: old es el estado previo al revert,
// new es el snapshot restaurado.
type Reverted struct {
	CodeChange

	SourceAuditID   string `json:"sourceAuditId"`
	RevertRequestID string `json:"revertRequestId,omitempty"`
}

type Transition struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Notes string `json:"notes,omitempty"`
}

type DebounceSkipped struct {
	QueryID         string    `json:"queryId"`
	Body            string    `json:"body"`
	LastAppliedID   string    `json:"lastAppliedAuditId"`
	LastAppliedAt   time.Time `json:"lastAppliedAt"`
	MinIntervalSecs int64     `json:"minIntervalSeconds"`
}

type RevertRequested struct {
	RequestID     string `json:"requestId"`
	SourceAuditID string `json:"sourceAuditId"`
}

type RevertRejected struct {
	RequestID     string `json:"requestId"`
	SourceAuditID string `json:"sourceAuditId"`
	Notes         string `json:"notes,omitempty"`
}

type QueryCreated struct {
	QueryID           string `json:"queryId"`
	EpisodeID         string `json:"episodeId"`
	ToClinician       string `json:"toClinician"`
	Subject           string `json:"subject"`
	ExternalReference string `json:"externalReference,omitempty"`
}

func (CodeChange) auditPayload()      {}
func (Reverted) auditPayload()        {}
func (Transition) auditPayload()      {}
func (DebounceSkipped) auditPayload() {}
func (RevertRequested) auditPayload() {}
func (RevertRejected) auditPayload()  {}
func (QueryCreated) auditPayload()    {}

// payloadFactories fija qué payload corresponde a cada Action.
var payloadFactories = map[Action]func() Payload{
	ActionEpisodeCreated:        func() Payload { return CodeChange{} },
	ActionEpisodeSubmitted:      func() Payload { return Transition{} },
	ActionEpisodeApproved:       func() Payload { return Transition{} },
	ActionEpisodeRejected:       func() Payload { return Transition{} },
	ActionReSuggestionApplied:   func() Payload { return CodeChange{} },
	ActionReSuggestionSkipped:   func() Payload { return DebounceSkipped{} },
	ActionReSuggestionReverted:  func() Payload { return Reverted{} },
	ActionRevertRequested:       func() Payload { return RevertRequested{} },
	ActionRevertRejected:        func() Payload { return RevertRejected{} },
	ActionClinicianQueryCreated: func() Payload { return QueryCreated{} },
}

func checkPayload(action Action, p Payload) error {
	factory, ok := payloadFactories[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	if p == nil {
		return fmt.Errorf("%w: payload required for %s", ErrInvalidInput, action)
	}
	if reflect.TypeOf(factory()) != reflect.TypeOf(p) {
		return fmt.Errorf("%w: payload %T does not match action %s", ErrInvalidInput, p, action)
	}
	return nil
}

// EncodePayload serializa el payload a JSON.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload usa el Action como tag para reconstruir el payload tipado.
func DecodePayload(action Action, raw []byte) (Payload, error) {
	switch action {
	case ActionEpisodeCreated, ActionReSuggestionApplied:
		var p CodeChange
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionEpisodeSubmitted, ActionEpisodeApproved, ActionEpisodeRejected:
		var p Transition
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionReSuggestionSkipped:
		var p DebounceSkipped
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionReSuggestionReverted:
		var p Reverted
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionRevertRequested:
		var p RevertRequested
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionRevertRejected:
		var p RevertRejected
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionClinicianQueryCreated:
		var p QueryCreated
		err := json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("audit: unknown action %q", action)
	}
}
