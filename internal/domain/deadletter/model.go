package deadletter

import (
	"encoding/json"
	"strings"
	"time"

	"clinical-coding/internal/domain/reconcile"
)

// KindQueryResponse es el único tipo de dead-letter que existe hoy.
const KindQueryResponse = "FlowQueryResponse"

type Status string

const (
	StatusPending     Status = "pending"
	StatusResolved    Status = "resolved"
	StatusQuarantined Status = "quarantined"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusResolved, StatusQuarantined:
		return true
	}
	return false
}

// Record es el registro durable de una respuesta que no se pudo procesar.
// Payload es exactamente lo que viaja por la cola.
type Record struct {
	ID      string
	Kind    string
	Payload []byte

	Error    string
	Attempts int
	Status   Status

	CreatedAt   time.Time
	LastTriedAt *time.Time
}

// Payload es el mensaje en la cola.
type Payload struct {
	DeadLetterID string `json:"deadLetterId,omitempty"`
	QueryID      string `json:"queryId"`
	Responder    string `json:"responder,omitempty"`
	ResponseText string `json:"responseText"`
}

func (p Payload) Response() reconcile.Response {
	return reconcile.Response{
		QueryID:      p.QueryID,
		Responder:    p.Responder,
		ResponseText: p.ResponseText,
	}
}

// ParsePayload falla con ErrMalformed si falta queryId o responseText.
func ParsePayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, ErrMalformed
	}
	if strings.TrimSpace(p.QueryID) == "" || strings.TrimSpace(p.ResponseText) == "" {
		return p, ErrMalformed
	}
	return p, nil
}
