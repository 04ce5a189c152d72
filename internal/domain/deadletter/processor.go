package deadletter

import (
	"context"

	"clinical-coding/internal/domain/queries"
	"clinical-coding/internal/domain/reconcile"
)

// Reconciler lo implementa *reconcile.Reconciler.
type Reconciler interface {
	RecordResponse(ctx context.Context, resp reconcile.Response) (queries.Query, error)
	Reconcile(ctx context.Context, resp reconcile.Response) (reconcile.Result, error)
}

// Processor procesa un payload de dead-letter. Por defecto solo registra la
// respuesta en la consulta; con FullReplay corre la reconciliación completa
// (el debounce evita re-sugerencias duplicadas).
type Processor struct {
	rec        Reconciler
	fullReplay bool
}

func NewProcessor(rec Reconciler, fullReplay bool) *Processor {
	return &Processor{rec: rec, fullReplay: fullReplay}
}

// Process es idempotente: procesar dos veces el mismo payload deja la
// consulta igual que procesarlo una vez.
func (p *Processor) Process(ctx context.Context, body []byte) (Payload, error) {
	payload, err := ParsePayload(body)
	if err != nil {
		return payload, err
	}

	if p.fullReplay {
		_, err = p.rec.Reconcile(ctx, payload.Response())
	} else {
		_, err = p.rec.RecordResponse(ctx, payload.Response())
	}
	return payload, err
}
