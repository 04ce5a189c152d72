package analytics

import "context"

// Row es una fila a empujar al dataset externo.
type Row map[string]any

// Sink es best-effort: quien lo llama loguea el error y sigue.
type Sink interface {
	PushRows(ctx context.Context, table string, rows []Row) error
}
