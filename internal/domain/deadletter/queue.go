package deadletter

import "context"

// Message es una entrega de la cola. Handle es opaco para el consumer
// (receipt handle de SQS, kafka.Message, etc).
type Message struct {
	ID   string
	Body []byte
	// Attempts cuenta entregas incluyendo la actual.
	Attempts int
	Handle   any
}

// Queue es el backend de dead-letters. Garantiza entrega al menos una vez:
// un mensaje sin Ack vuelve a entregarse.
type Queue interface {
	Enqueue(ctx context.Context, body []byte) error
	// Receive devuelve nil, nil si no hay mensajes disponibles.
	Receive(ctx context.Context) (*Message, error)
	// Ack elimina el mensaje definitivamente.
	Ack(ctx context.Context, m *Message) error
	// Release lo deja disponible para una nueva entrega.
	Release(ctx context.Context, m *Message) error
	Close() error
}

// Archiver guarda payloads en cuarentena fuera de la cola.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}
