// Package memory es la cola de dead-letters en proceso. No sobrevive a un
// reinicio; sirve para dev y tests.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"clinical-coding/internal/domain/deadletter"
)

var ErrClosed = errors.New("queue closed")

type Queue struct {
	mu       sync.Mutex
	ready    []*deadletter.Message
	inflight map[string]*deadletter.Message
	seq      int
	closed   bool
}

func New() *Queue {
	return &Queue{inflight: map[string]*deadletter.Message{}}
}

func (q *Queue) Enqueue(ctx context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.seq++
	q.ready = append(q.ready, &deadletter.Message{
		ID:   strconv.Itoa(q.seq),
		Body: append([]byte(nil), body...),
	})
	return nil
}

func (q *Queue) Receive(ctx context.Context) (*deadletter.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if len(q.ready) == 0 {
		return nil, nil
	}
	m := q.ready[0]
	q.ready = q.ready[1:]
	m.Attempts++
	q.inflight[m.ID] = m

	out := *m
	return &out, nil
}

func (q *Queue) Ack(ctx context.Context, m *deadletter.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, m.ID)
	return nil
}

// Release devuelve el mensaje al final de la cola.
func (q *Queue) Release(ctx context.Context, m *deadletter.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, ok := q.inflight[m.ID]
	if !ok {
		return nil
	}
	delete(q.inflight, m.ID)
	q.ready = append(q.ready, cur)
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len cuenta mensajes listos más los que están en vuelo.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}
