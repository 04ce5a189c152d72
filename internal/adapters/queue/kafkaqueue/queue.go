// Package kafkaqueue implementa la cola de dead-letters sobre Kafka.
// Ack = commit del offset. Release = volver a publicar el mensaje con el
// header "retry" incrementado y después commitear el original.
package kafkaqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"clinical-coding/internal/domain/deadletter"

	"github.com/segmentio/kafka-go"
)

const (
	RetryHeader        = "retry"
	DefaultPollTimeout = time.Second
)

// Reader lo implementa *kafka.Reader (con GroupID).
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer lo implementa *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Options struct {
	// PollTimeout es cuánto espera Receive antes de devolver "vacío".
	PollTimeout time.Duration
}

type Queue struct {
	reader Reader
	writer Writer
	opts   Options
}

func New(r Reader, w Writer, opts Options) *Queue {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	return &Queue{reader: r, writer: w, opts: opts}
}

// Dial arma reader y writer para el topic.
func Dial(brokers []string, topic, group string) (*kafka.Reader, *kafka.Writer) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	return reader, writer
}

func (q *Queue) Enqueue(ctx context.Context, body []byte) error {
	if err := q.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (*deadletter.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, q.opts.PollTimeout)
	defer cancel()

	msg, err := q.reader.FetchMessage(pollCtx)
	if err != nil {
		// timeout del poll (no del caller) = no hay mensajes
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("kafka fetch: %w", err)
	}

	return &deadletter.Message{
		ID:       fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Body:     msg.Value,
		Attempts: retries(msg) + 1,
		Handle:   msg,
	}, nil
}

func (q *Queue) Ack(ctx context.Context, m *deadletter.Message) error {
	msg, err := kafkaMessage(m)
	if err != nil {
		return err
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

// Release publica una copia con retry+1 antes de commitear: si el commit
// falla el mensaje puede quedar duplicado, nunca perdido.
func (q *Queue) Release(ctx context.Context, m *deadletter.Message) error {
	msg, err := kafkaMessage(m)
	if err != nil {
		return err
	}

	again := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: withRetry(msg.Headers, retries(msg)+1),
	}
	if err := q.writer.WriteMessages(ctx, again); err != nil {
		return fmt.Errorf("kafka republish: %w", err)
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return errors.Join(q.reader.Close(), q.writer.Close())
}

func kafkaMessage(m *deadletter.Message) (kafka.Message, error) {
	msg, ok := m.Handle.(kafka.Message)
	if !ok {
		return kafka.Message{}, errors.New("kafka: message without handle")
	}
	return msg, nil
}

func retries(msg kafka.Message) int {
	for _, h := range msg.Headers {
		if h.Key == RetryHeader {
			n, err := strconv.Atoi(string(h.Value))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func withRetry(headers []kafka.Header, n int) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != RetryHeader {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: RetryHeader, Value: []byte(strconv.Itoa(n))})
}
