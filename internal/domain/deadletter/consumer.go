package deadletter

import (
	"context"
	"errors"
	"time"

	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/platform/metrics"
)

const (
	DefaultMaxAttempts  = 5
	DefaultIdleDelay    = 5 * time.Second
	DefaultMaxRetryWait = 5 * time.Minute
)

// pollResult dice qué pasó con el mensaje recibido (si hubo).
type pollResult int

const (
	pollIdle pollResult = iota
	pollSettled
	pollReleased
)

type ConsumerOptions struct {
	// Backend es solo la etiqueta para métricas y logs (memory, sqs, kafka).
	Backend string
	// MaxAttempts entregas fallidas antes de mandar el mensaje a cuarentena.
	MaxAttempts int
	// IdleDelay entre polls cuando la cola está vacía o falla. Tras liberar
	// un mensaje la espera es IdleDelay * 2^(intentos-1), hasta MaxRetryWait.
	IdleDelay    time.Duration
	MaxRetryWait time.Duration
}

// Consumer procesa un mensaje a la vez. Nunca hace Ack antes de que
// Process termine bien, salvo al pasar a cuarentena.
type Consumer struct {
	queue   Queue
	svc     *Service
	archive Archiver // puede ser nil
	log     logger.Logger
	opts    ConsumerOptions
}

func NewConsumer(queue Queue, svc *Service, archive Archiver, log logger.Logger, opts ConsumerOptions) *Consumer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = DefaultIdleDelay
	}
	if opts.MaxRetryWait <= 0 {
		opts.MaxRetryWait = DefaultMaxRetryWait
	}
	if opts.MaxRetryWait < opts.IdleDelay {
		opts.MaxRetryWait = opts.IdleDelay
	}
	if opts.Backend == "" {
		opts.Backend = "memory"
	}
	return &Consumer{
		queue:   queue,
		svc:     svc,
		archive: archive,
		log:     log.With(map[string]any{"component": "deadletter-consumer", "backend": opts.Backend}),
		opts:    opts,
	}
}

// Run corre hasta que se cancela el contexto.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started", map[string]any{"max_attempts": c.opts.MaxAttempts})
	defer c.log.Info("consumer stopped", nil)

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, attempts, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("poll failed", map[string]any{"error": err.Error()})
		}

		wait := c.opts.IdleDelay
		switch {
		case err == nil && res == pollSettled:
			continue
		case err == nil && res == pollReleased:
			// memory y kafka reentregan al instante; el espaciado lo pone el consumer.
			wait = c.retryWait(attempts)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// retryWait es el backoff exponencial tras el intento número attempts.
func (c *Consumer) retryWait(attempts int) time.Duration {
	wait := c.opts.IdleDelay
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= c.opts.MaxRetryWait {
			return c.opts.MaxRetryWait
		}
	}
	return wait
}

// Poll procesa a lo sumo un mensaje. Devuelve true si había uno.
func (c *Consumer) Poll(ctx context.Context) (bool, error) {
	res, _, err := c.poll(ctx)
	return res != pollIdle, err
}

func (c *Consumer) poll(ctx context.Context) (pollResult, int, error) {
	msg, err := c.queue.Receive(ctx)
	if err != nil {
		return pollIdle, 0, err
	}
	if msg == nil {
		return pollIdle, 0, nil
	}

	payload, perr := c.svc.proc.Process(ctx, msg.Body)
	if perr == nil {
		if err := c.queue.Ack(ctx, msg); err != nil {
			return pollSettled, msg.Attempts, err
		}
		c.svc.settle(ctx, payload.DeadLetterID, StatusResolved, nil)
		metrics.DeadLetterDeliveries.WithLabelValues(c.opts.Backend, metrics.DeliveryAcked).Inc()
		c.log.Info("dead-letter processed", map[string]any{
			"message_id": msg.ID,
			"query_id":   payload.QueryID,
			"attempts":   msg.Attempts,
		})
		return pollSettled, msg.Attempts, nil
	}

	fields := map[string]any{
		"message_id": msg.ID,
		"query_id":   payload.QueryID,
		"attempts":   msg.Attempts,
		"error":      perr.Error(),
	}

	if msg.Attempts >= c.opts.MaxAttempts {
		c.quarantine(ctx, msg, payload)
		if err := c.queue.Ack(ctx, msg); err != nil {
			return pollSettled, msg.Attempts, err
		}
		c.svc.settle(ctx, payload.DeadLetterID, StatusQuarantined, perr)
		metrics.DeadLetterDeliveries.WithLabelValues(c.opts.Backend, metrics.DeliveryQuarantined).Inc()
		c.log.Error("dead-letter quarantined", fields)
		return pollSettled, msg.Attempts, nil
	}

	if err := c.queue.Release(ctx, msg); err != nil {
		return pollReleased, msg.Attempts, err
	}
	c.svc.settle(ctx, payload.DeadLetterID, StatusPending, perr)
	metrics.DeadLetterDeliveries.WithLabelValues(c.opts.Backend, metrics.DeliveryReleased).Inc()
	if errors.Is(perr, ErrMalformed) {
		c.log.Warn("malformed dead-letter released", fields)
	} else {
		c.log.Warn("dead-letter released for retry", fields)
	}
	return pollReleased, msg.Attempts, nil
}

// quarantine archiva el payload. Si el archivo falla el payload sigue en el
// registro de dead-letter.
func (c *Consumer) quarantine(ctx context.Context, msg *Message, payload Payload) {
	if c.archive == nil {
		return
	}
	key := payload.DeadLetterID
	if key == "" {
		key = msg.ID
	}
	if err := c.archive.Archive(ctx, "deadletters/"+key+".json", msg.Body); err != nil {
		c.log.Error("archive failed", map[string]any{
			"message_id": msg.ID,
			"error":      err.Error(),
		})
	}
}
