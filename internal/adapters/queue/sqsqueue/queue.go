// Package sqsqueue implementa la cola de dead-letters sobre SQS. Release no
// borra el mensaje: extiende su visibility timeout y SQS lo vuelve a entregar.
package sqsqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"clinical-coding/internal/domain/deadletter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	DefaultVisibilityTimeout = time.Minute
	DefaultRetryVisibility   = 10 * time.Minute
	DefaultWaitTime          = 5 * time.Second
)

// API es el subconjunto de *sqs.Client que usamos.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

type Options struct {
	QueueURL string

	VisibilityTimeout time.Duration
	RetryVisibility   time.Duration
	// WaitTime es el long polling de ReceiveMessage (máx 20s).
	WaitTime time.Duration
}

type Queue struct {
	api  API
	opts Options
}

func New(api API, opts Options) *Queue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if opts.RetryVisibility <= 0 {
		opts.RetryVisibility = DefaultRetryVisibility
	}
	if opts.WaitTime <= 0 || opts.WaitTime > 20*time.Second {
		opts.WaitTime = DefaultWaitTime
	}
	return &Queue{api: api, opts: opts}
}

// NewClient arma el cliente con la config default de AWS (env, perfil o rol).
// endpoint vacío usa el de AWS; sirve para apuntar a localstack.
func NewClient(ctx context.Context, endpoint string) (*sqs.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	baseEndpoint := cfg.BaseEndpoint
	if endpoint != "" {
		baseEndpoint = aws.String(endpoint)
	}

	return sqs.New(sqs.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: baseEndpoint,
	}), nil
}

// ResolveQueueURL busca la URL por nombre.
func ResolveQueueURL(ctx context.Context, api API, name string) (string, error) {
	resp, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("get queue url %s: %w", name, err)
	}
	return aws.ToString(resp.QueueUrl), nil
}

func (q *Queue) Enqueue(ctx context.Context, body []byte) error {
	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.opts.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (*deadletter.Message, error) {
	resp, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.opts.QueueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(q.opts.WaitTime / time.Second),
		VisibilityTimeout:   int32(q.opts.VisibilityTimeout / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	m := resp.Messages[0]
	attempts, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if attempts <= 0 {
		attempts = 1
	}
	return &deadletter.Message{
		ID:       aws.ToString(m.MessageId),
		Body:     []byte(aws.ToString(m.Body)),
		Attempts: attempts,
		Handle:   aws.ToString(m.ReceiptHandle),
	}, nil
}

func (q *Queue) Ack(ctx context.Context, m *deadletter.Message) error {
	handle, err := receiptHandle(m)
	if err != nil {
		return err
	}
	_, err = q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.opts.QueueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

func (q *Queue) Release(ctx context.Context, m *deadletter.Message) error {
	handle, err := receiptHandle(m)
	if err != nil {
		return err
	}
	_, err = q.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.opts.QueueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: int32(q.opts.RetryVisibility / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

func (q *Queue) Close() error { return nil }

func receiptHandle(m *deadletter.Message) (string, error) {
	h, ok := m.Handle.(string)
	if !ok || h == "" {
		return "", errors.New("sqs: message without receipt handle")
	}
	return h, nil
}
