package sqsqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinical-coding/internal/domain/deadletter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSQS guarda los inputs y devuelve respuestas fijas.
type stubSQS struct {
	sent       []*sqs.SendMessageInput
	received   []*sqs.ReceiveMessageInput
	deleted    []*sqs.DeleteMessageInput
	visibility []*sqs.ChangeMessageVisibilityInput

	messages []types.Message
	err      error
}

func (s *stubSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.sent = append(s.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, s.err
}

func (s *stubSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	s.received = append(s.received, in)
	if s.err != nil {
		return nil, s.err
	}
	out := &sqs.ReceiveMessageOutput{Messages: s.messages}
	s.messages = nil
	return out, nil
}

func (s *stubSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.deleted = append(s.deleted, in)
	return &sqs.DeleteMessageOutput{}, s.err
}

func (s *stubSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	s.visibility = append(s.visibility, in)
	return &sqs.ChangeMessageVisibilityOutput{}, s.err
}

func (s *stubSQS) GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/000/" + aws.ToString(in.QueueName))}, s.err
}

const queueURL = "https://sqs.local/000/dlq"

func TestQueue_EnqueueSendsBody(t *testing.T) {
	api := &stubSQS{}
	q := New(api, Options{QueueURL: queueURL})

	require.NoError(t, q.Enqueue(context.Background(), []byte(`{"queryId":"q-1"}`)))
	require.Len(t, api.sent, 1)
	assert.Equal(t, queueURL, aws.ToString(api.sent[0].QueueUrl))
	assert.Equal(t, `{"queryId":"q-1"}`, aws.ToString(api.sent[0].MessageBody))
}

func TestQueue_ReceiveMapsMessage(t *testing.T) {
	api := &stubSQS{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String("payload"),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}}}
	q := New(api, Options{QueueURL: queueURL})

	m, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, "payload", string(m.Body))
	assert.Equal(t, 3, m.Attempts)
	assert.Equal(t, "rh-1", m.Handle)

	in := api.received[0]
	assert.Equal(t, int32(1), in.MaxNumberOfMessages)
	assert.Equal(t, int32(60), in.VisibilityTimeout)
	assert.Equal(t, int32(5), in.WaitTimeSeconds)
	assert.Contains(t, in.MessageSystemAttributeNames, types.MessageSystemAttributeNameApproximateReceiveCount)

	m, err = q.Receive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestQueue_AckDeletesAndReleaseExtendsVisibility(t *testing.T) {
	api := &stubSQS{}
	q := New(api, Options{QueueURL: queueURL, RetryVisibility: 10 * time.Minute})
	m := &deadletter.Message{ID: "m-1", Handle: "rh-1"}

	require.NoError(t, q.Release(context.Background(), m))
	require.Len(t, api.visibility, 1)
	assert.Equal(t, int32(600), api.visibility[0].VisibilityTimeout)
	assert.Equal(t, "rh-1", aws.ToString(api.visibility[0].ReceiptHandle))
	assert.Empty(t, api.deleted)

	require.NoError(t, q.Ack(context.Background(), m))
	require.Len(t, api.deleted, 1)
	assert.Equal(t, "rh-1", aws.ToString(api.deleted[0].ReceiptHandle))

	assert.Error(t, q.Ack(context.Background(), &deadletter.Message{ID: "x"}))
}

func TestQueue_Errors(t *testing.T) {
	api := &stubSQS{err: errors.New("throttled")}
	q := New(api, Options{QueueURL: queueURL})

	assert.Error(t, q.Enqueue(context.Background(), []byte("x")))
	_, err := q.Receive(context.Background())
	assert.ErrorContains(t, err, "throttled")
}

func TestResolveQueueURL(t *testing.T) {
	url, err := ResolveQueueURL(context.Background(), &stubSQS{}, "dlq")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/000/dlq", url)
}
