package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"testing"
	"time"

	"clinical-coding/internal/domain/queries"
	"clinical-coding/internal/domain/reconcile"
	"clinical-coding/internal/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRepo struct {
	byID map[string]Record
}

func newTestRepo() *testRepo {
	return &testRepo{byID: map[string]Record{}}
}

func (r *testRepo) Create(ctx context.Context, rec Record) error {
	r.byID[rec.ID] = rec
	return nil
}

func (r *testRepo) Update(ctx context.Context, rec Record) error {
	if _, ok := r.byID[rec.ID]; !ok {
		return ErrNotFound
	}
	r.byID[rec.ID] = rec
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (Record, error) {
	rec, ok := r.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *testRepo) List(ctx context.Context, status Status, limit int) ([]Record, error) {
	var out []Record
	for _, rec := range r.byID {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeQueue entrega en orden FIFO y reencola al final en Release.
type fakeQueue struct {
	ready    []*Message
	acked    []*Message
	released int
	seq      int
	failNext error
}

func (q *fakeQueue) Enqueue(ctx context.Context, body []byte) error {
	if q.failNext != nil {
		err := q.failNext
		q.failNext = nil
		return err
	}
	q.seq++
	q.ready = append(q.ready, &Message{ID: "m-" + strconv.Itoa(q.seq), Body: body})
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context) (*Message, error) {
	if len(q.ready) == 0 {
		return nil, nil
	}
	m := q.ready[0]
	q.ready = q.ready[1:]
	m.Attempts++
	return m, nil
}

func (q *fakeQueue) Ack(ctx context.Context, m *Message) error {
	q.acked = append(q.acked, m)
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, m *Message) error {
	q.released++
	q.ready = append(q.ready, m)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

type stubReconciler struct {
	err       error
	recorded  []reconcile.Response
	reconcile []reconcile.Response
}

func (s *stubReconciler) RecordResponse(ctx context.Context, resp reconcile.Response) (queries.Query, error) {
	s.recorded = append(s.recorded, resp)
	if s.err != nil {
		return queries.Query{}, s.err
	}
	return queries.Query{ID: resp.QueryID, ResponseText: resp.ResponseText, RespondedBy: resp.Responder}, nil
}

func (s *stubReconciler) Reconcile(ctx context.Context, resp reconcile.Response) (reconcile.Result, error) {
	s.reconcile = append(s.reconcile, resp)
	if s.err != nil {
		return reconcile.Result{}, s.err
	}
	return reconcile.Result{Outcome: reconcile.OutcomeApplied}, nil
}

type memArchive struct {
	objects map[string][]byte
	err     error
}

func (a *memArchive) Archive(ctx context.Context, key string, body []byte) error {
	if a.err != nil {
		return a.err
	}
	a.objects[key] = body
	return nil
}

type fixture struct {
	svc     *Service
	repo    *testRepo
	queue   *fakeQueue
	rec     *stubReconciler
	archive *memArchive
	cons    *Consumer
}

func newFixture(fullReplay bool) fixture {
	repo := newTestRepo()
	queue := &fakeQueue{}
	rec := &stubReconciler{}
	archive := &memArchive{objects: map[string][]byte{}}
	svc := NewService(repo, queue, NewProcessor(rec, fullReplay), logger.Nop())
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	cons := NewConsumer(queue, svc, archive, logger.Nop(), ConsumerOptions{MaxAttempts: 3, IdleDelay: time.Millisecond})
	return fixture{svc: svc, repo: repo, queue: queue, rec: rec, archive: archive, cons: cons}
}

var sample = reconcile.Response{QueryID: "q-1", Responder: "dr.house", ResponseText: "COPD confirmed"}

func onlyRecord(t *testing.T, repo *testRepo) Record {
	t.Helper()
	require.Len(t, repo.byID, 1)
	for _, rec := range repo.byID {
		return rec
	}
	return Record{}
}

func TestCapture_StoresAndEnqueues(t *testing.T) {
	f := newFixture(false)

	require.NoError(t, f.svc.Capture(context.Background(), sample, errors.New("engine down")))

	rec := onlyRecord(t, f.repo)
	assert.Equal(t, KindQueryResponse, rec.Kind)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "engine down", rec.Error)
	assert.Equal(t, 0, rec.Attempts)

	var p Payload
	require.NoError(t, json.Unmarshal(rec.Payload, &p))
	assert.Equal(t, rec.ID, p.DeadLetterID)
	assert.Equal(t, sample, p.Response())

	require.Len(t, f.queue.ready, 1)
	assert.JSONEq(t, string(rec.Payload), string(f.queue.ready[0].Body))
}

func TestCapture_EnqueueFailureKeepsRecord(t *testing.T) {
	f := newFixture(false)
	f.queue.failNext = errors.New("sqs down")

	err := f.svc.Capture(context.Background(), sample, nil)
	require.Error(t, err)
	assert.Equal(t, StatusPending, onlyRecord(t, f.repo).Status)
}

func TestParsePayload(t *testing.T) {
	_, err := ParsePayload([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParsePayload([]byte(`{"queryId":"q-1"}`))
	assert.ErrorIs(t, err, ErrMalformed)

	p, err := ParsePayload([]byte(`{"queryId":"q-1","responseText":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, "q-1", p.QueryID)
}

func TestProcessor_RecordOnlyByDefault(t *testing.T) {
	f := newFixture(false)
	body, _ := json.Marshal(Payload{QueryID: "q-1", ResponseText: "ok"})

	_, err := f.svc.proc.Process(context.Background(), body)
	require.NoError(t, err)
	assert.Len(t, f.rec.recorded, 1)
	assert.Empty(t, f.rec.reconcile)
}

func TestProcessor_FullReplay(t *testing.T) {
	f := newFixture(true)
	body, _ := json.Marshal(Payload{QueryID: "q-1", ResponseText: "ok"})

	_, err := f.svc.proc.Process(context.Background(), body)
	require.NoError(t, err)
	assert.Empty(t, f.rec.recorded)
	assert.Len(t, f.rec.reconcile, 1)
}

func TestConsumer_SuccessAcksAndResolves(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.svc.Capture(context.Background(), sample, errors.New("boom")))

	handled, err := f.cons.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)

	assert.Len(t, f.queue.acked, 1)
	assert.Empty(t, f.queue.ready)
	rec := onlyRecord(t, f.repo)
	assert.Equal(t, StatusResolved, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Empty(t, rec.Error)
	assert.Equal(t, []reconcile.Response{sample}, f.rec.recorded)
}

func TestConsumer_EmptyQueue(t *testing.T) {
	f := newFixture(false)

	handled, err := f.cons.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestConsumer_FailureReleasesThenQuarantines(t *testing.T) {
	f := newFixture(false)
	f.rec.err = errors.New("db down")
	require.NoError(t, f.svc.Capture(context.Background(), sample, nil))

	// intentos 1 y 2: se libera para reintento
	for i := 1; i <= 2; i++ {
		handled, err := f.cons.Poll(context.Background())
		require.NoError(t, err)
		require.True(t, handled)
		rec := onlyRecord(t, f.repo)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, i, rec.Attempts)
		assert.Equal(t, "db down", rec.Error)
	}
	assert.Equal(t, 2, f.queue.released)
	assert.Empty(t, f.queue.acked)

	// intento 3 = MaxAttempts: cuarentena, archivo y ack
	handled, err := f.cons.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, handled)

	rec := onlyRecord(t, f.repo)
	assert.Equal(t, StatusQuarantined, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Len(t, f.queue.acked, 1)
	assert.Empty(t, f.queue.ready)
	assert.Contains(t, f.archive.objects, "deadletters/"+rec.ID+".json")
}

func TestConsumer_MalformedIsEventuallyAcked(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.queue.Enqueue(context.Background(), []byte("{garbage")))

	for i := 0; i < 3; i++ {
		_, err := f.cons.Poll(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, f.queue.acked, 1)
	assert.Empty(t, f.queue.ready)
	assert.Contains(t, f.archive.objects, "deadletters/m-1.json")
	assert.Empty(t, f.rec.recorded)
}

func TestConsumer_ArchiveFailureStillQuarantines(t *testing.T) {
	f := newFixture(false)
	f.rec.err = errors.New("db down")
	f.archive.err = errors.New("s3 down")
	require.NoError(t, f.svc.Capture(context.Background(), sample, nil))

	for i := 0; i < 3; i++ {
		_, err := f.cons.Poll(context.Background())
		require.NoError(t, err)
	}
	rec := onlyRecord(t, f.repo)
	assert.Equal(t, StatusQuarantined, rec.Status)
	assert.NotEmpty(t, rec.Payload)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.svc.Capture(context.Background(), sample, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, f.cons.Run(ctx))
	assert.Equal(t, StatusResolved, onlyRecord(t, f.repo).Status)
}

func TestConsumer_RunBacksOffAfterRelease(t *testing.T) {
	f := newFixture(false)
	f.rec.err = errors.New("engine unavailable")
	f.cons = NewConsumer(f.queue, f.svc, f.archive, logger.Nop(), ConsumerOptions{MaxAttempts: 5, IdleDelay: time.Second})
	require.NoError(t, f.svc.Capture(context.Background(), sample, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, f.cons.Run(ctx))

	rec := onlyRecord(t, f.repo)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Len(t, f.rec.recorded, 1)
	assert.Empty(t, f.queue.acked)
	assert.Empty(t, f.archive.objects)
}

func TestConsumer_RetryWaitDoublesUpToCap(t *testing.T) {
	c := NewConsumer(&fakeQueue{}, nil, nil, logger.Nop(), ConsumerOptions{IdleDelay: time.Second, MaxRetryWait: 10 * time.Second})

	assert.Equal(t, time.Second, c.retryWait(1))
	assert.Equal(t, 2*time.Second, c.retryWait(2))
	assert.Equal(t, 8*time.Second, c.retryWait(4))
	assert.Equal(t, 10*time.Second, c.retryWait(5))
	assert.Equal(t, 10*time.Second, c.retryWait(50))
}

func TestRetry_IncrementsAttemptsRegardlessOfOutcome(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.svc.Capture(context.Background(), sample, nil))
	id := onlyRecord(t, f.repo).ID

	f.rec.err = errors.New("still down")
	rec, err := f.svc.Retry(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "still down", f.repo.byID[id].Error)

	f.rec.err = nil
	rec, err = f.svc.Retry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, StatusResolved, rec.Status)

	// idempotente: un reintento más no rompe nada
	rec, err = f.svc.Retry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Attempts)
	assert.Len(t, f.rec.recorded, 3)
	assert.Equal(t, f.rec.recorded[0], f.rec.recorded[2])
}

func TestRetry_NotFound(t *testing.T) {
	f := newFixture(false)

	_, err := f.svc.Retry(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_FiltersAndValidates(t *testing.T) {
	f := newFixture(false)
	f.repo.byID["a"] = Record{ID: "a", Status: StatusPending, CreatedAt: time.Unix(1, 0)}
	f.repo.byID["b"] = Record{ID: "b", Status: StatusResolved, CreatedAt: time.Unix(2, 0)}

	all, err := f.svc.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, "b", all[0].ID)

	pending, err := f.svc.List(context.Background(), StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)

	_, err = f.svc.List(context.Background(), Status("weird"), 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
