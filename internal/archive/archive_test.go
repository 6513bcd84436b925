package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/queue"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func endedPoll() *models.PollView {
	ended := t0.Add(time.Minute)
	return &models.PollView{
		ID:        "p1",
		RoomID:    "main",
		Question:  "Which planet is known as the Red Planet?",
		Options:   []string{"Mars", "Venus"},
		State:     models.PollEnded,
		EndTime:   &ended,
		EndReason: models.EndReasonExpired,
		Summary:   &models.Summary{TotalResponses: 2, Graded: true, CorrectResponses: 1, CorrectPercentage: 50, IncorrectResponses: 1, IncorrectPercentage: 50},
	}
}

type memQueue struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (q *memQueue) EnqueuePollArchive(_ context.Context, p queue.PollArchivePayload) error {
	return q.add(queue.JobTypePollArchive, p)
}

func (q *memQueue) EnqueueAttendance(_ context.Context, p queue.AttendancePayload) error {
	return q.add(queue.JobTypeAttendance, p)
}

func (q *memQueue) add(t queue.JobType, payload interface{}) error {
	job, err := queue.NewJob(t, payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, nil
}

func (q *memQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	q.retried = append(q.retried, job)
	if job.Attempt < queue.MaxRetries {
		q.pending = append(q.pending, job)
	}
	return nil
}

func (q *memQueue) counts() (pending, retried int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.retried)
}

type memStore struct {
	mu       sync.Mutex
	polls    map[string]*models.PollView
	keys     map[string]string
	presence []models.PresenceRecord
	failSave int
}

func newMemStore() *memStore {
	return &memStore{polls: map[string]*models.PollView{}, keys: map[string]string{}}
}

func (s *memStore) SavePoll(_ context.Context, _ string, p *models.PollView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave > 0 {
		s.failSave--
		return errors.New("db down")
	}
	s.polls[p.ID] = p
	return nil
}

func (s *memStore) SetExportKey(_ context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[id]; !ok {
		return ErrNotFound
	}
	s.keys[id] = key
	return nil
}

func (s *memStore) LogPresence(_ context.Context, rec models.PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, rec)
	return nil
}

func (s *memStore) saved(id string) (*models.PollView, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[id], s.keys[id]
}

type memExporter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (e *memExporter) PutJSON(_ context.Context, key string, body []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.objects == nil {
		e.objects = map[string][]byte{}
	}
	e.objects[key] = body
	return nil
}

func TestDispatchAndProcess(t *testing.T) {
	q := &memQueue{}
	d := NewDispatcher(q)
	require.NoError(t, d.ArchivePoll(context.Background(), endedPoll()))
	require.NoError(t, d.LogPresence(context.Background(), models.PresenceRecord{
		RoomID: "main", ParticipantID: "s1", Name: "Ada", Role: models.RoleStudent, Action: models.PresenceKicked, Reason: "spam", At: t0,
	}))

	store := newMemStore()
	exp := &memExporter{}
	p := NewProcessor(store, exp, q, nil)
	for {
		job, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if job == nil {
			break
		}
		require.NoError(t, p.Process(context.Background(), job))
	}

	poll, key := store.saved("p1")
	require.NotNil(t, poll)
	assert.Equal(t, 50, poll.Summary.CorrectPercentage)
	assert.Equal(t, "polls/main/p1.json", key)

	var exported models.PollView
	require.NoError(t, json.Unmarshal(exp.objects[key], &exported))
	assert.Equal(t, "p1", exported.ID)

	require.Len(t, store.presence, 1)
	assert.Equal(t, models.PresenceKicked, store.presence[0].Action)
	assert.Equal(t, "spam", store.presence[0].Reason)
	assert.True(t, t0.Equal(store.presence[0].At))
}

func TestProcessWithoutExporter(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, &memQueue{}, nil)
	body, _ := json.Marshal(endedPoll())
	job, err := queue.NewJob(queue.JobTypePollArchive, queue.PollArchivePayload{RoomID: "main", PollID: "p1", Poll: body})
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), job))
	poll, key := store.saved("p1")
	assert.NotNil(t, poll)
	assert.Empty(t, key)
}

func TestProcessUnknownJob(t *testing.T) {
	p := NewProcessor(newMemStore(), nil, &memQueue{}, nil)
	err := p.Process(context.Background(), &queue.Job{ID: "x", Type: "email"})
	assert.Error(t, err)
}

func TestRunRetriesFailedJobs(t *testing.T) {
	q := &memQueue{}
	require.NoError(t, NewDispatcher(q).ArchivePoll(context.Background(), endedPoll()))
	store := newMemStore()
	store.failSave = 1

	p := NewProcessor(store, &memExporter{}, q, nil)
	p.backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		poll, _ := store.saved("p1")
		return poll != nil
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	pending, retried := q.counts()
	assert.Zero(t, pending)
	assert.Equal(t, 1, retried)
}

type memReader struct {
	polls map[string]*models.ArchivedPoll
}

func (r *memReader) ListPolls(_ context.Context, roomID string, limit int) ([]models.ArchivedPoll, error) {
	out := []models.ArchivedPoll{}
	for _, p := range r.polls {
		if p.RoomID == roomID && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memReader) GetPoll(_ context.Context, id string) (*models.ArchivedPoll, error) {
	p, ok := r.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *memReader) ListAttendance(_ context.Context, roomID string, since time.Time, _ int) ([]models.PresenceRecord, error) {
	return []models.PresenceRecord{{RoomID: roomID, ParticipantID: "s1", Action: models.PresenceJoin, At: since}}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://signed.example/" + key, nil
}

func (fakePresigner) PresignExpire() time.Duration { return 10 * time.Minute }

func serve(h *Handler, method, path string) (int, map[string]interface{}) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/polls/archive", h.List)
	r.GET("/api/polls/archive/:id/download", h.Download)
	r.GET("/api/attendance", h.Attendance)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestHandler(t *testing.T) {
	key := "polls/main/p1.json"
	reader := &memReader{polls: map[string]*models.ArchivedPoll{
		"p1": {ID: "p1", RoomID: "main", Poll: *endedPoll(), ExportKey: &key, CreatedAt: t0},
		"p2": {ID: "p2", RoomID: "main", Poll: *endedPoll(), CreatedAt: t0},
	}}
	h := NewHandler(reader, fakePresigner{}, "main", nil)

	code, body := serve(h, http.MethodGet, "/api/polls/archive")
	require.Equal(t, http.StatusOK, code)
	polls := body["data"].(map[string]interface{})["polls"].([]interface{})
	assert.Len(t, polls, 2)

	code, body = serve(h, http.MethodGet, "/api/polls/archive/p1/download")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "https://signed.example/"+key, data["url"])
	assert.Equal(t, float64(600), data["expires_in"])

	code, _ = serve(h, http.MethodGet, "/api/polls/archive/p2/download")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = serve(h, http.MethodGet, "/api/polls/archive/nope/download")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "archive_not_found", body["code"])

	code, _ = serve(h, http.MethodGet, "/api/attendance?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(h, http.MethodGet, "/api/attendance?since=2026-03-02T09:00:00Z")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandlerUnconfigured(t *testing.T) {
	h := NewHandler(nil, nil, "main", nil)
	code, _ := serve(h, http.MethodGet, "/api/polls/archive")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	h = NewHandler(&memReader{}, nil, "main", nil)
	code, _ = serve(h, http.MethodGet, "/api/polls/archive/p1/download")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
