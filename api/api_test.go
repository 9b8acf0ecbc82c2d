package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xraph/forge"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/api"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/stream"
)

type fakeObserver struct {
	jobs    []*job.Job
	lastOps job.ListOpts
	failErr error
}

func (f *fakeObserver) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.lastOps = opts
	var out []*job.Job
	for _, j := range f.jobs {
		if opts.State == "" || j.State == opts.State {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func (f *fakeObserver) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	for _, j := range f.jobs {
		if j.ID == jobID {
			return j.Clone(), nil
		}
	}
	return nil, lineup.ErrJobNotFound
}

func (f *fakeObserver) Stats(_ context.Context) (job.Stats, error) {
	if f.failErr != nil {
		return job.Stats{}, f.failErr
	}
	var s job.Stats
	for _, j := range f.jobs {
		s.Add(j.State)
	}
	return s, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleJobs() []*job.Job {
	return []*job.Job{
		{ID: "Burger#1", Name: "burger", State: job.StateCompleted, Attempt: 3, MaxAttempts: 3, Progress: 100},
		{ID: "Burger#2", Name: "burger", State: job.StateWaiting, MaxAttempts: 3},
		{ID: "Burger#3", Name: "burger", State: job.StateFailed, Attempt: 1, MaxAttempts: 1, LastError: "step grill: Toast burnt!"},
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWithRouter_SharesRouter(t *testing.T) {
	router := forge.NewRouter()
	_ = router.GET("/healthz", func(ctx forge.Context) error {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	h := api.New(&fakeObserver{jobs: sampleJobs()},
		api.WithRouter(router),
		api.WithLogger(testLogger()),
	).Handler()

	for _, target := range []string{"/healthz", "/admin/queues/api/stats"} {
		if rec := get(t, h, target); rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, body %s", target, rec.Code, rec.Body)
		}
	}
}

func TestListJobs(t *testing.T) {
	obs := &fakeObserver{jobs: sampleJobs()}
	h := api.New(obs, api.WithLogger(testLogger())).Handler()

	rec := get(t, h, "/admin/queues/api/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var jobs []*job.Job
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	for i, want := range []string{"Burger#1", "Burger#2", "Burger#3"} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d] = %q, want %q", i, jobs[i].ID, want)
		}
	}
}

func TestListJobs_Filters(t *testing.T) {
	obs := &fakeObserver{jobs: sampleJobs()}
	h := api.New(obs, api.WithLogger(testLogger())).Handler()

	rec := get(t, h, "/admin/queues/api/jobs?state=failed&limit=5&offset=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if obs.lastOps.State != job.StateFailed || obs.lastOps.Limit != 5 || obs.lastOps.Offset != 1 {
		t.Errorf("list opts = %+v", obs.lastOps)
	}
	var jobs []*job.Job
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].LastError != "step grill: Toast burnt!" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	h := api.New(&fakeObserver{}, api.WithLogger(testLogger())).Handler()

	rec := get(t, h, "/admin/queues/api/jobs")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestListJobs_BadQuery(t *testing.T) {
	h := api.New(&fakeObserver{}, api.WithLogger(testLogger())).Handler()

	for _, q := range []string{"state=cooking", "limit=abc", "offset=-1"} {
		rec := get(t, h, "/admin/queues/api/jobs?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestListJobs_StoreFailure(t *testing.T) {
	obs := &fakeObserver{failErr: errors.New("boom")}
	h := api.New(obs, api.WithLogger(testLogger())).Handler()

	rec := get(t, h, "/admin/queues/api/jobs")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.Error, "boom") {
		t.Errorf("error = %q", body.Error)
	}
}

func TestGetJob(t *testing.T) {
	h := api.New(&fakeObserver{jobs: sampleJobs()}, api.WithLogger(testLogger())).Handler()

	// "#" must be escaped in a URL path.
	rec := get(t, h, "/admin/queues/api/jobs/Burger%232")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var j job.Job
	if err := json.NewDecoder(rec.Body).Decode(&j); err != nil {
		t.Fatal(err)
	}
	if j.ID != "Burger#2" || j.State != job.StateWaiting {
		t.Errorf("job = %+v", j)
	}

	rec = get(t, h, "/admin/queues/api/jobs/Burger%2399")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rec.Code)
	}
}

func TestStats(t *testing.T) {
	h := api.New(&fakeObserver{jobs: sampleJobs()}, api.WithLogger(testLogger())).Handler()

	rec := get(t, h, "/admin/queues/api/stats")
	var s job.Stats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	want := job.Stats{Waiting: 1, Completed: 1, Failed: 1}
	if s != want {
		t.Errorf("stats = %+v, want %+v", s, want)
	}
}

func TestBasePath(t *testing.T) {
	h := api.New(&fakeObserver{jobs: sampleJobs()},
		api.WithLogger(testLogger()),
		api.WithBasePath("/monitor"),
	).Handler()

	if rec := get(t, h, "/monitor/api/stats"); rec.Code != http.StatusOK {
		t.Errorf("custom base status = %d", rec.Code)
	}
	if rec := get(t, h, "/admin/queues/api/stats"); rec.Code != http.StatusNotFound {
		t.Errorf("default base status = %d, want 404", rec.Code)
	}
}

func TestExecute(t *testing.T) {
	calls := 0
	h := api.New(&fakeObserver{},
		api.WithLogger(testLogger()),
		api.WithSeed(func(context.Context) error {
			calls++
			return nil
		}),
	).Handler()

	rec := get(t, h, "/queue/execute")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body api.ExecuteResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Message != "Queues being processed!" {
		t.Errorf("message = %q", body.Message)
	}
	if calls != 1 {
		t.Errorf("seed calls = %d, want 1", calls)
	}
}

func TestExecute_NotMountedWithoutSeed(t *testing.T) {
	h := api.New(&fakeObserver{}, api.WithLogger(testLogger())).Handler()
	if rec := get(t, h, "/queue/execute"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// ── streaming ───────────────────────────────────────

func startStreamServer(t *testing.T) (*stream.Broker, *httptest.Server) {
	t.Helper()
	b := stream.NewBroker(testLogger())
	a := api.New(&fakeObserver{},
		api.WithLogger(testLogger()),
		api.WithStreamer(b),
	)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return b, srv
}

func waitSubscribers(t *testing.T, b *stream.Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Stats().SubscriberCount != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count = %d, want %d", b.Stats().SubscriberCount, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) io.ReadWriteCloser {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/queues/api/stream" + query
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamWebSocket_JSON(t *testing.T) {
	b, srv := startStreamServer(t)
	conn := dial(t, srv, "?topic=jobs")
	waitSubscribers(t, b, 1)

	j := &job.Job{ID: "Burger#1", Name: "burger", State: job.StateWaiting, MaxAttempts: 3}
	if err := b.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt stream.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != stream.EventJobEnqueued {
		t.Errorf("type = %q", evt.Type)
	}
	d, err := stream.Decode[stream.JobEventData](&evt)
	if err != nil {
		t.Fatal(err)
	}
	if d.JobID != "Burger#1" {
		t.Errorf("job id = %q", d.JobID)
	}
}

func TestStreamWebSocket_Msgpack(t *testing.T) {
	b, srv := startStreamServer(t)
	conn := dial(t, srv, "?format=msgpack&topic=progress")
	waitSubscribers(t, b, 1)

	if err := b.OnJobProgress(context.Background(), "Burger#1", 1, 40); err != nil {
		t.Fatal(err)
	}

	data, op, err := wsutil.ReadServerData(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if op != ws.OpBinary {
		t.Errorf("opcode = %v, want binary", op)
	}
	var evt map[string]any
	if err := msgpack.Unmarshal(data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt["type"] != string(stream.EventJobProgress) {
		t.Errorf("type = %v", evt["type"])
	}
	payload, ok := evt["data"].(map[string]any)
	if !ok {
		t.Fatalf("data = %T", evt["data"])
	}
	if fmt.Sprint(payload["progress"]) != "40" {
		t.Errorf("progress = %v", payload["progress"])
	}
}

func TestStreamWebSocket_ShutdownSendsClose(t *testing.T) {
	b, srv := startStreamServer(t)
	conn := dial(t, srv, "")
	waitSubscribers(t, b, 1)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, _, err := wsutil.ReadServerData(conn)
	var closed wsutil.ClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("read err = %v, want close frame", err)
	}
	if closed.Code != ws.StatusGoingAway {
		t.Errorf("close code = %v, want going away", closed.Code)
	}
}

func TestStreamWebSocket_DisconnectUnsubscribes(t *testing.T) {
	b, srv := startStreamServer(t)
	conn := dial(t, srv, "")
	waitSubscribers(t, b, 1)

	conn.Close()
	waitSubscribers(t, b, 0)
}

func TestStreamWebSocket_BadParams(t *testing.T) {
	_, srv := startStreamServer(t)

	for _, q := range []string{"?topic=bogus", "?topic=worker:1", "?format=xml"} {
		resp, err := http.Get(srv.URL + "/admin/queues/api/stream" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestStreamSSE(t *testing.T) {
	b, srv := startStreamServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/admin/queues/api/events?topic=job:Burger%231", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	waitSubscribers(t, b, 1)

	j := &job.Job{ID: "Burger#1", State: job.StateCompleted, Attempt: 1, MaxAttempts: 3}
	if err := b.OnJobCompleted(context.Background(), j, time.Second); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	got := string(buf[:n])
	if !strings.HasPrefix(got, "event: job.completed\ndata: ") {
		t.Errorf("frame = %q", got)
	}
}
