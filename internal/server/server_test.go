// File: internal/server/server_test.go
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/jobs"
	"github.com/veilkit/pane/internal/metrics"
	"github.com/veilkit/pane/internal/providers"
	"github.com/veilkit/pane/internal/store"
)

type runFunc func(ctx context.Context, targetURL string, ec schemas.EnrollmentContext, progress schemas.ProgressFunc) *schemas.EnrollmentResult

// scriptedRunner records the contexts it was handed and delegates to run.
type scriptedRunner struct {
	mu  sync.Mutex
	ecs []schemas.EnrollmentContext
	run runFunc
}

func (r *scriptedRunner) Run(ctx context.Context, targetURL string, ec schemas.EnrollmentContext, progress schemas.ProgressFunc) *schemas.EnrollmentResult {
	r.mu.Lock()
	r.ecs = append(r.ecs, ec)
	r.mu.Unlock()
	if r.run == nil {
		return &schemas.EnrollmentResult{Success: true}
	}
	return r.run(ctx, targetURL, ec, progress)
}

func (r *scriptedRunner) contexts() []schemas.EnrollmentContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.EnrollmentContext(nil), r.ecs...)
}

// fakeStore serves envelopes from memory; the enroll endpoint only reads.
type fakeStore struct {
	envs map[string]*schemas.Envelope
	err  error
}

func (f *fakeStore) Save(context.Context, *schemas.Envelope) error   { return errors.New("read-only") }
func (f *fakeStore) Update(context.Context, *schemas.Envelope) error { return errors.New("read-only") }
func (f *fakeStore) Tombstone(context.Context, string) error         { return errors.New("read-only") }

func (f *fakeStore) Get(_ context.Context, name string) (*schemas.Envelope, error) {
	if f.err != nil {
		return nil, f.err
	}
	env, ok := f.envs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return env, nil
}

func (f *fakeStore) List(context.Context) ([]schemas.Envelope, error) {
	return nil, errors.New("not used")
}

func newHarness(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	require.NotNil(t, deps.Jobs, "harness needs a supervisor")
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	t.Cleanup(func() { require.NoError(t, deps.Jobs.Shutdown(context.Background())) })

	s := New(config.ServerConfig{Listen: "127.0.0.1:0"}, deps)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(http.DefaultClient.CloseIdleConnections)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, serverJSON.NewDecoder(resp.Body).Decode(into))
}

func startJob(t *testing.T, srv *httptest.Server, body string) enrollResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/enroll", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var reply enrollResponse
	decodeBody(t, resp, &reply)
	require.NotEmpty(t, reply.JobID)
	return reply
}

func waitDone(t *testing.T, sup *jobs.Supervisor, id string) {
	t.Helper()
	job, err := sup.Get(id)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
}

func TestHealthz(t *testing.T) {
	sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, map[string]string{"service": "pane", "status": "ok"}, body)
}

func TestRequestIDIsHonored(t *testing.T) {
	sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "trace-me-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-me-123", resp.Header.Get("X-Request-Id"))
}

func TestEnrollWithSeed(t *testing.T) {
	runner := &scriptedRunner{}
	sup := jobs.NewSupervisor(runner, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup","seed":"maple-circuit"}`)
	assert.Equal(t, "maple-circuit", reply.Context)
	waitDone(t, sup, reply.JobID)

	// The run received a fully assembled ephemeral bundle.
	ecs := runner.contexts()
	require.Len(t, ecs, 1)
	ec := ecs[0]
	assert.Equal(t, "maple-circuit", ec.Name)
	assert.Equal(t, "maple-circuit", ec.Identity.Seed)
	assert.NotEmpty(t, ec.Identity.FullName)
	assert.Equal(t, providers.LocalAliasEmail("maple-circuit", ""), ec.Alias.Email)
	assert.Regexp(t, regexp.MustCompile(`^maple_circuit\d{2}$`), ec.Username)
	assert.Len(t, ec.Password, 18)
	assert.Empty(t, ec.Card.Token)

	var snap jobs.Snapshot
	resp, err := http.Get(srv.URL + "/api/jobs/" + reply.JobID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &snap)
	assert.Equal(t, reply.JobID, snap.ID)
	assert.Equal(t, "https://example.com/signup", snap.TargetURL)
	assert.Equal(t, "maple-circuit", snap.Context)
	assert.Equal(t, jobs.StatusComplete, snap.Status)
	require.NotNil(t, snap.Result)
	assert.True(t, snap.Result.Success)
}

func TestEnrollWithoutSeedMintsOne(t *testing.T) {
	runner := &scriptedRunner{}
	sup := jobs.NewSupervisor(runner, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup"}`)
	assert.Regexp(t, regexp.MustCompile(`^[a-z]+-[a-z]+$`), reply.Context)
	waitDone(t, sup, reply.JobID)

	ecs := runner.contexts()
	require.Len(t, ecs, 1)
	assert.Equal(t, reply.Context, ecs[0].Name)
	assert.Equal(t, reply.Context, ecs[0].Identity.Seed)
}

func TestEnrollWithStoredContext(t *testing.T) {
	env := &schemas.Envelope{
		Name:      "cedar-lantern",
		TargetURL: "",
		Identity:  schemas.Identity{Seed: "cedar-lantern", FirstName: "Iris", LastName: "Calloway", FullName: "Iris Calloway"},
		Alias:     schemas.AliasResult{ID: "al_42", Email: "cedar-lantern-9fc@relay.veilkit.dev"},
		Card:      schemas.CardResult{Token: "card_tok_11", LastFour: "0042"},
		Username:  "cedar_lantern07",
		Password:  "st0red-P@ssword-42",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	runner := &scriptedRunner{}
	sup := jobs.NewSupervisor(runner, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{
		Jobs:  sup,
		Store: &fakeStore{envs: map[string]*schemas.Envelope{"cedar-lantern": env}},
	})

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup","context":"cedar-lantern"}`)
	assert.Equal(t, "cedar-lantern", reply.Context)
	waitDone(t, sup, reply.JobID)

	ecs := runner.contexts()
	require.Len(t, ecs, 1)
	assert.Equal(t, env.Context(), ecs[0])
}

func TestEnrollStoredContextErrors(t *testing.T) {
	t.Run("unknown context is 404", func(t *testing.T) {
		sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
		srv := newHarness(t, Deps{Jobs: sup, Store: &fakeStore{envs: map[string]*schemas.Envelope{}}})

		resp := postJSON(t, srv.URL+"/api/enroll", `{"target_url":"https://x.test","context":"nope"}`)
		var body map[string]string
		decodeBody(t, resp, &body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, body["error"], "nope")
	})

	t.Run("tombstoned context is 409", func(t *testing.T) {
		burned := time.Now().UTC()
		env := &schemas.Envelope{Name: "old-flame", TombstonedAt: &burned}
		sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
		srv := newHarness(t, Deps{Jobs: sup, Store: &fakeStore{envs: map[string]*schemas.Envelope{"old-flame": env}}})

		resp := postJSON(t, srv.URL+"/api/enroll", `{"target_url":"https://x.test","context":"old-flame"}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("no store configured is 503", func(t *testing.T) {
		sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
		srv := newHarness(t, Deps{Jobs: sup})

		resp := postJSON(t, srv.URL+"/api/enroll", `{"target_url":"https://x.test","context":"any"}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("lookup failure is 500", func(t *testing.T) {
		sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
		srv := newHarness(t, Deps{Jobs: sup, Store: &fakeStore{err: errors.New("connection refused")}})

		resp := postJSON(t, srv.URL+"/api/enroll", `{"target_url":"https://x.test","context":"any"}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestEnrollValidation(t *testing.T) {
	sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	cases := []struct {
		name string
		body string
	}{
		{"malformed body", `{`},
		{"missing target_url", `{"seed":"maple-circuit"}`},
		{"context and seed together", `{"target_url":"https://x.test","context":"a","seed":"b"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/enroll", tc.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestJobLookupAndList(t *testing.T) {
	runner := &scriptedRunner{}
	sup := jobs.NewSupervisor(runner, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	resp, err := http.Get(srv.URL + "/api/jobs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup","seed":"maple-circuit"}`)
	waitDone(t, sup, reply.JobID)

	var snaps []jobs.Snapshot
	listResp, err := http.Get(srv.URL + "/api/jobs")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	decodeBody(t, listResp, &snaps)
	require.Len(t, snaps, 1)
	assert.Equal(t, reply.JobID, snaps[0].ID)
}

type sseMessage struct {
	event string
	id    string
	data  string
}

// readSSE consumes one message from the stream, skipping heartbeat comments.
func readSSE(t *testing.T, r *bufio.Reader) sseMessage {
	t.Helper()
	var msg sseMessage
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "stream ended mid-message")
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			msg.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			msg.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			msg.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if msg.event != "" || msg.data != "" {
				return msg
			}
		}
	}
}

func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func decodeProgress(t *testing.T, msg sseMessage) jobs.Event {
	t.Helper()
	require.Equal(t, "progress", msg.event)
	var event jobs.Event
	require.NoError(t, serverJSON.UnmarshalFromString(msg.data, &event))
	return event
}

func TestEventsReplayAfterCompletion(t *testing.T) {
	runner := &scriptedRunner{run: func(_ context.Context, _ string, _ schemas.EnrollmentContext, progress schemas.ProgressFunc) *schemas.EnrollmentResult {
		progress(schemas.ProgressEvent{Step: schemas.StepLaunch, Message: "session up", PercentComplete: 10})
		progress(schemas.ProgressEvent{Step: schemas.StepFill, Message: "6 fields", PercentComplete: 65})
		progress(schemas.ProgressEvent{Step: schemas.StepComplete, Message: "enrolled", PercentComplete: 100})
		return &schemas.EnrollmentResult{Success: true, MatchedSignal: "welcome"}
	}}
	sup := jobs.NewSupervisor(runner, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup","seed":"maple-circuit"}`)
	waitDone(t, sup, reply.JobID)

	stream := openStream(t, srv.URL+"/api/jobs/"+reply.JobID+"/events")

	wantSteps := []schemas.Step{schemas.StepLaunch, schemas.StepFill, schemas.StepComplete}
	for i, want := range wantSteps {
		event := decodeProgress(t, readSSE(t, stream))
		assert.Equal(t, i+1, event.Seq)
		assert.Equal(t, want, event.Step)
	}

	end := readSSE(t, stream)
	assert.Equal(t, "end", end.event)
	var tail map[string]string
	require.NoError(t, serverJSON.UnmarshalFromString(end.data, &tail))
	assert.Equal(t, reply.JobID, tail["job_id"])
	assert.Equal(t, "complete", tail["status"])

	_, err := stream.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventsLiveDelivery(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &scriptedRunner{run: func(_ context.Context, _ string, _ schemas.EnrollmentContext, progress schemas.ProgressFunc) *schemas.EnrollmentResult {
		progress(schemas.ProgressEvent{Step: schemas.StepLaunch, Message: "session up", PercentComplete: 10})
		close(started)
		<-release
		progress(schemas.ProgressEvent{Step: schemas.StepComplete, Message: "enrolled", PercentComplete: 100})
		return &schemas.EnrollmentResult{Success: true}
	}}
	sup := jobs.NewSupervisor(runner, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup","seed":"maple-circuit"}`)
	<-started

	stream := openStream(t, srv.URL+"/api/jobs/"+reply.JobID+"/events")

	// History replays immediately, then the live event lands after release.
	first := decodeProgress(t, readSSE(t, stream))
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, schemas.StepLaunch, first.Step)

	close(release)
	second := decodeProgress(t, readSSE(t, stream))
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, schemas.StepComplete, second.Step)

	end := readSSE(t, stream)
	assert.Equal(t, "end", end.event)
	waitDone(t, sup, reply.JobID)
}

func TestEventsUnknownJob(t *testing.T) {
	sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	resp, err := http.Get(srv.URL + "/api/jobs/nope/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestCancelJob(t *testing.T) {
	started := make(chan struct{})
	runner := &scriptedRunner{run: func(ctx context.Context, _ string, _ schemas.EnrollmentContext, progress schemas.ProgressFunc) *schemas.EnrollmentResult {
		progress(schemas.ProgressEvent{Step: schemas.StepLaunch, Message: "session up", PercentComplete: 10})
		close(started)
		<-ctx.Done()
		return &schemas.EnrollmentResult{Error: "run aborted: " + ctx.Err().Error(), FailureKind: "unhandled_run_error"}
	}}
	sup := jobs.NewSupervisor(runner, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup","seed":"maple-circuit"}`)
	<-started

	resp := postJSON(t, srv.URL+"/api/jobs/"+reply.JobID+"/cancel", "")
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "canceling", body["status"])

	waitDone(t, sup, reply.JobID)
	job, err := sup.Get(reply.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCanceled, job.Status())

	missing := postJSON(t, srv.URL+"/api/jobs/nope/cancel", "")
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg, zaptest.NewLogger(t))
	runner := &scriptedRunner{}
	sup := jobs.NewSupervisor(runner, sink, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup, Gatherer: reg})

	reply := startJob(t, srv, `{"target_url":"https://example.com/signup","seed":"maple-circuit"}`)
	waitDone(t, sup, reply.JobID)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	scrape := string(raw)
	assert.Contains(t, scrape, "pane_jobs_started_total 1")
	assert.Contains(t, scrape, `pane_jobs_finished_total{outcome="enrolled"} 1`)
}

func TestMetricsEndpointAbsentWithoutGatherer(t *testing.T) {
	sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
	srv := newHarness(t, Deps{Jobs: sup})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sup := jobs.NewSupervisor(&scriptedRunner{}, nil, zaptest.NewLogger(t))
	t.Cleanup(func() { require.NoError(t, sup.Shutdown(context.Background())) })

	s := New(config.ServerConfig{Listen: "127.0.0.1:0", ShutdownTimeout: 2 * time.Second}, Deps{
		Jobs:   sup,
		Logger: zaptest.NewLogger(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the listener a moment to bind, then pull the plug.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
