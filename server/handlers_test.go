package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citizenweb/kraken/am"
	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/jobs"
	"github.com/citizenweb/kraken/messages"
	"github.com/citizenweb/kraken/records"
	"github.com/citizenweb/kraken/storage/storagetest"
)

type testEnv struct {
	server *Server
	store  *storagetest.Fake
	runner *jobs.Runner
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storagetest.New()
	logger := zap.NewNop().Sugar()

	runner := jobs.NewRunner(store, am.JobsConfig{}, logger)
	runner.Start(context.Background())
	t.Cleanup(runner.Stop)

	pusher := records.NewPusher(store, logger)
	srv := New(am.ServerConfig{}, store, runner, pusher, logger)
	srv.startBackground(context.Background())
	t.Cleanup(func() { srv.cancel(); srv.wg.Wait() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, store: store, runner: runner, http: ts}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func (e *testEnv) waitForJob(t *testing.T, id string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, ok, err := jobs.Status(context.Background(), e.store, id)
		return err == nil && ok && status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	step2 := make(chan struct{})
	finish := make(chan struct{})

	id, err := env.runner.Submit(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		thread := messages.ResumeThread(env.store, job.ID).WithJob(job)
		if err := thread.Update(ctx, messages.New(messages.LevelInfo, "Websites", "step 1")); err != nil {
			return err
		}
		<-step2
		if err := thread.Update(ctx, messages.New(messages.LevelInfo, "Websites", "step 2")); err != nil {
			return err
		}
		<-finish
		return thread.Complete(ctx, messages.New(messages.LevelSuccess, "Websites", "done"))
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := messages.Latest(context.Background(), env.store, id)
		return err == nil && n.Message == "step 1"
	}, 2*time.Second, 5*time.Millisecond)

	// Running: HTTP status mirrors the stored 200 and the body carries the
	// latest progress message.
	resp, body := env.get(t, "/api/jobs/"+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	n := body["notification"].(map[string]interface{})
	assert.Equal(t, "step 1", n["message"])

	close(step2)
	require.Eventually(t, func() bool {
		n, err := messages.Latest(context.Background(), env.store, id)
		return err == nil && n.Message == "step 2"
	}, 2*time.Second, 5*time.Millisecond)

	resp, body = env.get(t, "/api/jobs/"+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "step 2", body["notification"].(map[string]interface{})["message"])

	close(finish)
	env.waitForJob(t, id, jobs.DefaultSuccessCode)

	resp, body = env.get(t, "/api/jobs/"+id)
	assert.Equal(t, jobs.DefaultSuccessCode, resp.StatusCode)
	n = body["notification"].(map[string]interface{})
	assert.Equal(t, "done", n["message"])
	assert.Equal(t, true, n["complete"])
}

func TestFailedJobReports400WithoutMessage(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.runner.Submit(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		return errors.InvalidRequestf("that site does not exist")
	})
	require.NoError(t, err)
	env.waitForJob(t, id, jobs.StatusBadRequest)

	resp, body := env.get(t, "/api/jobs/"+id)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotContains(t, body, "notification")
}

func TestConcurrentJobsResolveIndependently(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{})

	slow, err := env.runner.Submit(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		<-gate
		return nil
	}, jobs.WithSuccessCode(200))
	require.NoError(t, err)

	fast, err := env.runner.Submit(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		return nil
	})
	require.NoError(t, err)
	env.waitForJob(t, fast, jobs.DefaultSuccessCode)

	resp, _ := env.get(t, "/api/jobs/"+slow)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.get(t, "/api/jobs/"+fast)
	assert.Equal(t, jobs.DefaultSuccessCode, resp.StatusCode)

	close(gate)
	env.waitForJob(t, slow, 200)
}

func TestUnknownJobIs404(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/api/jobs/doesnotexist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobsReturnsURLs(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.runner.Submit(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		return nil
	})
	require.NoError(t, err)
	env.waitForJob(t, id, jobs.DefaultSuccessCode)

	resp, body := env.get(t, "/api/jobs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{"/api/jobs/" + id}, body["jobs"])
}

func TestNotificationRESTRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"notification":{"level":"info","comp":"System","message":"hello","title":"Hi"}}`)
	resp, err := http.Post(env.http.URL+"/api/notifications", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Notification messages.Notification `json:"notification"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created.Notification.ID, 16)

	getResp, body := env.get(t, "/api/notifications/"+created.Notification.ID)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	n := body["notification"].(map[string]interface{})
	assert.Equal(t, "hello", n["message"])
	assert.Equal(t, []interface{}{}, n["history"])

	listResp, listBody := env.get(t, "/api/notifications")
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	assert.Len(t, listBody["notifications"], 1)
}

func TestNotificationThreadOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	thread := messages.NewThread(env.store)
	require.NoError(t, thread.Update(ctx, messages.New(messages.LevelInfo, "Apps", "working")))
	require.NoError(t, thread.Complete(ctx, messages.New(messages.LevelSuccess, "Apps", "installed")))

	resp, body := env.get(t, "/api/notifications/"+thread.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	n := body["notification"].(map[string]interface{})
	assert.Equal(t, "installed", n["message"])
	history := n["history"].([]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, "working", history[0].(map[string]interface{})["message"])
}

func TestNotificationPostRejectsIncomplete(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.http.URL+"/api/notifications", "application/json",
		bytes.NewReader([]byte(`{"notification":{"level":"info"}}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteNotificationEmitsPurge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	n := messages.New(messages.LevelInfo, "System", "bye")
	require.NoError(t, messages.Send(ctx, env.store, n))

	req, err := http.NewRequest(http.MethodDelete, env.http.URL+"/api/notifications/"+n.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Deletion tells polling clients to drop the record.
	update, err := env.server.pusher.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, update.Purges, 1)
	assert.Equal(t, records.Purge{Model: "notification", ID: n.ID}, update.Purges[0])

	resp2, _ := env.get(t, "/api/notifications/"+n.ID)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestUpdatesDrain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.server.pusher.Push(ctx, "widget", map[string]interface{}{"id": "w1"}))

	resp, body := env.get(t, "/api/updates")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pushes := body["pushes"].(map[string]interface{})
	require.Len(t, pushes["widget"], 1)

	// Drained means gone.
	_, body = env.get(t, "/api/updates")
	assert.Empty(t, body["pushes"])
	assert.Empty(t, body["purges"])
}

func TestJobAcceptedPattern(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.server.SubmitJob(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		return nil
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	JobAccepted(rec, id)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/jobs/"+id, rec.Header().Get("Location"))

	env.waitForJob(t, id, jobs.DefaultSuccessCode)
	resp, _ := env.get(t, "/api/jobs/"+id)
	assert.Equal(t, jobs.DefaultSuccessCode, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}
