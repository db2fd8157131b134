package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/devbackup/internal/serverutil"
	"github.com/andrej220/devbackup/pkg/models"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

type fakeRuns struct {
	got     []models.RunRequest
	err     error
	running map[uuid.UUID]bool
}

func (f *fakeRuns) Submit(ctx context.Context, req models.RunRequest) (uuid.UUID, error) {
	if ctx.Err() != nil {
		return uuid.Nil, ctx.Err()
	}
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.got = append(f.got, req)
	id := uuid.New()
	f.running[id] = true
	return id, nil
}

func (f *fakeRuns) Cancel(id uuid.UUID) bool {
	ok := f.running[id]
	delete(f.running, id)
	return ok
}

func newServer(t *testing.T, runs *fakeRuns, withCancel bool) *httptest.Server {
	t.Helper()
	d := Deps{Submitter: runs, Secret: func() []byte { return secret }}
	if withCancel {
		d.Canceller = runs
	}
	srv := httptest.NewServer(NewRouter(d))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if auth {
		tok, err := serverutil.NewToken(secret, "scheduler", time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	srv := newServer(t, &fakeRuns{running: map[uuid.UUID]bool{}}, true)
	resp := do(t, http.MethodGet, srv.URL+"/healthz", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitRun(t *testing.T) {
	runs := &fakeRuns{running: map[uuid.UUID]bool{}}
	srv := newServer(t, runs, true)

	resp := do(t, http.MethodPost, srv.URL+"/v1/runs", `{"taskName":"inventory","runOnNode":"17"}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var acc RunAccepted
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acc))
	assert.True(t, runs.running[acc.RunID])
	require.Len(t, runs.got, 1)
	assert.Equal(t, "17", runs.got[0].RunOnNode)
}

func TestSubmitRunRejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		auth   bool
		err    error
		status int
	}{
		{name: "no token", body: `{"taskName":"a"}`, status: http.StatusUnauthorized},
		{name: "no task name", body: `{}`, auth: true, status: http.StatusUnprocessableEntity},
		{name: "bad task type", body: `{"taskName":"a","taskType":"cron"}`, auth: true, status: http.StatusUnprocessableEntity},
		{name: "submit failure", body: `{"taskName":"a"}`, auth: true, err: errors.New("kafka down"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := &fakeRuns{running: map[uuid.UUID]bool{}, err: tt.err}
			srv := newServer(t, runs, true)
			resp := do(t, http.MethodPost, srv.URL+"/v1/runs", tt.body, tt.auth)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Empty(t, runs.got)
		})
	}
}

func TestCancelRun(t *testing.T) {
	runs := &fakeRuns{running: map[uuid.UUID]bool{}}
	id := uuid.New()
	runs.running[id] = true
	srv := newServer(t, runs, true)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, srv.URL+"/v1/runs/"+id.String(), "", true).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, srv.URL+"/v1/runs/"+id.String(), "", true).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodDelete, srv.URL+"/v1/runs/nope", "", true).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodDelete, srv.URL+"/v1/runs/"+id.String(), "", false).StatusCode)

	queued := newServer(t, runs, false)
	assert.Equal(t, http.StatusNotImplemented, do(t, http.MethodDelete, queued.URL+"/v1/runs/"+id.String(), "", true).StatusCode)
}
