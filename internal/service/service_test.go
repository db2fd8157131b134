package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/backend/backendtest"
	"github.com/andrej220/devbackup/pkg/models"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []models.Coordinates
	block bool
	err   error
}

func (r *fakeRunner) Run(ctx context.Context, c models.Coordinates, s models.Settings) (models.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	out := models.Outcome{RunID: c.RunID, TaskName: c.TaskName}
	if r.block {
		<-ctx.Done()
		return out, ctx.Err()
	}
	if r.err != nil {
		return out, r.err
	}
	out.Total, out.Succeeded, out.Success = 1, 1, true
	return out, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type outcomes struct {
	mu  sync.Mutex
	got []models.Outcome
}

func (o *outcomes) PublishOutcome(_ context.Context, out models.Outcome) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, out)
	return nil
}

func newFake() *backendtest.Fake {
	fake := backendtest.New()
	fake.Config = models.Settings{ThreadCount: 3}
	fake.Tasks["inventory"] = models.TaskInfo{Name: "inventory", Type: models.TaskNode, Put: "db", Table: "out_inventory"}
	return fake
}

func TestExecute(t *testing.T) {
	runner := &fakeRunner{}
	pub := &outcomes{}
	s := New(newFake(), runner, WithOutcomePublisher(pub))
	defer s.Stop()

	out, err := s.Execute(context.Background(), models.RunRequest{TaskName: "inventory", ScheduleID: "9"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.NotEqual(t, uuid.Nil, out.RunID)

	require.Len(t, runner.calls, 1)
	c := runner.calls[0]
	assert.Equal(t, models.TaskNode, c.TaskType)
	assert.Equal(t, "out_inventory", c.Table)
	assert.Equal(t, "9", c.ScheduleID)
	assert.Equal(t, []models.Outcome{out}, pub.got)
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     models.RunRequest
		prepare func(f *backendtest.Fake, r *fakeRunner)
		wantErr error
		runs    int
	}{
		{name: "invalid request", req: models.RunRequest{}, wantErr: models.ErrValidation},
		{name: "unknown task", req: models.RunRequest{TaskName: "nope"}, wantErr: models.ErrValidation},
		{name: "type mismatch", req: models.RunRequest{TaskName: "inventory", TaskType: models.TaskSystem}, wantErr: models.ErrValidation},
		{
			name: "settings unavailable",
			req:  models.RunRequest{TaskName: "inventory"},
			prepare: func(f *backendtest.Fake, _ *fakeRunner) {
				f.Fail[backend.MethodConfig] = &backend.ResponseError{Method: backend.MethodConfig, Code: 503}
			},
		},
		{
			name:    "run fails",
			req:     models.RunRequest{TaskName: "inventory"},
			prepare: func(_ *backendtest.Fake, r *fakeRunner) { r.err = models.ErrValidation },
			wantErr: models.ErrValidation,
			runs:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, runner, pub := newFake(), &fakeRunner{}, &outcomes{}
			if tt.prepare != nil {
				tt.prepare(fake, runner)
			}
			s := New(fake, runner, WithOutcomePublisher(pub))
			defer s.Stop()

			_, err := s.Execute(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.runs, runner.count())
			assert.Len(t, pub.got, tt.runs, "a started run always publishes its outcome")
		})
	}
}

func TestSubmitAndCancel(t *testing.T) {
	runner := &fakeRunner{block: true}
	pub := &outcomes{}
	s := New(newFake(), runner, WithOutcomePublisher(pub), WithConcurrentRuns(1))

	id, err := s.Submit(context.Background(), models.RunRequest{TaskName: "inventory"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.Cancel(id))
	assert.False(t, s.Cancel(id))
	assert.False(t, s.Cancel(uuid.New()))

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, id, pub.got[0].RunID)
	assert.False(t, pub.got[0].Success)
	s.Stop()
}

func TestSubmitValidates(t *testing.T) {
	s := New(newFake(), &fakeRunner{})
	defer s.Stop()
	_, err := s.Submit(context.Background(), models.RunRequest{})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestStopCancelsRunning(t *testing.T) {
	runner := &fakeRunner{block: true}
	s := New(newFake(), runner, WithConcurrentRuns(2))
	_, err := s.Submit(context.Background(), models.RunRequest{TaskName: "inventory"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() { s.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
