package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	TaskName string `json:"taskName"`
}

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { r.closed = true; return nil }

func TestRead(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"taskName":"inventory"}`)},
		{Offset: 2, Value: []byte(`{"taskName":`)},
	}}
	c := NewWithReader[request](r)
	ctx := context.Background()

	got, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "inventory", got.TaskName)

	_, err = c.Read(ctx)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, []int64{1, 2}, r.committed, "undecodable messages are committed too")

	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

func TestRunSkipsBadMessagesAndStopsOnCancel(t *testing.T) {
	r := &fakeReader{
		fetchErrs: []error{errors.New("broker gone")},
		queue: []kafka.Message{
			{Offset: 1, Value: []byte(`not json`)},
			{Offset: 2, Value: []byte(`{"taskName":"a"}`)},
			{Offset: 3, Value: []byte(`{"taskName":"b"}`)},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- NewWithReader[request](r).Run(ctx, func(_ context.Context, req request) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, req.TaskName)
			if req.TaskName == "a" {
				return errors.New("handler failed")
			}
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}
