package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/devbackup/pkg/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishOutcome(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, "devbackup.outcomes", nil)
	o := models.Outcome{RunID: uuid.New(), TaskName: "inventory", Total: 3, Succeeded: 3, Success: true}

	require.NoError(t, p.PublishOutcome(context.Background(), o))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, o.RunID[:], w.msgs[0].Key)

	var got models.Outcome
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, o, got)
	assert.False(t, w.msgs[0].Time.IsZero())
}

func TestSubmit(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, "devbackup.requests", nil)

	id, err := p.Submit(context.Background(), models.RunRequest{TaskName: "inventory"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	var got models.RunRequest
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, id, got.RunID)

	fixed := uuid.New()
	id, err = p.Submit(context.Background(), models.RunRequest{RunID: fixed, TaskName: "x"})
	require.NoError(t, err)
	assert.Equal(t, fixed, id)
}

func TestPublishError(t *testing.T) {
	w := &fakeWriter{err: kafka.UnknownTopicOrPartition}
	p := NewWithWriter(w, "missing", nil)

	_, err := p.Submit(context.Background(), models.RunRequest{TaskName: "x"})
	assert.True(t, errors.Is(err, kafka.UnknownTopicOrPartition))
	assert.ErrorContains(t, err, "missing")
}
