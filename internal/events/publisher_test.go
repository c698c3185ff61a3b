package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	payloads [][]byte
	err      error
}

func (c *capturePublisher) Publish(_ context.Context, payload []byte) error {
	if c.err != nil {
		return c.err
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestEmitterEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewEmitter(pub)

	emitter.ProcessingStarted(context.Background(), "proj-1", "jobs/abc", 12)

	require.Len(t, pub.payloads, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal(pub.payloads[0], &env))

	assert.Equal(t, TypeProcessingStarted, env.EventType)
	assert.Equal(t, "proj-1", env.ProjectID)
	assert.Equal(t, "jobs/abc", env.Data["job_name"])
	assert.Equal(t, float64(12), env.Data["file_count"])

	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestEmitterNeverPanicsOnNilData(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewEmitter(pub)

	emitter.Emit(context.Background(), TypeProjectCreated, "proj-1", nil)

	require.Len(t, pub.payloads, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal(pub.payloads[0], &env))
	assert.NotNil(t, env.Data)
}

func TestEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	emitter := NewEmitter(pub)

	assert.NotPanics(t, func() {
		emitter.Failed(context.Background(), "proj-1", "boom")
	})
	assert.Empty(t, pub.payloads)
}
