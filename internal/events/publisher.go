// Package events publishes project lifecycle notifications. Publishing
// is best effort everywhere: a broker failure is logged and swallowed,
// it never fails the operation that triggered it.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Event types emitted over a project's lifetime.
const (
	TypeProjectCreated     = "project_created"
	TypeProcessingStarted  = "processing_started"
	TypeProcessingProgress = "processing_progress"
	TypeProcessingComplete = "processing_complete"
	TypeProcessingFailed   = "processing_failed"
)

// Envelope is the wire format for every event.
type Envelope struct {
	EventType string         `json:"event_type"`
	ProjectID string         `json:"project_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher delivers one serialized event to the broker.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Emitter wraps a Publisher with the envelope format and the
// best-effort contract.
type Emitter struct {
	pub Publisher
}

func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub}
}

// Emit publishes one event. Failures are logged, never returned.
func (e *Emitter) Emit(ctx context.Context, eventType, projectID string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	env := Envelope{
		EventType: eventType,
		ProjectID: projectID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("events: marshal failed type=%s project=%s err=%v", eventType, projectID, err)
		return
	}
	if err := e.pub.Publish(ctx, payload); err != nil {
		log.Printf("events: publish failed type=%s project=%s err=%v", eventType, projectID, err)
	}
}

func (e *Emitter) ProjectCreated(ctx context.Context, projectID, name string) {
	e.Emit(ctx, TypeProjectCreated, projectID, map[string]any{"name": name})
}

func (e *Emitter) ProcessingStarted(ctx context.Context, projectID, jobName string, fileCount int) {
	e.Emit(ctx, TypeProcessingStarted, projectID, map[string]any{
		"job_name":   jobName,
		"file_count": fileCount,
	})
}

func (e *Emitter) Progress(ctx context.Context, projectID string, progress int) {
	e.Emit(ctx, TypeProcessingProgress, projectID, map[string]any{"progress": progress})
}

func (e *Emitter) Completed(ctx context.Context, projectID string, outputs []string) {
	e.Emit(ctx, TypeProcessingComplete, projectID, map[string]any{"outputs": outputs})
}

func (e *Emitter) Failed(ctx context.Context, projectID, reason string) {
	e.Emit(ctx, TypeProcessingFailed, projectID, map[string]any{"error": reason})
}

func (e *Emitter) Close() error {
	return e.pub.Close()
}
