package eventlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of production event
type EventType string

const (
	EventJobStarted         EventType = "job_started"
	EventChunksSynthesized  EventType = "chunks_synthesized"
	EventMasteringCompleted EventType = "mastering_completed"
	EventMasteringFallback  EventType = "mastering_fallback"
	EventJobFailed          EventType = "job_failed"
	EventProjectCompleted   EventType = "project_completed"
	EventProjectFailed      EventType = "project_failed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, projectID, jobID string, eventType EventType, detail string) error {
	if l.db == nil || projectID == "" {
		return nil // Silently skip if no DB or project ID
	}

	var job *string
	if jobID != "" {
		job = &jobID
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO production_events (project_id, job_id, event_type, detail)
		VALUES ($1, $2, $3, $4)
	`, projectID, job, string(eventType), detail)

	return err
}

// Record logs an event without blocking or failing the caller. It satisfies
// the pipeline's event logging contract.
func (l *Logger) Record(ctx context.Context, projectID, jobID, event, detail string) {
	if l.db == nil || projectID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, projectID, jobID, EventType(event), detail)
	}()
}
