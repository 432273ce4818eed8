// Package synthesis turns chapters into mastered audiobook tracks. The
// Manager runs one chapter's job through its state machine, the Scheduler
// runs a project's chapters in bounded batches, and Recovery reconciles
// work left in flight by a previous process.
package synthesis

import (
	"context"

	"github.com/atreyu1968/kdp-optimizer-sub000/internal/mastering"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/store"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/tts"
)

// Store is the persistence surface the pipeline needs. *store.Store
// implements it; tests substitute an in-memory fake.
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	ListProjectsByStatus(ctx context.Context, status string) ([]store.Project, error)
	FinishProject(ctx context.Context, id, status string, failedChapters []string) error
	IncrementProjectCounters(ctx context.Context, id string, completedDelta, masteredDelta int) error
	GetChapters(ctx context.Context, projectID string) ([]store.Chapter, error)
	CreateJob(ctx context.Context, chapterID, projectID string) (*store.SynthesisJob, error)
	UpdateJobStatus(ctx context.Context, jobID, status string) error
	SetJobTaskHandle(ctx context.Context, jobID, handle string) error
	SetJobRawAudio(ctx context.Context, jobID, path string) error
	CompleteJob(ctx context.Context, jobID, masteredURL string, warning *string) error
	FailJob(ctx context.Context, jobID, errorMessage string) error
	RetryJob(ctx context.Context, jobID string) (int, error)
	LatestJobs(ctx context.Context, projectID string) ([]store.SynthesisJob, error)
	DeleteSupersededJobs(ctx context.Context, chapterID string) (int64, error)
}

// BlobStore stores mastered artifacts durably and fetches remote audio.
// Upload returns a time-limited signed URL for the stored object; Download
// follows redirects and applies its own network timeout.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// ProviderSource resolves a provider name to a synthesis client.
// *tts.Registry implements it.
type ProviderSource interface {
	Get(name string) (tts.Provider, error)
}

// Masterer is the audio mastering surface. *mastering.Engine implements it.
type Masterer interface {
	Master(ctx context.Context, jobID, inputPath, outputPath string, opts mastering.Options) (*mastering.Report, error)
	WriteTags(ctx context.Context, jobID, path string, tags mastering.ID3) error
}

// ProgressFunc receives chapter-level completion updates. The transport
// that carries them to users lives outside this package.
type ProgressFunc func(completed, total int, label string)

// EventLogger records production events for the ops dashboard. Recording
// is fire-and-forget; implementations must never fail the pipeline.
type EventLogger interface {
	Record(ctx context.Context, projectID, jobID, event, detail string)
}
