// Package tts defines the contract speech providers implement and the
// adapters for the supported engines. Adapters receive compiled markup for
// one chunk at a time; callers are responsible for splitting text to each
// provider's MaxChunkSize before synthesis.
package tts

import (
	"context"
	"errors"
)

// ErrMissingCredentials is returned when a provider is requested but its
// credentials were not configured.
var ErrMissingCredentials = errors.New("tts: missing provider credentials")

// Params carries per-request prosody overrides. Zero values mean the
// provider default.
type Params struct {
	Rate  int // speech rate percent, 100 = normal
	Pitch int // pitch offset percent, 0 = normal
}

// Voice describes one voice a provider offers.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
}

// Provider is the uniform synthesis contract. Implementations must be safe
// for concurrent use: one client serves all in-flight chapters.
type Provider interface {
	// Synthesize converts one chunk of markup to encoded audio using the
	// given voice. The chunk must not exceed MaxChunkSize characters.
	Synthesize(ctx context.Context, markup, voiceID string, p Params) ([]byte, error)

	// ListVoices returns the provider's voices, optionally filtered by
	// language code prefix ("es", "es-ES"). Empty language means all.
	ListVoices(ctx context.Context, language string) ([]Voice, error)

	// MaxChunkSize is the largest markup payload, in characters, the
	// provider accepts in a single request.
	MaxChunkSize() int
}

// TaskState is the lifecycle of an asynchronous provider-side job.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// TaskResult is the polled status of an asynchronous synthesis task.
// AudioURL is set once the task has succeeded.
type TaskResult struct {
	State    TaskState
	AudioURL string
	Message  string
}

// TaskStarter is implemented by providers whose backend runs synthesis as an
// asynchronous job. One task covers a whole chapter: every chunk is
// submitted together and the backend concatenates the results. The returned
// handle is durable: callers persist it so a restarted process can resume
// polling a task it did not start.
type TaskStarter interface {
	StartTask(ctx context.Context, chunks []string, voiceID string, p Params) (string, error)
}

// TaskPoller reports the true state of a previously started task.
type TaskPoller interface {
	TaskStatus(ctx context.Context, handle string) (TaskResult, error)
}
