package synthesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/atreyu1968/kdp-optimizer-sub000/internal/chunk"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/costs"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/mastering"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/metrics"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/normalize"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/store"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/tts"
)

const (
	defaultRetries      = 3
	defaultBackoff      = 15 * time.Second
	defaultPollInterval = 5 * time.Second
)

// Manager runs one chapter's synthesis job through its state machine:
// pending, synthesizing, mastering, mastered, with failed reachable from
// any non-terminal state. Safe for concurrent use across chapters; a single
// chapter is never processed by more than one call at a time.
type Manager struct {
	store        Store
	blobs        BlobStore
	providers    ProviderSource
	masterer     Masterer
	masterOpts   mastering.Options
	events       EventLogger
	metrics      *metrics.Metrics
	log          *log.Logger
	workDir      string
	retries      int
	backoff      time.Duration
	pollInterval time.Duration
}

// ManagerConfig wires a Manager. Events and Metrics are optional.
type ManagerConfig struct {
	Store      Store
	Blobs      BlobStore
	Providers  ProviderSource
	Masterer   Masterer
	MasterOpts mastering.Options
	Events     EventLogger
	Metrics    *metrics.Metrics
	Logger     *log.Logger
	WorkDir    string
	Retries    int           // automatic retries after the first attempt, 0 means 3
	Backoff    time.Duration // first retry delay, grows linearly, 0 means 15s
	PollMs     time.Duration // task poll interval, 0 means 5s
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		store:        cfg.Store,
		blobs:        cfg.Blobs,
		providers:    cfg.Providers,
		masterer:     cfg.Masterer,
		masterOpts:   cfg.MasterOpts,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		workDir:      cfg.WorkDir,
		retries:      cfg.Retries,
		backoff:      cfg.Backoff,
		pollInterval: cfg.PollMs,
	}
	if m.log == nil {
		m.log = log.Default()
	}
	if m.workDir == "" {
		m.workDir = os.TempDir()
	}
	if m.retries == 0 {
		m.retries = defaultRetries
	}
	if m.backoff == 0 {
		m.backoff = defaultBackoff
	}
	if m.pollInterval == 0 {
		m.pollInterval = defaultPollInterval
	}
	return m
}

// Retries reports the configured automatic retry budget.
func (m *Manager) Retries() int {
	return m.retries
}

// ProcessChapter creates a fresh job for the chapter and drives it to a
// terminal state. Failed attempts restart from pending with increasing
// backoff; after the retry budget is spent the job settles into failed and
// the last error is returned. Credential errors are never retried.
func (m *Manager) ProcessChapter(ctx context.Context, project *store.Project, chapter store.Chapter, totalChapters int) error {
	job, err := m.store.CreateJob(ctx, chapter.ID, project.ID)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	m.event(ctx, project.ID, job.ID, "job_started", chapter.Title)

	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*m.backoff); err != nil {
				lastErr = err
				break
			}
			if _, err := m.store.RetryJob(ctx, job.ID); err != nil {
				return fmt.Errorf("failed to reset job for retry: %w", err)
			}
		}

		lastErr = m.runAttempt(ctx, project, chapter, job, totalChapters)
		if lastErr == nil {
			if m.metrics != nil {
				m.metrics.JobsTotal.WithLabelValues(store.JobMastered).Inc()
			}
			return nil
		}
		if !retryable(lastErr) {
			break
		}
		m.log.Printf("job %s: attempt %d failed: %v", job.ID, attempt+1, lastErr)
	}

	if err := m.store.FailJob(ctx, job.ID, lastErr.Error()); err != nil {
		m.log.Printf("job %s: failed to record failure: %v", job.ID, err)
	}
	m.event(ctx, project.ID, job.ID, "job_failed", lastErr.Error())
	if m.metrics != nil {
		m.metrics.JobsTotal.WithLabelValues(store.JobFailed).Inc()
	}
	return lastErr
}

func (m *Manager) runAttempt(ctx context.Context, project *store.Project, chapter store.Chapter, job *store.SynthesisJob, totalChapters int) error {
	if err := m.store.UpdateJobStatus(ctx, job.ID, store.JobSynthesizing); err != nil {
		return fmt.Errorf("failed to mark job synthesizing: %w", err)
	}

	markup := chapterMarkup(project, chapter)
	provider, err := m.providers.Get(project.Provider)
	if err != nil {
		return err
	}
	chunks, err := chunk.Split(markup, provider.MaxChunkSize())
	if err != nil {
		return fmt.Errorf("failed to chunk chapter: %w", err)
	}

	start := time.Now()
	audio, err := m.synthesize(ctx, provider, chunks, project, job)
	if m.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.metrics.ProviderRequests.WithLabelValues(project.Provider, outcome).Inc()
	}
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	if m.metrics != nil {
		m.metrics.SynthesisDuration.Observe(time.Since(start).Seconds())
	}
	m.event(ctx, project.ID, job.ID, "chunks_synthesized",
		fmt.Sprintf("%d chunks, %d bytes, estimated %d cents", len(chunks), len(audio), costs.Synthesis(project.Provider, len(markup))))

	rawPath := m.workFile(job.ID, "raw.mp3")
	if err := os.WriteFile(rawPath, audio, 0o644); err != nil {
		return fmt.Errorf("failed to write raw audio: %w", err)
	}
	if err := m.store.SetJobRawAudio(ctx, job.ID, rawPath); err != nil {
		return fmt.Errorf("failed to record raw audio path: %w", err)
	}

	return m.masterAndComplete(ctx, project, chapter, job, rawPath, totalChapters)
}

// synthesize produces the chapter's raw audio. Task providers get all
// chunks as one durable backend job whose handle is persisted before
// polling; synchronous providers are called chunk by chunk and the frames
// concatenated in order.
func (m *Manager) synthesize(ctx context.Context, provider tts.Provider, chunks []string, project *store.Project, job *store.SynthesisJob) ([]byte, error) {
	// The compiled markup already carries the project's prosody rate, so
	// the provider gets no separate override.
	p := tts.Params{}

	starter, startOK := provider.(tts.TaskStarter)
	poller, pollOK := provider.(tts.TaskPoller)
	if startOK && pollOK {
		handle, err := starter.StartTask(ctx, chunks, project.VoiceID, p)
		if err != nil {
			return nil, err
		}
		if err := m.store.SetJobTaskHandle(ctx, job.ID, handle); err != nil {
			return nil, fmt.Errorf("failed to persist task handle: %w", err)
		}
		return m.awaitTask(ctx, poller, handle)
	}

	var buf bytes.Buffer
	for i, c := range chunks {
		data, err := provider.Synthesize(ctx, c, project.VoiceID, p)
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// awaitTask polls a provider-side task until it settles. Poll errors leave
// the task running; only a reported failure ends the wait early.
func (m *Manager) awaitTask(ctx context.Context, poller tts.TaskPoller, handle string) ([]byte, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, err := poller.TaskStatus(ctx, handle)
		if err != nil {
			continue
		}
		switch result.State {
		case tts.TaskSucceeded:
			return m.blobs.Download(ctx, result.AudioURL)
		case tts.TaskFailed:
			return nil, fmt.Errorf("provider task %s failed: %s", handle, result.Message)
		}
	}
}

// masterAndComplete runs the mastering chain on rawPath, tags the result,
// uploads it and marks the job mastered. A mastering failure falls back to
// the raw provider audio with a recorded warning; listenable audio beats no
// audio.
func (m *Manager) masterAndComplete(ctx context.Context, project *store.Project, chapter store.Chapter, job *store.SynthesisJob, rawPath string, totalChapters int) error {
	if err := m.store.UpdateJobStatus(ctx, job.ID, store.JobMastering); err != nil {
		return fmt.Errorf("failed to mark job mastering: %w", err)
	}

	masteredPath := m.workFile(job.ID, "mastered.mp3")
	finalPath := masteredPath
	var warning *string

	start := time.Now()
	report, err := m.masterer.Master(ctx, job.ID, rawPath, masteredPath, m.masterOpts)
	if m.metrics != nil {
		m.metrics.MasteringDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		msg := fmt.Sprintf("mastering failed, delivering unmastered audio: %v", err)
		m.log.Printf("job %s: %s", job.ID, msg)
		warning = &msg
		finalPath = rawPath
		m.event(ctx, project.ID, job.ID, "mastering_fallback", err.Error())
	} else {
		if !report.Verified {
			m.log.Printf("job %s: verification outside target: %s", job.ID, report.VerifyNote)
		}
		m.event(ctx, project.ID, job.ID, "mastering_completed", report.VerifyNote)
	}

	if err := m.masterer.WriteTags(ctx, job.ID, finalPath, m.chapterTags(project, chapter, totalChapters)); err != nil {
		m.log.Printf("job %s: failed to write tags: %v", job.ID, err)
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		return fmt.Errorf("failed to read final audio: %w", err)
	}
	key := fmt.Sprintf("projects/%s/chapters/%03d.mp3", project.ID, chapter.Sequence)
	url, err := m.blobs.Upload(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to upload chapter audio: %w", err)
	}

	if err := m.store.CompleteJob(ctx, job.ID, url, warning); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	masteredDelta := 1
	if warning != nil {
		masteredDelta = 0
	}
	if err := m.store.IncrementProjectCounters(ctx, project.ID, 1, masteredDelta); err != nil {
		return fmt.Errorf("failed to update project counters: %w", err)
	}

	for _, p := range []string{rawPath, masteredPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			m.log.Printf("job %s: failed to remove temp file %s: %v", job.ID, p, err)
		}
	}
	return nil
}

// FinishTask completes a job whose provider-side task succeeded while this
// process was down: download the finished audio and run it through
// mastering and completion.
func (m *Manager) FinishTask(ctx context.Context, project *store.Project, chapter store.Chapter, job *store.SynthesisJob, audioURL string, totalChapters int) error {
	data, err := m.blobs.Download(ctx, audioURL)
	if err != nil {
		return fmt.Errorf("failed to download task audio: %w", err)
	}
	rawPath := m.workFile(job.ID, "raw.mp3")
	if err := os.WriteFile(rawPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write raw audio: %w", err)
	}
	if err := m.store.SetJobRawAudio(ctx, job.ID, rawPath); err != nil {
		return fmt.Errorf("failed to record raw audio path: %w", err)
	}
	return m.masterAndComplete(ctx, project, chapter, job, rawPath, totalChapters)
}

// ResumeMastering picks up a job interrupted between synthesis and
// mastering. The raw audio must still exist on disk.
func (m *Manager) ResumeMastering(ctx context.Context, project *store.Project, chapter store.Chapter, job *store.SynthesisJob, totalChapters int) error {
	if job.RawAudioPath == nil {
		return errors.New("job has no raw audio recorded")
	}
	if _, err := os.Stat(*job.RawAudioPath); err != nil {
		return fmt.Errorf("raw audio unavailable: %w", err)
	}
	return m.masterAndComplete(ctx, project, chapter, job, *job.RawAudioPath, totalChapters)
}

func (m *Manager) chapterTags(project *store.Project, chapter store.Chapter, totalChapters int) mastering.ID3 {
	tags := mastering.ID3{
		Title:       chapter.Title,
		Artist:      project.Narrator,
		Album:       project.Title,
		AlbumArtist: project.Author,
		Genre:       "Audiobook",
		TrackIndex:  chapter.Sequence,
		TrackTotal:  totalChapters,
	}
	if project.Year != nil {
		tags.Year = *project.Year
	}
	if project.CoverPath != nil {
		tags.CoverPath = *project.CoverPath
	}
	return tags
}

func (m *Manager) workFile(jobID, suffix string) string {
	return filepath.Join(m.workDir, fmt.Sprintf("%s-%s-%s", jobID, uuid.NewString(), suffix))
}

func (m *Manager) event(ctx context.Context, projectID, jobID, event, detail string) {
	if m.events != nil {
		m.events.Record(ctx, projectID, jobID, event, detail)
	}
}

// chapterMarkup returns the speech markup to synthesize: pre-authored
// markup when the chapter carries it, otherwise the normalized content.
func chapterMarkup(project *store.Project, chapter store.Chapter) string {
	if chapter.Markup != nil && *chapter.Markup != "" {
		return *chapter.Markup
	}
	return normalize.New(project.RatePercent).Normalize(chapter.Content)
}

// retryable reports whether a job attempt is worth repeating. Credential
// and configuration errors fail fast; cancelled contexts stop the loop.
func retryable(err error) bool {
	return !errors.Is(err, tts.ErrMissingCredentials) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
