package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Project statuses.
const (
	ProjectSynthesizing = "synthesizing"
	ProjectCompleted    = "completed"
	ProjectFailed       = "failed"
)

// SynthesisJob statuses. A job only moves forward through these except on
// explicit retry, which resets it to pending.
const (
	JobPending      = "pending"
	JobSynthesizing = "synthesizing"
	JobMastering    = "mastering"
	JobMastered     = "mastered"
	JobFailed       = "failed"
)

// Project is one audiobook production unit.
type Project struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Author            string     `json:"author"`
	Narrator          string     `json:"narrator"`
	Language          string     `json:"language"`
	Provider          string     `json:"provider"`
	VoiceID           string     `json:"voice_id"`
	RatePercent       int        `json:"rate_percent"`
	Status            string     `json:"status"`
	ChaptersCompleted int        `json:"chapters_completed"`
	ChaptersMastered  int        `json:"chapters_mastered"`
	FailedChapters    []string   `json:"failed_chapters,omitempty"`
	CoverPath         *string    `json:"cover_path,omitempty"`
	Year              *string    `json:"year,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Chapter belongs to exactly one project. Sequence is unique within the
// project and defines both playback order and the ID3 track number.
// Markup, when present, is pre-authored speech markup that bypasses the
// normalizer.
type Chapter struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Sequence  int       `json:"sequence"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Markup    *string   `json:"markup,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SynthesisJob is one synthesis attempt for a chapter. A chapter may
// accumulate several jobs over time; only the most recent one is
// authoritative, older ones are superseded history.
type SynthesisJob struct {
	ID           string     `json:"id"`
	ChapterID    string     `json:"chapter_id"`
	ProjectID    string     `json:"project_id"`
	Status       string     `json:"status"`
	TaskHandle   *string    `json:"task_handle,omitempty"`
	RawAudioPath *string    `json:"raw_audio_path,omitempty"`
	MasteredURL  *string    `json:"mastered_url,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Warning      *string    `json:"warning,omitempty"`
	RetryCount   int        `json:"retry_count"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ============================================================================
// Project operations
// ============================================================================

// CreateProject inserts a new project in the synthesizing state.
func (s *Store) CreateProject(ctx context.Context, p Project) (*Project, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO projects (id, title, author, narrator, language, provider, voice_id, rate_percent, status, cover_path, year)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, p.Title, p.Author, p.Narrator, p.Language, p.Provider, p.VoiceID, p.RatePercent, ProjectSynthesizing, p.CoverPath, p.Year).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = ProjectSynthesizing
	return &p, nil
}

// GetProject retrieves a project by ID, or nil when it does not exist.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.QueryRow(ctx, `
		SELECT id, title, author, narrator, language, provider, voice_id, rate_percent, status,
		       chapters_completed, chapters_mastered, failed_chapters, cover_path, year,
		       created_at, updated_at, completed_at
		FROM projects WHERE id=$1
	`, id).Scan(&p.ID, &p.Title, &p.Author, &p.Narrator, &p.Language, &p.Provider, &p.VoiceID,
		&p.RatePercent, &p.Status, &p.ChaptersCompleted, &p.ChaptersMastered, &p.FailedChapters,
		&p.CoverPath, &p.Year, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjectsByStatus returns every project in the given status, oldest
// first. Recovery uses this to find projects interrupted by a restart.
func (s *Store) ListProjectsByStatus(ctx context.Context, status string) ([]Project, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, author, narrator, language, provider, voice_id, rate_percent, status,
		       chapters_completed, chapters_mastered, failed_chapters, cover_path, year,
		       created_at, updated_at, completed_at
		FROM projects WHERE status=$1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Author, &p.Narrator, &p.Language, &p.Provider,
			&p.VoiceID, &p.RatePercent, &p.Status, &p.ChaptersCompleted, &p.ChaptersMastered,
			&p.FailedChapters, &p.CoverPath, &p.Year, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FinishProject records a project's terminal outcome and the titles of any
// chapters that failed.
func (s *Store) FinishProject(ctx context.Context, id, status string, failedChapters []string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE projects
		SET status=$2, failed_chapters=$3, completed_at=now(), updated_at=now()
		WHERE id=$1
	`, id, status, failedChapters)
	return err
}

// IncrementProjectCounters bumps the completed/mastered chapter counters in
// a single UPDATE so concurrent chapter completions cannot lose updates.
func (s *Store) IncrementProjectCounters(ctx context.Context, id string, completedDelta, masteredDelta int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE projects
		SET chapters_completed = chapters_completed + $2,
		    chapters_mastered = chapters_mastered + $3,
		    updated_at = now()
		WHERE id=$1
	`, id, completedDelta, masteredDelta)
	return err
}

// ============================================================================
// Chapter operations
// ============================================================================

// AddChapter inserts a chapter. Sequence must be unique within the project.
func (s *Store) AddChapter(ctx context.Context, c Chapter) (*Chapter, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO chapters (id, project_id, sequence, title, content, markup)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, c.ProjectID, c.Sequence, c.Title, c.Content, c.Markup).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChapters returns a project's chapters in playback order.
func (s *Store) GetChapters(ctx context.Context, projectID string) ([]Chapter, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, project_id, sequence, title, content, markup, created_at
		FROM chapters
		WHERE project_id=$1
		ORDER BY sequence ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chapter
	for rows.Next() {
		var c Chapter
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Sequence, &c.Title, &c.Content, &c.Markup, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ============================================================================
// Synthesis job operations
// ============================================================================

// CreateJob inserts a new pending job for a chapter.
func (s *Store) CreateJob(ctx context.Context, chapterID, projectID string) (*SynthesisJob, error) {
	j := SynthesisJob{
		ChapterID: chapterID,
		ProjectID: projectID,
		Status:    JobPending,
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO synthesis_jobs (id, chapter_id, project_id, status)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, started_at
	`, chapterID, projectID, JobPending).Scan(&j.ID, &j.StartedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJobStatus advances a job's status.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE synthesis_jobs SET status=$2 WHERE id=$1
	`, jobID, status)
	return err
}

// SetJobTaskHandle records the provider's task handle so recovery can poll
// the task after a restart.
func (s *Store) SetJobTaskHandle(ctx context.Context, jobID, handle string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE synthesis_jobs SET task_handle=$2 WHERE id=$1
	`, jobID, handle)
	return err
}

// SetJobRawAudio records where the concatenated provider audio landed.
func (s *Store) SetJobRawAudio(ctx context.Context, jobID, path string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE synthesis_jobs SET raw_audio_path=$2 WHERE id=$1
	`, jobID, path)
	return err
}

// CompleteJob marks a job mastered with its final artifact URL. A non-nil
// warning records a degraded-but-successful run, e.g. mastering fell back
// to raw provider audio.
func (s *Store) CompleteJob(ctx context.Context, jobID, masteredURL string, warning *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE synthesis_jobs
		SET status=$2, mastered_url=$3, warning=$4, error_message=NULL, completed_at=now()
		WHERE id=$1
	`, jobID, JobMastered, masteredURL, warning)
	return err
}

// FailJob marks a job failed with its error message.
func (s *Store) FailJob(ctx context.Context, jobID, errorMessage string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE synthesis_jobs
		SET status=$2, error_message=$3, completed_at=now()
		WHERE id=$1
	`, jobID, JobFailed, errorMessage)
	return err
}

// RetryJob resets a job to pending for another attempt, wiping per-attempt
// state, and returns the incremented retry count. Retries restart the whole
// pipeline: partial provider state cannot be resumed mid-chunk.
func (s *Store) RetryJob(ctx context.Context, jobID string) (int, error) {
	var retryCount int
	err := s.db.QueryRow(ctx, `
		UPDATE synthesis_jobs
		SET status=$2, task_handle=NULL, raw_audio_path=NULL, error_message=NULL,
		    retry_count=retry_count+1, completed_at=NULL
		WHERE id=$1
		RETURNING retry_count
	`, jobID, JobPending).Scan(&retryCount)
	return retryCount, err
}

// GetJob retrieves a job by ID, or nil when it does not exist.
func (s *Store) GetJob(ctx context.Context, jobID string) (*SynthesisJob, error) {
	var j SynthesisJob
	err := s.db.QueryRow(ctx, `
		SELECT id, chapter_id, project_id, status, task_handle, raw_audio_path, mastered_url,
		       error_message, warning, retry_count, started_at, completed_at
		FROM synthesis_jobs WHERE id=$1
	`, jobID).Scan(&j.ID, &j.ChapterID, &j.ProjectID, &j.Status, &j.TaskHandle, &j.RawAudioPath,
		&j.MasteredURL, &j.ErrorMessage, &j.Warning, &j.RetryCount, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// LatestJobs returns, for each chapter of a project that has jobs at all,
// only the most recent job. Recency is started_at with id as tiebreaker,
// the same order DeleteSupersededJobs prunes by. Superseded older jobs are
// ignored, never deleted here.
func (s *Store) LatestJobs(ctx context.Context, projectID string) ([]SynthesisJob, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (chapter_id)
		       id, chapter_id, project_id, status, task_handle, raw_audio_path, mastered_url,
		       error_message, warning, retry_count, started_at, completed_at
		FROM synthesis_jobs
		WHERE project_id=$1
		ORDER BY chapter_id, started_at DESC, id DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SynthesisJob
	for rows.Next() {
		var j SynthesisJob
		if err := rows.Scan(&j.ID, &j.ChapterID, &j.ProjectID, &j.Status, &j.TaskHandle,
			&j.RawAudioPath, &j.MasteredURL, &j.ErrorMessage, &j.Warning, &j.RetryCount,
			&j.StartedAt, &j.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteSupersededJobs removes all but the most recent job for a chapter.
// History is only pruned through this explicit call, never as a side effect
// of recovery or re-synthesis.
func (s *Store) DeleteSupersededJobs(ctx context.Context, chapterID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM synthesis_jobs
		WHERE chapter_id=$1
		  AND id <> (
			SELECT id FROM synthesis_jobs
			WHERE chapter_id=$1
			ORDER BY started_at DESC, id DESC
			LIMIT 1
		  )
	`, chapterID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
