package synthesis

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/atreyu1968/kdp-optimizer-sub000/internal/metrics"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/store"
)

const (
	defaultConcurrency = 3
	maxConcurrency     = 4
)

// ChapterRunner drives one chapter's job to a terminal state. *Manager
// implements it.
type ChapterRunner interface {
	ProcessChapter(ctx context.Context, project *store.Project, chapter store.Chapter, totalChapters int) error
}

// Scheduler processes a project's chapters in bounded batches. A batch
// settles completely before the next one starts; failures within a batch
// are isolated per chapter and never cancel sibling work.
type Scheduler struct {
	store       Store
	runner      ChapterRunner
	progress    ProgressFunc
	metrics     *metrics.Metrics
	log         *log.Logger
	concurrency int
}

// SchedulerConfig wires a Scheduler. Progress and Metrics are optional.
// Concurrency 0 means 3; values above 4 are clamped to 4.
type SchedulerConfig struct {
	Store       Store
	Runner      ChapterRunner
	Progress    ProgressFunc
	Metrics     *metrics.Metrics
	Logger      *log.Logger
	Concurrency int
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		store:       cfg.Store,
		runner:      cfg.Runner,
		progress:    cfg.Progress,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		concurrency: cfg.Concurrency,
	}
	if s.log == nil {
		s.log = log.Default()
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.concurrency > maxConcurrency {
		s.concurrency = maxConcurrency
	}
	return s
}

// Run synthesizes every chapter of the project that does not already have a
// mastered latest job, then finishes the project: completed when every
// chapter succeeded, failed when every chapter failed, completed with a
// recorded failed-chapter list when mixed. There is no mid-batch
// cancellation; a started batch always settles.
func (s *Scheduler) Run(ctx context.Context, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		return fmt.Errorf("project %s not found", projectID)
	}

	chapters, err := s.store.GetChapters(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load chapters: %w", err)
	}
	if len(chapters) == 0 {
		return fmt.Errorf("project %s has no chapters", projectID)
	}

	latest, err := s.store.LatestJobs(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}
	mastered := make(map[string]bool, len(latest))
	for _, j := range latest {
		if j.Status == store.JobMastered {
			mastered[j.ChapterID] = true
		}
	}

	total := len(chapters)
	var pending []store.Chapter
	completed := 0
	for _, ch := range chapters {
		if mastered[ch.ID] {
			completed++
			continue
		}
		pending = append(pending, ch)
	}

	if s.metrics != nil {
		s.metrics.ChaptersInFlight.Add(float64(len(pending)))
		defer s.metrics.ChaptersInFlight.Sub(float64(len(pending)))
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	for start := 0; start < len(pending); start += s.concurrency {
		end := start + s.concurrency
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var wg sync.WaitGroup
		for _, ch := range batch {
			wg.Add(1)
			go func(ch store.Chapter) {
				defer wg.Done()
				err := s.runner.ProcessChapter(ctx, project, ch, total)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					s.log.Printf("project %s: chapter %q failed: %v", projectID, ch.Title, err)
					failed = append(failed, ch.Title)
				}
				completed++
				if s.progress != nil {
					s.progress(completed, total, ch.Title)
				}
			}(ch)
		}
		wg.Wait()
	}

	status := store.ProjectCompleted
	if len(failed) == len(pending) && len(pending) > 0 {
		status = store.ProjectFailed
	}
	if err := s.store.FinishProject(ctx, projectID, status, failed); err != nil {
		return fmt.Errorf("failed to finish project: %w", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("project %s finished %s with %d failed chapters", projectID, status, len(failed))
	}
	return nil
}
