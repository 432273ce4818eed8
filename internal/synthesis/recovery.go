package synthesis

import (
	"context"
	"fmt"
	"log"

	"github.com/atreyu1968/kdp-optimizer-sub000/internal/metrics"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/store"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/tts"
)

// Recovery reconciles projects a previous process left mid-synthesis. For
// each project still synthesizing it settles what can be settled from
// persisted state (poll provider tasks, resume interrupted mastering) and
// re-queues the rest through the scheduler. Running it twice in a row
// settles nothing further.
type Recovery struct {
	store     Store
	providers ProviderSource
	manager   *Manager
	scheduler *Scheduler
	metrics   *metrics.Metrics
	log       *log.Logger
}

// RecoveryConfig wires a Recovery. Metrics is optional.
type RecoveryConfig struct {
	Store     Store
	Providers ProviderSource
	Manager   *Manager
	Scheduler *Scheduler
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

func NewRecovery(cfg RecoveryConfig) *Recovery {
	r := &Recovery{
		store:     cfg.Store,
		providers: cfg.Providers,
		manager:   cfg.Manager,
		scheduler: cfg.Scheduler,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
	if r.log == nil {
		r.log = log.Default()
	}
	return r
}

// Run reconciles every project still marked synthesizing. Per-project
// failures are logged and do not stop reconciliation of the others.
func (r *Recovery) Run(ctx context.Context) error {
	projects, err := r.store.ListProjectsByStatus(ctx, store.ProjectSynthesizing)
	if err != nil {
		return fmt.Errorf("failed to list in-flight projects: %w", err)
	}

	for i := range projects {
		if err := r.recoverProject(ctx, &projects[i]); err != nil {
			r.log.Printf("recovery: project %s: %v", projects[i].ID, err)
		}
	}
	return nil
}

// recoverProject settles one project. Only the latest job per chapter is
// authoritative; older superseded jobs are pruned. A chapter whose latest
// job failed with its retry budget spent fails the whole project.
func (r *Recovery) recoverProject(ctx context.Context, project *store.Project) error {
	chapters, err := r.store.GetChapters(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("failed to load chapters: %w", err)
	}
	latest, err := r.store.LatestJobs(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make(map[string]*store.SynthesisJob, len(latest))
	for i := range latest {
		jobs[latest[i].ChapterID] = &latest[i]
		if n, err := r.store.DeleteSupersededJobs(ctx, latest[i].ChapterID); err != nil {
			r.log.Printf("recovery: failed to prune jobs for chapter %s: %v", latest[i].ChapterID, err)
		} else if n > 0 {
			r.count("pruned", int(n))
		}
	}

	total := len(chapters)
	stillRunning := false

	for _, ch := range chapters {
		job, ok := jobs[ch.ID]
		if !ok {
			// Never started; the scheduler pass below picks it up.
			continue
		}

		switch job.Status {
		case store.JobMastered:
			// Settled. The scheduler skips it on a fresh pass.

		case store.JobFailed:
			if job.RetryCount >= r.manager.Retries() {
				// Permanent. No further retries for this project.
				if err := r.store.FinishProject(ctx, project.ID, store.ProjectFailed, []string{ch.Title}); err != nil {
					return fmt.Errorf("failed to fail project: %w", err)
				}
				r.count("project_failed", 1)
				return nil
			}
			// Budget left; the scheduler pass below retries it.

		case store.JobPending:
			// The scheduler pass below picks it up.

		case store.JobSynthesizing:
			if r.settleTask(ctx, project, ch, job, total) {
				stillRunning = true
			}

		case store.JobMastering:
			if err := r.manager.ResumeMastering(ctx, project, ch, job, total); err != nil {
				r.log.Printf("recovery: job %s: cannot resume mastering: %v", job.ID, err)
				continue
			}
			r.count("resumed_mastering", 1)
		}
	}

	if stillRunning {
		// Work is genuinely in progress on the provider side. Leave the
		// project synthesizing; re-queuing now would start a second
		// in-flight job for the same chapter.
		return nil
	}
	return r.scheduler.Run(ctx, project.ID)
}

// settleTask resolves a job that was mid-synthesis when the process died and
// reports whether provider-side work is still running. A persisted task
// handle lets us ask the provider what really happened; a status check
// failing is treated as still pending, never as failure.
func (r *Recovery) settleTask(ctx context.Context, project *store.Project, ch store.Chapter, job *store.SynthesisJob, total int) bool {
	if job.TaskHandle == nil {
		// Synchronous provider; the in-flight call died with the process.
		return false
	}

	provider, err := r.providers.Get(project.Provider)
	if err != nil {
		r.log.Printf("recovery: job %s: provider unavailable: %v", job.ID, err)
		return true
	}
	poller, ok := provider.(tts.TaskPoller)
	if !ok {
		return false
	}

	result, err := poller.TaskStatus(ctx, *job.TaskHandle)
	if err != nil {
		r.log.Printf("recovery: job %s: status check failed, leaving pending: %v", job.ID, err)
		return true
	}

	switch result.State {
	case tts.TaskSucceeded:
		if err := r.manager.FinishTask(ctx, project, ch, job, result.AudioURL, total); err != nil {
			r.log.Printf("recovery: job %s: failed to finish task: %v", job.ID, err)
			return true
		}
		r.count("task_completed", 1)
		return false
	case tts.TaskFailed:
		if err := r.store.FailJob(ctx, job.ID, result.Message); err != nil {
			r.log.Printf("recovery: job %s: failed to record task failure: %v", job.ID, err)
		}
		r.count("task_failed", 1)
		return false
	default:
		return true
	}
}

func (r *Recovery) count(action string, n int) {
	if r.metrics != nil {
		r.metrics.RecoveredJobs.WithLabelValues(action).Add(float64(n))
	}
}
