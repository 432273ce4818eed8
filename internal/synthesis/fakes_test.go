package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atreyu1968/kdp-optimizer-sub000/internal/mastering"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/store"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/tts"
)

// fakeStore is an in-memory Store. Job transitions are recorded per job so
// tests can assert the state machine never regresses.
type fakeStore struct {
	mu          sync.Mutex
	projects    map[string]*store.Project
	chapters    map[string][]store.Chapter
	jobs        []*store.SynthesisJob
	seq         int
	transitions map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:    make(map[string]*store.Project),
		chapters:    make(map[string][]store.Chapter),
		transitions: make(map[string][]string),
	}
}

func (f *fakeStore) addProject(p store.Project) *store.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	p.ID = fmt.Sprintf("project-%d", f.seq)
	if p.Status == "" {
		p.Status = store.ProjectSynthesizing
	}
	f.projects[p.ID] = &p
	return &p
}

func (f *fakeStore) addChapter(projectID string, sequence int, title, content string) store.Chapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ch := store.Chapter{
		ID:        fmt.Sprintf("chapter-%d", f.seq),
		ProjectID: projectID,
		Sequence:  sequence,
		Title:     title,
		Content:   content,
	}
	f.chapters[projectID] = append(f.chapters[projectID], ch)
	return ch
}

func (f *fakeStore) seedJob(j store.SynthesisJob) *store.SynthesisJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	j.ID = fmt.Sprintf("job-%d", f.seq)
	j.StartedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	f.jobs = append(f.jobs, &j)
	f.transitions[j.ID] = []string{j.Status}
	return &j
}

func (f *fakeStore) job(id string) store.SynthesisJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			return *j
		}
	}
	return store.SynthesisJob{}
}

func (f *fakeStore) latestFor(chapterID string) *store.SynthesisJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if f.jobs[i].ChapterID == chapterID {
			j := *f.jobs[i]
			return &j
		}
	}
	return nil
}

func (f *fakeStore) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProjectsByStatus(ctx context.Context, status string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Project
	for _, p := range f.projects {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) FinishProject(ctx context.Context, id, status string, failedChapters []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return errors.New("project not found")
	}
	now := time.Now()
	p.Status = status
	p.FailedChapters = failedChapters
	p.CompletedAt = &now
	return nil
}

func (f *fakeStore) IncrementProjectCounters(ctx context.Context, id string, completedDelta, masteredDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return errors.New("project not found")
	}
	p.ChaptersCompleted += completedDelta
	p.ChaptersMastered += masteredDelta
	return nil
}

func (f *fakeStore) GetChapters(ctx context.Context, projectID string) ([]store.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]store.Chapter(nil), f.chapters[projectID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (f *fakeStore) CreateJob(ctx context.Context, chapterID, projectID string) (*store.SynthesisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	j := &store.SynthesisJob{
		ID:        fmt.Sprintf("job-%d", f.seq),
		ChapterID: chapterID,
		ProjectID: projectID,
		Status:    store.JobPending,
		StartedAt: time.Now().Add(time.Duration(f.seq) * time.Millisecond),
	}
	f.jobs = append(f.jobs, j)
	f.transitions[j.ID] = []string{store.JobPending}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(jobID)
	if j == nil {
		return errors.New("job not found")
	}
	j.Status = status
	f.transitions[jobID] = append(f.transitions[jobID], status)
	return nil
}

func (f *fakeStore) SetJobTaskHandle(ctx context.Context, jobID, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(jobID)
	if j == nil {
		return errors.New("job not found")
	}
	j.TaskHandle = &handle
	return nil
}

func (f *fakeStore) SetJobRawAudio(ctx context.Context, jobID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(jobID)
	if j == nil {
		return errors.New("job not found")
	}
	j.RawAudioPath = &path
	return nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, jobID, masteredURL string, warning *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(jobID)
	if j == nil {
		return errors.New("job not found")
	}
	now := time.Now()
	j.Status = store.JobMastered
	j.MasteredURL = &masteredURL
	j.Warning = warning
	j.ErrorMessage = nil
	j.CompletedAt = &now
	f.transitions[jobID] = append(f.transitions[jobID], store.JobMastered)
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, jobID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(jobID)
	if j == nil {
		return errors.New("job not found")
	}
	now := time.Now()
	j.Status = store.JobFailed
	j.ErrorMessage = &errorMessage
	j.CompletedAt = &now
	f.transitions[jobID] = append(f.transitions[jobID], store.JobFailed)
	return nil
}

func (f *fakeStore) RetryJob(ctx context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(jobID)
	if j == nil {
		return 0, errors.New("job not found")
	}
	j.Status = store.JobPending
	j.TaskHandle = nil
	j.RawAudioPath = nil
	j.ErrorMessage = nil
	j.CompletedAt = nil
	j.RetryCount++
	f.transitions[jobID] = append(f.transitions[jobID], store.JobPending)
	return j.RetryCount, nil
}

func (f *fakeStore) LatestJobs(ctx context.Context, projectID string) ([]store.SynthesisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]*store.SynthesisJob)
	for _, j := range f.jobs {
		if j.ProjectID == projectID {
			latest[j.ChapterID] = j
		}
	}
	var out []store.SynthesisJob
	for _, j := range latest {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterID < out[j].ChapterID })
	return out, nil
}

func (f *fakeStore) DeleteSupersededJobs(ctx context.Context, chapterID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	newest := -1
	for i, j := range f.jobs {
		if j.ChapterID == chapterID {
			newest = i
		}
	}
	var kept []*store.SynthesisJob
	var removed int64
	for i, j := range f.jobs {
		if j.ChapterID == chapterID && i != newest {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	f.jobs = kept
	return removed, nil
}

func (f *fakeStore) find(jobID string) *store.SynthesisJob {
	for _, j := range f.jobs {
		if j.ID == jobID {
			return j
		}
	}
	return nil
}

// fakeBlobs keeps uploads in memory and serves downloads for seeded remote
// URLs and its own uploads.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	remote  map[string][]byte
	uploads int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects: make(map[string][]byte),
		remote:  make(map[string][]byte),
	}
}

func (f *fakeBlobs) Upload(ctx context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	f.uploads++
	return "blob://" + key, nil
}

func (f *fakeBlobs) Download(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.remote[url]; ok {
		return append([]byte(nil), data...), nil
	}
	if data, ok := f.objects[strings.TrimPrefix(url, "blob://")]; ok {
		return append([]byte(nil), data...), nil
	}
	return nil, fmt.Errorf("no such blob: %s", url)
}

func (f *fakeBlobs) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakeBlobs) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// fakeProvider is a synchronous provider that can fail its first N calls.
type fakeProvider struct {
	mu       sync.Mutex
	limit    int
	failures int
	calls    int
}

func (p *fakeProvider) Synthesize(ctx context.Context, markup, voiceID string, _ tts.Params) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("upstream timeout")
	}
	return []byte("AUDIO[" + markup + "]"), nil
}

func (p *fakeProvider) ListVoices(ctx context.Context, language string) ([]tts.Voice, error) {
	return nil, nil
}

func (p *fakeProvider) MaxChunkSize() int {
	if p.limit == 0 {
		return 9500
	}
	return p.limit
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeTaskProvider runs synthesis as a backend task. Poll results are
// served from a queue; the last result repeats once the queue drains.
type fakeTaskProvider struct {
	fakeProvider
	tmu     sync.Mutex
	starts  [][]string
	pollErr error
	results []tts.TaskResult
}

func (p *fakeTaskProvider) StartTask(ctx context.Context, chunks []string, voiceID string, _ tts.Params) (string, error) {
	p.tmu.Lock()
	defer p.tmu.Unlock()
	p.starts = append(p.starts, chunks)
	return fmt.Sprintf("task-%d", len(p.starts)), nil
}

func (p *fakeTaskProvider) TaskStatus(ctx context.Context, handle string) (tts.TaskResult, error) {
	p.tmu.Lock()
	defer p.tmu.Unlock()
	if p.pollErr != nil {
		return tts.TaskResult{}, p.pollErr
	}
	if len(p.results) == 0 {
		return tts.TaskResult{State: tts.TaskRunning}, nil
	}
	result := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return result, nil
}

func (p *fakeTaskProvider) startCount() int {
	p.tmu.Lock()
	defer p.tmu.Unlock()
	return len(p.starts)
}

// fakeSource hands out one provider for every name.
type fakeSource struct {
	provider tts.Provider
	err      error
}

func (s *fakeSource) Get(name string) (tts.Provider, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.provider, nil
}

// fakeMasterer copies input to output with a marker prefix, or fails.
type fakeMasterer struct {
	mu    sync.Mutex
	fail  bool
	calls int
	tags  []mastering.ID3
}

func (f *fakeMasterer) Master(ctx context.Context, jobID, inputPath, outputPath string, opts mastering.Options) (*mastering.Report, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("loudness analysis: exit status 1")
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outputPath, append([]byte("MASTERED:"), data...), 0o644); err != nil {
		return nil, err
	}
	return &mastering.Report{Verified: true}, nil
}

func (f *fakeMasterer) WriteTags(ctx context.Context, jobID, path string, tags mastering.ID3) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tags)
	return nil
}

func (f *fakeMasterer) masterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEvents records production events in order.
type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) Record(ctx context.Context, projectID, jobID, event, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEvents) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}
