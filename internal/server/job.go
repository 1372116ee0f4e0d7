package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/media"
	"github.com/guiyumin/vfetch/internal/core/metrics"
)

// JobStatus represents the current state of a download job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

func (s JobStatus) finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents a download job
type Job struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	Quality    string         `json:"quality,omitempty"`
	Status     JobStatus      `json:"status"`
	Progress   float64        `json:"progress"`
	Downloaded int64          `json:"downloaded"` // bytes downloaded
	Total      int64          `json:"total"`      // total bytes (-1 if unknown)
	Result     *media.Summary `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Kind       errs.Kind      `json:"kind,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`

	// Internal fields (not serialized)
	cancel context.CancelFunc
	ctx    context.Context
}

// DownloadFunc retrieves one URL. It receives the job context and a progress callback.
type DownloadFunc func(ctx context.Context, url, quality string, progressFn func(downloaded, total int64)) (*media.Result, error)

// ErrQueueFull is returned when no more jobs can be accepted
var ErrQueueFull = errors.New("job queue is full")

// ErrQueueStopped is returned after Stop
var ErrQueueStopped = errors.New("job queue is stopped")

const (
	queueCapacity = 100
	jobRetention  = time.Hour
)

// JobQueue manages download jobs with a worker pool
type JobQueue struct {
	jobs          map[string]*Job
	mu            sync.RWMutex
	queue         chan *Job
	maxConcurrent int
	downloadFn    DownloadFunc
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	wg            sync.WaitGroup
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopped       bool
}

// NewJobQueue creates a new job queue with the specified concurrency
func NewJobQueue(maxConcurrent int, downloadFn DownloadFunc, m *metrics.Metrics, logger zerolog.Logger) *JobQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &JobQueue{
		jobs:          make(map[string]*Job),
		queue:         make(chan *Job, queueCapacity),
		maxConcurrent: maxConcurrent,
		downloadFn:    downloadFn,
		metrics:       m,
		logger:        logger.With().Str("component", "jobs").Logger(),
		stopCleanup:   make(chan struct{}),
	}
}

// Start begins the worker pool and cleanup routine
func (jq *JobQueue) Start() {
	for i := 0; i < jq.maxConcurrent; i++ {
		jq.wg.Add(1)
		go jq.worker()
	}

	// Every 10 minutes, drop finished jobs older than an hour
	jq.cleanupTicker = time.NewTicker(10 * time.Minute)
	go jq.cleanupLoop()
}

// Stop cancels running jobs and waits for the workers to exit
func (jq *JobQueue) Stop() {
	jq.mu.Lock()
	if jq.stopped {
		jq.mu.Unlock()
		return
	}
	jq.stopped = true
	for _, job := range jq.jobs {
		if !job.Status.finished() {
			job.cancel()
		}
	}
	close(jq.queue)
	jq.mu.Unlock()

	close(jq.stopCleanup)
	if jq.cleanupTicker != nil {
		jq.cleanupTicker.Stop()
	}
	jq.wg.Wait()
}

func (jq *JobQueue) worker() {
	defer jq.wg.Done()

	for job := range jq.queue {
		jq.processJob(job)
	}
}

func (jq *JobQueue) processJob(job *Job) {
	// Cancelled while still queued
	if job.ctx.Err() != nil {
		jq.finishJob(job.ID, JobStatusCancelled, nil, errs.E(errs.KindCanceled, "job", job.ctx.Err()))
		return
	}

	jq.updateJobStatus(job.ID, JobStatusDownloading)
	jq.metrics.JobStarted()
	defer jq.metrics.JobFinished()

	progressFn := func(downloaded, total int64) {
		jq.updateJobProgressBytes(job.ID, downloaded, total)
	}

	res, err := jq.downloadFn(job.ctx, job.URL, job.Quality, progressFn)
	switch {
	case err != nil && errors.Is(job.ctx.Err(), context.Canceled):
		jq.finishJob(job.ID, JobStatusCancelled, nil, err)
	case err != nil:
		jq.logger.Warn().Err(err).Str("job", job.ID).Str("url", job.URL).Msg("job failed")
		jq.finishJob(job.ID, JobStatusFailed, nil, err)
	default:
		jq.logger.Info().Str("job", job.ID).Str("file", res.Filename).Msg("job completed")
		jq.finishJob(job.ID, JobStatusCompleted, res, nil)
	}
	job.cancel()
}

func (jq *JobQueue) cleanupLoop() {
	for {
		select {
		case <-jq.cleanupTicker.C:
			jq.cleanupOldJobs(time.Now().Add(-jobRetention))
		case <-jq.stopCleanup:
			return
		}
	}
}

func (jq *JobQueue) cleanupOldJobs(cutoff time.Time) int {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	count := 0
	for id, job := range jq.jobs {
		if job.Status.finished() && job.UpdatedAt.Before(cutoff) {
			delete(jq.jobs, id)
			count++
		}
	}
	return count
}

// ClearHistory removes all completed, failed, and cancelled jobs
func (jq *JobQueue) ClearHistory() int {
	return jq.cleanupOldJobs(time.Now().Add(time.Second))
}

// RemoveJob removes a single completed, failed, or cancelled job by ID
func (jq *JobQueue) RemoveJob(id string) bool {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok || !job.Status.finished() {
		return false
	}

	delete(jq.jobs, id)
	return true
}

// AddJob creates and queues a new download job
func (jq *JobQueue) AddJob(url, quality string) (*Job, error) {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	job := &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Quality:   quality,
		Status:    JobStatusQueued,
		Total:     -1,
		CreatedAt: now,
		UpdatedAt: now,
		ctx:       ctx,
		cancel:    cancel,
	}

	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.stopped {
		cancel()
		return nil, ErrQueueStopped
	}

	// Non-blocking send on the buffered channel
	select {
	case jq.queue <- job:
		jq.jobs[job.ID] = job
		cp := *job
		return &cp, nil
	default:
		cancel()
		return nil, fmt.Errorf("%w (%d pending)", ErrQueueFull, queueCapacity)
	}
}

// GetJob returns a copy of a job by ID
func (jq *JobQueue) GetJob(id string) *Job {
	jq.mu.RLock()
	defer jq.mu.RUnlock()

	if job, ok := jq.jobs[id]; ok {
		jobCopy := *job
		return &jobCopy
	}
	return nil
}

// GetAllJobs returns copies of all jobs, newest first
func (jq *JobQueue) GetAllJobs() []*Job {
	jq.mu.RLock()
	jobs := make([]*Job, 0, len(jq.jobs))
	for _, job := range jq.jobs {
		jobCopy := *job
		jobs = append(jobs, &jobCopy)
	}
	jq.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

// CancelJob cancels a queued or running job. The running retrieval is
// aborted and its partial file removed.
func (jq *JobQueue) CancelJob(id string) bool {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok || job.Status.finished() {
		return false
	}

	job.cancel()
	job.Status = JobStatusCancelled
	job.Kind = errs.KindCanceled
	job.Error = "cancelled by user"
	job.UpdatedAt = time.Now()
	return true
}

func (jq *JobQueue) updateJobStatus(id string, status JobStatus) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if job, ok := jq.jobs[id]; ok && !job.Status.finished() {
		job.Status = status
		job.UpdatedAt = time.Now()
	}
}

func (jq *JobQueue) finishJob(id string, status JobStatus, res *media.Result, err error) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok {
		return
	}
	if job.Status == JobStatusCancelled && status != JobStatusCompleted {
		// CancelJob already recorded the outcome
		return
	}

	job.Status = status
	if res != nil {
		summary := res.Summary()
		job.Result = &summary
		job.Progress = 100
		job.Downloaded = res.FilesizeBytes
		job.Total = res.FilesizeBytes
	}
	if err != nil {
		job.Error = errorMessage(err)
		job.Kind = errs.KindOf(err)
	}
	job.UpdatedAt = time.Now()
}

func (jq *JobQueue) updateJobProgressBytes(id string, downloaded, total int64) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if job, ok := jq.jobs[id]; ok {
		job.Downloaded = downloaded
		job.Total = total
		if total > 0 {
			job.Progress = float64(downloaded) / float64(total) * 100
		}
		job.UpdatedAt = time.Now()
	}
}
