package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"emotion-monitor/internal/domain"
	"emotion-monitor/internal/events"
	"emotion-monitor/internal/inference"
)

// Analyzer uploads one video and waits for its analysis.
type Analyzer interface {
	AnalyzeVideo(ctx context.Context, path string, sampleRate int, opts ...inference.VideoOption) (domain.VideoAnalysis, error)
}

// Publisher receives job events.
type Publisher interface {
	Publish(event events.Event) events.Event
}

// VideoRunner runs video analyses one at a time and reports progress as events.
type VideoRunner struct {
	jobs      *Manager
	analyzer  Analyzer
	publisher Publisher
	logger    *slog.Logger
	newID     func() string

	mu     sync.Mutex
	cancel context.CancelFunc
	active string
	done   chan struct{}
}

// NewVideoRunner creates a runner around an analyzer.
func NewVideoRunner(jobs *Manager, analyzer Analyzer, publisher Publisher, logger *slog.Logger) *VideoRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoRunner{
		jobs:      jobs,
		analyzer:  analyzer,
		publisher: publisher,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Start launches an analysis of path in the background.
func (r *VideoRunner) Start(path string, sampleRate int) (domain.Job, error) {
	if path == "" {
		return domain.Job{}, fmt.Errorf("video path is empty")
	}

	jobID := r.newID()
	if err := r.jobs.Start(jobID, path); err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.active = jobID
	r.done = done
	r.mu.Unlock()

	r.publishStatus(jobID, domain.JobStatusUploading, "Uploading video")
	go r.run(ctx, jobID, path, sampleRate, done)
	return r.jobs.Current(), nil
}

// Cancel aborts the running analysis, if any.
func (r *VideoRunner) Cancel() error {
	r.mu.Lock()
	cancel := r.cancel
	jobID := r.active
	r.mu.Unlock()

	if cancel == nil {
		return ErrNoRunningJob
	}

	cancel()
	if err := r.jobs.Cancel(); err != nil && !errors.Is(err, ErrNoRunningJob) {
		return err
	}
	r.publishStatus(jobID, domain.JobStatusCancelled, "Cancellation requested")
	return nil
}

// Current returns the current job snapshot.
func (r *VideoRunner) Current() domain.Job {
	return r.jobs.Current()
}

// Wait blocks until the active analysis, if any, has finished.
func (r *VideoRunner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *VideoRunner) run(ctx context.Context, jobID, path string, sampleRate int, done chan struct{}) {
	defer close(done)
	defer r.clearActive(jobID)

	uploaded := inference.OnUploaded(func() {
		if err := r.jobs.TransitionJob(jobID, domain.JobStatusAnalyzing); err == nil {
			r.publishStatus(jobID, domain.JobStatusAnalyzing, "Analyzing frames")
		}
	})

	analysis, err := r.analyzer.AnalyzeVideo(ctx, path, sampleRate, uploaded)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			if r.jobs.TransitionJob(jobID, domain.JobStatusCancelled) == nil {
				r.publishStatus(jobID, domain.JobStatusCancelled, "Analysis cancelled")
			}
			return
		}

		r.logger.Error("video analysis failed", "job", jobID, "path", path, "error", err)
		if r.jobs.TransitionJob(jobID, domain.JobStatusFailed) != nil {
			return
		}
		r.publishStatus(jobID, domain.JobStatusFailed, "Analysis failed")
		r.publish(events.Event{
			Type:    events.TypeError,
			Status:  string(domain.JobStatusFailed),
			Message: err.Error(),
			Job:     r.snapshot(),
		})
		return
	}

	// The reply may arrive before the upload callback has run.
	_ = r.jobs.TransitionJob(jobID, domain.JobStatusAnalyzing)
	if err := r.jobs.TransitionJob(jobID, domain.JobStatusDone); err != nil {
		r.logger.Warn("video job transition", "job", jobID, "error", err)
		return
	}
	r.publish(events.Event{
		Type:    events.TypeVideo,
		Status:  string(domain.JobStatusDone),
		Message: "Dominant emotion: " + analysis.DominantEmotion,
		Job:     r.snapshot(),
		Video:   &analysis,
	})
}

func (r *VideoRunner) publishStatus(jobID string, status domain.JobStatus, message string) {
	job := r.jobs.Current()
	if job.ID != jobID {
		job = domain.Job{ID: jobID, Status: status}
	}
	r.publish(events.Event{
		Type:    events.TypeVideo,
		Status:  string(status),
		Message: message,
		Job:     &job,
	})
}

func (r *VideoRunner) publish(event events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(event)
	}
}

func (r *VideoRunner) snapshot() *domain.Job {
	job := r.jobs.Current()
	return &job
}

func (r *VideoRunner) clearActive(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == jobID {
		r.active = ""
		r.cancel = nil
	}
}
