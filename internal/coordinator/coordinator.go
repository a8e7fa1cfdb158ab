// Package coordinator accepts submissions, schedules their grading on a
// bounded worker pool, and surfaces results for polling.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/webtech-network/autograder-sub001/internal/feedback"
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/pipeline"
	"github.com/webtech-network/autograder-sub001/internal/store"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// Options tunes the coordinator.
type Options struct {
	// Workers bounds concurrently running pipelines. Should match or
	// exceed the total sandbox pool size so acquisitions do not starve.
	Workers int

	// Budget caps one submission's total wall time. Default 5 minutes.
	Budget time.Duration
}

// SubmitRequest is the validated surface of POST /submissions.
type SubmitRequest struct {
	AssignmentID string
	UserID       string
	Username     string
	Language     string
	Files        []types.SubmissionFile
}

// Coordinator owns the background grading executor.
type Coordinator struct {
	repo    store.Repository
	deps    pipeline.Deps
	budget  time.Duration
	workers *semaphore.Weighted

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	cancelled map[string]bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a coordinator. The pipeline dependencies are shared by all
// submissions; per-submission state lives in the pipeline context.
func New(repo store.Repository, deps pipeline.Deps, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Budget <= 0 {
		opts.Budget = 5 * time.Minute
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		repo:      repo,
		deps:      deps,
		budget:    opts.Budget,
		workers:   semaphore.NewWeighted(int64(opts.Workers)),
		cancels:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]bool),
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// Submit validates the request, persists a pending submission, and schedules
// its pipeline. It returns immediately with the submission for polling.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*types.Submission, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("submission has no files")
	}
	if req.AssignmentID == "" {
		return nil, fmt.Errorf("submission has no assignment id")
	}
	// The assignment must exist now; capacity problems are reported by the
	// background pipeline, never synchronously.
	if _, err := c.repo.ActiveConfig(ctx, req.AssignmentID); err != nil {
		return nil, err
	}

	sub := &types.Submission{
		ID:           uuid.NewString(),
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		Username:     req.Username,
		Language:     req.Language,
		Files:        req.Files,
		Status:       types.SubmissionPending,
	}
	if err := c.repo.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.runSubmission(sub)

	logging.Coordinator("submission %s accepted (assignment=%s user=%s)", sub.ID, sub.AssignmentID, sub.Username)
	return sub, nil
}

// Poll returns the submission and, once it reached a terminal status, its
// result.
func (c *Coordinator) Poll(ctx context.Context, id string) (*types.Submission, *types.SubmissionResult, error) {
	sub, err := c.repo.Submission(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	switch sub.Status {
	case types.SubmissionCompleted, types.SubmissionFailed, types.SubmissionCancelled:
		result, err := c.repo.Result(ctx, id)
		if err == store.ErrNotFound {
			// Cancelled before the pipeline ever ran.
			return sub, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return sub, result, nil
	default:
		return sub, nil, nil
	}
}

// Cancel stops a submission: pending submissions never run, in-flight ones
// are cancelled at the next step boundary.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	sub, err := c.repo.Submission(ctx, id)
	if err != nil {
		return err
	}
	switch sub.Status {
	case types.SubmissionCompleted, types.SubmissionFailed, types.SubmissionCancelled:
		return fmt.Errorf("submission %s already finished (%s)", id, sub.Status)
	}

	c.mu.Lock()
	c.cancelled[id] = true
	cancel := c.cancels[id]
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		logging.Coordinator("submission %s cancelled in flight", id)
		return nil
	}

	if err := c.repo.UpdateSubmissionStatus(ctx, id, types.SubmissionCancelled); err != nil {
		return err
	}
	logging.Coordinator("submission %s cancelled before start", id)
	return nil
}

// Shutdown stops accepting work and waits for in-flight pipelines up to the
// context deadline.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.stop()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSubmission is one background grading task.
func (c *Coordinator) runSubmission(sub *types.Submission) {
	defer c.wg.Done()

	if err := c.workers.Acquire(c.baseCtx, 1); err != nil {
		// Shutting down before the task got a slot.
		return
	}
	defer c.workers.Release(1)

	c.mu.Lock()
	if c.cancelled[sub.ID] {
		delete(c.cancelled, sub.ID)
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithTimeout(c.baseCtx, c.budget)
	c.cancels[sub.ID] = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, sub.ID)
		delete(c.cancelled, sub.ID)
		c.mu.Unlock()
	}()

	if err := c.repo.UpdateSubmissionStatus(c.baseCtx, sub.ID, types.SubmissionRunning); err != nil {
		logging.CoordinatorDebug("could not mark %s running: %v", sub.ID, err)
		return
	}

	timer := logging.StartTimer(logging.CategoryCoordinator, "pipeline "+sub.ID)
	pc := &pipeline.Context{Submission: sub}
	exec := pipeline.NewRunner(pipeline.GradingSteps(c.deps), c.deps.Pool).Run(runCtx, pc)
	timer.Stop()

	status := pipeline.StatusOf(exec)
	text := pc.Feedback
	if status != types.SubmissionCompleted && text == "" {
		text = feedback.FailureFeedback(exec)
	}

	result := &types.SubmissionResult{
		SubmissionID: sub.ID,
		ResultTree:   pc.Result,
		Focus:        pc.Focus,
		Feedback:     text,
		Execution:    exec,
	}
	if pc.Result != nil {
		result.FinalScore = pc.Result.FinalScore
	}

	// The writeback must survive a cancelled run context.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := c.repo.SaveResult(saveCtx, sub.ID, status, result); err != nil {
		logging.Error(logging.CategoryCoordinator, "failed to persist result for %s: %v", sub.ID, err)
		return
	}
	logging.Coordinator("submission %s finished: status=%s score=%.2f", sub.ID, status, result.FinalScore)
}
