// Package store persists grading configs, submissions, and results.
package store

import (
	"context"
	"errors"

	"github.com/webtech-network/autograder-sub001/internal/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when creating a config for an assignment that
// already has an active one.
var ErrConflict = errors.New("assignment already has an active config")

// Repository is the persistence contract. Writes are transactional at
// single-submission granularity: a submission's terminal status and its
// result land together or not at all.
type Repository interface {
	// CreateConfig stores a new rubric and assigns id and version. Fails
	// with ErrConflict if the assignment already has an active config.
	CreateConfig(ctx context.Context, cfg *types.GradingConfig) error

	// ConfigByID fetches one config.
	ConfigByID(ctx context.Context, id int64) (*types.GradingConfig, error)

	// ActiveConfig resolves the active config for an assignment. A missing
	// config is a typed config_missing error so the pipeline can record it
	// directly.
	ActiveConfig(ctx context.Context, assignmentID string) (*types.GradingConfig, error)

	// DeactivateConfig retires the active config for an assignment.
	DeactivateConfig(ctx context.Context, assignmentID string) error

	// CreateSubmission stores a new submission record.
	CreateSubmission(ctx context.Context, sub *types.Submission) error

	// Submission fetches one submission.
	Submission(ctx context.Context, id string) (*types.Submission, error)

	// UpdateSubmissionStatus moves a submission through its lifecycle.
	UpdateSubmissionStatus(ctx context.Context, id string, status types.SubmissionStatus) error

	// SaveResult writes the terminal status and the result in one
	// transaction.
	SaveResult(ctx context.Context, id string, status types.SubmissionStatus, result *types.SubmissionResult) error

	// Result fetches the grading outcome of a submission, or ErrNotFound
	// while it is still pending.
	Result(ctx context.Context, submissionID string) (*types.SubmissionResult, error)

	Close() error
}
