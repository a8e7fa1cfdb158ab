// Package sandbox supplies isolated, language-specific execution environments
// to setup steps and tests, amortizing environment creation cost through
// pre-warmed per-language pools.
//
// The package separates two contracts: Engine is the execution substrate
// (local docker, a remote agent, or an in-memory fake), and Runner is the
// pool-level surface the pipeline and test functions consume.
package sandbox

import (
	"context"
	"time"
)

// State is the acquisition state of a sandbox.
type State string

const (
	StateIdle      State = "idle"
	StateInUse     State = "in-use"
	StateDestroyed State = "destroyed"
)

// Box is a handle on a running isolated execution environment. A box acquired
// by a submission is exclusively owned by that submission until released.
type Box struct {
	ID            string `json:"id"`
	Language      string `json:"language"`
	EnvID         string `json:"env_id"` // container id or agent environment id
	WorkingDir    string `json:"working_dir"`
	ContainerPort int    `json:"container_port,omitempty"`
	HostAddr      string `json:"host_addr,omitempty"`
	HostPort      int    `json:"host_port,omitempty"`

	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExecCount int       `json:"exec_count"`
}

// RunOptions controls one command execution inside a box.
type RunOptions struct {
	// Stdin is piped to the command when non-empty.
	Stdin string

	// Timeout bounds the command; zero means the engine default.
	Timeout time.Duration

	// Background starts the command detached and returns immediately.
	Background bool
}

// RunResult is the outcome of one command execution.
type RunResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// PoolSpec configures one per-language pool.
type PoolSpec struct {
	Language      string
	Image         string
	PoolSize      int
	WorkingDir    string
	ContainerPort int
}

// Engine is the execution substrate behind the pool manager.
type Engine interface {
	// Create builds and starts one environment for the spec. The returned
	// box is running and ready for Run calls.
	Create(ctx context.Context, spec PoolSpec) (*Box, error)

	// Run executes a shell command in the box working directory as the
	// sandbox user. A deadline expiry is reported via RunResult.TimedOut,
	// not an error; errors mean the substrate itself failed.
	Run(ctx context.Context, box *Box, command string, opts RunOptions) (*RunResult, error)

	// InjectFiles places the given files into the box working directory.
	InjectFiles(ctx context.Context, box *Box, files map[string][]byte) error

	// Sanitize wipes the working directory and kills any leftover
	// submission processes. A non-nil error means the box must be
	// destroyed rather than reused.
	Sanitize(ctx context.Context, box *Box) error

	// Destroy tears the environment down.
	Destroy(ctx context.Context, box *Box) error
}

// Runner is the pool-level contract consumed by the pipeline and by sandboxed
// test functions.
type Runner interface {
	// Acquire blocks until an idle environment for the language is
	// available or the context deadline passes.
	Acquire(ctx context.Context, language string) (*Box, error)

	// InjectFiles atomically places submission files into the box.
	InjectFiles(ctx context.Context, box *Box, files map[string][]byte) error

	// Run executes a command in the box.
	Run(ctx context.Context, box *Box, command string, opts RunOptions) (*RunResult, error)

	// MappedPort returns the host-accessible address for the box's
	// forwarded container port.
	MappedPort(box *Box, containerPort int) (string, int, error)

	// Release sanitizes the box and returns it to the pool, or destroys
	// and replaces it when sanitization fails. Release never blocks on
	// replacement creation.
	Release(box *Box)
}
