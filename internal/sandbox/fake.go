package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// FAKE ENGINE
// =============================================================================
// In-memory Engine used by grader, template, and pipeline tests. Lives in the
// package proper (not a _test file) so other packages can grade against it
// without a docker daemon.

// FakeHandler maps a command substring to a canned result.
type FakeHandler struct {
	Match  string
	Result RunResult
	Err    error
}

// FakeEngine is a scripted in-memory execution substrate.
type FakeEngine struct {
	mu       sync.Mutex
	handlers []FakeHandler

	// Injected behaviours.
	CreateErr   error
	SanitizeErr error
	CreateDelay time.Duration

	// Port mapping reported on created boxes when the spec asks for one.
	HostAddr string
	HostPort int

	// Recorded activity.
	Created   int
	Destroyed int
	Sanitized int
	Commands  []string
	files     map[string]map[string][]byte // box id -> name -> content
}

// NewFakeEngine creates an empty fake engine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		HostAddr: "127.0.0.1",
		files:    make(map[string]map[string][]byte),
	}
}

// Handle registers a canned result for commands containing match. Handlers
// are consulted in registration order; unmatched commands succeed with empty
// output.
func (f *FakeEngine) Handle(match string, result RunResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, FakeHandler{Match: match, Result: result})
}

// HandleErr registers a substrate-level failure for commands containing match.
func (f *FakeEngine) HandleErr(match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, FakeHandler{Match: match, Err: err})
}

// Files returns a copy of the files injected into the box.
func (f *FakeEngine) Files(boxID string) map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.files[boxID]))
	for k, v := range f.files[boxID] {
		out[k] = v
	}
	return out
}

// Live returns the number of currently existing environments.
func (f *FakeEngine) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Created - f.Destroyed
}

func (f *FakeEngine) Create(ctx context.Context, spec PoolSpec) (*Box, error) {
	if f.CreateDelay > 0 {
		select {
		case <-time.After(f.CreateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Created++
	workdir := spec.WorkingDir
	if workdir == "" {
		workdir = "/work"
	}
	box := &Box{
		ID:            uuid.NewString(),
		Language:      spec.Language,
		EnvID:         "fake-" + uuid.NewString()[:8],
		WorkingDir:    workdir,
		ContainerPort: spec.ContainerPort,
		State:         StateIdle,
		CreatedAt:     time.Now(),
	}
	if spec.ContainerPort > 0 {
		box.HostAddr = f.HostAddr
		box.HostPort = f.HostPort
	}
	f.files[box.ID] = make(map[string][]byte)
	return box, nil
}

func (f *FakeEngine) Run(ctx context.Context, box *Box, command string, opts RunOptions) (*RunResult, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, command)
	handlers := make([]FakeHandler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, h := range handlers {
		if strings.Contains(command, h.Match) {
			if h.Err != nil {
				return nil, h.Err
			}
			r := h.Result
			return &r, nil
		}
	}
	box.ExecCount++
	return &RunResult{ExitCode: 0}, nil
}

func (f *FakeEngine) InjectFiles(ctx context.Context, box *Box, files map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dst, ok := f.files[box.ID]
	if !ok {
		return fmt.Errorf("unknown box %s", box.ID)
	}
	for name, content := range files {
		dst[name] = content
	}
	return nil
}

func (f *FakeEngine) Sanitize(ctx context.Context, box *Box) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sanitized++
	if f.SanitizeErr != nil {
		return f.SanitizeErr
	}
	f.files[box.ID] = make(map[string][]byte)
	return nil
}

func (f *FakeEngine) Destroy(ctx context.Context, box *Box) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destroyed++
	delete(f.files, box.ID)
	return nil
}
