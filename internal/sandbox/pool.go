package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// ManagerConfig configures the pool manager.
type ManagerConfig struct {
	// Pools lists one spec per language.
	Pools []PoolSpec

	// MaxTotal caps concurrent environments across all pools. Zero means
	// the sum of pool sizes.
	MaxTotal int

	// AcquireTimeout is the default deadline for Acquire when the caller
	// context has none.
	AcquireTimeout time.Duration
}

// Manager owns the per-language pools and implements Runner. All state
// transitions (idle <-> in-use <-> destroyed) happen under the manager lock;
// waiting itself happens on per-pool channels so Acquire blocks without
// holding the lock.
type Manager struct {
	mu     sync.Mutex
	engine Engine
	config ManagerConfig
	pools  map[string]*pool
	sem    *semaphore.Weighted
	closed bool
}

type pool struct {
	spec  PoolSpec
	idle  chan *Box
	inUse map[string]*Box // box id -> box
	// live counts boxes that exist (idle + in-use + being replaced), kept
	// at or below spec.PoolSize.
	live int
}

// PoolStatus is a point-in-time snapshot of one pool, for the health surface.
type PoolStatus struct {
	Language string `json:"language"`
	Size     int    `json:"size"`
	Idle     int    `json:"idle"`
	InUse    int    `json:"in_use"`
}

// NewManager creates a pool manager over the given engine. Call Initialize
// before first use.
func NewManager(engine Engine, config ManagerConfig) *Manager {
	maxTotal := config.MaxTotal
	if maxTotal == 0 {
		for _, spec := range config.Pools {
			maxTotal += spec.PoolSize
		}
	}
	if maxTotal == 0 {
		maxTotal = 1
	}
	if config.AcquireTimeout == 0 {
		config.AcquireTimeout = 30 * time.Second
	}

	m := &Manager{
		engine: engine,
		config: config,
		pools:  make(map[string]*pool, len(config.Pools)),
		sem:    semaphore.NewWeighted(int64(maxTotal)),
	}
	for _, spec := range config.Pools {
		m.pools[spec.Language] = &pool{
			spec:  spec,
			idle:  make(chan *Box, max(spec.PoolSize, 1)),
			inUse: make(map[string]*Box),
		}
	}
	return m
}

// Initialize pre-warms every pool to its configured size. Creation runs in
// parallel; a single failed environment fails startup.
func (m *Manager) Initialize(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategorySandbox, "pool pre-warm")
	defer timer.Stop()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, p := range m.pools {
		p := p
		for i := 0; i < p.spec.PoolSize; i++ {
			eg.Go(func() error {
				box, err := m.createBox(egCtx, p.spec)
				if err != nil {
					return fmt.Errorf("pre-warm %s: %w", p.spec.Language, err)
				}
				m.mu.Lock()
				p.live++
				m.mu.Unlock()
				p.idle <- box
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		// Tear down whatever was created before the failure.
		m.Shutdown(context.Background())
		return err
	}

	for lang, p := range m.pools {
		logging.Sandbox("Pool ready: %s (size=%d, image=%s)", lang, p.spec.PoolSize, p.spec.Image)
	}
	return nil
}

// createBox creates one environment under the global cap.
func (m *Manager) createBox(ctx context.Context, spec PoolSpec) (*Box, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	box, err := m.engine.Create(ctx, spec)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}
	return box, nil
}

// Acquire blocks, with deadline, until an idle environment for the language
// is available, then transitions it to in-use. At most one caller owns a box
// at a time.
func (m *Manager) Acquire(ctx context.Context, language string) (*Box, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, types.E(types.KindSandboxUnavailable, "sandbox manager is shut down")
	}
	p, ok := m.pools[language]
	m.mu.Unlock()
	if !ok {
		return nil, types.E(types.KindSandboxMisconfigured, "no sandbox pool for language %q", language)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.AcquireTimeout)
		defer cancel()
	}

	select {
	case box := <-p.idle:
		m.mu.Lock()
		box.State = StateInUse
		p.inUse[box.ID] = box
		m.mu.Unlock()
		logging.SandboxDebug("acquired %s box %s", language, box.ID)
		return box, nil
	case <-ctx.Done():
		return nil, types.E(types.KindSandboxUnavailable,
			"no %s sandbox became available before the deadline", language)
	}
}

// InjectFiles places the submission files into the box working directory.
func (m *Manager) InjectFiles(ctx context.Context, box *Box, files map[string][]byte) error {
	return m.engine.InjectFiles(ctx, box, files)
}

// Run executes a command in the box.
func (m *Manager) Run(ctx context.Context, box *Box, command string, opts RunOptions) (*RunResult, error) {
	return m.engine.Run(ctx, box, command, opts)
}

// MappedPort returns the host address for the box's forwarded port.
func (m *Manager) MappedPort(box *Box, containerPort int) (string, int, error) {
	if box.ContainerPort == 0 || box.HostPort == 0 {
		return "", 0, fmt.Errorf("sandbox %s has no port mapping", box.ID)
	}
	if containerPort != box.ContainerPort {
		return "", 0, fmt.Errorf("sandbox %s maps port %d, not %d", box.ID, box.ContainerPort, containerPort)
	}
	return box.HostAddr, box.HostPort, nil
}

// Release sanitizes the box and returns it to its pool as idle. If
// sanitization fails the environment is destroyed and a replacement is
// created lazily, keeping the pool at its configured size.
func (m *Manager) Release(box *Box) {
	if box == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.destroyBox(box)
		return
	}
	p, ok := m.pools[box.Language]
	if !ok {
		m.mu.Unlock()
		m.destroyBox(box)
		return
	}
	delete(p.inUse, box.ID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.engine.Sanitize(ctx, box); err != nil {
		logging.SandboxWarn("sanitize failed for %s, replacing: %v", box.ID, err)
		m.destroyBox(box)
		m.mu.Lock()
		p.live--
		m.mu.Unlock()
		go m.replace(p)
		return
	}

	box.State = StateIdle
	p.idle <- box
	logging.SandboxDebug("released %s box %s", box.Language, box.ID)
}

// replace creates one environment to restore a pool to size. Runs off the
// release path so a slow image never blocks a releasing pipeline.
func (m *Manager) replace(p *pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	m.mu.Lock()
	if m.closed || p.live >= p.spec.PoolSize {
		m.mu.Unlock()
		return
	}
	p.live++
	m.mu.Unlock()

	box, err := m.createBox(ctx, p.spec)
	if err != nil {
		m.mu.Lock()
		p.live--
		m.mu.Unlock()
		logging.SandboxError("failed to replace %s sandbox: %v", p.spec.Language, err)
		return
	}
	p.idle <- box
	logging.Sandbox("Replaced %s sandbox: %s", p.spec.Language, box.ID)
}

func (m *Manager) destroyBox(box *Box) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	box.State = StateDestroyed
	if err := m.engine.Destroy(ctx, box); err != nil {
		logging.SandboxError("failed to destroy %s: %v", box.ID, err)
	}
	m.sem.Release(1)
}

// Status reports a snapshot of every pool.
func (m *Manager) Status() []PoolStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PoolStatus, 0, len(m.pools))
	for lang, p := range m.pools {
		out = append(out, PoolStatus{
			Language: lang,
			Size:     p.spec.PoolSize,
			Idle:     len(p.idle),
			InUse:    len(p.inUse),
		})
	}
	return out
}

// Shutdown destroys all environments. In-use boxes are destroyed too; callers
// are expected to have drained first.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var boxes []*Box
	for _, p := range m.pools {
	drain:
		for {
			select {
			case box := <-p.idle:
				boxes = append(boxes, box)
			default:
				break drain
			}
		}
		for _, box := range p.inUse {
			boxes = append(boxes, box)
		}
		p.inUse = make(map[string]*Box)
		p.live = 0
	}
	m.mu.Unlock()

	for _, box := range boxes {
		box.State = StateDestroyed
		if err := m.engine.Destroy(ctx, box); err != nil {
			logging.SandboxError("shutdown: failed to destroy %s: %v", box.ID, err)
		}
		m.sem.Release(1)
	}
	logging.Sandbox("Pool manager shut down (%d environments destroyed)", len(boxes))
}
