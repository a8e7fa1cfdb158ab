package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/webtech-network/autograder-sub001/internal/types"
)

func newTestManager(t *testing.T, engine *FakeEngine, pools ...PoolSpec) *Manager {
	t.Helper()
	m := NewManager(engine, ManagerConfig{
		Pools:          pools,
		AcquireTimeout: 200 * time.Millisecond,
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return m
}

func TestAcquireRelease(t *testing.T) {
	defer goleak.VerifyNone(t)
	engine := NewFakeEngine()
	m := newTestManager(t, engine, PoolSpec{Language: "python", Image: "python:3.11-slim", PoolSize: 2})
	defer m.Shutdown(context.Background())

	box, err := m.Acquire(context.Background(), "python")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if box.State != StateInUse {
		t.Errorf("Expected in-use, got %s", box.State)
	}

	m.Release(box)
	if box.State != StateIdle {
		t.Errorf("Expected idle after release, got %s", box.State)
	}

	status := m.Status()
	if len(status) != 1 || status[0].Idle != 2 || status[0].InUse != 0 {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestAcquireUnknownLanguage(t *testing.T) {
	engine := NewFakeEngine()
	m := newTestManager(t, engine, PoolSpec{Language: "python", PoolSize: 1, Image: "img"})
	defer m.Shutdown(context.Background())

	_, err := m.Acquire(context.Background(), "cobol")
	if err == nil {
		t.Fatal("Expected error for unknown language")
	}
	if types.KindOf(err) != types.KindSandboxMisconfigured {
		t.Errorf("Expected misconfigured kind, got %s", types.KindOf(err))
	}
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	engine := NewFakeEngine()
	m := newTestManager(t, engine, PoolSpec{Language: "python", PoolSize: 1, Image: "img"})
	defer m.Shutdown(context.Background())

	box, err := m.Acquire(context.Background(), "python")
	if err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	start := time.Now()
	_, err = m.Acquire(context.Background(), "python")
	if err == nil {
		t.Fatal("Expected timeout")
	}
	if types.KindOf(err) != types.KindSandboxUnavailable {
		t.Errorf("Expected unavailable kind, got %s", types.KindOf(err))
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Acquire returned before the deadline: %s", elapsed)
	}

	m.Release(box)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	engine := NewFakeEngine()
	m := newTestManager(t, engine, PoolSpec{Language: "python", PoolSize: 1, Image: "img"})
	defer m.Shutdown(context.Background())

	box, err := m.Acquire(context.Background(), "python")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b, err := m.Acquire(ctx, "python")
		if err == nil {
			m.Release(b)
		}
		got <- err
	}()

	time.Sleep(50 * time.Millisecond)
	m.Release(box)

	if err := <-got; err != nil {
		t.Fatalf("Waiter did not get the released box: %v", err)
	}
}

func TestSanitizeFailureReplacesEnvironment(t *testing.T) {
	engine := NewFakeEngine()
	m := newTestManager(t, engine, PoolSpec{Language: "python", PoolSize: 1, Image: "img"})
	defer m.Shutdown(context.Background())

	box, err := m.Acquire(context.Background(), "python")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	engine.SanitizeErr = errors.New("wipe failed")
	m.Release(box)
	engine.SanitizeErr = nil

	// The replacement is created off the release path; the next acquire
	// should find it.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	replacement, err := m.Acquire(ctx, "python")
	if err != nil {
		t.Fatalf("Acquire after replacement failed: %v", err)
	}
	if replacement.ID == box.ID {
		t.Error("Compromised box was returned to the pool")
	}
	m.Release(replacement)

	if engine.Destroyed != 1 {
		t.Errorf("Expected 1 destroyed environment, got %d", engine.Destroyed)
	}
}

func TestNoLeaksAcrossLifecycle(t *testing.T) {
	engine := NewFakeEngine()
	m := newTestManager(t, engine,
		PoolSpec{Language: "python", PoolSize: 2, Image: "img"},
		PoolSpec{Language: "java", PoolSize: 1, Image: "img2"},
	)

	for i := 0; i < 10; i++ {
		box, err := m.Acquire(context.Background(), "python")
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		m.Release(box)
	}

	m.Shutdown(context.Background())
	if engine.Live() != 0 {
		t.Errorf("Leaked %d environments after shutdown", engine.Live())
	}
}

func TestInjectAndWipe(t *testing.T) {
	engine := NewFakeEngine()
	m := newTestManager(t, engine, PoolSpec{Language: "python", PoolSize: 1, Image: "img"})
	defer m.Shutdown(context.Background())

	box, _ := m.Acquire(context.Background(), "python")
	err := m.InjectFiles(context.Background(), box, map[string][]byte{"calc.py": []byte("print(8)")})
	if err != nil {
		t.Fatalf("InjectFiles failed: %v", err)
	}
	if len(engine.Files(box.ID)) != 1 {
		t.Error("File was not injected")
	}

	m.Release(box)
	// Sanitize on release wipes the previous occupant's files.
	if len(engine.Files(box.ID)) != 0 {
		t.Error("Files survived release")
	}
}

func TestMappedPort(t *testing.T) {
	engine := NewFakeEngine()
	engine.HostPort = 49153
	m := newTestManager(t, engine, PoolSpec{Language: "node", PoolSize: 1, Image: "img", ContainerPort: 3000})
	defer m.Shutdown(context.Background())

	box, _ := m.Acquire(context.Background(), "node")
	defer m.Release(box)

	host, port, err := m.MappedPort(box, 3000)
	if err != nil {
		t.Fatalf("MappedPort failed: %v", err)
	}
	if host != "127.0.0.1" || port != 49153 {
		t.Errorf("Unexpected mapping: %s:%d", host, port)
	}

	if _, _, err := m.MappedPort(box, 8080); err == nil {
		t.Error("Expected error for unmapped port")
	}
}
