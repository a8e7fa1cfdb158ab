package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webtech-network/autograder-sub001/internal/logging"
)

// =============================================================================
// DOCKER ENGINE
// =============================================================================
// Drives the docker CLI: `docker create` + `docker start` for warm
// environments kept alive by a no-op long-running command, `docker exec` for
// command execution, `docker cp` for file injection. Containers run on an
// isolated network as an unprivileged user with no-new-privileges set.

// DockerEngineConfig configures the local docker substrate.
type DockerEngineConfig struct {
	// User is the in-container identity commands run as.
	User string

	// NetworkMode for sandbox containers. Default "none".
	NetworkMode string

	// DefaultTimeout bounds a Run call when the caller sets none.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int

	// PidsLimit caps processes per container.
	PidsLimit int

	// MemoryBytes caps container memory. Zero means no limit.
	MemoryBytes int64
}

// DefaultDockerEngineConfig returns sensible defaults.
func DefaultDockerEngineConfig() DockerEngineConfig {
	return DockerEngineConfig{
		User:           "nobody",
		NetworkMode:    "none",
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 1 << 20, // 1 MiB per stream
		PidsLimit:      128,
		MemoryBytes:    512 * 1024 * 1024,
	}
}

// DockerEngine implements Engine against a local docker daemon.
type DockerEngine struct {
	config     DockerEngineConfig
	dockerPath string
	available  bool
}

// NewDockerEngine creates a docker engine and probes daemon availability.
func NewDockerEngine(config DockerEngineConfig) *DockerEngine {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.MaxOutputBytes == 0 {
		config.MaxOutputBytes = 1 << 20
	}
	e := &DockerEngine{config: config}
	e.detectDocker()
	return e
}

// detectDocker checks if docker is available and responsive.
func (e *DockerEngine) detectDocker() {
	dockerPath, err := exec.LookPath("docker")
	if err != nil {
		logging.SandboxDebug("docker binary not found in PATH")
		e.available = false
		return
	}
	e.dockerPath = dockerPath

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, dockerPath, "version", "--format", "{{.Server.Version}}")
	if err := cmd.Run(); err != nil {
		logging.SandboxWarn("docker found but not responsive: %v", err)
		e.available = false
		return
	}
	e.available = true
	logging.Sandbox("DockerEngine available: %s", dockerPath)
}

// IsAvailable returns whether docker is usable on this host.
func (e *DockerEngine) IsAvailable() bool {
	return e.available
}

// Create builds and starts one sandbox container.
func (e *DockerEngine) Create(ctx context.Context, spec PoolSpec) (*Box, error) {
	if !e.available {
		return nil, fmt.Errorf("docker is not available")
	}

	name := fmt.Sprintf("graded-%s-%s", spec.Language, uuid.NewString()[:8])
	workdir := spec.WorkingDir
	if workdir == "" {
		workdir = "/work"
	}

	args := e.createArgs(name, workdir, spec)
	logging.SandboxDebug("docker create args: %v", args)

	cmd := exec.CommandContext(ctx, e.dockerPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logging.SandboxError("failed to create container: %v, stderr: %s", err, stderr.String())
		return nil, fmt.Errorf("failed to create container: %w: %s", err, stderr.String())
	}
	containerID := strings.TrimSpace(stdout.String())

	startCmd := exec.CommandContext(ctx, e.dockerPath, "start", containerID)
	var startErr bytes.Buffer
	startCmd.Stderr = &startErr
	if err := startCmd.Run(); err != nil {
		_ = e.remove(context.Background(), containerID)
		return nil, fmt.Errorf("failed to start container: %w: %s", err, startErr.String())
	}

	// Prepare the working directory for the unprivileged user.
	prep := exec.CommandContext(ctx, e.dockerPath, "exec", containerID,
		"sh", "-c", fmt.Sprintf("mkdir -p %s && chmod 0777 %s", workdir, workdir))
	if err := prep.Run(); err != nil {
		_ = e.remove(context.Background(), containerID)
		return nil, fmt.Errorf("failed to prepare working directory: %w", err)
	}

	box := &Box{
		ID:            uuid.NewString(),
		Language:      spec.Language,
		EnvID:         containerID,
		WorkingDir:    workdir,
		ContainerPort: spec.ContainerPort,
		State:         StateIdle,
		CreatedAt:     time.Now(),
	}

	if spec.ContainerPort > 0 {
		host, port, err := e.inspectPort(ctx, containerID, spec.ContainerPort)
		if err != nil {
			_ = e.remove(context.Background(), containerID)
			return nil, err
		}
		box.HostAddr = host
		box.HostPort = port
	}

	logging.Sandbox("Container created: %s (%s, lang=%s)", containerID[:12], spec.Image, spec.Language)
	return box, nil
}

// createArgs constructs the docker create arguments for a sandbox container.
func (e *DockerEngine) createArgs(name, workdir string, spec PoolSpec) []string {
	network := e.config.NetworkMode
	if network == "" {
		network = "none"
	}
	// Network-facing tests need a port mapping; the isolated bridge still
	// denies egress to host-private networks via daemon configuration.
	if spec.ContainerPort > 0 && network == "none" {
		network = "bridge"
	}

	args := []string{
		"create",
		"--name", name,
		"-w", workdir,
		"--network", network,
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
	}
	if e.config.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(e.config.PidsLimit))
	}
	if e.config.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(e.config.MemoryBytes, 10))
	}
	if spec.ContainerPort > 0 {
		// Publish on an ephemeral host port.
		args = append(args, "-p", fmt.Sprintf("127.0.0.1::%d", spec.ContainerPort))
	}
	args = append(args, "--label", "graded.managed=true")
	args = append(args, "--label", fmt.Sprintf("graded.language=%s", spec.Language))
	args = append(args, spec.Image)
	// Keep the container alive with a no-op long-running command.
	args = append(args, "sleep", "infinity")
	return args
}

// inspectPort resolves the ephemeral host port docker assigned.
func (e *DockerEngine) inspectPort(ctx context.Context, containerID string, containerPort int) (string, int, error) {
	cmd := exec.CommandContext(ctx, e.dockerPath, "port", containerID, fmt.Sprintf("%d/tcp", containerPort))
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", 0, fmt.Errorf("failed to inspect port mapping: %w", err)
	}
	// Output like "127.0.0.1:49153" (possibly multiple lines for v4/v6).
	line := strings.TrimSpace(strings.SplitN(stdout.String(), "\n", 2)[0])
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("unexpected docker port output: %q", line)
	}
	port, err := strconv.Atoi(line[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("unexpected docker port output: %q", line)
	}
	host := line[:idx]
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}

// Run executes a shell command inside the container working directory as the
// sandbox user.
func (e *DockerEngine) Run(ctx context.Context, box *Box, command string, opts RunOptions) (*RunResult, error) {
	if !e.available {
		return nil, fmt.Errorf("docker is not available")
	}
	timer := logging.StartTimer(logging.CategorySandbox, "docker exec")
	defer timer.Stop()

	args := []string{"exec", "-w", box.WorkingDir}
	if e.config.User != "" {
		args = append(args, "-u", e.config.User)
	}
	if opts.Background {
		args = append(args, "-d")
	}
	if opts.Stdin != "" {
		args = append(args, "-i")
	}
	args = append(args, box.EnvID, "sh", "-c", command)
	logging.SandboxDebug("docker exec args: %v", args)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, e.dockerPath, args...)
	if opts.Stdin != "" {
		execCmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	execCmd.Stdout = &limitedWriter{w: &stdoutBuf, max: e.config.MaxOutputBytes}
	execCmd.Stderr = &limitedWriter{w: &stderrBuf, max: e.config.MaxOutputBytes}

	start := time.Now()
	err := execCmd.Run()
	result := &RunResult{
		ExitCode: 0,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if opts.Background {
		// Detached exec returns immediately; exit status is unknowable.
		box.ExecCount++
		return result, nil
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			// The docker CLI died but the in-container process may
			// linger; sanitize on release reaps it.
			logging.SandboxWarn("exec timed out after %s in %s", timeout, box.EnvID[:12])
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("docker exec failed: %w", err)
		}
	}

	box.ExecCount++
	logging.SandboxDebug("exec in %s -> exit=%d, duration=%s", box.EnvID[:12], result.ExitCode, result.Duration)
	return result, nil
}

// InjectFiles stages the files in a host temp directory and copies them into
// the container working directory in one docker cp.
func (e *DockerEngine) InjectFiles(ctx context.Context, box *Box, files map[string][]byte) error {
	if !e.available {
		return fmt.Errorf("docker is not available")
	}

	stage, err := os.MkdirTemp("", "graded-inject-")
	if err != nil {
		return fmt.Errorf("failed to stage files: %w", err)
	}
	defer os.RemoveAll(stage)

	for name, content := range files {
		dst := filepath.Join(stage, filepath.FromSlash(name))
		if !strings.HasPrefix(filepath.Clean(dst), stage) {
			return fmt.Errorf("refusing to stage file outside working directory: %q", name)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("failed to stage %q: %w", name, err)
		}
		if err := os.WriteFile(dst, content, 0644); err != nil {
			return fmt.Errorf("failed to stage %q: %w", name, err)
		}
	}

	cmd := exec.CommandContext(ctx, e.dockerPath, "cp", stage+"/.", fmt.Sprintf("%s:%s", box.EnvID, box.WorkingDir))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to copy files into container: %w: %s", err, stderr.String())
	}

	// Injected files must be readable by the unprivileged user.
	chmod := exec.CommandContext(ctx, e.dockerPath, "exec", box.EnvID,
		"sh", "-c", fmt.Sprintf("chmod -R a+rX %s", box.WorkingDir))
	if err := chmod.Run(); err != nil {
		return fmt.Errorf("failed to fix injected file permissions: %w", err)
	}

	logging.SandboxDebug("injected %d files into %s", len(files), box.EnvID[:12])
	return nil
}

// Sanitize kills leftover submission processes and wipes the working
// directory. A failure here means the box is compromised and must be
// destroyed.
func (e *DockerEngine) Sanitize(ctx context.Context, box *Box) error {
	if !e.available {
		return fmt.Errorf("docker is not available")
	}

	// Kill everything owned by the sandbox user. The exec shell below runs
	// as root, so it survives its own signal.
	if e.config.User != "" {
		kill := exec.CommandContext(ctx, e.dockerPath, "exec", box.EnvID,
			"sh", "-c", fmt.Sprintf("pkill -KILL -u %s 2>/dev/null; true", e.config.User))
		if err := kill.Run(); err != nil {
			return fmt.Errorf("failed to kill submission processes: %w", err)
		}
	}

	wipe := exec.CommandContext(ctx, e.dockerPath, "exec", box.EnvID,
		"sh", "-c", fmt.Sprintf("find %s -mindepth 1 -delete", box.WorkingDir))
	var stderr bytes.Buffer
	wipe.Stderr = &stderr
	if err := wipe.Run(); err != nil {
		return fmt.Errorf("failed to wipe working directory: %w: %s", err, stderr.String())
	}

	logging.SandboxDebug("sanitized %s", box.EnvID[:12])
	return nil
}

// Destroy force-removes the container.
func (e *DockerEngine) Destroy(ctx context.Context, box *Box) error {
	if !e.available {
		return fmt.Errorf("docker is not available")
	}
	return e.remove(ctx, box.EnvID)
}

func (e *DockerEngine) remove(ctx context.Context, containerID string) error {
	cmd := exec.CommandContext(ctx, e.dockerPath, "rm", "-f", containerID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logging.SandboxError("failed to remove container %s: %v, stderr: %s", containerID[:12], err, stderr.String())
		return fmt.Errorf("failed to remove container: %w: %s", err, stderr.String())
	}
	logging.Sandbox("Container removed: %s", containerID[:12])
	return nil
}

// limitedWriter caps bytes written to the underlying writer, discarding the
// rest.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	orig := len(p)
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		return orig, nil
	}
	if len(p) > remaining {
		lw.truncated = true
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += n
	if err != nil {
		return n, err
	}
	return orig, nil
}
