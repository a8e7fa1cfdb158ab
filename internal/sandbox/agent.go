package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/logging"
)

// =============================================================================
// REMOTE AGENT ENGINE
// =============================================================================
// Alternative execution substrate: when a remote execution agent endpoint is
// configured, environment operations become HTTP calls against the agent
// instead of local docker invocations. The choice is configuration-time and
// invisible to tests.

// AgentEngine implements Engine against a remote execution agent.
type AgentEngine struct {
	baseURL    string
	httpClient *http.Client

	// readinessRetry bounds how long Create polls the agent for a ready
	// environment.
	readinessRetry time.Duration
}

// NewAgentEngine creates an engine proxying to the agent at baseURL.
func NewAgentEngine(baseURL string) *AgentEngine {
	return &AgentEngine{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 2 * time.Minute},
		readinessRetry: 30 * time.Second,
	}
}

type agentCreateRequest struct {
	Language      string `json:"language"`
	Image         string `json:"image,omitempty"`
	WorkingDir    string `json:"working_dir,omitempty"`
	ContainerPort int    `json:"container_port,omitempty"`
}

type agentCreateResponse struct {
	ID         string `json:"id"`
	WorkingDir string `json:"working_dir"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
}

type agentExecRequest struct {
	Command    string `json:"command"`
	Stdin      string `json:"stdin,omitempty"`
	TimeoutMs  int64  `json:"timeout_ms,omitempty"`
	Background bool   `json:"background,omitempty"`
}

type agentExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

// Create provisions an environment on the agent and polls its readiness.
func (e *AgentEngine) Create(ctx context.Context, spec PoolSpec) (*Box, error) {
	var resp agentCreateResponse
	req := agentCreateRequest{
		Language:      spec.Language,
		Image:         spec.Image,
		WorkingDir:    spec.WorkingDir,
		ContainerPort: spec.ContainerPort,
	}
	if err := e.post(ctx, "/environments", req, &resp); err != nil {
		return nil, fmt.Errorf("agent create failed: %w", err)
	}

	if err := e.awaitReady(ctx, resp.ID); err != nil {
		_ = e.delete(context.Background(), "/environments/"+resp.ID)
		return nil, err
	}

	workdir := resp.WorkingDir
	if workdir == "" {
		workdir = spec.WorkingDir
	}
	if workdir == "" {
		workdir = "/work"
	}

	box := &Box{
		ID:            resp.ID,
		Language:      spec.Language,
		EnvID:         resp.ID,
		WorkingDir:    workdir,
		ContainerPort: spec.ContainerPort,
		HostAddr:      resp.Host,
		HostPort:      resp.Port,
		State:         StateIdle,
		CreatedAt:     time.Now(),
	}
	logging.Sandbox("Agent environment created: %s (lang=%s)", resp.ID, spec.Language)
	return box, nil
}

// awaitReady polls the agent until the environment reports ready, with
// bounded retry.
func (e *AgentEngine) awaitReady(ctx context.Context, envID string) error {
	deadline := time.Now().Add(e.readinessRetry)
	for {
		var status struct {
			Ready bool `json:"ready"`
		}
		err := e.get(ctx, "/environments/"+envID+"/ready", &status)
		if err == nil && status.Ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("agent environment %s not ready after %s", envID, e.readinessRetry)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Run POSTs the command to the agent.
func (e *AgentEngine) Run(ctx context.Context, box *Box, command string, opts RunOptions) (*RunResult, error) {
	req := agentExecRequest{
		Command:    command,
		Stdin:      opts.Stdin,
		TimeoutMs:  opts.Timeout.Milliseconds(),
		Background: opts.Background,
	}
	var resp agentExecResponse
	start := time.Now()
	if err := e.post(ctx, "/environments/"+box.EnvID+"/exec", req, &resp); err != nil {
		return nil, fmt.Errorf("agent exec failed: %w", err)
	}
	box.ExecCount++
	return &RunResult{
		ExitCode: resp.ExitCode,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		TimedOut: resp.TimedOut,
		Duration: time.Since(start),
	}, nil
}

// InjectFiles ships the files to the agent as base64 content.
func (e *AgentEngine) InjectFiles(ctx context.Context, box *Box, files map[string][]byte) error {
	payload := struct {
		Files map[string][]byte `json:"files"`
	}{Files: files}
	if err := e.post(ctx, "/environments/"+box.EnvID+"/files", payload, nil); err != nil {
		return fmt.Errorf("agent file injection failed: %w", err)
	}
	return nil
}

// Sanitize asks the agent to wipe the environment.
func (e *AgentEngine) Sanitize(ctx context.Context, box *Box) error {
	if err := e.post(ctx, "/environments/"+box.EnvID+"/sanitize", nil, nil); err != nil {
		return fmt.Errorf("agent sanitize failed: %w", err)
	}
	return nil
}

// Destroy removes the environment on the agent.
func (e *AgentEngine) Destroy(ctx context.Context, box *Box) error {
	return e.delete(ctx, "/environments/"+box.EnvID)
}

func (e *AgentEngine) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, out)
}

func (e *AgentEngine) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return err
	}
	return e.do(req, out)
}

func (e *AgentEngine) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.baseURL+path, nil)
	if err != nil {
		return err
	}
	return e.do(req, nil)
}

func (e *AgentEngine) do(req *http.Request, out any) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
