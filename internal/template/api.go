package template

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// =============================================================================
// API TEMPLATE
// =============================================================================
// Starts the student HTTP server inside the sandbox, waits for it to accept
// connections on the mapped host port, then issues HTTP probes against it. The
// server is started once per submission and shared by all api tests through
// the call session.

const (
	defaultStartupTimeout = 10 * time.Second
	probeTimeout          = 10 * time.Second
	readinessInterval     = 200 * time.Millisecond
)

func newAPITemplate() *Template {
	t := &Template{name: "api", needsSandbox: true, entries: make(map[string]entry)}
	t.register("http_probe", apiHTTPProbe, requireParams("path", "expected_status"))
	t.register("server_starts", apiServerStarts, nil)
	return t
}

// ensureServer starts the student server in the box on first use and returns
// the base URL of its mapped port.
func ensureServer(ctx context.Context, call *Call) (string, error) {
	if call.Runner == nil || call.Box == nil {
		return "", fmt.Errorf("no sandbox available for this test")
	}
	if call.Box.ContainerPort == 0 {
		return "", fmt.Errorf("sandbox has no container_port mapping; api tests need one in setup_config")
	}

	session := call.Session
	if session == nil {
		session = NewSession()
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.serverStarted {
		return session.serverBaseURL, nil
	}

	command, err := resolveCommand(call)
	if err != nil {
		return "", err
	}

	if _, err := call.Runner.Run(ctx, call.Box, command, sandbox.RunOptions{Background: true}); err != nil {
		return "", fmt.Errorf("failed to start server: %w", err)
	}

	host, port, err := call.Runner.MappedPort(call.Box, call.Box.ContainerPort)
	if err != nil {
		return "", err
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	startupTimeout := defaultStartupTimeout
	if p, ok := call.Param("startup_timeout_ms"); ok {
		if ms, err := p.Int(); err == nil && ms > 0 {
			startupTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if err := awaitListening(ctx, addr, startupTimeout); err != nil {
		return "", err
	}

	session.serverStarted = true
	session.serverBaseURL = "http://" + addr
	logging.Grader("api: student server ready at %s", session.serverBaseURL)
	return session.serverBaseURL, nil
}

// awaitListening polls until the address accepts TCP connections.
func awaitListening(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not start listening on %s within %s", addr, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessInterval):
		}
	}
}

// apiServerStarts passes when the server comes up and accepts connections.
func apiServerStarts(ctx context.Context, call *Call) types.TestResult {
	if _, err := ensureServer(ctx, call); err != nil {
		return fail("server did not start: %v", err)
	}
	return pass("server started and is accepting connections")
}

// apiHTTPProbe issues one HTTP request against the student server and asserts
// the status code and, optionally, the JSON body shape.
func apiHTTPProbe(ctx context.Context, call *Call) types.TestResult {
	baseURL, err := ensureServer(ctx, call)
	if err != nil {
		return errResult("%v", err)
	}

	path, perr := stringParam(call.Parameters, "path")
	if perr != nil {
		return errResult("%v", perr)
	}
	expectedStatus, perr := intParamOr(call.Parameters, "expected_status", http.StatusOK)
	if perr != nil {
		return errResult("%v", perr)
	}
	method := http.MethodGet
	if p, ok := call.Param("method"); ok {
		if m, err := p.String(); err == nil {
			method = strings.ToUpper(m)
		}
	}

	var body io.Reader
	if p, ok := call.Param("body"); ok {
		data, err := json.Marshal(p.Value)
		if err != nil {
			return errResult("parameter %q is not serializable: %v", "body", err)
		}
		body = strings.NewReader(string(data))
	}

	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, baseURL+path, body)
	if err != nil {
		return errResult("invalid probe request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != expectedStatus {
		return fail("%s %s returned status %d, expected %d", method, path, resp.StatusCode, expectedStatus)
	}

	if p, ok := call.Param("expected_body"); ok {
		var got any
		if err := json.Unmarshal(data, &got); err != nil {
			return fail("%s %s returned a non-JSON body: %s", method, path, firstLine(string(data)))
		}
		if diff := jsonSubsetDiff(p.Value, got, "$"); diff != "" {
			return fail("%s %s body mismatch: %s", method, path, diff)
		}
	}

	return pass("%s %s returned %d with the expected body", method, path, resp.StatusCode)
}

// jsonSubsetDiff checks that want is a subset of got: every key of a wanted
// object must be present and match, arrays must match elementwise, scalars
// compare with JSON number semantics. Returns "" on match or a description of
// the first divergence.
func jsonSubsetDiff(want, got any, path string) string {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return fmt.Sprintf("%s: expected object, got %T", path, got)
		}
		for key, wv := range w {
			gv, ok := g[key]
			if !ok {
				return fmt.Sprintf("%s.%s: missing key", path, key)
			}
			if diff := jsonSubsetDiff(wv, gv, path+"."+key); diff != "" {
				return diff
			}
		}
		return ""
	case []any:
		g, ok := got.([]any)
		if !ok {
			return fmt.Sprintf("%s: expected array, got %T", path, got)
		}
		if len(g) != len(w) {
			return fmt.Sprintf("%s: expected %d elements, got %d", path, len(w), len(g))
		}
		for i, wv := range w {
			if diff := jsonSubsetDiff(wv, g[i], fmt.Sprintf("%s[%d]", path, i)); diff != "" {
				return diff
			}
		}
		return ""
	default:
		if !scalarEqual(want, got) {
			return fmt.Sprintf("%s: expected %v, got %v", path, want, got)
		}
		return ""
	}
}

// scalarEqual compares scalars with numeric coercion, since decoded JSON
// numbers are float64 while rubric authors may write ints.
func scalarEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
