package template

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// apiHarness stands a real HTTP server in for the student program and wires
// its port through the fake sandbox mapping.
func apiHarness(t *testing.T, handler http.Handler) *Call {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("Bad listener address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	engine := sandbox.NewFakeEngine()
	engine.HostPort = port
	m := sandbox.NewManager(engine, sandbox.ManagerConfig{
		Pools: []sandbox.PoolSpec{{Language: "node", Image: "img", PoolSize: 1, ContainerPort: 3000}},
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	box, err := m.Acquire(context.Background(), "node")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	t.Cleanup(func() { m.Release(box) })

	return &Call{
		Language: "node",
		Runner:   m,
		Box:      box,
		Session:  NewSession(),
		Parameters: []types.Param{
			{Name: "program_command", Value: "node server.js"},
		},
	}
}

func runProbe(t *testing.T, call *Call, extra ...types.Param) types.TestResult {
	t.Helper()
	tpl := newAPITemplate()
	fn, ok := tpl.Resolve("http_probe")
	if !ok {
		t.Fatal("http_probe not registered")
	}
	probe := *call
	probe.Parameters = append(append([]types.Param{}, call.Parameters...), extra...)
	return fn(context.Background(), &probe)
}

func TestHTTPProbeStatusAndBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1, "name": "ada", "tags": ["admin"]}`))
	})
	call := apiHarness(t, mux)

	res := runProbe(t, call,
		types.Param{Name: "path", Value: "/users/1"},
		types.Param{Name: "expected_status", Value: float64(200)},
		types.Param{Name: "expected_body", Value: map[string]any{"id": float64(1), "name": "ada"}},
	)
	if res.Status != types.TestPass {
		t.Errorf("Expected PASS, got %s: %s", res.Status, res.Report)
	}
}

func TestHTTPProbeStatusMismatch(t *testing.T) {
	call := apiHarness(t, http.NotFoundHandler())

	res := runProbe(t, call,
		types.Param{Name: "path", Value: "/missing"},
		types.Param{Name: "expected_status", Value: float64(200)},
	)
	if res.Status != types.TestFail {
		t.Errorf("Expected FAIL on 404, got %s", res.Status)
	}
}

func TestHTTPProbeBodyMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 2}`))
	})
	call := apiHarness(t, mux)

	res := runProbe(t, call,
		types.Param{Name: "path", Value: "/users/1"},
		types.Param{Name: "expected_status", Value: float64(200)},
		types.Param{Name: "expected_body", Value: map[string]any{"id": float64(1)}},
	)
	if res.Status != types.TestFail {
		t.Errorf("Expected FAIL on body mismatch, got %s", res.Status)
	}
}

func TestHTTPProbePostWithBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"created": true}`))
	})
	call := apiHarness(t, mux)

	res := runProbe(t, call,
		types.Param{Name: "path", Value: "/users"},
		types.Param{Name: "method", Value: "post"},
		types.Param{Name: "body", Value: map[string]any{"name": "ada"}},
		types.Param{Name: "expected_status", Value: float64(201)},
		types.Param{Name: "expected_body", Value: map[string]any{"created": true}},
	)
	if res.Status != types.TestPass {
		t.Errorf("Expected PASS, got %s: %s", res.Status, res.Report)
	}
}

func TestServerStartedOncePerSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) })
	call := apiHarness(t, mux)

	for i := 0; i < 3; i++ {
		res := runProbe(t, call,
			types.Param{Name: "path", Value: "/"},
			types.Param{Name: "expected_status", Value: float64(200)},
		)
		if res.Status != types.TestPass {
			t.Fatalf("Probe %d failed: %s", i, res.Report)
		}
	}
	if !call.Session.serverStarted {
		t.Error("Session should record the started server")
	}
}

func TestProbeWithoutPortMappingIsError(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	m := sandbox.NewManager(engine, sandbox.ManagerConfig{
		Pools: []sandbox.PoolSpec{{Language: "node", Image: "img", PoolSize: 1}},
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer m.Shutdown(context.Background())
	box, _ := m.Acquire(context.Background(), "node")
	defer m.Release(box)

	tpl := newAPITemplate()
	fn, _ := tpl.Resolve("http_probe")
	res := fn(context.Background(), &Call{
		Language: "node",
		Runner:   m,
		Box:      box,
		Session:  NewSession(),
		Parameters: []types.Param{
			{Name: "program_command", Value: "node server.js"},
			{Name: "path", Value: "/"},
			{Name: "expected_status", Value: float64(200)},
		},
	})
	if res.Status != types.TestError {
		t.Errorf("Missing port mapping should be ERROR, got %s", res.Status)
	}
}

func TestJSONSubsetDiff(t *testing.T) {
	cases := []struct {
		name      string
		want, got any
		match     bool
	}{
		{"extra keys allowed", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1), "b": float64(2)}, true},
		{"missing key", map[string]any{"a": float64(1)}, map[string]any{}, false},
		{"nested", map[string]any{"u": map[string]any{"id": float64(1)}}, map[string]any{"u": map[string]any{"id": float64(1), "x": "y"}}, true},
		{"array length", []any{float64(1)}, []any{float64(1), float64(2)}, false},
		{"int vs float", float64(1), float64(1.0), true},
		{"bool", true, false, false},
	}
	for _, tc := range cases {
		diff := jsonSubsetDiff(tc.want, tc.got, "$")
		if (diff == "") != tc.match {
			t.Errorf("%s: match=%v, diff=%q", tc.name, tc.match, diff)
		}
	}
}
