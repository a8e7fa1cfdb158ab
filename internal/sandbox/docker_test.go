package sandbox

import (
	"bytes"
	"strings"
	"testing"
)

func TestCreateArgsIsolation(t *testing.T) {
	e := NewDockerEngine(DefaultDockerEngineConfig())
	args := e.createArgs("graded-python-abc", "/work", PoolSpec{
		Language: "python",
		Image:    "python:3.11-slim",
	})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--network none",
		"--security-opt no-new-privileges",
		"--cap-drop ALL",
		"--pids-limit",
		"-w /work",
		"python:3.11-slim sleep infinity",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Missing %q in args: %s", want, joined)
		}
	}
}

func TestCreateArgsPortMappingForcesBridge(t *testing.T) {
	e := NewDockerEngine(DefaultDockerEngineConfig())
	args := e.createArgs("graded-node-abc", "/work", PoolSpec{
		Language:      "node",
		Image:         "node:20-slim",
		ContainerPort: 3000,
	})
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "--network bridge") {
		t.Errorf("Port-mapped sandbox should use bridge network: %s", joined)
	}
	if !strings.Contains(joined, "-p 127.0.0.1::3000") {
		t.Errorf("Missing ephemeral port publish: %s", joined)
	}
}

func TestLimitedWriterTruncates(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}

	n, err := lw.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// Reports full consumption so exec's copier never sees a short write.
	if n != 11 {
		t.Errorf("Expected reported n=11, got %d", n)
	}
	if buf.String() != "hello" {
		t.Errorf("Expected truncated buffer, got %q", buf.String())
	}
	if !lw.truncated {
		t.Error("Expected truncated flag")
	}

	n, _ = lw.Write([]byte("more"))
	if n != 4 || buf.Len() != 5 {
		t.Errorf("Writes past the cap should be discarded (n=%d len=%d)", n, buf.Len())
	}
}
