package executor

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shesha/rlmcore/internal/rlmsandbox/runner"
	"github.com/shesha/rlmcore/internal/rlmsandbox/wire"
)

// newGuestPair starts a runner on one end of an in-memory pipe and returns a
// ContainerExecutor wired to the other end, the way the engine wires a
// ContainerExecutor to a real subprocess/container's stdio.
func newGuestPair(t *testing.T, handler LLMQueryHandler, mode ExecutionMode) *ContainerExecutor {
	t.Helper()
	guestConn, hostConn := net.Pipe()
	t.Cleanup(func() {
		guestConn.Close()
		hostConn.Close()
	})
	go runner.New(guestConn, wire.NoMultiplexTags).Serve()
	return New(hostConn, wire.NoMultiplexTags, handler, mode)
}

func TestSetupAndExecute(t *testing.T) {
	exe := newGuestPair(t, nil, ModeFast)
	ctx := context.Background()

	if err := exe.Setup(ctx, []string{"doc1", "doc2", "doc3"}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	res, err := exe.Execute(ctx, `print(len(context))`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" || res.Stdout != "3\n" {
		t.Fatalf("res = %+v, want stdout 3", res)
	}
}

func TestExecuteFinalAnswer(t *testing.T) {
	exe := newGuestPair(t, nil, ModeFast)
	res, err := exe.Execute(context.Background(), `FINAL("the answer")`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FinalAnswer == nil || *res.FinalAnswer != "the answer" {
		t.Fatalf("res = %+v, want final answer", res)
	}
}

func TestExecuteLLMQueryHandlerInvoked(t *testing.T) {
	var gotInstruction, gotContent string
	handler := func(ctx context.Context, instruction, content string) (string, error) {
		gotInstruction, gotContent = instruction, content
		return "handled", nil
	}
	exe := newGuestPair(t, handler, ModeFast)

	res, err := exe.Execute(context.Background(), "r = llm_query(\"do it\", \"payload\")\nprint(r)")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotInstruction != "do it" || gotContent != "payload" {
		t.Fatalf("handler got (%q, %q)", gotInstruction, gotContent)
	}
	if res.Stdout != "handled\n" {
		t.Fatalf("res.Stdout = %q, want handled", res.Stdout)
	}
}

func TestExecuteNoHandlerConfiguredSurfacesAsError(t *testing.T) {
	exe := newGuestPair(t, nil, ModeFast)
	res, err := exe.Execute(context.Background(), `llm_query("x", "")`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "error" || !strings.Contains(res.Error, "No LLM query handler configured") {
		t.Fatalf("res = %+v, want handler-missing error", res)
	}
}

func TestBatchFastModeRunsConcurrently(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex
	handler := func(ctx context.Context, instruction, content string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxInFlight {
			maxInFlight = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "r:" + instruction, nil
	}
	exe := newGuestPair(t, handler, ModeFast)

	start := time.Now()
	res, err := exe.Execute(context.Background(), `print(llm_query_batched(["a", "b", "c", "d"]))`)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("res = %+v, want ok", res)
	}
	if maxInFlight < 2 {
		t.Fatalf("maxInFlight = %d, want concurrent dispatch (>1)", maxInFlight)
	}
	if elapsed > 70*time.Millisecond {
		t.Fatalf("elapsed = %s, fast mode should run prompts concurrently, not sequentially", elapsed)
	}
}

func TestBatchDeepModeRunsSequentially(t *testing.T) {
	var maxInFlight int32
	var inFlight int32
	handler := func(ctx context.Context, instruction, content string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "r", nil
	}
	exe := newGuestPair(t, handler, ModeDeep)

	res, err := exe.Execute(context.Background(), `print(llm_query_batched(["a", "b", "c"]))`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("res = %+v, want ok", res)
	}
	if atomic.LoadInt32(&maxInFlight) != 1 {
		t.Fatalf("maxInFlight = %d, want exactly 1 (sequential)", maxInFlight)
	}
}

func TestBatchContentErrorFoldedInline(t *testing.T) {
	handler := func(ctx context.Context, instruction, content string) (string, error) {
		if instruction == "bad" {
			return "", &ContentError{msg: "too large"}
		}
		return "ok:" + instruction, nil
	}
	exe := newGuestPair(t, handler, ModeDeep)
	res, err := exe.Execute(context.Background(), `print(llm_query_batched(["good", "bad"]))`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Stdout, "[error: too large]") {
		t.Fatalf("res.Stdout = %q, want inline batch error", res.Stdout)
	}
	if !strings.Contains(res.Stdout, "ok:good") {
		t.Fatalf("res.Stdout = %q, want the other prompt's result preserved", res.Stdout)
	}
}

func TestProtocolViolationMarksExecutorDead(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	exe := New(client, wire.NoMultiplexTags, nil, ModeFast)

	go func() {
		// Drain the real execute command the host sent, then reply with a
		// length prefix that exceeds MaxMessageSize to trigger a protocol
		// violation on the host's read path.
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(server, lenBuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		io.CopyN(io.Discard, server, int64(n))

		bad := make([]byte, 4)
		binary.BigEndian.PutUint32(bad, wire.MaxMessageSize+1)
		server.Write(bad)
	}()

	_, err := exe.Execute(context.Background(), `print(1)`)
	if err == nil {
		t.Fatalf("expected a protocol error")
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	if exe.IsAlive() {
		t.Fatalf("executor should be marked dead after a protocol error")
	}
}
