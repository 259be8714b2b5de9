package runner

import (
	"net"
	"testing"
	"time"

	"github.com/shesha/rlmcore/internal/rlmsandbox/protocol"
	"github.com/shesha/rlmcore/internal/rlmsandbox/wire"
)

// hostSide exercises the runner from the "host" end of an in-memory pipe,
// sending one command and expecting one reply, or intercepting an
// llm_query/llm_query_batch callback first.
type hostSide struct {
	demux *wire.Demuxer
	conn  wire.Conn
}

func newTestPair(t *testing.T) (*Runner, *hostSide) {
	t.Helper()
	guestConn, hostConn := net.Pipe()
	t.Cleanup(func() {
		guestConn.Close()
		hostConn.Close()
	})
	r := New(guestConn, wire.NoMultiplexTags)
	h := &hostSide{demux: wire.NewDemuxer(hostConn, wire.NoMultiplexTags), conn: hostConn}
	go r.Serve()
	return r, h
}

func (h *hostSide) send(t *testing.T, env protocol.Envelope) {
	t.Helper()
	payload, err := protocol.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := wire.SendMessage(h.conn, payload, 2*time.Second); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func (h *hostSide) recv(t *testing.T) protocol.Envelope {
	t.Helper()
	msg, err := h.demux.ReadMessage(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	env, err := protocol.Unmarshal(msg)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return env
}

func TestSetupExecutePing(t *testing.T) {
	_, h := newTestPair(t)

	h.send(t, protocol.SetupCommand([]string{"doc a", "doc b"}))
	reply := h.recv(t)
	if reply.Status != protocol.StatusOK {
		t.Fatalf("setup reply = %+v, want ok", reply)
	}

	h.send(t, protocol.ExecuteCommand(`print(len(context))`))
	reply = h.recv(t)
	if reply.Status != protocol.StatusOK || reply.Stdout != "2\n" {
		t.Fatalf("execute reply = %+v, want stdout 2", reply)
	}

	h.send(t, protocol.PingCommand())
	reply = h.recv(t)
	if reply.Message != "pong" {
		t.Fatalf("ping reply = %+v, want pong", reply)
	}
}

func TestExecuteFinalAnswer(t *testing.T) {
	_, h := newTestPair(t)
	h.send(t, protocol.ExecuteCommand(`FINAL("done")`))
	reply := h.recv(t)
	if reply.FinalAns == nil || *reply.FinalAns != "done" {
		t.Fatalf("reply = %+v, want final_answer=done", reply)
	}
}

func TestExecuteFinalVar(t *testing.T) {
	_, h := newTestPair(t)
	h.send(t, protocol.ExecuteCommand("x = 99\nFINAL_VAR(\"x\")"))
	reply := h.recv(t)
	if reply.FinalVar == nil || *reply.FinalVar != "x" {
		t.Fatalf("reply = %+v, want final_var=x", reply)
	}
	if reply.FinalValue == nil || *reply.FinalValue != "99" {
		t.Fatalf("reply = %+v, want final_value=99", reply)
	}
}

func TestExecuteLLMQueryRoundTrip(t *testing.T) {
	_, h := newTestPair(t)

	type outcome struct {
		callback protocol.Envelope
		final    protocol.Envelope
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		msg, err := h.demux.ReadMessage(2 * time.Second)
		if err != nil {
			o.err = err
			done <- o
			return
		}
		o.callback, o.err = protocol.Unmarshal(msg)
		if o.err != nil {
			done <- o
			return
		}
		payload, _ := protocol.Marshal(protocol.LLMResponseOK("SUMMARY"))
		if err := wire.SendMessage(h.conn, payload, 2*time.Second); err != nil {
			o.err = err
			done <- o
			return
		}
		msg, err = h.demux.ReadMessage(2 * time.Second)
		if err != nil {
			o.err = err
			done <- o
			return
		}
		o.final, o.err = protocol.Unmarshal(msg)
		done <- o
	}()

	h.send(t, protocol.ExecuteCommand("r = llm_query(\"summarize\", \"text\")\nprint(r)"))

	o := <-done
	if o.err != nil {
		t.Fatalf("background exchange: %v", o.err)
	}
	if o.callback.Action != protocol.ActionLLMQuery {
		t.Fatalf("callback action = %q, want llm_query", o.callback.Action)
	}
	if o.callback.Instruction != "summarize" || o.callback.Content != "text" {
		t.Fatalf("callback = %+v, want instruction=summarize content=text", o.callback)
	}
	if o.final.Status != protocol.StatusOK || o.final.Stdout != "SUMMARY\n" {
		t.Fatalf("final reply = %+v, want stdout SUMMARY", o.final)
	}
}

func TestExecuteReportsUndefinedNameAsError(t *testing.T) {
	_, h := newTestPair(t)
	h.send(t, protocol.ExecuteCommand(`print(undefined)`))
	reply := h.recv(t)
	if reply.Status != protocol.StatusError || reply.Error == nil {
		t.Fatalf("reply = %+v, want status=error with Error set", reply)
	}
}

func TestResetClearsUserVarsKeepsBuiltins(t *testing.T) {
	_, h := newTestPair(t)
	h.send(t, protocol.ExecuteCommand(`x = 1`))
	h.recv(t)

	h.send(t, protocol.ResetCommand())
	if reply := h.recv(t); reply.Status != protocol.StatusOK {
		t.Fatalf("reset reply = %+v, want ok", reply)
	}

	h.send(t, protocol.ExecuteCommand(`print(callable(FINAL))
print(x)`))
	reply := h.recv(t)
	if reply.Status != protocol.StatusError {
		t.Fatalf("expected NameError for x after reset, got %+v", reply)
	}
	if reply.Stdout != "True\n" {
		t.Fatalf("stdout = %q, want builtins still callable after reset", reply.Stdout)
	}
}
