// Package runner implements the guest side of the sandbox protocol: a
// command loop that decodes framed Envelopes, executes code against a
// persistent rlmexpr namespace, and brokers llm_query/llm_query_batch
// callbacks back to the host over the same connection. It runs either
// in-process (wired to a net.Pipe, for tests) or as the standalone
// cmd/rlm-guest binary over stdin/stdout — same loop either way.
package runner

import (
	"fmt"

	"github.com/shesha/rlmcore/internal/rlmexpr"
	"github.com/shesha/rlmcore/internal/rlmsandbox/protocol"
	"github.com/shesha/rlmcore/internal/rlmsandbox/wire"
)

// DefaultCallbackTimeout bounds how long the runner waits for a host reply
// to an llm_query/llm_query_batch request before giving up.
const DefaultCallbackTimeout = wire.MaxReadDuration

// Runner owns one guest-side connection and its persistent evaluation
// namespace. A Runner is not safe for concurrent use; the protocol is
// strictly request/reply.
type Runner struct {
	demux  *wire.Demuxer
	conn   wire.Conn
	interp *rlmexpr.Interp
}

// New builds a Runner over conn. tags selects the transport's multiplex
// header recognition set (wire.NoMultiplexTags for stdio/pipes).
func New(conn wire.Conn, tags map[byte]bool) *Runner {
	return &Runner{
		demux:  wire.NewDemuxer(conn, tags),
		conn:   conn,
		interp: rlmexpr.NewInterp(nil),
	}
}

// Serve runs the command loop until the connection closes or a decode
// failure occurs, mirroring the reference runner's fail-closed behavior:
// invalid JSON on the wire ends the loop rather than risking processing of
// a corrupted stream.
func (r *Runner) Serve() error {
	for {
		msg, err := r.demux.ReadMessage(DefaultCallbackTimeout)
		if err != nil {
			return err
		}
		env, err := protocol.Unmarshal(msg)
		if err != nil {
			return fmt.Errorf("runner: invalid JSON from host: %w", err)
		}
		reply, stop := r.dispatch(env)
		if err := r.send(reply); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

func (r *Runner) send(env protocol.Envelope) error {
	payload, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return wire.SendMessage(r.conn, payload, wire.DefaultSendTimeout)
}

func (r *Runner) dispatch(env protocol.Envelope) (protocol.Envelope, bool) {
	switch env.Action {
	case protocol.ActionSetup:
		r.interp.SetContext(env.Context)
		return protocol.OKReply(), false
	case protocol.ActionExecute:
		return r.execute(env.Code), false
	case protocol.ActionReset:
		r.interp.Reset()
		return protocol.OKReply(), false
	case protocol.ActionPing:
		return protocol.PongReply(), false
	default:
		return protocol.ErrorReply(fmt.Sprintf("Unknown action: %s", env.Action)), false
	}
}

// execute runs one code block. llm_query/llm_query_batched calls made from
// within the code round-trip synchronously over the same connection before
// execute returns, by design — the guest blocks mid-statement exactly the
// way the reference implementation blocks on stdin.
func (r *Runner) execute(code string) protocol.Envelope {
	r.interp.BeginExecution()
	r.interp.LLMQuery = func(instruction, content string) (string, error) {
		return r.roundTripLLMQuery(instruction, content)
	}
	r.interp.LLMQueryBatch = func(prompts []string) ([]string, error) {
		return r.roundTripLLMQueryBatch(prompts)
	}

	stmts, err := rlmexpr.Parse(code)
	if err != nil {
		return protocol.ExecuteFailed("", "", err.Error(), r.interp.Env.UserVars())
	}

	runErr := r.interp.Run(stmts)
	vars := r.interp.Env.UserVars()
	stdout := string(r.interp.Stdout)

	if runErr != nil {
		return protocol.ExecuteFailed(stdout, "", runErr.Error(), vars)
	}

	reply := protocol.ExecuteOK(stdout, "", vars)
	if r.interp.FinalAnswer != nil {
		reply.FinalAns = r.interp.FinalAnswer
	} else if r.interp.FinalIsVar {
		name := r.interp.FinalVarName
		reply.FinalVar = &name
		value := ""
		if v, ok := r.interp.Env.Get(name); ok {
			value = v.Repr()
		}
		reply.FinalValue = &value
	}
	return reply
}

func (r *Runner) roundTripLLMQuery(instruction, content string) (string, error) {
	req := protocol.Envelope{Action: protocol.ActionLLMQuery, Instruction: instruction, Content: content}
	if err := r.send(req); err != nil {
		return "", err
	}
	resp, err := r.awaitReply(protocol.ActionLLMResponse)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s", *resp.Error)
	}
	return resp.Result, nil
}

func (r *Runner) roundTripLLMQueryBatch(prompts []string) ([]string, error) {
	req := protocol.Envelope{Action: protocol.ActionLLMQueryBatch, Prompts: prompts}
	if err := r.send(req); err != nil {
		return nil, err
	}
	resp, err := r.awaitReply(protocol.ActionLLMBatchReply)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s", *resp.Error)
	}
	return resp.Results, nil
}

func (r *Runner) awaitReply(want protocol.Action) (protocol.Envelope, error) {
	msg, err := r.demux.ReadMessage(DefaultCallbackTimeout)
	if err != nil {
		return protocol.Envelope{}, err
	}
	env, err := protocol.Unmarshal(msg)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("runner: invalid JSON from host: %w", err)
	}
	if env.Action != want {
		return protocol.Envelope{}, fmt.Errorf("runner: unexpected response action %q, want %q", env.Action, want)
	}
	return env, nil
}
