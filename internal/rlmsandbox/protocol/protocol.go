// Package protocol defines the JSON message shapes exchanged between the
// sandbox executor (host) and the sandbox runner (guest) over the wire
// package's framed transport.
package protocol

import "encoding/json"

// Action identifies the kind of a host<->guest message.
type Action string

const (
	ActionSetup           Action = "setup"
	ActionExecute         Action = "execute"
	ActionReset           Action = "reset"
	ActionPing            Action = "ping"
	ActionLLMQuery        Action = "llm_query"
	ActionLLMQueryBatch   Action = "llm_query_batch"
	ActionLLMResponse     Action = "llm_response"
	ActionLLMBatchReply   Action = "llm_batch_response"
)

// Status values carried on guest replies.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the superset of fields any message on the wire may carry.
// Decoding always goes through Envelope first; callers inspect Action (or
// Status, for replies with no action) to decide how to interpret the rest.
type Envelope struct {
	Action Action `json:"action,omitempty"`
	Status string `json:"status,omitempty"`

	// Host -> guest command fields.
	Context []string `json:"context,omitempty"`
	Code    string   `json:"code,omitempty"`

	// Guest -> host llm_query / llm_query_batch fields.
	Instruction string   `json:"instruction,omitempty"`
	Content     string   `json:"content,omitempty"`
	Prompts     []string `json:"prompts,omitempty"`

	// Host -> guest llm_response / llm_batch_response fields.
	Result  string   `json:"result,omitempty"`
	Results []string `json:"results,omitempty"`
	Error   *string  `json:"error,omitempty"`

	// Guest -> host execute reply fields. Error is shared with the
	// llm_response/llm_batch_response error field above — on the wire
	// it is always the single JSON key "error", its meaning depends on
	// which action/status context it appears in.
	Stdout     string            `json:"stdout,omitempty"`
	Stderr     string            `json:"stderr,omitempty"`
	ReturnVal  json.RawMessage   `json:"return_value,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
	FinalAns   *string           `json:"final_answer,omitempty"`
	FinalVar   *string           `json:"final_var,omitempty"`
	FinalValue *string           `json:"final_value,omitempty"`

	Message string `json:"message,omitempty"`
}

// SetupCommand builds the host->guest setup message.
func SetupCommand(context []string) Envelope {
	return Envelope{Action: ActionSetup, Context: context}
}

// ExecuteCommand builds the host->guest execute message.
func ExecuteCommand(code string) Envelope {
	return Envelope{Action: ActionExecute, Code: code}
}

// ResetCommand builds the host->guest reset message.
func ResetCommand() Envelope { return Envelope{Action: ActionReset} }

// PingCommand builds the host->guest ping message.
func PingCommand() Envelope { return Envelope{Action: ActionPing} }

// LLMResponseOK builds a successful reply to a guest llm_query.
func LLMResponseOK(result string) Envelope {
	return Envelope{Action: ActionLLMResponse, Result: result}
}

// LLMResponseError builds an error reply to a guest llm_query.
func LLMResponseError(msg string) Envelope {
	return Envelope{Action: ActionLLMResponse, Error: &msg}
}

// LLMBatchResponseOK builds a successful reply to a guest llm_query_batch.
func LLMBatchResponseOK(results []string) Envelope {
	return Envelope{Action: ActionLLMBatchReply, Results: results}
}

// LLMBatchResponseError builds an error reply to a guest llm_query_batch.
func LLMBatchResponseError(msg string) Envelope {
	return Envelope{Action: ActionLLMBatchReply, Error: &msg}
}

// OKReply builds a bare {"status":"ok"} reply (setup/reset).
func OKReply() Envelope { return Envelope{Status: StatusOK} }

// PongReply builds the ping reply.
func PongReply() Envelope { return Envelope{Status: StatusOK, Message: "pong"} }

// ErrorReply builds a {"status":"error","error":...} reply for unknown
// actions or guest-side decode failures that don't need to kill the loop.
func ErrorReply(msg string) Envelope {
	return Envelope{Status: StatusError, Error: &msg}
}

// ExecuteOK builds a successful execute reply.
func ExecuteOK(stdout, stderr string, vars map[string]string) Envelope {
	return Envelope{Status: StatusOK, Stdout: stdout, Stderr: stderr, Vars: vars}
}

// ExecuteFailed builds an execute reply for a user-code failure (the guest
// code raised); this is ordinary output to the engine, not a protocol
// violation.
func ExecuteFailed(stdout, stderr, errMsg string, vars map[string]string) Envelope {
	return Envelope{Status: StatusError, Stdout: stdout, Stderr: stderr, Error: &errMsg, Vars: vars}
}

// Marshal is the default encoding; Envelope's json tags already
// describe the wire shape, so this just documents the entry point used by
// both executor and runner.
func Marshal(e Envelope) ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes a wire payload into an Envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
