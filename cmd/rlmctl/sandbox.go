package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/shesha/rlmcore/internal/rlmsandbox/executor"
	"github.com/shesha/rlmcore/internal/rlmsandbox/pool"
	"github.com/shesha/rlmcore/internal/rlmsandbox/wire"
)

// newSubprocessFactory returns a pool.Factory that launches a fresh
// rlm-guest subprocess per call and wires its stdio into a
// wire.StdioConn, the same transport cmd/rlm-guest's own main() speaks.
func newSubprocessFactory(guestPath string, mode executor.ExecutionMode) pool.Factory {
	return func(ctx context.Context) (*executor.ContainerExecutor, error) {
		cmd := exec.Command(guestPath)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("rlmctl: stdout pipe: %w", err)
		}
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("rlmctl: stdin pipe: %w", err)
		}
		cmd.Stderr = &prefixWriter{prefix: "[rlm-guest] "}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("rlmctl: start guest process: %w", err)
		}

		conn := wire.StdioConn{R: stdout, W: stdin}
		exe := executor.New(conn, wire.NoMultiplexTags, nil, mode)
		return exe, nil
	}
}

// prefixWriter prepends prefix to every Write call, so a guest process's
// stderr interleaves legibly with the host's own log output.
type prefixWriter struct {
	prefix string
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	fmt.Print(w.prefix, string(p))
	return len(p), nil
}
