// Command rlm-guest is the standalone sandbox process: it speaks the
// length-prefixed JSON protocol over stdin/stdout, executing code against a
// persistent rlmexpr namespace and brokering llm_query/llm_query_batch
// callbacks back to whatever host process launched it.
package main

import (
	"fmt"
	"os"

	"github.com/shesha/rlmcore/internal/rlmsandbox/runner"
	"github.com/shesha/rlmcore/internal/rlmsandbox/wire"
)

func main() {
	conn := wire.StdioConn{R: os.Stdin, W: os.Stdout}
	r := runner.New(conn, wire.NoMultiplexTags)
	if err := r.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "rlm-guest: %v\n", err)
		os.Exit(1)
	}
}
