// Command murmurd is the daemon and hook-proxy entrypoint described at
// §1/§6: `murmurd run` starts the long-lived supervisor; `murmurd hook
// <event>` is re-invoked by agent subprocesses to proxy PreToolUse,
// PermissionRequest and Stop events back to the running daemon.
package main

import (
	"fmt"
	"os"

	"github.com/karan-zipline/murmur/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
