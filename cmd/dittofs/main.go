// Command dittofs runs the FTP/FTPS, NFSv3, and SMB2/3 protocol adapters
// against a set of shares supplied by the embedding deployment.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittofs/cmd/dittofs/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
