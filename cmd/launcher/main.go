// Command launcher starts database-mcp-server from its own installation
// directory, so relative configuration paths resolve next to the binaries.
package main

import (
	"os"

	"github.com/FreePeak/database-mcp-server/internal/launcher"
)

func main() {
	os.Exit(launcher.Main(os.Args[1:]))
}
