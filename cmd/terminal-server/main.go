// Command terminal-server serves run_command and install_dependencies over
// stdio.
package main

import (
	"github.com/jg-phare/devorch/internal/providercmd"
	"github.com/jg-phare/devorch/pkg/tools"
)

func main() {
	providercmd.Main(providercmd.Spec{
		Name:     "terminal-server",
		Short:    "Terminal tool provider",
		DirFlag:  "cwd",
		DirUsage: "default working directory for commands",
		Tools:    tools.TerminalTools,
	})
}
