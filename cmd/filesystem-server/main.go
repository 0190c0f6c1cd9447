// Command filesystem-server serves read_file, write_file, list_directory and
// create_directory over stdio.
package main

import (
	"github.com/jg-phare/devorch/internal/providercmd"
	"github.com/jg-phare/devorch/pkg/tools"
)

func main() {
	providercmd.Main(providercmd.Spec{
		Name:     "filesystem-server",
		Short:    "Filesystem tool provider",
		DirFlag:  "root",
		DirUsage: "directory relative paths resolve against",
		Tools:    tools.FilesystemTools,
	})
}
