// Command web-server serves web_search, fetch_page and download_asset over
// stdio.
package main

import (
	"github.com/jg-phare/devorch/internal/providercmd"
	"github.com/jg-phare/devorch/pkg/tools"
)

func main() {
	providercmd.Main(providercmd.Spec{
		Name:     "web-server",
		Short:    "Web tool provider",
		DirFlag:  "root",
		DirUsage: "directory download_asset save paths resolve against",
		Tools:    tools.WebTools,
	})
}
