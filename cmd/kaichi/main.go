// Kaichi is a self-improving code-generation agent. It observes a target
// project, proposes learning tasks, generates and executes programs in an
// isolated sandbox, and distills successful programs into a semantic skill
// library that seeds future iterations.
package main

import (
	"os"
	"runtime/debug"

	"github.com/imjszhang/wiseflow/internal/commands"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
