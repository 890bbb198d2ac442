// Command lessonstate serves and inspects learner exercise progress.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lessonstate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
