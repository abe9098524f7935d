// Command propability runs the Prop-a-bility propagation lab.
//
// The main package stays minimal: it builds the command tree and hands it to
// fang, which adds --version, completions and signal handling. All real work
// lives in internal/.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
)

const version = "0.1.0"

func main() {
	root := newRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
