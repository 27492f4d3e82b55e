// Command turnctl inspects the turn-taking policy and replays transition
// scripts against an in-memory conversation machine.
package main

import (
	"fmt"
	"os"

	"github.com/garyjia/ai-interview/cmd/turnctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
