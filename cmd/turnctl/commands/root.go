package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	inputFile  string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "turnctl",
	Short: "Interview turn-taking policy tool",
	Long: `turnctl - inspect the interview turn-taking policy.

Examples:
  # List every state with its microphone and interrupt flags
  turnctl states

  # Print the transition table
  turnctl policy --json | jq '.edges.SPEAKING'

  # Replay a script against a fresh machine
  turnctl simulate -f script.yaml
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&inputFile, "file", "f", "", "input file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")

	rootCmd.AddCommand(statesCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(simulateCmd)
}
