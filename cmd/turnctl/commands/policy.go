package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the transition table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writePolicy(cmd.OutOrStdout(), conversation.DefaultPolicy(), outputJSON)
	},
}

type policyDocument struct {
	Edges           map[conversation.State][]conversation.State `json:"edges"`
	InterruptTarget conversation.State                          `json:"interrupt_target"`
}

func writePolicy(w io.Writer, p *conversation.Policy, asJSON bool) error {
	if asJSON {
		return printJSON(w, policyDocument{
			Edges:           p.Edges(),
			InterruptTarget: p.InterruptTarget(),
		})
	}

	if _, err := io.WriteString(w, p.String()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "interrupt -> %s\n", p.InterruptTarget())
	return err
}
