package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "List conversation states and their flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeStates(cmd.OutOrStdout(), conversation.DefaultPolicy(), outputJSON)
	},
}

type stateInfo struct {
	State            conversation.State `json:"state"`
	MicrophoneActive bool               `json:"microphone_active"`
	Interruptible    bool               `json:"interruptible"`
	Active           bool               `json:"active"`
	Terminal         bool               `json:"terminal"`
}

func describeStates(p *conversation.Policy) []stateInfo {
	states := conversation.States()
	out := make([]stateInfo, 0, len(states))
	for _, s := range states {
		out = append(out, stateInfo{
			State:            s,
			MicrophoneActive: p.MicrophoneActive(s),
			Interruptible:    p.Interruptible(s),
			Active:           p.Active(s),
			Terminal:         s.IsTerminal(),
		})
	}
	return out
}

func writeStates(w io.Writer, p *conversation.Policy, asJSON bool) error {
	infos := describeStates(p)
	if asJSON {
		return printJSON(w, infos)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tMIC\tINTERRUPTIBLE\tACTIVE\tTERMINAL")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			info.State,
			yesNo(info.MicrophoneActive),
			yesNo(info.Interruptible),
			yesNo(info.Active),
			yesNo(info.Terminal),
		)
	}
	return tw.Flush()
}
