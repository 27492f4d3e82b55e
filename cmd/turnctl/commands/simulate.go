package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
)

var simulateCapacity int

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a transition script against a fresh machine",
	Long: `Replay a transition script against a fresh machine.

Each step is applied in order; rejected transitions are reported and
do not stop the run.

Example script.yaml:
  initial: IDLE
  steps:
    - op: transition
      state: LISTENING
    - op: transition
      state: PROCESSING
      metadata:
        transcript: tell me about yourself
    - op: transition
      state: SPEAKING
    - op: force
      state: ERROR
      metadata:
        reason: tts failed
    - op: reset

Example:
  turnctl simulate -f script.yaml --capacity 20 --json`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simulateCapacity, "capacity", conversation.DefaultHistoryCapacity, "history capacity")
}

// Script is a replayable sequence of machine operations
type Script struct {
	Initial string `yaml:"initial" json:"initial"`
	Steps   []Step `yaml:"steps" json:"steps"`
}

// Step is one operation: transition, force or reset
type Step struct {
	Op       string                `yaml:"op" json:"op"`
	State    string                `yaml:"state" json:"state"`
	Metadata conversation.Metadata `yaml:"metadata" json:"metadata"`
}

// StepResult reports what a step did to the machine
type StepResult struct {
	Index   int                `json:"index"`
	Op      string             `json:"op"`
	Target  conversation.State `json:"target"`
	Applied bool               `json:"applied"`
	From    conversation.State `json:"from"`
	To      conversation.State `json:"to"`
	Seq     uint64             `json:"seq"`
}

// SimulationResult is the outcome of a full script run
type SimulationResult struct {
	Steps   []StepResult              `json:"steps"`
	Final   conversation.View         `json:"final"`
	History []conversation.Transition `json:"history"`
}

const (
	opTransition = "transition"
	opForce      = "force"
	opReset      = "reset"
)

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := requireInputFile(); err != nil {
		return err
	}

	var script Script
	if err := loadRequest(inputFile, &script); err != nil {
		return err
	}

	result, err := runScript(&script, simulateCapacity, time.Now)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}
	return writeSimulation(cmd.OutOrStdout(), result)
}

// runScript validates the whole script before touching the machine, so a
// malformed step never leaves a partial run behind.
func runScript(script *Script, capacity int, clock func() time.Time) (*SimulationResult, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}

	initial := conversation.StateIdle
	if strings.TrimSpace(script.Initial) != "" {
		s, err := conversation.ParseState(script.Initial)
		if err != nil {
			return nil, fmt.Errorf("initial: %w", err)
		}
		initial = s
	}

	targets := make([]conversation.State, len(script.Steps))
	for i, step := range script.Steps {
		switch strings.ToLower(strings.TrimSpace(step.Op)) {
		case opTransition, opForce:
			s, err := conversation.ParseState(step.State)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
			targets[i] = s
		case opReset:
			targets[i] = conversation.StateIdle
		default:
			return nil, fmt.Errorf("step %d: unknown op %q", i+1, step.Op)
		}
	}

	m := conversation.NewMachine(initial,
		conversation.WithHistoryCapacity(capacity),
		conversation.WithClock(clock),
		conversation.WithID("simulation"),
	)

	result := &SimulationResult{Steps: make([]StepResult, 0, len(script.Steps))}
	for i, step := range script.Steps {
		op := strings.ToLower(strings.TrimSpace(step.Op))
		sr := StepResult{Index: i + 1, Op: op, Target: targets[i], From: m.State()}

		switch op {
		case opTransition:
			sr.Applied = m.Transition(targets[i], step.Metadata)
		case opForce:
			m.ForceState(targets[i], step.Metadata)
			sr.Applied = true
		case opReset:
			m.Reset()
			sr.Applied = true
		}

		view := m.Snapshot()
		sr.To = view.State
		sr.Seq = view.Seq
		result.Steps = append(result.Steps, sr)
	}

	result.Final = m.Snapshot()
	result.History = m.History(capacity)
	return result, nil
}

func writeSimulation(w io.Writer, result *SimulationResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tOP\tTARGET\tRESULT\tSTATE\tSEQ")
	for _, sr := range result.Steps {
		status := "applied"
		if !sr.Applied {
			status = "rejected"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", sr.Index, sr.Op, sr.Target, status, sr.To, sr.Seq)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nHistory (%d):\n", len(result.History))
	for _, t := range result.History {
		line := fmt.Sprintf("  #%d %s -> %s", t.Seq, t.From, t.To)
		if t.Forced() {
			line += " (forced)"
		}
		if reason := t.Reason(); reason != "" {
			line += " reason=" + reason
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\nFinal: %s (mic=%s interruptible=%s)\n",
		result.Final.State, yesNo(result.Final.MicrophoneActive), yesNo(result.Final.Interruptible))
	return nil
}
