package report

import (
	"time"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
)

// StateStat aggregates the time a session spent in one state
type StateStat struct {
	State    conversation.State `json:"state"`
	Entries  int                `json:"entries"`
	Duration time.Duration      `json:"duration"`
}

// Summary describes a session's transition log
type Summary struct {
	Transitions   int         `json:"transitions"`
	Forced        int         `json:"forced"`
	Interruptions int         `json:"interruptions"`
	StartedAt     time.Time   `json:"started_at"`
	LastAt        time.Time   `json:"last_at"`
	States        []StateStat `json:"states"`
}

// Summarize computes per-state statistics over transitions ordered by Seq.
// The state entered by the last transition is counted up to until when until
// is after it.
func Summarize(transitions []conversation.Transition, until time.Time) Summary {
	stats := make(map[conversation.State]*StateStat)
	for _, s := range conversation.States() {
		stats[s] = &StateStat{State: s}
	}

	var sum Summary
	for i, t := range transitions {
		sum.Transitions++
		if t.Forced() {
			sum.Forced++
		}
		if t.To == conversation.StateInterrupted {
			sum.Interruptions++
		}

		st, ok := stats[t.To]
		if !ok {
			continue
		}
		st.Entries++

		end := until
		if i+1 < len(transitions) {
			end = transitions[i+1].Timestamp
		}
		if end.After(t.Timestamp) {
			st.Duration += end.Sub(t.Timestamp)
		}
	}

	if len(transitions) > 0 {
		sum.StartedAt = transitions[0].Timestamp
		sum.LastAt = transitions[len(transitions)-1].Timestamp
	}

	for _, s := range conversation.States() {
		sum.States = append(sum.States, *stats[s])
	}
	return sum
}
