package steps

import (
	"strings"

	"patchwarden/internal/adapters"
	"patchwarden/internal/attempt"
	"patchwarden/internal/guardrails"
)

const maxContextLen = 12000

// Step is one instruction of a decomposed plan.
type Step struct {
	// Index is 1-based across the whole plan.
	Index       int
	Total       int
	Instruction string
	// Context describes the parent plan item.
	Context string
	Files   []string
	// Related lists files changed by earlier steps of the same plan.
	Related []string
}

// State is owned by a single step run and discarded when it ends.
type State struct {
	RegressionAttempts int
	AdditionalContext  string
	Tracker            *attempt.Tracker
	// Snapshot holds the earliest observed content of every file the step has looked at. It
	// feeds step.diff and rollback, never the change check.
	Snapshot guardrails.Snapshot
	// Prior is the tree manifest taken right before the current turn.
	Prior   *guardrails.Manifest
	Session adapters.Session
	Touched []string
	Turns   int
	// LastFailure is the class of the most recent recoverable failure.
	LastFailure error
}

func newState(maxThreadAttempts int) *State {
	return &State{
		Tracker:  attempt.NewTracker(maxThreadAttempts),
		Snapshot: guardrails.Snapshot{},
	}
}

// addContext appends feedback for the next turn.
func (s *State) addContext(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	if s.AdditionalContext == "" {
		s.AdditionalContext = reason
	} else {
		s.AdditionalContext += "\n\n" + reason
	}
	if r := []rune(s.AdditionalContext); len(r) > maxContextLen {
		s.AdditionalContext = string(r[len(r)-maxContextLen:])
	}
}

// setContext replaces feedback with the latest failure.
func (s *State) setContext(reason string) {
	s.AdditionalContext = ""
	s.addContext(reason)
}

func (s *State) touch(paths []string) {
	for _, p := range paths {
		found := false
		for _, t := range s.Touched {
			if t == p {
				found = true
				break
			}
		}
		if !found {
			s.Touched = append(s.Touched, p)
		}
	}
}

// knownFiles returns the plan item's files, files changed by earlier steps and files touched
// earlier in this step.
func (s *State) knownFiles(step Step) []string {
	out := append([]string(nil), step.Files...)
	out = append(out, step.Related...)
	return append(out, s.Touched...)
}

// touchedBefore returns the earliest captured state of every touched file.
func (s *State) touchedBefore() guardrails.Snapshot {
	out := make(guardrails.Snapshot, len(s.Touched))
	for _, p := range s.Touched {
		if st, ok := s.Snapshot[p]; ok {
			out[p] = st
		}
	}
	return out
}
