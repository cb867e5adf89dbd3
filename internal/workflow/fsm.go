// Package workflow is the conversation state machine: one Session per
// user, advanced only through the transitions listed in a Table.
package workflow

import (
	"strings"

	"trendpost/internal/config"
)

// State is the phase a session is in.
type State string

const (
	Idle       State = "IDLE"
	Discovered State = "DISCOVERED"
	Researched State = "RESEARCHED"
	Proposed   State = "PROPOSED"
)

// Command is a workflow transition trigger.
type Command string

const (
	CmdDiscover Command = "discover"
	CmdResearch Command = "research"
	CmdPropose  Command = "propose"
	CmdApprove  Command = "approve"
	CmdCancel   Command = "cancel"
)

// States lists every state, in workflow order.
var States = []State{Idle, Discovered, Researched, Proposed}

// Commands lists every command, in workflow order.
var Commands = []Command{CmdDiscover, CmdResearch, CmdPropose, CmdApprove, CmdCancel}

// Table maps state x command to the next state. A missing entry means the
// command is not valid in that state.
type Table map[State]map[Command]State

// NewTable returns the transition table for a workflow variant. The
// research variant lets a discovered post be researched before proposing;
// the direct variant goes from discovery straight to a proposal.
func NewTable(variant string) Table {
	t := Table{
		Idle: {
			CmdDiscover: Discovered,
			CmdCancel:   Idle,
		},
		Discovered: {
			CmdDiscover: Discovered,
			CmdPropose:  Proposed,
			CmdCancel:   Idle,
		},
		Researched: {
			CmdDiscover: Discovered,
			CmdPropose:  Proposed,
			CmdCancel:   Idle,
		},
		Proposed: {
			CmdDiscover: Discovered,
			CmdApprove:  Idle,
			CmdCancel:   Idle,
		},
	}
	if variant != config.VariantDirect {
		t[Discovered][CmdResearch] = Researched
	}
	return t
}

// Next returns the state cmd leads to from s.
func (t Table) Next(s State, cmd Command) (State, bool) {
	next, ok := t[s][cmd]
	return next, ok
}

// Allowed lists the commands valid from s, in workflow order.
func (t Table) Allowed(s State) []Command {
	var out []Command
	for _, c := range Commands {
		if _, ok := t[s][c]; ok {
			out = append(out, c)
		}
	}
	return out
}

var hints = map[Command]string{
	CmdDiscover: "/search <query> or /trending <topic>",
	CmdResearch: "/research <n>",
	CmdPropose:  "/propose",
	CmdApprove:  "/approve",
	CmdCancel:   "/cancel",
}

// Expected describes the next useful step from s for the user.
func (t Table) Expected(s State) string {
	var steps []string
	for _, c := range t.Allowed(s) {
		// discovery and cancel are always possible; mention them only when
		// nothing else moves the workflow forward
		if c == CmdDiscover || c == CmdCancel {
			continue
		}
		steps = append(steps, hints[c])
	}
	switch {
	case len(steps) == 0:
		return hints[CmdDiscover]
	case s == Proposed:
		return hints[CmdApprove] + " to publish or " + hints[CmdCancel] + " to discard"
	default:
		return strings.Join(steps, " or ")
	}
}
