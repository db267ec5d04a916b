package memory

import (
	"encoding/json"
	"strings"
)

// FoldPolicy decides how a prior record is presented to the model when a
// new summary is requested. Every policy must pass all prior fields
// through in some form; none may drop them before the call.
type FoldPolicy interface {
	Name() string
	Fold(prior *SessionMemory) string
}

// CarryForward supplies the prior record verbatim and asks the model to
// keep whatever is still relevant.
type CarryForward struct{}

// Name implements FoldPolicy
func (CarryForward) Name() string { return "carry_forward" }

// Fold implements FoldPolicy
func (CarryForward) Fold(prior *SessionMemory) string {
	if prior == nil {
		return ""
	}
	data, err := json.MarshalIndent(prior.View(), "", "  ")
	if err != nil {
		return prior.ConversationState
	}

	var sb strings.Builder
	sb.WriteString("PREVIOUS SESSION MEMORY (covers earlier messages that are no longer shown):\n")
	sb.Write(data)
	sb.WriteString("\n\nCarry every item that is still relevant into the new memory. ")
	sb.WriteString("Update items the new messages change; drop only items the new messages resolve or contradict.")
	return sb.String()
}

// ReplaceInformed shows the prior record only as background and lets the
// new summary replace it entirely.
type ReplaceInformed struct{}

// Name implements FoldPolicy
func (ReplaceInformed) Name() string { return "replace_informed" }

// Fold implements FoldPolicy
func (ReplaceInformed) Fold(prior *SessionMemory) string {
	if prior == nil {
		return ""
	}
	data, err := json.Marshal(prior.View())
	if err != nil {
		return prior.ConversationState
	}
	return "BACKGROUND (earlier summary, for reference only):\n" + string(data)
}

// PolicyByName returns a fold policy by name; unknown names select CarryForward.
func PolicyByName(name string) FoldPolicy {
	switch name {
	case ReplaceInformed{}.Name():
		return ReplaceInformed{}
	default:
		return CarryForward{}
	}
}
