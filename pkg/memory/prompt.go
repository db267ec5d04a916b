package memory

import (
	"strings"
	"time"
)

const summarySystemPrompt = `You are an expert at summarizing conversations into a session memory.
Session memory stores only stable, reusable context that improves understanding of future queries.

RULES:
1. conversation_state: 2-4 sentences describing what the conversation is about. It is the base context for every later query.
2. user_context: preferences (explicit likes and dislikes), constraints (limits such as budget or time) and goals (what the user is trying to achieve). Use empty lists when nothing applies.
3. shared_context: facts or assumptions both sides agree on, one short phrase per item.
4. open_threads: unresolved topics or open questions that may affect future queries.

Output ONLY the JSON object. Use empty lists [] where nothing applies; do not omit fields.`

type summaryUserContext struct {
	Preferences []string `json:"preferences" description:"explicit user preferences"`
	Constraints []string `json:"constraints" description:"limitations the user stated"`
	Goals       []string `json:"goals" description:"goals inferred from the conversation"`
}

// summaryOutput is the structured shape requested from the model.
type summaryOutput struct {
	ConversationState string             `json:"conversation_state" validate:"required,notblank" description:"2-4 sentences on what the conversation is about"`
	UserContext       summaryUserContext `json:"user_context"`
	SharedContext     []string           `json:"shared_context" description:"agreed facts, one short phrase each"`
	OpenThreads       []string           `json:"open_threads" description:"unresolved topics"`
}

func (o summaryOutput) toMemory(now time.Time, scope Scope) *SessionMemory {
	return &SessionMemory{
		ID:                NewID(),
		CreatedAt:         now,
		ConversationState: strings.TrimSpace(o.ConversationState),
		UserContext: UserContext{
			Preferences: cleanItems(o.UserContext.Preferences),
			Constraints: cleanItems(o.UserContext.Constraints),
			Goals:       cleanItems(o.UserContext.Goals),
		},
		SharedContext: cleanItems(o.SharedContext),
		OpenThreads:   cleanItems(o.OpenThreads),
		Scope:         scope,
	}
}

// cleanItems trims items and drops blanks and duplicates, keeping order.
func cleanItems(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
