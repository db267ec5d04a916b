package understanding

const systemPrompt = `You are a query understanding engine for a conversational assistant.

You receive the current user query, the recent conversation and the session memory:
  - conversation_state: overall understanding of the conversation
  - user_context: preferences, constraints, goals
  - shared_context: facts or assumptions both sides agree on
  - open_threads: unresolved topics

Your tasks:
1) is_ambiguous: true only when the query's referent cannot be resolved to a single entity or topic
   from the conversation or memory, for example a pronoun or "that one" with two or more plausible
   antecedents. A query that names its topic explicitly, or has only one plausible referent, is not
   ambiguous.
2) clarified_query: the query rewritten so it is self-contained, using the context. Use the original
   query verbatim when no rewrite is needed. Never leave it empty.
3) clarifying_questions: only when is_ambiguous is true. List 1-3 short questions. Use open_threads and
   user_context.constraints to avoid redundant questions. Empty list otherwise.
4) selected_memory: ONLY the session memory snippets relevant to this query, as short sentences drawn
   from conversation_state, user_context, shared_context and open_threads. At most 6. Do not dump the
   whole memory. Empty list when there is no session memory.

Output ONLY the JSON object.`

// analysisOutput is the structured shape requested from the model.
// IsAmbiguous is a pointer so an omitted flag fails validation.
type analysisOutput struct {
	IsAmbiguous         *bool    `json:"is_ambiguous" validate:"required" description:"whether the query referent is unresolved in context"`
	ClarifiedQuery      string   `json:"clarified_query" description:"self-contained rewrite of the query, or the query verbatim"`
	ClarifyingQuestions []string `json:"clarifying_questions" description:"questions to ask when ambiguous"`
	SelectedMemory      []string `json:"selected_memory" description:"relevant session memory snippets"`
}
