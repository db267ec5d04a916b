package recall

import (
	"strings"

	"github.com/aixgo-dev/recall/pkg/assembler"
	"github.com/aixgo-dev/recall/pkg/understanding"
)

const responseSystemPrompt = "You are a helpful, knowledgeable assistant. " +
	"Give clear, natural answers and avoid rigid or templated phrasing."

// responsePrompt wraps the rendered final context for the answer step.
func responsePrompt(fc assembler.FinalContext, analysis *understanding.QueryAnalysis) string {
	var sb strings.Builder
	sb.WriteString("Use the context below to answer the user.\n\n")
	sb.WriteString(assembler.Render(fc, analysis.OriginalQuery))
	sb.WriteString("\n\nAnswer the CLARIFIED QUERY.")

	if analysis.IsAmbiguous {
		sb.WriteString(" The query is ambiguous in this conversation. Briefly ask the user to clarify, ")
		sb.WriteString("in a natural way, drawing on these questions:\n")
		for _, q := range analysis.ClarifyingQuestions {
			sb.WriteString("- ")
			sb.WriteString(q)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
