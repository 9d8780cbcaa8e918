package generator

import (
	"strings"

	"github.com/spendlens/spendlens/pkg/models"
)

// BuildPrompt renders the grounding prompt for one question. The model
// sees schema fragments, documentation, and prior examples, most
// similar first, and is instructed to answer with a single SELECT.
func BuildPrompt(question string, rctx models.RetrievalContext) string {
	var b strings.Builder

	b.WriteString("You translate personal-finance questions into DuckDB SQL.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Respond with exactly one SELECT (or WITH ... SELECT) statement.\n")
	b.WriteString("- Never write INSERT, UPDATE, DELETE, DDL, or session commands.\n")
	b.WriteString("- Do not include SQL comments.\n")
	b.WriteString("- Use only tables and columns from the schema below.\n")

	if len(rctx.DDL) > 0 {
		b.WriteString("\nSCHEMA:\n")
		for _, e := range rctx.DDL {
			b.WriteString(e.Text)
			b.WriteString("\n")
		}
	}
	if len(rctx.Docs) > 0 {
		b.WriteString("\nNOTES:\n")
		for _, e := range rctx.Docs {
			b.WriteString("- ")
			b.WriteString(e.Text)
			b.WriteString("\n")
		}
	}
	if len(rctx.Examples) > 0 {
		b.WriteString("\nEXAMPLES:\n")
		for _, e := range rctx.Examples {
			b.WriteString(e.Text)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nQUESTION: ")
	b.WriteString(question)
	b.WriteString("\n\nRespond with the SQL statement only:")
	return b.String()
}

// stripSQLFences cleans up a model response: markdown code fences and a
// leading language tag are removed, the SQL itself is left untouched.
func stripSQLFences(response string) string {
	s := strings.TrimSpace(response)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```SQL")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
