// Package prompt holds the text sent to the code, chat and text models.
package prompt

import (
	"fmt"
	"strings"
)

// Dialect names the SQL flavor and engine a prompt targets.
type Dialect struct {
	// Language is the SQL flavor, e.g. "DuckDB SQL" or "Google SQL".
	Language string
	// Engine is the product executing the query, e.g. "DuckDB" or "BigQuery".
	Engine string
	// Qualification tells the model how tables must be named.
	Qualification string
}

var (
	DuckDB = Dialect{
		Language:      "DuckDB SQL",
		Engine:        "DuckDB",
		Qualification: "Tables should be referred to exactly by the table_name shown in the context.",
	}
	Postgres = Dialect{
		Language:      "PostgreSQL",
		Engine:        "PostgreSQL",
		Qualification: "Tables should be referred to using a schema qualified name exactly as shown in the context.",
	}
	BigQuery = Dialect{
		Language:      "Google SQL",
		Engine:        "BigQuery",
		Qualification: "Tables should be referred to using a fully qualified name including project and dataset along with table name.",
	}
)

// DialectByName resolves a catalog dialect label. Unknown labels fall back to
// DuckDB.
func DialectByName(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql":
		return Postgres
	case "bigquery", "googlesql", "google sql":
		return BigQuery
	default:
		return DuckDB
	}
}

// Initial asks the code model for a first candidate query.
func Initial(d Dialect, question, schemaMarkdown string) string {
	return fmt.Sprintf(`Write a %s query for %s that answers the following question while correctly referring to %s tables and the needed column names. When joining tables use coercion to ensure all join columns are the same data type. Output column names should include the units when applicable. %s

Question: %s

Context:
%s`, d.Language, d.Engine, d.Engine, d.Qualification, question, schemaMarkdown)
}

// RepairContext seeds a repair conversation.
func RepairContext(d Dialect, question, query, schemaMarkdown string) string {
	return fmt.Sprintf(`This session is trying to troubleshoot a %s query that is being written to answer a question.
Question: %s

%s Query: %s

information_schema:
%s

Instructions:
As the user provides versions of the query and the errors returned by %s, offer suggestions that fix the errors but it is important that the query still answer the original question.
`, d.Language, question, d.Language, query, schemaMarkdown, d.Engine)
}

// FixRequest is the first turn of a repair round. The hint is appended only
// when includeHint is set and the hint is non-empty.
func FixRequest(query, errorPayload, hint string, includeHint bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This query:\n%s\n\nReturns these errors:\n%s\n\nPlease fix it and make sure it matches the schema.", query, errorPayload)
	if includeHint && hint != "" {
		fmt.Fprintf(&b, "\n\nHint, the error appears to be in this line of the query:\n%s", hint)
	}
	return b.String()
}

// ExtractionRequest is the second turn of a repair round.
const ExtractionRequest = "Respond with only the corrected query that still answers the question as a markdown code block."

// Answer asks the text model to summarize a result table.
func Answer(d Dialect, question, table string) string {
	return fmt.Sprintf(`Answer the following question using the provided context. Note that the context is a tabular result returned from a %s query. Do not repeat the question or the context when responding.

question:
%s
context:
%s`, d.Engine, question, table)
}
