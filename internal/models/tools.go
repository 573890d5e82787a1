package models

import (
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

const searchMemoryToolName = "search_memory"

// searchMemorySchema describes the single query parameter of the
// memory retrieval tool.
func searchMemorySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type:        "string",
				Description: "Topic or question to look up in past conversations",
			},
		},
		Required: []string{"query"},
	}
}

// formatMemoryBlock renders retrieved memories as an instruction block
// prepended to the request when any memories were found up front.
func formatMemoryBlock(memories []string) string {
	if len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<PAST_CONVERSATIONS>\n")
	sb.WriteString("The following are relevant memories from earlier conversations. ")
	sb.WriteString("Use them to stay consistent; do not quote them verbatim.\n")
	for i, m := range memories {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, m))
	}
	sb.WriteString("</PAST_CONVERSATIONS>")
	return sb.String()
}
