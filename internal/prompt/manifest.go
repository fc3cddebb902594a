package prompt

import (
	"bytes"
	"encoding/json"
	"strings"

	"poe-bridge/internal/wire"
)

// FormatTools renders tool declarations as a text manifest for the flattened prompt.
// With tool support disabled the manifest is empty.
func FormatTools(decls []wire.ToolDeclaration, enabled bool) string {
	if !enabled {
		return ""
	}
	if len(decls) == 0 {
		return noToolsSentinel
	}
	var b strings.Builder
	b.WriteString("## Available Tools for This Request\n")
	for _, decl := range decls {
		b.WriteString("- **")
		b.WriteString(decl.Name)
		b.WriteString("**: ")
		b.WriteString(decl.Description)
		b.WriteString("\n  - Parameters: `")
		b.WriteString(compactSchema(decl.Parameters))
		b.WriteString("`\n")
	}
	b.WriteString("\n")
	b.WriteString(toolCallExample)
	return b.String()
}

func compactSchema(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Compact(&out, trimmed); err != nil {
		return string(trimmed)
	}
	return out.String()
}
