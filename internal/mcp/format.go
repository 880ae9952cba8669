package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// toolErrorMarker prefixes the rendering of a result flagged isError.
const toolErrorMarker = "[tool error] "

// FormattedResult is a tool result rendered for a language model,
// alongside the untouched structured data.
type FormattedResult struct {
	Text              string
	StructuredContent json.RawMessage
	Result            *CallToolResult
}

// Format renders a tool result as plain text. Text blocks are copied
// verbatim, binary blocks become placeholders, and blocks are joined
// by newlines. Structured content is appended as indented JSON after a
// blank line. An isError result is prefixed with "[tool error] ".
func Format(r *CallToolResult) string {
	if r == nil {
		return ""
	}

	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		parts = append(parts, formatContent(c))
	}
	text := strings.Join(parts, "\n")

	if len(r.StructuredContent) > 0 {
		structured := indentJSON(r.StructuredContent)
		if text != "" {
			text += "\n\n"
		}
		text += structured
	}

	if r.IsError {
		text = toolErrorMarker + text
	}
	return text
}

func formatContent(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return v.Text
	case ImageContent:
		return binaryPlaceholder("image", v.MIMEType, v.Data)
	case AudioContent:
		return binaryPlaceholder("audio", v.MIMEType, v.Data)
	case ResourceLinkContent:
		name := v.Name
		if v.Title != "" {
			name = v.Title
		}
		return fmt.Sprintf("[resource: %s <%s>]", name, v.URI)
	case EmbeddedResourceContent:
		if v.Resource.Text != "" {
			return v.Resource.Text
		}
		if v.Resource.Blob != "" {
			return binaryPlaceholder("resource", v.Resource.MIMEType, v.Resource.Blob)
		}
		return fmt.Sprintf("[resource: <%s>]", v.Resource.URI)
	case UnknownContent:
		return fmt.Sprintf("[%s]", v.Type)
	default:
		return fmt.Sprintf("[%s]", c.ContentType())
	}
}

func binaryPlaceholder(kind, mimeType, data string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("[%s: %s, %s]", kind, mimeType, humanize.Bytes(decodedLen(data)))
}

// decodedLen is the byte length of standard base64 data, without
// decoding it.
func decodedLen(data string) uint64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	padding := 0
	if strings.HasSuffix(data, "==") {
		padding = 2
	} else if strings.HasSuffix(data, "=") {
		padding = 1
	}
	size := n*3/4 - padding
	if size < 0 {
		return 0
	}
	return uint64(size)
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// toolErrorMessage is the text of an isError result without the
// marker, used as the ToolExecutionError message.
func toolErrorMessage(r *CallToolResult) string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		parts = append(parts, formatContent(c))
	}
	return strings.Join(parts, "\n")
}

// FormatToolList renders a catalog as a compact listing, one tool per
// line with its description, followed by its input schema.
func FormatToolList(tools []ToolDescriptor) string {
	if len(tools) == 0 {
		return "(no tools)"
	}

	var sb strings.Builder
	for i, t := range tools {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(t.Name)
		if t.Title != "" && t.Title != t.Name {
			fmt.Fprintf(&sb, " (%s)", t.Title)
		}
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
		sb.WriteString("\n")
		if len(t.InputSchema) > 0 {
			sb.WriteString("  input: ")
			var compact bytes.Buffer
			if err := json.Compact(&compact, t.InputSchema); err != nil {
				sb.Write(t.InputSchema)
			} else {
				sb.Write(compact.Bytes())
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
