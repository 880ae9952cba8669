package mcp

import (
	"encoding/json"
	"fmt"
)

// Content is one block of a tool result. The concrete types are
// [TextContent], [ImageContent], [AudioContent], [ResourceLinkContent],
// [EmbeddedResourceContent] and [UnknownContent].
type Content interface {
	ContentType() string
	isContent()
}

// Content type discriminants.
const (
	contentText         = "text"
	contentImage        = "image"
	contentAudio        = "audio"
	contentResourceLink = "resource_link"
	contentResource     = "resource"
)

// Annotations are optional audience and priority hints on content.
type Annotations struct {
	Audience     []string `json:"audience,omitempty"`
	Priority     *float64 `json:"priority,omitempty"`
	LastModified string   `json:"lastModified,omitempty"`
}

// TextContent is plain text.
type TextContent struct {
	Text        string       `json:"text"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// ImageContent is base64-encoded image data.
type ImageContent struct {
	Data        string       `json:"data"`
	MIMEType    string       `json:"mimeType"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// AudioContent is base64-encoded audio data.
type AudioContent struct {
	Data        string       `json:"data"`
	MIMEType    string       `json:"mimeType"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// ResourceLinkContent points at a resource the server can provide.
type ResourceLinkContent struct {
	URI         string       `json:"uri"`
	Name        string       `json:"name"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	MIMEType    string       `json:"mimeType,omitempty"`
	Size        *int64       `json:"size,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// EmbeddedResourceContent carries resource contents inline.
type EmbeddedResourceContent struct {
	Resource    ResourceContents `json:"resource"`
	Annotations *Annotations     `json:"annotations,omitempty"`
}

// ResourceContents is the body of an embedded resource: Text for
// textual resources, Blob (base64) for binary ones.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// UnknownContent preserves a block whose type this client does not
// understand.
type UnknownContent struct {
	Type string
	Raw  json.RawMessage
}

func (TextContent) ContentType() string             { return contentText }
func (ImageContent) ContentType() string            { return contentImage }
func (AudioContent) ContentType() string            { return contentAudio }
func (ResourceLinkContent) ContentType() string     { return contentResourceLink }
func (EmbeddedResourceContent) ContentType() string { return contentResource }
func (c UnknownContent) ContentType() string        { return c.Type }

func (TextContent) isContent()             {}
func (ImageContent) isContent()            {}
func (AudioContent) isContent()            {}
func (ResourceLinkContent) isContent()     {}
func (EmbeddedResourceContent) isContent() {}
func (UnknownContent) isContent()          {}

// withType marshals v and adds the "type" discriminant.
func withType(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(typ)
	return json.Marshal(fields)
}

// The alias types below strip methods so json.Marshal does not recurse.

func (c TextContent) MarshalJSON() ([]byte, error) {
	type plain TextContent
	return withType(contentText, plain(c))
}

func (c ImageContent) MarshalJSON() ([]byte, error) {
	type plain ImageContent
	return withType(contentImage, plain(c))
}

func (c AudioContent) MarshalJSON() ([]byte, error) {
	type plain AudioContent
	return withType(contentAudio, plain(c))
}

func (c ResourceLinkContent) MarshalJSON() ([]byte, error) {
	type plain ResourceLinkContent
	return withType(contentResourceLink, plain(c))
}

func (c EmbeddedResourceContent) MarshalJSON() ([]byte, error) {
	type plain EmbeddedResourceContent
	return withType(contentResource, plain(c))
}

func (c UnknownContent) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return json.Marshal(map[string]string{"type": c.Type})
	}
	return c.Raw, nil
}

// decodeContent decodes one content block by its type discriminant.
func decodeContent(raw json.RawMessage) (Content, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode content block: %w", err)
	}

	var (
		c   Content
		err error
	)
	switch head.Type {
	case contentText:
		var v TextContent
		err = json.Unmarshal(raw, &v)
		c = v
	case contentImage:
		var v ImageContent
		err = json.Unmarshal(raw, &v)
		c = v
	case contentAudio:
		var v AudioContent
		err = json.Unmarshal(raw, &v)
		c = v
	case contentResourceLink:
		var v ResourceLinkContent
		err = json.Unmarshal(raw, &v)
		c = v
	case contentResource:
		var v EmbeddedResourceContent
		err = json.Unmarshal(raw, &v)
		c = v
	default:
		c = UnknownContent{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", head.Type, err)
	}
	return c, nil
}

// CallToolResult is the result of a tools/call request.
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// UnmarshalJSON decodes each content block into its concrete type.
func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		Content           []json.RawMessage `json:"content"`
		StructuredContent json.RawMessage   `json:"structuredContent"`
		IsError           bool              `json:"isError"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	content := make([]Content, 0, len(wire.Content))
	for _, raw := range wire.Content {
		c, err := decodeContent(raw)
		if err != nil {
			return err
		}
		content = append(content, c)
	}

	r.Content = content
	r.IsError = wire.IsError
	r.StructuredContent = nil
	if len(wire.StructuredContent) > 0 && string(wire.StructuredContent) != "null" {
		r.StructuredContent = wire.StructuredContent
	}
	return nil
}

// TextResult builds a result holding a single text block.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{TextContent{Text: text}}}
}
