package mcp

import (
	"encoding/json"
	"sync"
)

// ToolDescriptor describes one tool advertised by a server.
type ToolDescriptor struct {
	Name         string           `json:"name"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	InputSchema  json.RawMessage  `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage  `json:"outputSchema,omitempty"`
	Annotations  *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolAnnotations are behavioral hints a server may attach to a tool.
// They are advisory and not enforced.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    *bool  `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// catalog is the last tool list fetched from the server. It is replaced
// wholesale on refresh so readers never see a partial list.
type catalog struct {
	mu        sync.RWMutex
	byName    map[string]ToolDescriptor
	order     []ToolDescriptor
	populated bool
}

func newCatalog() *catalog {
	return &catalog{byName: make(map[string]ToolDescriptor)}
}

// replace installs tools as the new catalog. For duplicate names the
// last descriptor wins.
func (c *catalog) replace(tools []ToolDescriptor) {
	byName := make(map[string]ToolDescriptor, len(tools))
	order := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if _, dup := byName[t.Name]; dup {
			for i := range order {
				if order[i].Name == t.Name {
					order[i] = t
				}
			}
		} else {
			order = append(order, t)
		}
		byName[t.Name] = t
	}

	c.mu.Lock()
	c.byName = byName
	c.order = order
	c.populated = true
	c.mu.Unlock()
}

func (c *catalog) clear() {
	c.mu.Lock()
	c.byName = make(map[string]ToolDescriptor)
	c.order = nil
	c.populated = false
	c.mu.Unlock()
}

func (c *catalog) lookup(name string) (ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byName[name]
	return t, ok
}

// known reports whether name may be called: true when the catalog
// lists it or has never been populated.
func (c *catalog) known(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return true
	}
	_, ok := c.byName[name]
	return ok
}

func (c *catalog) list() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ToolDescriptor(nil), c.order...)
}
