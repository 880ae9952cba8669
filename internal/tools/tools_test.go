package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "mcp_fs_read", `{}`)
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("Execute() error = %v, want *ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "mcp_fs_read" {
		t.Errorf("ToolName = %q, want %q", unavailable.ToolName, "mcp_fs_read")
	}
}

func TestRegistry_ExecutePassesArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name: "echo",
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			msg, _ := args["message"].(string)
			return strings.ToUpper(msg), nil
		},
	})

	got, err := r.Execute(context.Background(), "echo", `{"message":"hi"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "HI" {
		t.Errorf("Execute() = %q, want %q", got, "HI")
	}
}

func TestRegistry_ExecuteInvalidArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name: "echo",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", nil
		},
	})

	if _, err := r.Execute(context.Background(), "echo", `{not json`); err == nil {
		t.Fatal("expected error for malformed arguments")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"mcp_git_status", "mcp_git_log", "mcp_git_hub_issues", "native"} {
		r.Register(&Tool{Name: name})
	}

	if n := r.Remove("mcp_git_status", "mcp_git_log", "mcp_git_missing"); n != 2 {
		t.Errorf("Remove() = %d, want 2", n)
	}

	got := r.AllToolNames()
	want := []string{"mcp_git_hub_issues", "native"}
	if len(got) != len(want) {
		t.Fatalf("AllToolNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllToolNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_ListIsSortedFunctionDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "zeta", Description: "last"})
	r.Register(&Tool{Name: "alpha", Description: "first", Parameters: map[string]any{"type": "object"}})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(list))
	}
	if list[0]["type"] != "function" {
		t.Errorf("type = %v, want function", list[0]["type"])
	}
	fn, ok := list[0]["function"].(map[string]any)
	if !ok {
		t.Fatalf("function = %T, want map[string]any", list[0]["function"])
	}
	if fn["name"] != "alpha" {
		t.Errorf("first tool = %v, want alpha", fn["name"])
	}
}

func TestRegistry_RegisterReplacesAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "once", Description: "first"})
	r.Register(&Tool{Name: "once", Description: "second"})
	got := r.Get("once")
	if got == nil {
		t.Fatal("Get() = nil after Register")
	}
	if got.Description != "second" {
		t.Errorf("Description = %q, want second", got.Description)
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}
}
