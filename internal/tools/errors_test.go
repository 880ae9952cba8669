package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "mcp_fs_read_file"}
	want := `tool "mcp_fs_read_file" is not available in this context`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrToolUnavailable_As(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		match bool
	}{
		{"direct", &ErrToolUnavailable{ToolName: "mcp_git_log"}, true},
		{"wrapped", fmt.Errorf("serve: %w", &ErrToolUnavailable{ToolName: "mcp_git_log"}), true},
		{"other error", errors.New("mcp: request timed out"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var target *ErrToolUnavailable
			if got := errors.As(tt.err, &target); got != tt.match {
				t.Fatalf("errors.As = %v, want %v", got, tt.match)
			}
			if tt.match && target.ToolName != "mcp_git_log" {
				t.Errorf("ToolName = %q, want mcp_git_log", target.ToolName)
			}
		})
	}
}

func TestErrToolUnavailable_AfterWithdrawal(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name: "mcp_fs_read_file",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "contents", nil
		},
	})
	if _, err := r.Execute(context.Background(), "mcp_fs_read_file", ""); err != nil {
		t.Fatalf("Execute before withdrawal: %v", err)
	}

	r.Remove("mcp_fs_read_file")

	_, err := r.Execute(context.Background(), "mcp_fs_read_file", "")
	var target *ErrToolUnavailable
	if !errors.As(err, &target) {
		t.Fatalf("Execute after withdrawal = %v, want *ErrToolUnavailable", err)
	}
}
