package agent

import "testing"

func TestToolTarget(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  string
	}{
		{"read basename", "Read", map[string]any{"file_path": "/home/u/proj/main.go"}, "main.go"},
		{"edit basename", "Edit", map[string]any{"file_path": "a/b/c.txt"}, "c.txt"},
		{"glob pattern", "Glob", map[string]any{"pattern": "**/*.go"}, "**/*.go"},
		{"bash short", "Bash", map[string]any{"command": "ls -la"}, "ls -la"},
		{"bash truncated", "Bash", map[string]any{"command": "find . -type f -name '*.go' -exec grep -l TODO {} +"}, "find . -type f -name '*.go' -exec grep -..."},
		{"webfetch url", "WebFetch", map[string]any{"url": "https://example.com"}, "https://example.com"},
		{"unknown tool", "Mystery", map[string]any{"x": "y"}, ""},
		{"missing field", "Read", map[string]any{}, ""},
		{"non-string field", "Read", map[string]any{"file_path": 42}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToolTarget(tt.tool, tt.input); got != tt.want {
				t.Errorf("ToolTarget(%q) = %q, want %q", tt.tool, got, tt.want)
			}
		})
	}
}

func TestToolFilePath(t *testing.T) {
	if got := ToolFilePath("Write", map[string]any{"file_path": "/tmp/out.txt"}); got != "/tmp/out.txt" {
		t.Errorf("expected full path, got %q", got)
	}
	if got := ToolFilePath("Bash", map[string]any{"command": "rm x"}); got != "" {
		t.Errorf("non-file tool should yield empty path, got %q", got)
	}
}

func TestMutatingTools(t *testing.T) {
	if MutatingTools["Write"] != "created" {
		t.Errorf("Write should imply a created file")
	}
	if MutatingTools["Edit"] != "modified" {
		t.Errorf("Edit should imply a modified file")
	}
	if _, ok := MutatingTools["Read"]; ok {
		t.Errorf("Read must not count as mutating")
	}
}
