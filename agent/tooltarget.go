package agent

import (
	"path/filepath"
	"strings"
)

// toolTargetConfig describes how to pull a short human-readable target
// out of one tool's input.
type toolTargetConfig struct {
	field       string
	shortenPath bool
	maxLen      int
}

var toolTargetConfigs = map[string]toolTargetConfig{
	"Read":         {field: "file_path", shortenPath: true},
	"Edit":         {field: "file_path", shortenPath: true},
	"Write":        {field: "file_path", shortenPath: true},
	"NotebookEdit": {field: "notebook_path", shortenPath: true},
	"Glob":         {field: "pattern"},
	"Grep":         {field: "pattern"},
	"Bash":         {field: "command", maxLen: 40},
	"WebFetch":     {field: "url"},
	"WebSearch":    {field: "query"},
	"Task":         {field: "description"},
}

// MutatingTools are the tools whose invocation implies a file change.
var MutatingTools = map[string]string{
	"Write":        "created",
	"Edit":         "modified",
	"NotebookEdit": "modified",
}

// ToolTarget derives a short label for a tool invocation, such as a file
// name, a truncated shell command or a search pattern. Returns "" when
// the input carries nothing presentable.
func ToolTarget(name string, input map[string]any) string {
	cfg, ok := toolTargetConfigs[name]
	if !ok {
		return ""
	}
	raw, ok := input[cfg.field].(string)
	if !ok || raw == "" {
		return ""
	}
	if cfg.shortenPath {
		return filepath.Base(raw)
	}
	if cfg.maxLen > 0 && len(raw) > cfg.maxLen {
		return strings.TrimSpace(raw[:cfg.maxLen]) + "..."
	}
	return raw
}

// ToolFilePath extracts the full path argument of a file-mutating tool.
func ToolFilePath(name string, input map[string]any) string {
	cfg, ok := toolTargetConfigs[name]
	if !ok || !cfg.shortenPath {
		return ""
	}
	path, _ := input[cfg.field].(string)
	return path
}
