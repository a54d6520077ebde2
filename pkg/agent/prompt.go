package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// PromptBuilder assembles the system prompt: identity, runtime facts, the
// available tool list and any bootstrap files found in the workspace.
type PromptBuilder struct {
	workspace string
	toolLines func() []string
}

func NewPromptBuilder(workspace string, toolLines func() []string) *PromptBuilder {
	return &PromptBuilder{workspace: workspace, toolLines: toolLines}
}

func (pb *PromptBuilder) Build() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	workspacePath, _ := filepath.Abs(pb.workspace)
	rt := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	parts := []string{fmt.Sprintf(`# picoagent

You are picoagent, a helpful AI assistant.

## Current Time
%s

## Runtime
%s

## Workspace
Your workspace is at: %s

## Important Rules

1. **ALWAYS use tools to perform actions** - Do NOT pretend actions were executed.
2. **Risky actions need approval** - Use the propose_action tool for anything destructive or irreversible instead of running it directly.
3. **Be helpful and accurate** - When using tools, briefly explain what you're doing.`,
		now, rt, workspacePath)}

	if section := pb.buildToolsSection(); section != "" {
		parts = append(parts, section)
	}
	if bootstrap := pb.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	return strings.Join(parts, "\n\n---\n\n")
}

func (pb *PromptBuilder) buildToolsSection() string {
	if pb.toolLines == nil {
		return ""
	}
	lines := pb.toolLines()
	if len(lines) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available Tools\n\nYou have access to the following tools:\n\n")
	for _, line := range lines {
		sb.WriteString("- " + line + "\n")
	}
	return sb.String()
}

func (pb *PromptBuilder) loadBootstrapFiles() string {
	files := []string{"AGENTS.md", "USER.md", "IDENTITY.md"}
	var result strings.Builder
	for _, filename := range files {
		data, err := os.ReadFile(filepath.Join(pb.workspace, filename))
		if err != nil {
			continue
		}
		result.WriteString(fmt.Sprintf("## %s\n\n%s\n\n", filename, string(data)))
	}
	return strings.TrimSpace(result.String())
}
