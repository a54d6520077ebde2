package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Nyukimin/picoagent/pkg/permission"
)

const maxListEntries = 1000

// Workspace resolves tool paths against a root directory. With restriction
// on, paths escaping the root are rejected.
type Workspace struct {
	Root     string
	Restrict bool
}

func (w Workspace) resolve(path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	p = filepath.Clean(p)
	if w.Restrict {
		root := filepath.Clean(w.Root)
		if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
			return "", fmt.Errorf("path %s is outside the workspace", path)
		}
	}
	return p, nil
}

// ReadFileTool reads a file inside the workspace.
type ReadFileTool struct{ WS Workspace }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace" }
func (t *ReadFileTool) Parameters() Schema {
	return ObjectSchema(map[string]interface{}{
		"path": Prop("string", "File path, absolute or relative to the workspace"),
	}, "path")
}
func (t *ReadFileTool) RequiredPermission() permission.Level { return permission.LevelRead }

func (t *ReadFileTool) Execute(_ context.Context, args map[string]interface{}) ToolResult {
	path, err := requireString(args, "path")
	if err != nil {
		return Fail("%v", err)
	}
	resolved, err := t.WS.resolve(path)
	if err != nil {
		return Fail("%v", err)
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return Fail("failed to read file: %v", err)
	}
	return Ok(string(content))
}

// WriteFileTool writes a file inside the workspace, creating parent
// directories as needed.
type WriteFileTool struct{ WS Workspace }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file in the workspace" }
func (t *WriteFileTool) Parameters() Schema {
	return ObjectSchema(map[string]interface{}{
		"path":    Prop("string", "File path, absolute or relative to the workspace"),
		"content": Prop("string", "Content to write"),
	}, "path", "content")
}
func (t *WriteFileTool) RequiredPermission() permission.Level { return permission.LevelWrite }

func (t *WriteFileTool) Execute(_ context.Context, args map[string]interface{}) ToolResult {
	path, err := requireString(args, "path")
	if err != nil {
		return Fail("%v", err)
	}
	content, ok := args["content"].(string)
	if !ok {
		return Fail("'content' argument is required and must be a string")
	}
	resolved, err := t.WS.resolve(path)
	if err != nil {
		return Fail("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Fail("failed to create directory: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Fail("failed to write file: %v", err)
	}
	return Ok(fmt.Sprintf("File: %s (%d bytes written)", resolved, len(content)))
}

// ListDirTool lists directory entries, directories suffixed with a slash.
type ListDirTool struct{ WS Workspace }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a directory in the workspace" }
func (t *ListDirTool) Parameters() Schema {
	return ObjectSchema(map[string]interface{}{
		"path": Prop("string", "Directory path, absolute or relative to the workspace"),
	}, "path")
}
func (t *ListDirTool) RequiredPermission() permission.Level { return permission.LevelRead }

func (t *ListDirTool) Execute(_ context.Context, args map[string]interface{}) ToolResult {
	path, err := requireString(args, "path")
	if err != nil {
		return Fail("%v", err)
	}
	resolved, err := t.WS.resolve(path)
	if err != nil {
		return Fail("%v", err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Fail("failed to read directory: %v", err)
	}

	var out strings.Builder
	for i, entry := range entries {
		if i >= maxListEntries {
			out.WriteString("... (truncated, too many entries)\n")
			break
		}
		if entry.IsDir() {
			out.WriteString(entry.Name() + "/\n")
		} else {
			out.WriteString(entry.Name() + "\n")
		}
	}
	return Ok(out.String())
}

// ExecTool runs a shell command with the workspace as working directory.
type ExecTool struct{ WS Workspace }

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Run a shell command in the workspace" }
func (t *ExecTool) Parameters() Schema {
	return ObjectSchema(map[string]interface{}{
		"command": Prop("string", "Shell command to run"),
	}, "command")
}
func (t *ExecTool) RequiredPermission() permission.Level { return permission.LevelExecute }

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) ToolResult {
	command, err := requireString(args, "command")
	if err != nil {
		return Fail("%v", err)
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.WS.Root
	output, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Fail("command failed: %v", err)
		}
	}
	text := fmt.Sprintf("Exit: %d\n%s", exitCode, string(output))
	if exitCode != 0 {
		return ToolResult{Success: false, Output: text, Error: fmt.Sprintf("command exited with status %d", exitCode)}
	}
	return Ok(text)
}
