package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/agentd/internal/tool"
)

// maxReadBytes caps how much of a file the builtin read operation returns.
const maxReadBytes = 256 * 1024

// registerBuiltinTools installs the small default tool set. Real
// deployments register their own invokers (web fetch, code search,
// knowledge graph) alongside or instead of these.
func registerBuiltinTools(reg *tool.Registry) {
	reg.Register("echo", tool.InvokerFunc(echoTool))
	reg.Register("fileops", tool.InvokerFunc(fileopsTool))
}

// echoTool reflects its arguments back. Useful for plan smoke tests.
func echoTool(_ context.Context, inv tool.Invocation) (tool.Result, error) {
	return tool.Result{Output: map[string]any{
		"operation": inv.Operation,
		"args":      inv.Args,
	}}, nil
}

// fileopsTool provides read-only filesystem operations.
func fileopsTool(_ context.Context, inv tool.Invocation) (tool.Result, error) {
	path, _ := inv.Args["path"].(string)
	if path == "" {
		return tool.Result{}, fmt.Errorf("fileops: path argument is required")
	}

	switch inv.Operation {
	case "list":
		entries, err := os.ReadDir(path)
		if err != nil {
			return tool.Result{}, fmt.Errorf("fileops list: %w", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += string(filepath.Separator)
			}
			names = append(names, name)
		}
		return tool.Result{Output: names}, nil

	case "read":
		f, err := os.Open(path)
		if err != nil {
			return tool.Result{}, fmt.Errorf("fileops read: %w", err)
		}
		defer f.Close()

		buf := make([]byte, maxReadBytes)
		n, err := f.Read(buf)
		if err != nil && n == 0 {
			return tool.Result{}, fmt.Errorf("fileops read: %w", err)
		}
		return tool.Result{Output: string(buf[:n])}, nil

	default:
		return tool.Result{}, fmt.Errorf("fileops: unknown operation %q", inv.Operation)
	}
}
