package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaiho/agentloop/internal/policy"
)

type writeFileArgs struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Overwrite bool   `json:"overwrite"`
}

type writeFileResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

func writeFileSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to write, relative to the project root"},
			"content": {"type": "string", "description": "Content to write to the file"},
			"overwrite": {"type": "boolean", "description": "Set true to replace an existing file; defaults to false"}
		},
		"required": ["path", "content"],
		"additionalProperties": false
	}`)
}

// writeFileTool writes atomically and refuses to replace an existing file
// unless overwrite is set; the write path itself is gated by purpose in the
// policy engine.
func (r *Registry) writeFileTool(ctx context.Context, purpose policy.Purpose, args json.RawMessage) (any, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	resolved, err := r.engine.ValidatePath(a.Path, policy.AccessWrite, purpose)
	if err != nil {
		return nil, err
	}

	if !a.Overwrite {
		if _, err := os.Stat(resolved); err == nil {
			return nil, fmt.Errorf("file %q already exists; pass overwrite=true to replace it", a.Path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := atomicWrite(resolved, []byte(a.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	return writeFileResult{Path: a.Path, Bytes: len(a.Content)}, nil
}

// atomicWrite writes content to a temp file in the same directory as target,
// then renames it into place, so a crash mid-write never leaves a
// partially-written target file.
func atomicWrite(target string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".agentloop-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	tmpPath = ""
	return nil
}
