package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/kaiho/agentloop/internal/policy"
)

const listDirMaxEntries = 200

type listDirArgs struct {
	Path string `json:"path"`
}

// Entry is one directory entry, typed so the model gets structured data
// instead of preformatted text.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"` // dir | file | symlink | other
}

type listDirResult struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
	Capped  bool    `json:"capped"`
}

func listDirSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path to list, relative to the project root"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

func (r *Registry) listDirTool(ctx context.Context, purpose policy.Purpose, args json.RawMessage) (any, error) {
	var a listDirArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	resolved, err := r.engine.ValidatePath(a.Path, policy.AccessRead, purpose)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })

	entries := make([]Entry, 0, len(dirEntries))
	capped := false
	for _, de := range dirEntries {
		if r.engine.IsGitignored(path.Join(a.Path, de.Name())) {
			continue
		}
		if len(entries) >= listDirMaxEntries {
			capped = true
			break
		}
		entries = append(entries, Entry{Name: de.Name(), Type: entryType(de)})
	}

	return listDirResult{Path: a.Path, Entries: entries, Capped: capped}, nil
}

func entryType(de os.DirEntry) string {
	info, err := de.Info()
	if err != nil {
		return "other"
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case info.IsDir():
		return "dir"
	case info.Mode().IsRegular():
		return "file"
	default:
		return "other"
	}
}
