package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/kaiho/agentloop/internal/policy"
)

const (
	readMaxBytes     = 200 * 1024
	readMaxChars     = 4000
	redactedSentinel = "[REDACTED]"
	truncationMarker = "\n... [truncated]"
)

// secretLinePattern matches KEY=value lines whose key names a credential,
// case-insensitively, so the value half can be replaced before the file
// content ever reaches the model.
var secretLinePattern = regexp.MustCompile(
	`(?i)\b(API_KEY|GROK_API_KEY|OPENAI_API_KEY|ANTHROPIC_API_KEY|TOKEN|SECRET|PASSWORD)\s*=\s*[^\r\n]*`,
)

func redactSecrets(content string) string {
	return secretLinePattern.ReplaceAllStringFunc(content, func(m string) string {
		loc := secretLinePattern.FindStringSubmatchIndex(m)
		if loc == nil {
			return m
		}
		key := m[loc[2]:loc[3]]
		return key + "=" + redactedSentinel
	})
}

type readFileArgs struct {
	Path string `json:"path"`
}

type readFileResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated"`
	Redacted  bool   `json:"redacted"`
}

func readFileSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to read, relative to the project root"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

func (r *Registry) readFileTool(ctx context.Context, purpose policy.Purpose, args json.RawMessage) (any, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	resolved, err := r.engine.ValidatePath(a.Path, policy.AccessRead, purpose)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path %q is a directory", a.Path)
	}
	if info.Size() > readMaxBytes {
		return nil, fmt.Errorf("file %q is %d bytes, exceeding the %d byte cap", a.Path, info.Size(), readMaxBytes)
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	content := string(raw)
	wasRedacted := secretLinePattern.MatchString(content)
	if wasRedacted {
		content = redactSecrets(content)
	}

	truncated := false
	runes := []rune(content)
	if len(runes) > readMaxChars {
		content = string(runes[:readMaxChars]) + truncationMarker
		truncated = true
	}

	return readFileResult{
		Path:      a.Path,
		Content:   content,
		Bytes:     len(raw),
		Truncated: truncated,
		Redacted:  wasRedacted,
	}, nil
}
