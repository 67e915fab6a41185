// Package session implements durable, atomically-written conversation
// state, one JSON file per session id under a fixed directory.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaiho/agentloop/internal/provider"
)

// Session is the durable state for one conversation.
type Session struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Preview   string             `json:"preview"`
	Messages  []provider.Message `json:"messages"`
	// TurnBoundaries[i] is len(Messages) right before the (i+1)th user turn
	// was appended, letting a later `--rewind i+1` truncate back to it
	// (session.RewindMessages) without needing a live in-process tracker.
	TurnBoundaries []int `json:"turn_boundaries,omitempty"`
}

// Store persists sessions as one JSON file per id under a fixed directory.
type Store struct {
	dir string
}

// NewStore builds a Store rooted at dir, typically data/sessions.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// GetOrCreate loads the session with id, or creates a fresh one if none
// exists yet. An empty id generates a new UUID.
func (s *Store) GetOrCreate(id string) (Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	existing, err := s.Load(id)
	if err == nil {
		return existing, nil
	}
	if !os.IsNotExist(err) {
		return Session{}, err
	}
	now := time.Now()
	return Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

// Load reads a session by id.
func (s *Store) Load(id string) (Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("session: parse %q: %w", id, err)
	}
	return sess, nil
}

// Save persists sess atomically: temp file in the same directory, then
// rename. Save is the only writer; no partial write ever lands at the
// session's path.
func (s *Store) Save(sess Session) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("session: create store dir: %w", err)
	}
	sess.UpdatedAt = time.Now()
	sess.Preview = buildPreview(sess.Messages)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal %q: %w", sess.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(sess.ID)); err != nil {
		return fmt.Errorf("session: rename temp file: %w", err)
	}
	tmpPath = ""
	return nil
}

// Delete removes a session's file. Deleting an absent session is a no-op.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete %q: %w", id, err)
	}
	return nil
}

// List returns every session's metadata, most recently updated first.
func (s *Store) List() ([]Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []Session
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		sess, err := s.Load(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	return sessions, nil
}

// PruneOlderThan deletes every session whose UpdatedAt is before cutoff,
// returning the ids of the sessions removed. Calling it again with no
// intervening writes returns an empty slice.
func (s *Store) PruneOlderThan(cutoff time.Time) ([]string, error) {
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}
	removed := []string{}
	for _, sess := range sessions {
		if sess.UpdatedAt.Before(cutoff) {
			if err := s.Delete(sess.ID); err != nil {
				return removed, err
			}
			removed = append(removed, sess.ID)
		}
	}
	return removed, nil
}

// ExportMarkdown renders a session's conversation as human-readable
// Markdown: a header with the session metadata, then one section per
// message.
func (s *Store) ExportMarkdown(sess Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "_Created %s, updated %s, %d messages_\n\n",
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339), len(sess.Messages))
	for _, msg := range sess.Messages {
		fmt.Fprintf(&b, "## %s\n\n", strings.ToUpper(msg.Role))
		if content := strings.TrimSpace(msg.ContentString()); content != "" {
			fmt.Fprintf(&b, "%s\n\n", content)
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "> tool call: `%s(%s)`\n\n", tc.Function.Name, tc.Function.Arguments)
		}
	}
	return b.String()
}

func buildPreview(messages []provider.Message) string {
	for _, msg := range messages {
		if msg.Role == "user" && msg.ContentString() != "" {
			preview := msg.ContentString()
			if len(preview) > 100 {
				preview = preview[:100]
			}
			return preview
		}
	}
	return ""
}
