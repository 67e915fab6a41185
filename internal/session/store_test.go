package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kaiho/agentloop/internal/provider"
	"github.com/stretchr/testify/require"
)

func TestStore_GetOrCreate_GeneratesIDWhenEmpty(t *testing.T) {
	s := NewStore(t.TempDir())
	sess, err := s.GetOrCreate("")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	sess, err := s.GetOrCreate("fixed-id")
	require.NoError(t, err)
	sess.Messages = []provider.Message{provider.TextMessage("user", "hello there")}

	require.NoError(t, s.Save(sess))

	loaded, err := s.Load("fixed-id")
	require.NoError(t, err)
	require.Equal(t, "hello there", loaded.Messages[0].ContentString())
	require.Equal(t, "hello there", loaded.Preview)
}

func TestStore_Save_NoStrayTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	sess, err := s.GetOrCreate("atomic-id")
	require.NoError(t, err)
	require.NoError(t, s.Save(sess))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, ".tmp", filepath.Ext(e.Name()))
	}
}

func TestStore_Delete_RemovesFile(t *testing.T) {
	s := NewStore(t.TempDir())
	sess, _ := s.GetOrCreate("del-id")
	require.NoError(t, s.Save(sess))
	require.NoError(t, s.Delete("del-id"))

	_, err := s.Load("del-id")
	require.Error(t, err)
}

func TestStore_List_SortedByUpdatedAtDescending(t *testing.T) {
	s := NewStore(t.TempDir())

	older, _ := s.GetOrCreate("older")
	require.NoError(t, s.Save(older))
	writeWithUpdatedAt(t, s, "older", time.Now().Add(-time.Hour))

	newer, _ := s.GetOrCreate("newer")
	require.NoError(t, s.Save(newer))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "newer", list[0].ID)
}

func TestStore_PruneOlderThan(t *testing.T) {
	s := NewStore(t.TempDir())

	stale, _ := s.GetOrCreate("stale")
	require.NoError(t, s.Save(stale))
	writeWithUpdatedAt(t, s, "stale", time.Now().Add(-48*time.Hour))

	fresh, _ := s.GetOrCreate("fresh")
	require.NoError(t, s.Save(fresh))

	cutoff := time.Now().Add(-24 * time.Hour)
	removed, err := s.PruneOlderThan(cutoff)
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, removed)

	_, err = s.Load("fresh")
	require.NoError(t, err)

	// A second prune with no intervening writes removes nothing.
	removed, err = s.PruneOlderThan(cutoff)
	require.NoError(t, err)
	require.Empty(t, removed)
}

// writeWithUpdatedAt rewrites a saved session's UpdatedAt directly on disk,
// bypassing Save's own timestamp bump, to set up stale fixtures for the
// list/prune ordering tests.
func writeWithUpdatedAt(t *testing.T, s *Store, id string, updatedAt time.Time) {
	t.Helper()
	sess, err := s.Load(id)
	require.NoError(t, err)
	sess.UpdatedAt = updatedAt
	data, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, id+".json"), data, 0o644))
}

func TestExportMarkdown_IncludesMessages(t *testing.T) {
	s := NewStore(t.TempDir())
	sess := Session{ID: "md-id", Messages: []provider.Message{
		provider.TextMessage("user", "question"),
		provider.TextMessage("assistant", "answer"),
	}}
	md := s.ExportMarkdown(sess)
	require.Contains(t, md, "question")
	require.Contains(t, md, "answer")
}
