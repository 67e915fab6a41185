package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePath_ReadAllowedPrefix(t *testing.T) {
	e := New(t.TempDir())
	resolved, err := e.ValidatePath("notes/test.txt", AccessRead, PurposeDefault)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(resolved))
}

func TestValidatePath_ReadRejectsDisallowedPrefix(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.ValidatePath("secrets/keys.txt", AccessRead, PurposeDefault)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, RulePrefix, perr.Rule)
}

func TestValidatePath_SegmentSymmetry(t *testing.T) {
	// Any path that passes read, prefixed with a denied segment, must fail
	// with a "segment" error.
	e := New(t.TempDir())
	_, err := e.ValidatePath("notes/test.txt", AccessRead, PurposeDefault)
	require.NoError(t, err)

	_, err = e.ValidatePath(".git/notes/test.txt", AccessRead, PurposeDefault)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, RuleSegment, perr.Rule)
}

func TestValidatePath_RejectsAbsolute(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.ValidatePath("/etc/passwd", AccessRead, PurposeDefault)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, RuleAbsolute, perr.Rule)
}

func TestValidatePath_RejectsTraversal(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.ValidatePath("notes/../../etc/passwd", AccessRead, PurposeDefault)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, RuleTraversal, perr.Rule)
}

func TestValidatePath_RejectsSecretBasename(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.ValidatePath("data/.env", AccessRead, PurposeDefault)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, RuleFile, perr.Rule)
}

func TestValidatePath_WriteDefaultPurposeRestrictedToOutputs(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.ValidatePath("data/outputs/x.txt", AccessWrite, PurposeDefault)
	require.NoError(t, err)

	_, err = e.ValidatePath("src/main.go", AccessWrite, PurposeDefault)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, RulePrefix, perr.Rule)
}

func TestValidatePath_WriteDevPurposeAllowsSrc(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.ValidatePath("src/main.go", AccessWrite, PurposeDev)
	require.NoError(t, err)
}

func TestValidateCommand_Allowlist(t *testing.T) {
	e := New(t.TempDir())
	canon, err := e.ValidateCommand("git status")
	require.NoError(t, err)
	require.Equal(t, "git status", canon)

	_, err = e.ValidateCommand("rm -rf /")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, RuleCommand, perr.Rule)
}

func TestIsGitignored(t *testing.T) {
	e := New(t.TempDir())
	require.False(t, e.IsGitignored("notes/scratch.log"))

	e.LoadGitignore([]string{"*.log", "tmp/"})
	require.True(t, e.IsGitignored("notes/scratch.log"))
	require.True(t, e.IsGitignored("tmp/x"))
	require.False(t, e.IsGitignored("notes/scratch.txt"))
}

func TestClassifyTool(t *testing.T) {
	require.Equal(t, ToolKindRead, ClassifyTool("read_file"))
	require.Equal(t, ToolKindRead, ClassifyTool("list_dir"))
	require.Equal(t, ToolKindWrite, ClassifyTool("write_file"))
	require.Equal(t, ToolKindOther, ClassifyTool("run_cmd"))
}
