package zipfmt

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractionRootAcceptsPathUnderRoot(t *testing.T) {
	t.Parallel()

	root, err := NewExtractionRoot(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, root.Validate(filepath.Join(root.root, "sub", "file.txt")))
}

// TestExtractionRootRejectsTraversal covers S2/P3: a target that walks
// above the extraction root by construction (e.g. ../../evil) is rejected
// even though validateEntryName would normally have already caught the
// stored name that produced it.
func TestExtractionRootRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root, err := NewExtractionRoot(filepath.Join(dir, "extract-here"))
	require.NoError(t, err)

	escaped := filepath.Join(dir, "extract-here", "..", "..", "evil")
	assert.ErrorIs(t, root.Validate(escaped), errEscapesRoot)
}

// TestExtractionRootRejectsSymlinkEscape covers the case an earlier entry
// in the same archive planted a symlink that a later entry's target
// walks through: even though the later target's own cleaned path looks
// contained, the resolved ancestor is not.
func TestExtractionRootRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	t.Parallel()

	dir := t.TempDir()
	extractDir := filepath.Join(dir, "extract-here")
	require.NoError(t, os.MkdirAll(extractDir, 0o755))
	outsideDir := filepath.Join(dir, "outside")
	require.NoError(t, os.MkdirAll(outsideDir, 0o755))

	linkPath := filepath.Join(extractDir, "planted-link")
	require.NoError(t, os.Symlink(outsideDir, linkPath))

	root, err := NewExtractionRoot(extractDir)
	require.NoError(t, err)

	assert.ErrorIs(t, root.Validate(filepath.Join(linkPath, "payload.txt")), errEscapesRoot)
}

func TestExtractionRootToleratesMissingTarget(t *testing.T) {
	t.Parallel()

	root, err := NewExtractionRoot(t.TempDir())
	require.NoError(t, err)

	// The entry's own file doesn't exist yet; only its not-yet-created
	// ancestors are walked.
	assert.NoError(t, root.Validate(filepath.Join(root.root, "new", "nested", "file.txt")))
}
