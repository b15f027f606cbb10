package collector

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture writes content to path, creating parent directories as
// needed.
func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// setupTestDir creates a temporary directory structure for testing.
func setupTestDir(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	// Create test structure:
	// tmpDir/
	//   file1.txt
	//   file2.pdf
	//   subdir1/
	//     file3.txt
	//     subdir2/
	//       file4.txt

	files := []string{
		"file1.txt",
		"file2.pdf",
		"subdir1/file3.txt",
		"subdir1/subdir2/file4.txt",
	}

	for _, f := range files {
		writeFixture(t, filepath.Join(tmpDir, f), "test content for "+f)
	}

	return tmpDir
}

func collectFiles(t *testing.T, c *Collector, root string) []FileInfo {
	t.Helper()

	files, err := c.Collect(root)
	require.NoError(t, err)

	return files
}

func TestCollector_Collect(t *testing.T) {
	tmpDir := setupTestDir(t)

	c := New(Options{})

	files := collectFiles(t, c, tmpDir)
	assert.Len(t, files, 4)

	for _, f := range files {
		assert.NotEmpty(t, f.Path, "file has empty Path")
		assert.NotEmpty(t, f.Name, "file has empty Name")
		assert.NotZero(t, f.Size, "file has zero Size")
		assert.False(t, f.ModTime.IsZero(), "file has zero ModTime")
		assert.False(t, f.IsSymlink, "plain file reported as symlink")
	}
}

// TestCollector_SkipsSelfOutputNames covers the planInputs use case this
// package exists for: the archive's own output path and its atomic-
// replace temp sibling never get swept back into the input set when the
// directory being archived contains them.
func TestCollector_SkipsSelfOutputNames(t *testing.T) {
	tmpDir := setupTestDir(t)
	writeFixture(t, filepath.Join(tmpDir, "out.zip"), "not really a zip")
	writeFixture(t, filepath.Join(tmpDir, "out.zip.tmp"), "in-progress output")

	c := New(Options{SkipNames: []string{"out.zip", "out.zip.tmp"}})

	files := collectFiles(t, c, tmpDir)
	for _, f := range files {
		assert.NotEqual(t, "out.zip", f.Name)
		assert.NotEqual(t, "out.zip.tmp", f.Name)
	}
	assert.Len(t, files, 4, "expected only the original 4 fixture files")
}

func TestCollector_SkipNamesAppliesToDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	writeFixture(t, filepath.Join(tmpDir, "staging", "partial"), "partial")
	writeFixture(t, filepath.Join(tmpDir, "staging", "nested", "file.txt"), "nested")
	writeFixture(t, filepath.Join(tmpDir, "normal.txt"), "normal")

	c := New(Options{SkipNames: []string{"staging"}})

	files := collectFiles(t, c, tmpDir)
	require.Len(t, files, 1)
	assert.Equal(t, "normal.txt", files[0].Name)
}

func TestCollector_CollectReportsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}

	tmpDir := t.TempDir()
	targetPath := filepath.Join(tmpDir, "real.txt")
	writeFixture(t, targetPath, "target content")

	linkPath := filepath.Join(tmpDir, "link.txt")
	require.NoError(t, os.Symlink(targetPath, linkPath))

	c := New(Options{})
	files := collectFiles(t, c, tmpDir)

	byName := make(map[string]FileInfo, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}

	require.Contains(t, byName, "link.txt")
	link := byName["link.txt"]
	assert.True(t, link.IsSymlink)
	assert.Equal(t, targetPath, link.LinkTarget)
}

func TestCollector_Collect_EmptyDir(t *testing.T) {
	tmpDir := t.TempDir()

	c := New(Options{})

	files := collectFiles(t, c, tmpDir)
	assert.Empty(t, files, "expected 0 files in empty dir")
}

func TestCollector_Collect_NonExistentDir(t *testing.T) {
	c := New(Options{})

	_, err := c.Collect("/nonexistent/path/that/does/not/exist")
	assert.Error(t, err, "expected error for nonexistent directory")
}

func TestFileInfo_ModTime(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	writeFixture(t, testFile, "test")

	expectedTime := time.Date(2018, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(testFile, expectedTime, expectedTime))

	c := New(Options{})
	files := collectFiles(t, c, tmpDir)
	require.Len(t, files, 1)

	assert.True(t, files[0].ModTime.Equal(expectedTime), "ModTime = %v, want %v", files[0].ModTime, expectedTime)
}
