package zipfmt

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListArchiveAppliesSelectionAndReportsUnmatched(t *testing.T) {
	t.Parallel()

	modTime := time.Date(2023, time.September, 9, 9, 9, 0, 0, time.Local)
	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader("aaa"), 3, modTime, EntryOptions{Method: MethodStore}))
		require.NoError(t, w.AddFile("b.bin", strings.NewReader("bb"), 2, modTime, EntryOptions{Method: MethodStore}))
	})

	ctx := NewContext(path)
	ctx.Mode = ModeList
	ctx.Includes = []string{"*.txt", "*.nope"}

	result, err := ListArchive(ctx)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "a.txt", result.Entries[0].Name)
	require.Equal(t, []string{"*.nope"}, result.UnmatchedIncludes)
}

func TestListArchiveEmptySelectionReturnsNoFiles(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader("aaa"), 3, time.Now(), EntryOptions{Method: MethodStore}))
	})

	ctx := NewContext(path)
	ctx.Mode = ModeList
	ctx.Includes = []string{"*.nope"}

	_, err := ListArchive(ctx)
	require.Error(t, err)
	assert.Equal(t, KindNoFiles, KindOf(err))
}

func TestListArchiveHonorsTimeWindow(t *testing.T) {
	t.Parallel()

	old := time.Date(2019, 1, 1, 0, 0, 0, 0, time.Local)
	recent := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("old.txt", strings.NewReader("o"), 1, old, EntryOptions{Method: MethodStore}))
		require.NoError(t, w.AddFile("new.txt", strings.NewReader("n"), 1, recent, EntryOptions{Method: MethodStore}))
	})

	ctx := NewContext(path)
	ctx.Mode = ModeList
	ctx.After = time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local)

	result, err := ListArchive(ctx)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "new.txt", result.Entries[0].Name)
}

func TestTestArchiveVerifiesSelectedEntries(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader("aaa"), 3, time.Now(), EntryOptions{Method: MethodDeflate}))
		require.NoError(t, w.AddFile("b.bin", strings.NewReader("bbbbb"), 5, time.Now(), EntryOptions{Method: MethodStore}))
	})

	ctx := NewContext(path)
	ctx.Mode = ModeTest

	tested, err := TestArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tested)
}

func TestTestArchiveAbortsOnFirstCorruptEntry(t *testing.T) {
	t.Parallel()

	content := "payload that gets corrupted"
	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader(content), int64(len(content)), time.Now(), EntryOptions{Method: MethodStore}))
		require.NoError(t, w.AddFile("b.txt", strings.NewReader("fine"), 4, time.Now(), EntryOptions{Method: MethodStore}))
	})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lh, err := readLocalHeader(bytes.NewReader(raw))
	require.NoError(t, err)
	dataStart := localHeaderSize + int(lh.NameLen) + int(lh.ExtraLen)
	raw[dataStart+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	ctx := NewContext(path)
	ctx.Mode = ModeTest

	tested, err := TestArchive(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, tested)
}

func TestExtractArchiveRestoresUnderTargetDir(t *testing.T) {
	t.Parallel()

	modTime := time.Date(2022, 5, 1, 10, 0, 0, 0, time.Local)
	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddDirectory("sub/", modTime, 0o755))
		require.NoError(t, w.AddFile("sub/file.txt", strings.NewReader("contents"), 8, modTime, EntryOptions{Method: MethodDeflate}))
	})

	destRoot := t.TempDir()
	ctx := NewContext(path)
	ctx.Mode = ModeExtract
	ctx.TargetDir = destRoot
	ctx.Overwrite = true

	extracted, err := ExtractArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, extracted)

	got, err := os.ReadFile(filepath.Join(destRoot, "sub", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "contents", string(got))
}

func TestExtractArchiveSkipsExistingWhenOverwriteDisabled(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader("new content"), 11, time.Now(), EntryOptions{Method: MethodStore}))
	})

	destRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(destRoot, "a.txt"), []byte("preserved"), 0o644))

	ctx := NewContext(path)
	ctx.Mode = ModeExtract
	ctx.TargetDir = destRoot
	ctx.Overwrite = false

	extracted, err := ExtractArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, extracted)

	got, err := os.ReadFile(filepath.Join(destRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "preserved", string(got))
}

func TestExtractArchiveEmptySelectionReturnsNoFiles(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader("x"), 1, time.Now(), EntryOptions{Method: MethodStore}))
	})

	ctx := NewContext(path)
	ctx.Mode = ModeExtract
	ctx.TargetDir = t.TempDir()
	ctx.Excludes = []string{"*"}

	_, err := ExtractArchive(ctx)
	require.Error(t, err)
	assert.Equal(t, KindNoFiles, KindOf(err))
}

func TestExtractArchiveDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader("x"), 1, time.Now(), EntryOptions{Method: MethodStore}))
	})

	destRoot := t.TempDir()
	ctx := NewContext(path)
	ctx.Mode = ModeExtract
	ctx.TargetDir = destRoot
	ctx.DryRun = true

	extracted, err := ExtractArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, extracted)

	_, statErr := os.Stat(filepath.Join(destRoot, "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpenForReadFallsBackToRecoveryOnFixFix(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, 0, func(w *ArchiveWriter) {
		require.NoError(t, w.AddFile("a.txt", strings.NewReader("recoverable"), 11, time.Now(), EntryOptions{Method: MethodStore}))
	})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Truncate away the central directory and EOCD so the normal locator
	// fails and only the recovery scanner can find the entry.
	lh, err := readLocalHeader(bytes.NewReader(raw))
	require.NoError(t, err)
	localEnd := localHeaderSize + int(lh.NameLen) + int(lh.ExtraLen) + int(lh.CompSize)
	require.NoError(t, os.WriteFile(path, raw[:localEnd], 0o644))

	ctx := NewContext(path)
	ctx.Mode = ModeFixFix

	result, err := ListArchive(ctx)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "a.txt", result.Entries[0].Name)
}
