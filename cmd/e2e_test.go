package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI builds a fresh root command tree and executes it with args. The
// command layer prints directly to os.Stdout (fmt.Println/Printf in
// archive.go/extract.go/common.go, not cmd.OutOrStdout), so stdout is
// captured by swapping the process-wide os.Stdout for the duration of the
// call, the same technique the stdin-streaming tests use in reverse.
func runCLI(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()

	root := buildRootCommand()
	root.AddCommand(buildArchiveCommand())
	root.AddCommand(buildExtractCommand())
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetArgs(args)

	r, w, pipeErr := os.Pipe()
	require.NoError(t, pipeErr)
	origStdout := os.Stdout
	os.Stdout = w

	err = root.Execute()

	os.Stdout = origStdout
	w.Close()
	captured, readErr := io.ReadAll(r)
	require.NoError(t, readErr)

	return string(captured), err
}

// TestCLIArchiveAndExtractRoundTrip covers S1 end to end through the cobra
// command tree: build an archive from two files, extract it back, and
// confirm both the contents and the printed summary line.
func TestCLIArchiveAndExtractRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	aPath := filepath.Join(srcDir, "a.txt")
	bPath := filepath.Join(srcDir, "b.bin")
	require.NoError(t, os.WriteFile(aPath, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("world"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "out.zip")
	_, err := runCLI(t, "archive", archivePath, aPath, bPath)
	require.NoError(t, err)

	destDir := t.TempDir()
	_, err = runCLI(t, "extract", archivePath, "--target-dir", destDir)
	require.NoError(t, err)

	gotA, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(gotA))
	gotB, err := os.ReadFile(filepath.Join(destDir, "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(gotB))
}

// TestCLIListReportsEntries covers the --list mode's enumerate-only path.
func TestCLIListReportsEntries(t *testing.T) {
	srcDir := t.TempDir()
	aPath := filepath.Join(srcDir, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("hello"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "out.zip")
	_, err := runCLI(t, "archive", archivePath, aPath)
	require.NoError(t, err)

	out, err := runCLI(t, "extract", archivePath, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
}

// TestCLIEncryptedArchiveRejectsWrongPassword covers S5 through the CLI
// exit-code taxonomy (spec §6): a wrong password maps to a non-zero exit
// by way of a *zipfmt.Error carrying KindBadPassword, and the correct
// password extracts the original content.
func TestCLIEncryptedArchiveRejectsWrongPassword(t *testing.T) {
	srcDir := t.TempDir()
	aPath := filepath.Join(srcDir, "secret.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("top secret"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "out.zip")
	_, err := runCLI(t, "archive", archivePath, aPath, "--password", "secret")
	require.NoError(t, err)

	destDir := t.TempDir()
	_, err = runCLI(t, "extract", archivePath, "--target-dir", destDir, "--password", "wrong")
	require.Error(t, err)

	destDir2 := t.TempDir()
	_, err = runCLI(t, "extract", archivePath, "--target-dir", destDir2, "--password", "secret")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(destDir2, "secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(got))
}

// TestCLIStdinStreamsThroughArchiveCommand covers S6 through the CLI: "-"
// as the sole input streams os.Stdin straight into the archive.
func TestCLIStdinStreamsThroughArchiveCommand(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	origStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = origStdin }()

	go func() {
		_, _ = w.WriteString("abcdef")
		w.Close()
	}()

	archivePath := filepath.Join(t.TempDir(), "out.zip")
	_, err = runCLI(t, "archive", archivePath, "-")
	require.NoError(t, err)

	destDir := t.TempDir()
	_, err = runCLI(t, "extract", archivePath, "--target-dir", destDir)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(destDir, "-"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))
}

// TestCLIArchiveRejectsUnknownMode covers the argument-validation USAGE
// exit path before the engine ever runs.
func TestCLIArchiveRejectsUnknownMode(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "out.zip")
	_, err := runCLI(t, "archive", archivePath, "--mode", "bogus", archivePath)
	require.Error(t, err)
}
