package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zu",
		Version: version,
		Short:   "Build, modify, list, test, and extract PKZIP archives",
		Long: `zu is a pair of archive utilities sharing one binary: a compressor/
updater that builds or modifies ZIP archives from filesystem inputs, and a
decompressor/lister/tester that enumerates, verifies, or restores their
contents.

Commands:
  archive    Create or modify a ZIP archive from filesystem inputs
  extract    List, test, or extract entries from a ZIP archive

Examples:
  # Create an archive from two files
  zu archive out.zip a.txt b.bin

  # Update an archive in place, only replacing newer files
  zu archive --mode update out.zip a.txt

  # List, test, and extract
  zu extract --list out.zip
  zu extract --test out.zip
  zu extract --target-dir ./restored out.zip

  # Preview any mutating command with --dry-run
  zu archive --dry-run out.zip a.txt

Compression:
  ZIP methods store (0), deflate (8), and bzip2 (12) are supported.
  Zip64 is used automatically whenever a size, offset, or entry count
  would overflow its 32-bit field.

  Archive mutations are never applied in place: a sibling temp file is
  built first and atomically renamed over the target on success.`,
	}

	return cmd
}
