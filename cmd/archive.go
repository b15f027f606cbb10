package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jopamo/zu/internal/zipfmt"
)

type archiveFlags struct {
	mode           string
	includes       []string
	excludes       []string
	caseFold       bool
	noCompress     []string
	output         string
	tempDir        string
	method         string
	level          int
	stripAttrs     bool
	symlinkAsLink  bool
	lineEndingCRLF bool
	password       string
	comment        string
	after          string
	before         string
	dryRun         bool
	quiet          int
	verbose        bool
}

var archiveModeByName = map[string]zipfmt.Mode{
	"add":      zipfmt.ModeAdd,
	"update":   zipfmt.ModeUpdate,
	"freshen":  zipfmt.ModeFreshen,
	"filesync": zipfmt.ModeFilesync,
	"delete":   zipfmt.ModeDelete,
	"copy":     zipfmt.ModeCopy,
	"fix":      zipfmt.ModeFix,
	"fix-fix":  zipfmt.ModeFixFix,
}

var archiveMethodByName = map[string]uint16{
	"store":   zipfmt.MethodStore,
	"deflate": zipfmt.MethodDeflate,
	"bzip2":   zipfmt.MethodBzip2,
}

func buildArchiveCommand() *cobra.Command {
	f := &archiveFlags{mode: "add", method: "deflate", level: 6}

	cmd := &cobra.Command{
		Use:   "archive <archive.zip> [input...]",
		Short: "Create or modify a ZIP archive from filesystem inputs",
		Long: `archive builds a new ZIP archive or modifies an existing one in place.

The default mode, "add", always replaces a colliding entry with the new
input. "update" and "freshen" only replace when the input is newer;
"filesync" replaces when the input's size or time differs and also drops
archive entries whose filesystem path no longer exists. "delete" removes
entries matching the given input patterns instead of adding files.
"copy" rewrites the archive applying only --include/--exclude/time-window
filters to the existing entries. "fix" rewrites the archive from its own
central directory; "fix-fix" additionally recovers a synthetic directory
by scanning for local file headers when the real one is unreadable.

Every mutation is staged into a sibling temp file and atomically renamed
over the target on success; a failure never touches the original archive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(f, args)
		},
	}

	cmd.Flags().StringVarP(&f.mode, "mode", "m", f.mode, "add|update|freshen|filesync|delete|copy|fix|fix-fix")
	cmd.Flags().StringArrayVar(&f.includes, "include", nil, "glob pattern an input/entry must match (repeatable)")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil, "glob pattern an input/entry must not match (repeatable)")
	cmd.Flags().BoolVar(&f.caseFold, "case-fold", false, "case-insensitive include/exclude matching")
	cmd.Flags().StringArrayVar(&f.noCompress, "no-compress", nil, "file suffix to always store uncompressed (repeatable)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write to a different path instead of the archive in place")
	cmd.Flags().StringVar(&f.tempDir, "temp-dir", "", "directory for the staging temp file (default: alongside the output)")
	cmd.Flags().StringVar(&f.method, "method", f.method, "store|deflate|bzip2")
	cmd.Flags().IntVarP(&f.level, "level", "l", f.level, "compression level 0-9")
	cmd.Flags().BoolVar(&f.stripAttrs, "strip-attrs", false, "drop non-Zip64 extra fields from carried-over entries")
	cmd.Flags().BoolVarP(&f.symlinkAsLink, "symlinks", "y", false, "store symlinks as links instead of following them")
	cmd.Flags().BoolVar(&f.lineEndingCRLF, "crlf", false, "translate line endings to CRLF for probable text files")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "ZipCrypto password for newly written entries")
	cmd.Flags().StringVarP(&f.comment, "comment", "z", "", "archive comment")
	cmd.Flags().StringVar(&f.after, "after", "", "only include entries/inputs modified at or after this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.before, "before", "", "only include entries/inputs modified before this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "show what would change without writing anything")
	cmd.Flags().CountVarP(&f.quiet, "quiet", "q", "suppress progress output (repeat to silence summaries too)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "print one line per entry as it's processed")

	return cmd
}

func runArchive(f *archiveFlags, args []string) error {
	mode, ok := archiveModeByName[strings.ToLower(f.mode)]
	if !ok {
		return fmt.Errorf("unknown --mode %q", f.mode)
	}
	method, ok := archiveMethodByName[strings.ToLower(f.method)]
	if !ok {
		return fmt.Errorf("unknown --method %q", f.method)
	}
	after, err := parseTimeFilter(f.after)
	if err != nil {
		return err
	}
	before, err := parseTimeFilter(f.before)
	if err != nil {
		return err
	}

	ctx := zipfmt.NewContext(args[0])
	ctx.Mode = mode
	if mode != zipfmt.ModeDelete {
		ctx.Inputs = args[1:]
	} else {
		ctx.Includes = args[1:]
	}
	ctx.Includes = append(ctx.Includes, f.includes...)
	ctx.Excludes = f.excludes
	ctx.CaseFold = f.caseFold
	ctx.NoCompressExt = f.noCompress
	ctx.OutputPath = f.output
	ctx.TempDir = f.tempDir
	ctx.Method = method
	ctx.Level = f.level
	ctx.StripAttrs = f.stripAttrs
	ctx.SymlinkAsLink = f.symlinkAsLink
	ctx.LineEndingXlate = f.lineEndingCRLF
	ctx.Password = f.password
	ctx.Comment = f.comment
	ctx.After = after
	ctx.Before = before
	ctx.DryRun = f.dryRun
	ctx.Quiet = f.quiet
	ctx.Verbose = f.verbose
	ctx.OnProgress = onProgress(f.verbose)

	printDryRunBanner(f.dryRun)

	progress := startProgress("Writing", f.quiet)
	start := time.Now()
	result, err := zipfmt.Modify(ctx)
	progress.Stop()
	if err != nil {
		return err
	}

	if f.quiet < 2 {
		if result.NothingToDo {
			fmt.Println("Nothing to do.")
		} else {
			printSummary(
				fmt.Sprintf("Added:   %d", result.Added),
				fmt.Sprintf("Deleted: %d", result.Deleted),
				fmt.Sprintf("Kept:    %d", result.Kept),
				fmt.Sprintf("Elapsed: %v", time.Since(start).Round(time.Millisecond)),
			)
		}
	}
	printDryRunHint(f.dryRun)

	return nil
}
