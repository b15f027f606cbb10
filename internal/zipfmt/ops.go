package zipfmt

import (
	"os"
)

// ListResult is the product of a ModeList run: the selected entries plus
// any include patterns that never matched anything, for the caller's
// "caution: filename not matched" warning (spec §4.4, §7).
type ListResult struct {
	Entries           []*Entry
	UnmatchedIncludes []string
}

// openForRead opens ctx.ArchivePath for the read-side operations
// (list/test/extract), falling back to the recovery scanner (C7) when the
// directory locator fails and fix-fix is requested (spec §4.5, §4.7).
func openForRead(ctx *Context) (*ArchiveReader, error) {
	ar, err := OpenReader(ctx.ArchivePath)
	if err == nil {
		return ar, nil
	}
	if ctx.Mode != ModeFixFix {
		return nil, err
	}

	dir, rerr := RecoverDirectory(ctx.ArchivePath)
	if rerr != nil {
		return nil, rerr
	}
	f, oerr := os.Open(ctx.ArchivePath)
	if oerr != nil {
		return nil, ioErrorf(ctx.ArchivePath, oerr, "reopening archive after recovery")
	}
	info, serr := f.Stat()
	if serr != nil {
		f.Close()
		return nil, ioErrorf(ctx.ArchivePath, serr, "stat archive after recovery")
	}
	return &ArchiveReader{path: ctx.ArchivePath, f: f, size: info.Size(), dir: dir}, nil
}

// selectedEntries applies the selection policy (C4) and time-window filter
// (P8) to ar's directory, returning the entries in their original
// central-directory order (spec §5 "ordering guarantees").
func selectedEntries(ctx *Context, ar *ArchiveReader) ([]*Entry, *selectionPolicy) {
	sel := ctx.selectionPolicy()
	var out []*Entry
	for _, e := range ar.Entries() {
		if !sel.Matches(e.Name) {
			continue
		}
		if !ctx.inTimeWindow(e.ModTime) {
			continue
		}
		out = append(out, e)
	}
	return out, sel
}

// ListArchive implements the read orchestrator for ModeList: locate the
// directory, apply selection, and report entries plus unmatched include
// patterns. Per spec §7, a listing pass never aborts on a single entry's
// formatting; a completely empty selection is the only NO_FILES case
// (P6).
func ListArchive(ctx *Context) (*ListResult, error) {
	ar, err := openForRead(ctx)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	entries, sel := selectedEntries(ctx, ar)
	if len(entries) == 0 {
		return nil, noFilesErrorf("no entries in %s matched the given selection", ctx.ArchivePath)
	}

	return &ListResult{Entries: entries, UnmatchedIncludes: sel.UnmatchedIncludes()}, nil
}

// TestArchive implements C6's verify-only path for ModeTest: every
// selected entry is decoded and CRC-checked but never written to disk.
// Per spec §7, the first entry error aborts the whole run.
func TestArchive(ctx *Context) (tested int, err error) {
	ar, err := openForRead(ctx)
	if err != nil {
		return 0, err
	}
	defer ar.Close()

	entries, _ := selectedEntries(ctx, ar)
	if len(entries) == 0 {
		return 0, noFilesErrorf("no entries in %s matched the given selection", ctx.ArchivePath)
	}

	opts := ExtractOptions{Password: ctx.Password, TestOnly: true}
	for i, e := range entries {
		if err := ar.ExtractEntryTo(e, "", opts); err != nil {
			return i, err
		}
		ctx.report("testing", i+1, len(entries))
	}
	return len(entries), nil
}

// ExtractArchive implements C6 step 7 at the orchestration level for
// ModeExtract: every selected entry is decoded, CRC-checked, and restored
// under ctx.TargetDir. Per spec §7, the first entry error aborts the whole
// run; per P3, no path write may escape ctx.TargetDir.
func ExtractArchive(ctx *Context) (extracted int, err error) {
	ar, err := openForRead(ctx)
	if err != nil {
		return 0, err
	}
	defer ar.Close()

	entries, _ := selectedEntries(ctx, ar)
	if len(entries) == 0 {
		return 0, noFilesErrorf("no entries in %s matched the given selection", ctx.ArchivePath)
	}

	destRoot := ctx.TargetDir
	if destRoot == "" {
		destRoot = "."
	}
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return 0, ioErrorf(destRoot, err, "creating extraction root")
	}

	opts := ExtractOptions{
		Password:     ctx.Password,
		JunkPaths:    ctx.JunkPaths,
		RestoreMode:  true,
		RestoreMTime: true,
		SkipExisting: !ctx.Overwrite,
	}
	if ctx.DryRun {
		opts.TestOnly = true
	}

	for i, e := range entries {
		if err := ar.ExtractEntryTo(e, destRoot, opts); err != nil {
			return i, err
		}
		ctx.report("extracting", i+1, len(entries))
	}
	return len(entries), nil
}
