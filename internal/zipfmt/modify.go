package zipfmt

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jopamo/zu/pkg/collector"
)

// ModifyResult summarizes one orchestrator run (spec §4.9).
type ModifyResult struct {
	Added       int
	Deleted     int
	Kept        int
	NothingToDo bool
}

// plannedInput is one filesystem path selected for inclusion, paired with
// the archive entry name it will be stored under.
type plannedInput struct {
	fsPath    string
	entryName string
	info      InputInfo
}

// Modify implements C9: the composition load-existing -> decide per-entry
// fate -> walk new inputs -> emit merged sequence to a temp output ->
// atomically replace. It is the single entry point for every write-side
// Mode, including ModeFix and ModeFixFix (the latter loads the existing
// entries through the C7 recovery scanner); only ModeList/ModeTest/
// ModeExtract (read-only) are handled elsewhere.
//
// The decision table is spec-prescribed (spec.md §4.9) with no close pack
// analog; the atomic-replace mechanics follow the rename-then-fall-back-
// to-copy-on-EXDEV idiom in atomicReplace/copyThenUnlink below (see
// DESIGN.md).
func Modify(ctx *Context) (*ModifyResult, error) {
	existing, archiveExisted, err := loadExistingDirectory(ctx)
	if err != nil {
		return nil, err
	}

	planned, err := planInputs(ctx)
	if err != nil {
		return nil, err
	}

	states := make(map[string]changeState, len(existing))
	for _, e := range existing {
		states[e.Name] = stateKept
	}

	keepPlanned := make([]plannedInput, 0, len(planned))

	switch ctx.Mode {
	case ModeDelete:
		sel := ctx.selectionPolicy()
		for _, e := range existing {
			if sel.Matches(e.Name) && ctx.inTimeWindow(e.ModTime) {
				states[e.Name] = stateDeleted
			}
		}
	case ModeCopy:
		for _, e := range existing {
			if !copyModeKeep(ctx, e) {
				states[e.Name] = stateDeleted
			}
		}
	default:
		byName := make(map[string]*Entry, len(existing))
		for _, e := range existing {
			byName[e.Name] = e
		}
		for _, p := range planned {
			e, collides := byName[p.entryName]
			if !collides {
				// Freshen only ever touches names already in the archive
				// (spec §4.9 decision table); unlike update, it never
				// introduces entries the archive didn't already have.
				if ctx.Mode != ModeFreshen {
					keepPlanned = append(keepPlanned, p)
				}
				continue
			}
			if decideReplace(ctx.Mode, p, e) {
				states[e.Name] = stateDeleted
				keepPlanned = append(keepPlanned, p)
			}
			// otherwise: N skipped, E kept.
		}
		if ctx.Mode == ModeFilesync {
			have := make(map[string]bool, len(planned))
			for _, p := range planned {
				have[p.entryName] = true
			}
			for _, e := range existing {
				if !have[e.Name] {
					states[e.Name] = stateDeleted
				}
			}
		}
	}
	if ctx.Mode != ModeDelete && ctx.Mode != ModeCopy {
		planned = keepPlanned
	}

	added := len(planned)
	deleted := 0
	kept := 0
	for _, st := range states {
		switch st {
		case stateDeleted:
			deleted++
		default:
			kept++
		}
	}

	inFixMode := ctx.Mode == ModeFix || ctx.Mode == ModeFixFix
	if added == 0 && deleted == 0 && ctx.Comment == "" && !inFixMode {
		return &ModifyResult{NothingToDo: true}, nil
	}

	if ctx.DryRun {
		return &ModifyResult{Added: added, Deleted: deleted, Kept: kept}, nil
	}

	outPath, tempPath, err := resolveOutputPaths(ctx)
	if err != nil {
		return nil, err
	}

	var srcFile *os.File
	if archiveExisted {
		srcFile, err = os.Open(ctx.ArchivePath)
		if err != nil {
			return nil, ioErrorf(ctx.ArchivePath, err, "reopening archive for carry-over")
		}
		defer srcFile.Close()
	}

	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, ioErrorf(tempPath, err, "creating temp output")
	}

	if err := writeMergedArchive(ctx, out, srcFile, existing, states, planned); err != nil {
		out.Close()
		os.Remove(tempPath)
		return nil, err
	}

	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return nil, ioErrorf(tempPath, err, "closing temp output")
	}

	if err := atomicReplace(tempPath, outPath); err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	return &ModifyResult{Added: added, Deleted: deleted, Kept: kept}, nil
}

func writeMergedArchive(ctx *Context, out io.Writer, src *os.File, existing []*Entry, states map[string]changeState, planned []plannedInput) error {
	w := NewWriter(out, ctx.ArchivePath, ctx.trigger())
	w.SetComment(ctx.Comment)

	total := len(planned) + len(existing)
	processed := 0

	for _, p := range planned {
		if err := addPlannedInput(w, ctx, p); err != nil {
			return err
		}
		processed++
		ctx.report("writing", processed, total)
	}

	// Preserved existing entries follow, in original CD order (spec §5).
	for _, e := range existing {
		if states[e.Name] == stateDeleted {
			processed++
			continue
		}
		if src == nil {
			return ioErrorf(e.Name, nil, "cannot carry over entry without source archive")
		}
		if err := carryOverEntry(w, src, e, ctx.StripAttrs); err != nil {
			return err
		}
		processed++
		ctx.report("writing", processed, total)
	}

	return w.Close()
}

func addPlannedInput(w *ArchiveWriter, ctx *Context, p plannedInput) error {
	opts := EntryOptions{Method: ctx.Method, Level: ctx.Level, NoCompressExt: ctx.NoCompressExt, Password: ctx.Password}
	if p.info.Mode != 0 {
		opts.Mode = fileModeToUnixMode(p.info.Mode)
	}

	switch p.info.Kind {
	case InputDirectory:
		return w.AddDirectory(p.entryName, unixSecToTime(p.info.ModTime), opts.Mode)
	case InputStream:
		if p.fsPath != "-" {
			f, err := os.Open(p.fsPath)
			if err != nil {
				return ioErrorf(p.fsPath, err, "opening input stream")
			}
			defer f.Close()
			return w.AddStream(p.entryName, f, unixSecToTime(p.info.ModTime), opts)
		}
		return addStdinInput(w, ctx, p, opts)
	case InputSymlink:
		if ctx.SymlinkAsLink {
			f := &memReadSeeker{data: []byte(p.info.LinkTarget)}
			return w.AddFile(p.entryName, f, int64(len(p.info.LinkTarget)), unixSecToTime(p.info.ModTime), opts)
		}
		targetInfo, err := os.Stat(p.fsPath)
		if err != nil {
			return ioErrorf(p.fsPath, err, "stat symlink target")
		}
		opts.Mode = fileModeToUnixMode(targetInfo.Mode())
		f, err := os.Open(p.fsPath)
		if err != nil {
			return ioErrorf(p.fsPath, err, "opening symlink target")
		}
		defer f.Close()
		return w.AddFile(p.entryName, f, targetInfo.Size(), unixSecToTime(p.info.ModTime), opts)
	default:
		if ctx.LineEndingXlate {
			r, size, err := openWithLineEndingXlate(p.fsPath)
			if err != nil {
				return err
			}
			return w.AddFile(p.entryName, r, size, unixSecToTime(p.info.ModTime), opts)
		}
		f, err := os.Open(p.fsPath)
		if err != nil {
			return ioErrorf(p.fsPath, err, "opening input file")
		}
		defer f.Close()
		return w.AddFile(p.entryName, f, p.info.Size, unixSecToTime(p.info.ModTime), opts)
	}
}

// carryOverEntry copies an existing entry's local header, name, extra, and
// compressed bytes verbatim from src into w's sink, without
// re-compressing, per spec §4.9's carry-over contract. When stripAttrs is
// set, the extra field is filtered through the tag allow-list and the
// header's extra_len is patched to match.
func carryOverEntry(w *ArchiveWriter, src *os.File, e *Entry, stripAttrs bool) error {
	if _, err := src.Seek(int64(e.LocalHeaderOffset), io.SeekStart); err != nil {
		return ioErrorf(e.Name, err, "seeking to existing local header")
	}
	lh, err := readLocalHeader(src)
	if err != nil {
		return ioErrorf(e.Name, err, "reading existing local header")
	}

	name := make([]byte, lh.NameLen)
	if _, err := io.ReadFull(src, name); err != nil {
		return ioErrorf(e.Name, err, "reading existing entry name")
	}
	extra := make([]byte, lh.ExtraLen)
	if _, err := io.ReadFull(src, extra); err != nil {
		return ioErrorf(e.Name, err, "reading existing entry extra")
	}
	if stripAttrs {
		extra = stripExtra(extra)
		lh.ExtraLen = uint16(len(extra))
	}

	newOffset := w.w.offset
	e.LocalHeaderOffset = newOffset

	if _, err := w.w.Write(lh.marshal()); err != nil {
		return ioErrorf(e.Name, err, "writing carried-over local header")
	}
	if _, err := w.w.Write(name); err != nil {
		return ioErrorf(e.Name, err, "writing carried-over name")
	}
	if _, err := w.w.Write(extra); err != nil {
		return ioErrorf(e.Name, err, "writing carried-over extra")
	}

	dataLen := int64(e.CompSize)
	if e.Flags&flagSizeInDescriptor != 0 {
		dataLen += dataDescriptorSize(e)
	}
	if _, err := io.CopyN(w.w, src, dataLen); err != nil {
		return ioErrorf(e.Name, err, "copying carried-over entry bytes")
	}

	if stripAttrs {
		e.rawExtra = extra
	}
	w.entries = append(w.entries, e)
	return nil
}

// dataDescriptorSize estimates the on-disk descriptor length for an
// existing entry: 24 bytes when either logical size needed 64 bits at
// write time, 16 otherwise. This is a carry-over-time approximation (the
// original encoding choice isn't separately recorded once parsed into
// 64-bit logical fields).
func dataDescriptorSize(e *Entry) int64 {
	if e.CompSize >= sentinel32 || e.UncompSize >= sentinel32 {
		return 24
	}
	return 16
}

// decideReplace implements the per-mode collision rule of the decision
// table (spec §4.9).
func decideReplace(mode Mode, p plannedInput, existing *Entry) bool {
	newer := newerDOSTime(unixSecToTime(p.info.ModTime), existing.ModTime)
	switch mode {
	case ModeFreshen, ModeUpdate:
		return newer
	case ModeFilesync:
		sameTime := sameDOSTime(unixSecToTime(p.info.ModTime), existing.ModTime)
		sameSize := uint64(p.info.Size) == existing.UncompSize
		return !(sameTime && sameSize)
	default: // ModeAdd and unrecognized default to "replace"
		return true
	}
}

// copyModeKeep reports whether an existing entry survives a copy-mode run
// unchanged. The default policy keeps everything that passes the active
// selection and the After/Before time window (spec §4.9 "copy" row).
func copyModeKeep(ctx *Context, e *Entry) bool {
	return ctx.selectionPolicy().Matches(e.Name) && ctx.inTimeWindow(e.ModTime)
}

func unixSecToTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func loadExistingDirectory(ctx *Context) (entries []*Entry, existed bool, err error) {
	info, statErr := os.Stat(ctx.ArchivePath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			if ctx.Mode == ModeDelete || ctx.Mode == ModeFreshen || ctx.Mode == ModeUpdate {
				return nil, false, noFilesErrorf("archive does not exist: %s", ctx.ArchivePath)
			}
			return nil, false, nil
		}
		return nil, false, ioErrorf(ctx.ArchivePath, statErr, "stat archive")
	}

	f, err := os.Open(ctx.ArchivePath)
	if err != nil {
		return nil, true, ioErrorf(ctx.ArchivePath, err, "opening existing archive")
	}
	defer f.Close()

	dir, locErr := locateDirectory(f, info.Size(), ctx.ArchivePath)
	if locErr != nil {
		if ctx.Mode == ModeFixFix {
			recovered, rerr := RecoverDirectory(ctx.ArchivePath)
			if rerr != nil {
				return nil, true, rerr
			}
			return recovered.Entries, true, nil
		}
		return nil, true, locErr
	}

	return dir.Entries, true, nil
}

// planInputs walks ctx.Inputs (recursively for directories, via
// pkg/collector) and applies the selection policy, building the ordered
// list of filesystem paths to add (spec §5's "order of the input list,
// with directories before their children").
func planInputs(ctx *Context) ([]plannedInput, error) {
	sel := ctx.selectionPolicy()
	var out []plannedInput

	for _, root := range ctx.Inputs {
		if root == "-" {
			name := entryNameFor(root, root)
			if sel.Matches(name) && ctx.inTimeWindow(time.Now()) {
				out = append(out, plannedInput{fsPath: root, entryName: name, info: InputInfo{Kind: InputStream}})
			}
			continue
		}

		info, err := describeInput(root)
		if err != nil {
			return nil, err
		}

		if info.Kind != InputDirectory {
			name := entryNameFor(root, root)
			if sel.Matches(name) && ctx.inTimeWindow(unixSecToTime(info.ModTime)) {
				out = append(out, plannedInput{fsPath: root, entryName: name, info: info})
			}
			continue
		}

		c := collector.New(collector.Options{SkipNames: selfOutputNames(ctx)})
		files, err := c.Collect(root)
		if err != nil {
			return nil, ioErrorf(root, err, "collecting directory inputs")
		}

		dirName := entryNameFor(root, root) + "/"
		if err := validateEntryName(dirName); err == nil {
			out = append(out, plannedInput{fsPath: root, entryName: dirName, info: InputInfo{Kind: InputDirectory, ModTime: info.ModTime}})
		}

		for _, fi := range files {
			name := entryNameFor(root, fi.Path)
			if !sel.Matches(name) || !ctx.inTimeWindow(fi.ModTime) {
				continue
			}
			out = append(out, plannedInput{fsPath: fi.Path, entryName: name, info: inputInfoFromCollected(fi)})
		}
	}

	if len(out) == 0 && (ctx.Mode == ModeAdd || ctx.Mode == ModeUpdate) && len(ctx.Inputs) > 0 {
		return nil, noFilesErrorf("selection produced no files from the given inputs")
	}

	return out, nil
}

// selfOutputNames returns the base filenames a directory walk must keep
// out of the input set: the archive's own output path and the atomic-
// replace temp sibling resolveOutputPaths will write next to it (spec §6
// "<base>.tmp"). Without this, building an archive from a directory that
// happens to contain the archive itself could sweep the in-progress temp
// output back into the archive being written.
func selfOutputNames(ctx *Context) []string {
	outPath, tempPath, err := resolveOutputPaths(ctx)
	if err != nil {
		return nil
	}
	return []string{filepath.Base(outPath), filepath.Base(tempPath)}
}

// inputInfoFromCollected converts one collector.FileInfo (already stat'd
// during the directory walk, including the Lstat-level symlink check) into
// the InputInfo describeInput would otherwise recompute with a second
// syscall per file.
func inputInfoFromCollected(fi collector.FileInfo) InputInfo {
	if fi.IsSymlink {
		return InputInfo{Kind: InputSymlink, Mode: fi.Mode, LinkTarget: fi.LinkTarget, ModTime: fi.ModTime.Unix()}
	}
	return InputInfo{Kind: InputRegular, Size: fi.Size, Mode: fi.Mode, ModTime: fi.ModTime.Unix()}
}

// entryNameFor derives the stored archive name for a filesystem path,
// relative to the root the user named on the command line and always
// forward-slash separated (I6 disallows backslashes in practice since
// they'd be treated as a literal character, not a separator).
func entryNameFor(root, path string) string {
	rel, err := filepath.Rel(filepath.Dir(root), path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

func resolveOutputPaths(ctx *Context) (outPath, tempPath string, err error) {
	outPath = ctx.ArchivePath
	if ctx.OutputPath != "" {
		outPath = ctx.OutputPath
	}

	dir := ctx.TempDir
	if dir == "" {
		dir = filepath.Dir(outPath)
	}
	base := filepath.Base(outPath)
	tempPath = filepath.Join(dir, base+".tmp")
	return outPath, tempPath, nil
}

// atomicReplace renames tempPath over outPath, falling back to copy-then-
// unlink when the two paths live on different devices (spec §4.9
// "Atomic replacement").
func atomicReplace(tempPath, outPath string) error {
	err := os.Rename(tempPath, outPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return copyThenUnlink(tempPath, outPath)
	}
	return ioErrorf(outPath, err, "renaming temp output into place")
}

func copyThenUnlink(tempPath, outPath string) error {
	src, err := os.Open(tempPath)
	if err != nil {
		return ioErrorf(tempPath, err, "reopening temp output for cross-device copy")
	}
	defer src.Close()

	dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return ioErrorf(outPath, err, "creating destination for cross-device copy")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return ioErrorf(outPath, err, "copying temp output across devices")
	}
	if err := dst.Close(); err != nil {
		return ioErrorf(outPath, err, "closing destination after cross-device copy")
	}
	os.Remove(tempPath)
	return nil
}

// addStdinInput implements the "-" input marker: spec §4.8 step 1 classifies
// stdin as streaming, so the default case is a direct AddStream of os.Stdin
// (spec §9's scenario S6 depends on the resulting entry carrying the
// data-descriptor flag). When line-ending translation is requested, stdin is
// drained first via StageStdin so openWithLineEndingXlate's whole-buffer CRLF
// pass can run over it like any on-disk input, since translating a live
// stream in place isn't possible.
func addStdinInput(w *ArchiveWriter, ctx *Context, p plannedInput, opts EntryOptions) error {
	if !ctx.LineEndingXlate {
		return w.AddStream(p.entryName, os.Stdin, time.Now(), opts)
	}

	staged, cleanup, err := StageStdin(os.Stdin)
	if err != nil {
		return err
	}
	defer cleanup()

	r, size, err := openWithLineEndingXlate(staged.Path)
	if err != nil {
		return err
	}
	return w.AddFile(p.entryName, r, size, time.Now(), opts)
}

// openWithLineEndingXlate implements spec §4.8 step 5: for a probable text
// file, translate bare LF to CRLF before CRC and compression. Non-text
// files (detected by a NUL byte in a leading probe window, the same
// is-text heuristic StageStdin applies to piped input) are passed through
// untouched. The whole file is staged in memory so the result can be
// handed back as a seekable source for AddFile's pre-staged path.
func openWithLineEndingXlate(path string) (io.ReadSeeker, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, ioErrorf(path, err, "reading input file for line-ending translation")
	}
	if !looksLikeText(data) {
		return &memReadSeeker{data: data}, int64(len(data)), nil
	}
	translated := toCRLF(data)
	return &memReadSeeker{data: translated}, int64(len(translated)), nil
}

// looksLikeText mirrors StageStdin's probe: no NUL byte in the first 512
// bytes.
func looksLikeText(data []byte) bool {
	probe := data
	if len(probe) > 512 {
		probe = probe[:512]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return true
}

// toCRLF rewrites every LF not already preceded by CR into CRLF.
func toCRLF(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/20)
	for i, b := range data {
		if b == '\n' && (i == 0 || data[i-1] != '\r') {
			out = append(out, '\r', '\n')
			continue
		}
		out = append(out, b)
	}
	return out
}

// memReadSeeker adapts an in-memory byte slice (a symlink's target text)
// to io.ReadSeeker for AddFile's pre-staged path.
type memReadSeeker struct {
	data []byte
	pos  int
}

func (m *memReadSeeker) Read(p []byte) (int, error) {
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}

func (m *memReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.data))
	}
	m.pos = int(base + offset)
	return int64(m.pos), nil
}
