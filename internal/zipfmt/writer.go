package zipfmt

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"strings"
	"time"
)

// defaultZip64Trigger is the 32-bit overflow boundary. Tests may lower it
// via Context.Zip64Trigger (sourced from ZU_TEST_ZIP64_TRIGGER, spec §6)
// to exercise the escalation path without generating gigabyte archives.
const defaultZip64Trigger = uint64(1) << 32

// EntryOptions configures how one entry is added to the archive (spec
// §4.8).
type EntryOptions struct {
	Method        uint16
	Level         int
	Mode          uint32 // unix permission+type bits; 0 means "don't set"
	Password      string
	StripAttrs    bool
	NoCompressExt []string
}

// ArchiveWriter implements C8: emit entries to an output sink while
// tracking a running offset, then emit the central directory, Zip64
// records (if escalated), and classic EOCD on Close.
//
// The streaming-writer shape (a running offset counter, one entry open at
// a time, a directory slice finalized on Close) is grounded on
// Mr-XiaoLei-apk-editor/editor/zip/writer.go's Writer/countWriter. Per-entry
// extra-field emission and Zip64-escalation arithmetic in the central
// directory are grounded on martin-sucha-zipserve/writer.go's
// writeCentralDirectory/prepareEntry/makeDataDescriptor; see DESIGN.md.
type ArchiveWriter struct {
	w       *countingWriter
	path    string
	trigger uint64
	comment string
	entries []*Entry
}

// countingWriter tracks the running byte offset of everything written to
// it, the way the writer needs to know each entry's local-header offset
// without requiring a seekable sink.
type countingWriter struct {
	w      io.Writer
	offset uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.offset += uint64(n)
	return n, err
}

// NewWriter wraps w (a plain, possibly non-seekable sink — the temp output
// file during a modify run, or stdout) for archive creation.
func NewWriter(w io.Writer, path string, trigger uint64) *ArchiveWriter {
	if trigger == 0 {
		trigger = defaultZip64Trigger
	}
	return &ArchiveWriter{w: &countingWriter{w: w}, path: path, trigger: trigger}
}

func (w *ArchiveWriter) SetComment(comment string) { w.comment = comment }

// selectMethod implements C8 step 2: force store for empty files, a
// configured no-compress suffix, or when requested explicitly; otherwise
// use the caller's chosen method.
func selectMethod(name string, size int64, method uint16, noCompressExt []string) uint16 {
	if size == 0 {
		return MethodStore
	}
	base := name
	if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
		ext := strings.ToLower(base[idx+1:])
		for _, suf := range noCompressExt {
			if strings.ToLower(suf) == ext {
				return MethodStore
			}
		}
	}
	return method
}

// AddDirectory emits a zero-length entry for a directory, forcing Store
// and clearing sizes, matching martin-sucha-zipserve's prepareEntry
// directory handling.
func (w *ArchiveWriter) AddDirectory(name string, modTime time.Time, mode uint32) error {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	if err := validateEntryName(name); err != nil {
		return err
	}

	entry := &Entry{
		Name:       name,
		Method:     MethodStore,
		ModTime:    modTime,
		UncompSize: 0,
		CompSize:   0,
		CRC32:      0,
	}
	if mode != 0 {
		entry.SetUnixMode(os.FileMode(mode))
	}

	return w.writePrecomputedEntry(entry, nil)
}

// encryptedExtra reports the flag bit and byte-count an entry's encryption
// header adds on top of its compressed payload.
type encryptedExtra struct {
	flag uint16
	size uint64
}

// encryptStagedBody wraps a pre-staged (seekable-source-already-read) body
// in ZipCrypto encryption when password is non-empty (spec §4.8 step 4). The
// check byte is the high byte of the entry's CRC-32, since the pre-staged
// path never sets flagSizeInDescriptor. Returns body unchanged when password
// is empty.
func encryptStagedBody(password string, crc32 uint32, body io.Reader) (io.Reader, encryptedExtra, error) {
	if password == "" {
		return body, encryptedExtra{}, nil
	}
	var randHeader [zipCryptoHeaderSize]byte
	if _, err := rand.Read(randHeader[:]); err != nil {
		return nil, encryptedExtra{}, err
	}
	zc := newZipCrypto(password)
	encHeader := zc.encryptHeader(randHeader, byte(crc32>>24))
	r := io.MultiReader(bytes.NewReader(encHeader[:]), &zipCryptoEncryptReader{z: zc, r: body})
	return r, encryptedExtra{flag: flagEncrypted, size: zipCryptoHeaderSize}, nil
}

// AddFile implements C8's pre-staged write path: r must be a seekable,
// known-size source. The entry is compressed to a temp sink first so its
// final size can be measured and compared against the uncompressed size;
// if compression didn't help, the entry falls back to Store (spec §4.8
// step 3 "Pre-staged").
func (w *ArchiveWriter) AddFile(name string, r io.ReadSeeker, size int64, modTime time.Time, opts EntryOptions) error {
	if err := validateEntryName(name); err != nil {
		return err
	}

	method := selectMethod(name, size, opts.Method, opts.NoCompressExt)

	entry := &Entry{Name: name, Method: method, ModTime: modTime, UncompSize: uint64(size)}
	if opts.Mode != 0 {
		entry.SetUnixMode(os.FileMode(opts.Mode))
	}

	if method == MethodStore || size == 0 {
		crc := newCRCAccumulator()
		if _, err := io.Copy(crc, r); err != nil {
			return ioErrorf(name, err, "computing CRC")
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return ioErrorf(name, err, "rewinding input")
		}
		entry.CRC32 = crc.Sum32()
		entry.CompSize = entry.UncompSize
		body, extra, err := encryptStagedBody(opts.Password, entry.CRC32, r)
		if err != nil {
			return err
		}
		entry.Flags |= extra.flag
		entry.CompSize += extra.size
		return w.writePrecomputedEntry(entry, body)
	}

	tmp, err := os.CreateTemp("", "zu-stage-*")
	if err != nil {
		return ioErrorf(name, err, "creating compression staging file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	crc := newCRCAccumulator()
	enc, err := newEncoder(method, opts.Level, tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(io.MultiWriter(enc, crc), r); err != nil {
		return ioErrorf(name, err, "compressing entry")
	}
	if err := enc.Close(); err != nil {
		return ioErrorf(name, err, "finalizing compressed entry")
	}

	info, err := tmp.Stat()
	if err != nil {
		return ioErrorf(name, err, "stat staging file")
	}
	compSize := info.Size()

	if compSize >= size {
		// Compression didn't help; fall back to store (spec §4.8 step 3).
		// crc already reflects the plaintext read from r during staging.
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return ioErrorf(name, err, "rewinding input for store fallback")
		}
		entry.Method = MethodStore
		entry.CRC32 = crc.Sum32()
		entry.CompSize = entry.UncompSize
		body, extra, err := encryptStagedBody(opts.Password, entry.CRC32, r)
		if err != nil {
			return err
		}
		entry.Flags |= extra.flag
		entry.CompSize += extra.size
		return w.writePrecomputedEntry(entry, body)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return ioErrorf(name, err, "rewinding staging file")
	}
	entry.CompSize = uint64(compSize)
	entry.CRC32 = crc.Sum32()
	body, extra, err := encryptStagedBody(opts.Password, entry.CRC32, tmp)
	if err != nil {
		return err
	}
	entry.Flags |= extra.flag
	entry.CompSize += extra.size
	return w.writePrecomputedEntry(entry, body)
}

// AddStream implements C8's streaming write path (spec §4.8 step 3
// "Streaming"): unknown-size or non-seekable input (stdin, a FIFO). The
// local header is written with sizes=0 and flag bit 3 set; compressed
// bytes are streamed directly; a trailing data descriptor carries the
// final CRC and sizes.
func (w *ArchiveWriter) AddStream(name string, r io.Reader, modTime time.Time, opts EntryOptions) error {
	if err := validateEntryName(name); err != nil {
		return err
	}

	method := opts.Method
	if method == 0 {
		method = MethodDeflate
	}

	entry := &Entry{
		Name:    name,
		Method:  method,
		ModTime: modTime,
		Flags:   flagSizeInDescriptor,
	}
	if opts.Mode != 0 {
		entry.SetUnixMode(os.FileMode(opts.Mode))
	}
	if opts.Password != "" {
		entry.Flags |= flagEncrypted
	}

	localOffset := w.w.offset
	entry.LocalHeaderOffset = localOffset

	lh := entry.toLocalHeader(w.trigger)
	if _, err := w.w.Write(lh.marshal()); err != nil {
		return ioErrorf(name, err, "writing local header")
	}
	if _, err := w.w.Write([]byte(name)); err != nil {
		return ioErrorf(name, err, "writing entry name")
	}
	extra := entry.buildExtras(w.trigger)
	if _, err := w.w.Write(extra); err != nil {
		return ioErrorf(name, err, "writing extra field")
	}

	bodyStart := w.w.offset

	var zc *zipCrypto
	if opts.Password != "" {
		var randHeader [zipCryptoHeaderSize]byte
		if _, err := rand.Read(randHeader[:]); err != nil {
			return err
		}
		zc = newZipCrypto(opts.Password)
		_, modDosTime := dosDateTime(entry.ModTime)
		encHeader := zc.encryptHeader(randHeader, byte(modDosTime>>8))
		if _, err := w.w.Write(encHeader[:]); err != nil {
			return ioErrorf(name, err, "writing encryption header")
		}
	}

	var sink io.Writer = w.w
	if zc != nil {
		sink = &zipCryptoEncryptWriter{z: zc, w: w.w}
	}

	crc := newCRCAccumulator()
	enc, err := newEncoder(method, opts.Level, sink)
	if err != nil {
		return err
	}
	n, err := io.Copy(io.MultiWriter(enc, crc), r)
	if err != nil {
		return ioErrorf(name, err, "streaming compressed entry")
	}
	if err := enc.Close(); err != nil {
		return ioErrorf(name, err, "finalizing streamed entry")
	}

	entry.UncompSize = uint64(n)
	entry.CompSize = w.w.offset - bodyStart
	entry.CRC32 = crc.Sum32()

	desc := dataDescriptor{
		CRC32:      entry.CRC32,
		CompSize:   entry.CompSize,
		UncompSize: entry.UncompSize,
		Zip64:      entry.needsZip64(w.trigger),
	}
	if _, err := w.w.Write(desc.marshal()); err != nil {
		return ioErrorf(name, err, "writing data descriptor")
	}

	w.entries = append(w.entries, entry)
	return nil
}

// writePrecomputedEntry writes a local header for an entry whose CRC and
// compressed size are already known (the pre-staged path), then copies the
// staged compressed bytes verbatim. staged may be nil for zero-length
// entries (directories).
func (w *ArchiveWriter) writePrecomputedEntry(entry *Entry, staged io.Reader) error {
	localOffset := w.w.offset
	entry.LocalHeaderOffset = localOffset

	lh := entry.toLocalHeader(w.trigger)
	if _, err := w.w.Write(lh.marshal()); err != nil {
		return ioErrorf(entry.Name, err, "writing local header")
	}
	if _, err := w.w.Write([]byte(entry.Name)); err != nil {
		return ioErrorf(entry.Name, err, "writing entry name")
	}
	extra := entry.buildExtras(w.trigger)
	if _, err := w.w.Write(extra); err != nil {
		return ioErrorf(entry.Name, err, "writing extra field")
	}
	if staged != nil {
		if _, err := io.Copy(w.w, staged); err != nil {
			return ioErrorf(entry.Name, err, "writing compressed entry body")
		}
	}

	w.entries = append(w.entries, entry)
	return nil
}

// toLocalHeader renders entry's current fields as a local header, using
// sentinels where Zip64 escalation applies (I2).
func (e *Entry) toLocalHeader(trigger uint64) localHeader {
	needZip64 := e.needsZip64(trigger)
	modDate, modTime := dosDateTime(e.ModTime)

	lh := localHeader{
		VersionNeeded: versionNeededFor(e.Method, needZip64),
		Flags:         e.Flags,
		Method:        e.Method,
		ModTime:       modTime,
		ModDate:       modDate,
		CRC32:         e.CRC32,
		NameLen:       uint16(len(e.Name)),
	}
	if needZip64 {
		lh.CompSize = sentinel32
		lh.UncompSize = sentinel32
	} else {
		lh.CompSize = uint32(e.CompSize)
		lh.UncompSize = uint32(e.UncompSize)
	}
	lh.ExtraLen = uint16(len(e.buildExtras(trigger)))
	return lh
}

// buildExtras assembles the extra-field block for an entry being written:
// Zip64 (when escalated) plus the extended timestamp whenever ModTime is
// set. No Unix UID/GID extra is written, and EntryOptions.StripAttrs is not
// consulted here.
func (e *Entry) buildExtras(trigger uint64) []byte {
	var out []byte
	if e.needsZip64(trigger) {
		out = append(out, buildZip64Extra(true, true, false, e.UncompSize, e.CompSize, 0)...)
	}
	if !e.ModTime.IsZero() {
		out = append(out, buildTimestampExtra(e.ModTime)...)
	}
	return out
}

func versionNeededFor(method uint16, zip64 bool) uint16 {
	switch {
	case zip64:
		return 45
	case method == MethodBzip2:
		return 46
	case method == MethodDeflate:
		return 20
	default:
		return 10
	}
}

// Close finalizes the archive: central directory, Zip64 EOCD + locator (if
// any entry or the entry count escalated), and the classic EOCD (spec
// §4.8's "Central directory" paragraph).
func (w *ArchiveWriter) Close() error {
	cdStart := w.w.offset

	for _, e := range w.entries {
		if err := w.writeCentralEntry(e); err != nil {
			return err
		}
	}

	cdSize := w.w.offset - cdStart
	count := uint64(len(w.entries))
	escalated := count > 0xFFFF || cdSize >= w.trigger || cdStart >= w.trigger
	for _, e := range w.entries {
		if e.needsZip64(w.trigger) {
			escalated = true
			break
		}
	}

	if escalated {
		z64 := zip64EOCD{
			VersionMadeBy: uint16(hostUnix)<<8 | 45,
			VersionNeeded: 45,
			EntriesOnDisk: count,
			EntriesTotal:  count,
			CDSize:        cdSize,
			CDOffset:      cdStart,
		}
		z64Offset := w.w.offset
		if _, err := w.w.Write(z64.marshal()); err != nil {
			return ioErrorf(w.path, err, "writing Zip64 EOCD")
		}
		loc := zip64Locator{EOCDOffset: z64Offset, TotalDisks: 1}
		if _, err := w.w.Write(loc.marshal()); err != nil {
			return ioErrorf(w.path, err, "writing Zip64 EOCD locator")
		}
	}

	eocd := eocdRecord{
		EntriesOnDisk: capUint16(count),
		EntriesTotal:  capUint16(count),
		CDSize:        capUint32(cdSize),
		CDOffset:      capUint32(cdStart),
		CommentLen:    uint16(len(w.comment)),
	}
	if escalated {
		// Sentinels send readers to the Zip64 EOCD even when a lowered
		// trigger escalated an archive whose values fit in 32 bits.
		eocd.EntriesOnDisk = 0xFFFF
		eocd.EntriesTotal = 0xFFFF
		eocd.CDSize = sentinel32
		eocd.CDOffset = sentinel32
	}
	if _, err := w.w.Write(eocd.marshal()); err != nil {
		return ioErrorf(w.path, err, "writing EOCD")
	}
	if _, err := w.w.Write([]byte(w.comment)); err != nil {
		return ioErrorf(w.path, err, "writing archive comment")
	}

	return nil
}

func capUint16(v uint64) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func capUint32(v uint64) uint32 {
	if v >= sentinel32 {
		return sentinel32
	}
	return uint32(v)
}

func (w *ArchiveWriter) writeCentralEntry(e *Entry) error {
	needZip64 := e.needsZip64(w.trigger)

	ch := centralHeader{
		VersionMadeBy: e.VersionMadeBy,
		VersionNeeded: versionNeededFor(e.Method, needZip64),
		Flags:         e.Flags,
		Method:        e.Method,
		CRC32:         e.CRC32,
		NameLen:       uint16(len(e.Name)),
		CommentLen:    uint16(len(e.Comment)),
		InternalAttrs: e.InternalAttrs,
		ExternalAttrs: e.ExternalAttrs,
	}
	ch.ModDate, ch.ModTime = dosDateTime(e.ModTime)

	if e.VersionMadeBy == 0 {
		ch.VersionMadeBy = uint16(hostUnix)<<8 | versionNeededFor(e.Method, needZip64)
	}

	zip64Extra := []byte(nil)
	if needZip64 {
		ch.UncompSize = sentinel32
		ch.CompSize = sentinel32
		ch.LocalHdrOffset = sentinel32
		offsetSentinel := e.LocalHeaderOffset >= w.trigger
		zip64Extra = buildZip64Extra(true, true, offsetSentinel, e.UncompSize, e.CompSize, e.LocalHeaderOffset)
		if !offsetSentinel {
			ch.LocalHdrOffset = uint32(e.LocalHeaderOffset)
		}
	} else {
		ch.UncompSize = uint32(e.UncompSize)
		ch.CompSize = uint32(e.CompSize)
		ch.LocalHdrOffset = uint32(e.LocalHeaderOffset)
	}

	extra := zip64Extra
	if !e.ModTime.IsZero() {
		extra = append(extra, buildTimestampExtra(e.ModTime)...)
	}
	ch.ExtraLen = uint16(len(extra))

	if _, err := w.w.Write(ch.marshal()); err != nil {
		return ioErrorf(e.Name, err, "writing central directory entry")
	}
	if _, err := w.w.Write([]byte(e.Name)); err != nil {
		return ioErrorf(e.Name, err, "writing central directory name")
	}
	if _, err := w.w.Write(extra); err != nil {
		return ioErrorf(e.Name, err, "writing central directory extra")
	}
	if _, err := w.w.Write([]byte(e.Comment)); err != nil {
		return ioErrorf(e.Name, err, "writing central directory comment")
	}
	return nil
}
