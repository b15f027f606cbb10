package zipfmt

import (
	"encoding/binary"
	"io"
	"os"
)

// RecoverDirectory implements C7: synthesize a central directory by
// scanning for local-header signatures when the real one is missing or
// corrupt. Activated by the caller when locateDirectory fails and
// fix-fix mode is requested (spec §4.7).
//
// No pack repo implements this; it is built from spec prose directly on
// top of the same header-parsing primitives C1/C5 use (see DESIGN.md).
func RecoverDirectory(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErrorf(path, err, "opening archive for recovery")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ioErrorf(path, err, "stat archive for recovery")
	}
	size := info.Size()

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil && err != io.ErrUnexpectedEOF {
		return nil, ioErrorf(path, err, "reading archive for recovery")
	}

	offsets := scanLocalHeaderOffsets(data)
	if len(offsets) == 0 {
		return nil, noFilesErrorf("no local file headers found during recovery scan")
	}

	entries := make([]*Entry, 0, len(offsets))
	for i, off := range offsets {
		entry, err := recoverOneEntry(data, off, nextOffsetOrEnd(offsets, i, int64(len(data))))
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, noFilesErrorf("no recoverable entries found during recovery scan")
	}

	return &Directory{Entries: entries}, nil
}

func nextOffsetOrEnd(offsets []int64, i int, end int64) int64 {
	if i+1 < len(offsets) {
		return offsets[i+1]
	}
	return end
}

func scanLocalHeaderOffsets(data []byte) []int64 {
	var offsets []int64
	for i := 0; i+4 <= len(data); i++ {
		if binary.LittleEndian.Uint32(data[i:i+4]) == sigLocalHeader {
			offsets = append(offsets, int64(i))
		}
	}
	return offsets
}

// recoverOneEntry parses the local header at off and estimates the
// compressed size as the gap to nextOff when the real size is unknown
// (data-descriptor flag set, a 32-bit size sentinel that no Zip64 extra
// resolves, or both declared sizes zero), per the
// heuristic spec §9 describes and explicitly asks implementers to
// preserve rather than strengthen.
func recoverOneEntry(data []byte, off, nextOff int64) (*Entry, error) {
	if off+localHeaderSize > int64(len(data)) {
		return nil, errBadSignature
	}
	hdr := data[off : off+localHeaderSize]
	if binary.LittleEndian.Uint32(hdr[0:4]) != sigLocalHeader {
		return nil, errBadSignature
	}

	var lh localHeader
	lh.VersionNeeded = binary.LittleEndian.Uint16(hdr[4:6])
	lh.Flags = binary.LittleEndian.Uint16(hdr[6:8])
	lh.Method = binary.LittleEndian.Uint16(hdr[8:10])
	lh.ModTime = binary.LittleEndian.Uint16(hdr[10:12])
	lh.ModDate = binary.LittleEndian.Uint16(hdr[12:14])
	lh.CRC32 = binary.LittleEndian.Uint32(hdr[14:18])
	lh.CompSize = binary.LittleEndian.Uint32(hdr[18:22])
	lh.UncompSize = binary.LittleEndian.Uint32(hdr[22:26])
	lh.NameLen = binary.LittleEndian.Uint16(hdr[26:28])
	lh.ExtraLen = binary.LittleEndian.Uint16(hdr[28:30])

	nameStart := off + localHeaderSize
	nameEnd := nameStart + int64(lh.NameLen)
	if nameEnd > int64(len(data)) {
		return nil, errBadSignature
	}
	name := string(data[nameStart:nameEnd])

	extraStart := nameEnd
	extraEnd := extraStart + int64(lh.ExtraLen)
	if extraEnd > int64(len(data)) {
		return nil, errBadSignature
	}
	extra := data[extraStart:extraEnd]

	dataStart := extraEnd

	uncompSentinel := lh.UncompSize == sentinel32
	compSentinel := lh.CompSize == sentinel32
	parsed := parseExtra(extra, uncompSentinel, compSentinel, false)

	compSize := resolve64(lh.CompSize, parsed.compSize)
	uncompSize := resolve64(lh.UncompSize, parsed.uncompSize)

	usesDescriptor := lh.Flags&flagSizeInDescriptor != 0
	unresolvedSentinel := (compSentinel && parsed.compSize == nil) || (uncompSentinel && parsed.uncompSize == nil)
	if usesDescriptor || unresolvedSentinel || (compSize == 0 && uncompSize == 0) {
		gap := nextOff - dataStart
		if gap < 0 {
			gap = 0
		}
		descLen := int64(16)
		if gap >= descLen && looksLikeDescriptor(data, dataStart+gap-descLen) {
			gap -= descLen
		}
		compSize = uint64(gap)
		if uncompSize == 0 || (uncompSentinel && parsed.uncompSize == nil) {
			uncompSize = compSize
		}
	}

	return &Entry{
		Name:              name,
		Method:            lh.Method,
		Flags:             lh.Flags,
		CRC32:             lh.CRC32,
		CompSize:          compSize,
		UncompSize:        uncompSize,
		ModTime:           timeFromDOS(lh.ModDate, lh.ModTime),
		LocalHeaderOffset: uint64(off),
		rawExtra:          extra,
	}, nil
}

func looksLikeDescriptor(data []byte, at int64) bool {
	if at < 0 || at+4 > int64(len(data)) {
		return false
	}
	return binary.LittleEndian.Uint32(data[at:at+4]) == sigDataDescriptor
}
