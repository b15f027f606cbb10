package zipfmt

import (
	"encoding/binary"
	"io"
)

// maxEOCDScan bounds the trailing window the locator searches for the EOCD
// signature: the fixed 22-byte record plus the largest possible archive
// comment (spec §4.5, I7).
const maxEOCDScan = eocdSize + 0xFFFF

// Directory is the result of locating and parsing an archive's central
// directory: every entry plus the archive-wide comment (spec §3, §4.5).
type Directory struct {
	Entries []*Entry
	Comment string
	Zip64   bool
}

// locateDirectory implements C5: scan backward for the EOCD signature,
// resolve Zip64 escalation, then parse every central directory entry.
//
// Grounded on elliotnunn-BeHierarchic/internal/zip/zip.go's getEOCD/New2
// (backward scan bounded window, Zip64 locator + Zip64 EOCD override) and
// haapjari-btidy/pkg/unzipper/zip64_compat.go's
// findZipEndOfCentralDirectory/readZip64LocatorRecord (an independent
// implementation of the same scan, used here to cross-check edge cases);
// see DESIGN.md.
func locateDirectory(r io.ReaderAt, size int64, archivePath string) (*Directory, error) {
	if size < eocdSize {
		return nil, ioErrorf(archivePath, nil, "file too small to contain an EOCD record")
	}

	window := int64(maxEOCDScan)
	if window > size {
		window = size
	}

	buf := make([]byte, window)
	if _, err := r.ReadAt(buf, size-window); err != nil && err != io.EOF {
		return nil, ioErrorf(archivePath, err, "reading EOCD scan window")
	}

	eocdPos := findEOCDSignature(buf)
	if eocdPos < 0 {
		return nil, ioErrorf(archivePath, nil, "EOCD signature not found; archive is missing its central directory")
	}

	eocdAbsOffset := size - window + int64(eocdPos)

	record := buf[eocdPos : eocdPos+eocdSize]
	eocd := parseEOCD(record)

	commentStart := eocdPos + eocdSize
	commentLen := int(eocd.CommentLen)
	var comment string
	if commentStart+commentLen <= len(buf) {
		comment = string(buf[commentStart : commentStart+commentLen])
	}

	entriesTotal := uint64(eocd.EntriesTotal)
	cdSize := uint64(eocd.CDSize)
	cdOffset := uint64(eocd.CDOffset)
	isZip64 := false

	needsZip64Lookup := eocd.EntriesTotal == 0xFFFF || eocd.CDSize == sentinel32 || eocd.CDOffset == sentinel32
	if needsZip64Lookup {
		locEnd := eocdAbsOffset
		locStart := locEnd - zip64LocatorSize
		if locStart < 0 {
			return nil, ioErrorf(archivePath, nil, "truncated archive: missing Zip64 locator")
		}
		locBuf := make([]byte, zip64LocatorSize)
		if _, err := r.ReadAt(locBuf, locStart); err != nil {
			return nil, ioErrorf(archivePath, err, "reading Zip64 EOCD locator")
		}
		loc, err := parseZip64Locator(locBuf)
		if err != nil {
			return nil, ioErrorf(archivePath, err, "invalid Zip64 EOCD locator signature")
		}

		z64Buf := make([]byte, zip64EOCDSize)
		if _, err := r.ReadAt(z64Buf, int64(loc.EOCDOffset)); err != nil {
			return nil, ioErrorf(archivePath, err, "reading Zip64 EOCD record")
		}
		if binary.LittleEndian.Uint32(z64Buf[0:4]) != sigZip64EOCD {
			return nil, ioErrorf(archivePath, nil, "invalid Zip64 EOCD signature")
		}
		z64 := parseZip64EOCD(z64Buf)
		entriesTotal = z64.EntriesTotal
		cdSize = z64.CDSize
		cdOffset = z64.CDOffset
		isZip64 = true
	}

	entries, err := readCentralDirectoryEntries(r, int64(cdOffset), int64(cdSize), entriesTotal, archivePath)
	if err != nil {
		return nil, err
	}

	return &Directory{Entries: entries, Comment: comment, Zip64: isZip64}, nil
}

func findEOCDSignature(buf []byte) int {
	for i := len(buf) - eocdSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:i+4]) == sigEOCD {
			return i
		}
	}
	return -1
}

func readCentralDirectoryEntries(r io.ReaderAt, cdOffset, cdSize int64, count uint64, archivePath string) ([]*Entry, error) {
	buf := make([]byte, cdSize)
	if cdSize > 0 {
		if _, err := r.ReadAt(buf, cdOffset); err != nil && err != io.EOF {
			return nil, ioErrorf(archivePath, err, "reading central directory")
		}
	}

	entries := make([]*Entry, 0, count)
	pos := 0
	for i := uint64(0); i < count; i++ {
		if pos+centralHeaderSize > len(buf) {
			return nil, ioErrorf(archivePath, nil, "truncated central directory entry %d", i)
		}
		if binary.LittleEndian.Uint32(buf[pos:pos+4]) != sigCentralHeader {
			return nil, ioErrorf(archivePath, nil, "bad central directory signature at entry %d", i)
		}

		ch := mustParseCentral(buf[pos : pos+centralHeaderSize])
		pos += centralHeaderSize

		nameLen := int(ch.NameLen)
		extraLen := int(ch.ExtraLen)
		commentLen := int(ch.CommentLen)
		if pos+nameLen+extraLen+commentLen > len(buf) {
			return nil, ioErrorf(archivePath, nil, "truncated central directory entry %d fields", i)
		}

		name := string(buf[pos : pos+nameLen])
		pos += nameLen
		extra := buf[pos : pos+extraLen]
		pos += extraLen
		comment := string(buf[pos : pos+commentLen])
		pos += commentLen

		uncompSentinel := ch.UncompSize == sentinel32
		compSentinel := ch.CompSize == sentinel32
		offsetSentinel := ch.LocalHdrOffset == sentinel32
		parsed := parseExtra(extra, uncompSentinel, compSentinel, offsetSentinel)

		entry := &Entry{
			Name:              name,
			Method:            ch.Method,
			Flags:             ch.Flags,
			CRC32:             ch.CRC32,
			CompSize:          resolve64(ch.CompSize, parsed.compSize),
			UncompSize:        resolve64(ch.UncompSize, parsed.uncompSize),
			ModTime:           timeFromDOS(ch.ModDate, ch.ModTime),
			VersionMadeBy:     ch.VersionMadeBy,
			VersionNeeded:     ch.VersionNeeded,
			Host:              byte(ch.VersionMadeBy >> 8),
			InternalAttrs:     ch.InternalAttrs,
			ExternalAttrs:     ch.ExternalAttrs,
			LocalHeaderOffset: resolve64(ch.LocalHdrOffset, parsed.offset),
			Comment:           comment,
			rawExtra:          extra,
		}
		if parsed.unixTime != nil {
			entry.ModTime = *parsed.unixTime
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func mustParseCentral(buf []byte) centralHeader {
	var h centralHeader
	h.VersionMadeBy = binary.LittleEndian.Uint16(buf[4:6])
	h.VersionNeeded = binary.LittleEndian.Uint16(buf[6:8])
	h.Flags = binary.LittleEndian.Uint16(buf[8:10])
	h.Method = binary.LittleEndian.Uint16(buf[10:12])
	h.ModTime = binary.LittleEndian.Uint16(buf[12:14])
	h.ModDate = binary.LittleEndian.Uint16(buf[14:16])
	h.CRC32 = binary.LittleEndian.Uint32(buf[16:20])
	h.CompSize = binary.LittleEndian.Uint32(buf[20:24])
	h.UncompSize = binary.LittleEndian.Uint32(buf[24:28])
	h.NameLen = binary.LittleEndian.Uint16(buf[28:30])
	h.ExtraLen = binary.LittleEndian.Uint16(buf[30:32])
	h.CommentLen = binary.LittleEndian.Uint16(buf[32:34])
	h.DiskStart = binary.LittleEndian.Uint16(buf[34:36])
	h.InternalAttrs = binary.LittleEndian.Uint16(buf[36:38])
	h.ExternalAttrs = binary.LittleEndian.Uint32(buf[38:42])
	h.LocalHdrOffset = binary.LittleEndian.Uint32(buf[42:46])
	return h
}

func resolve64(field32 uint32, resolved *uint64) uint64 {
	if field32 == sentinel32 && resolved != nil {
		return *resolved
	}
	return uint64(field32)
}
