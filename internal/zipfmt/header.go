package zipfmt

import (
	"encoding/binary"
	"errors"
	"io"
)

// errBadSignature is returned by the low-level header readers when the
// expected magic signature is absent. Callers translate it into a
// *zipfmt.Error with archive-path context.
var errBadSignature = errors.New("bad record signature")

// Signatures for the six structured records the format defines (spec §4.1).
const (
	sigLocalHeader    = 0x04034b50
	sigCentralHeader  = 0x02014b50
	sigEOCD           = 0x06054b50
	sigZip64EOCD      = 0x06064b50
	sigZip64Locator   = 0x07064b50
	sigDataDescriptor = 0x08074b50
)

// Compression methods the engine understands (spec §3, §4.2).
const (
	MethodStore   = 0
	MethodDeflate = 8
	MethodBzip2   = 12
)

// General-purpose flag bits used by this engine.
const (
	flagEncrypted        = 1 << 0
	flagSizeInDescriptor = 1 << 3
	flagUTF8Name         = 1 << 11
)

const sentinel32 = 0xFFFFFFFF

// localHeader is the 30-byte fixed portion of a local file header, excluding
// the trailing name and extra bytes.
type localHeader struct {
	VersionNeeded  uint16
	Flags          uint16
	Method         uint16
	ModTime        uint16
	ModDate        uint16
	CRC32          uint32
	CompSize       uint32
	UncompSize     uint32
	NameLen        uint16
	ExtraLen       uint16
}

const localHeaderSize = 30

func readLocalHeader(r io.Reader) (localHeader, error) {
	var buf [localHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return localHeader{}, err
	}
	sig := binary.LittleEndian.Uint32(buf[0:4])
	if sig != sigLocalHeader {
		return localHeader{}, errBadSignature
	}
	var h localHeader
	h.VersionNeeded = binary.LittleEndian.Uint16(buf[4:6])
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.Method = binary.LittleEndian.Uint16(buf[8:10])
	h.ModTime = binary.LittleEndian.Uint16(buf[10:12])
	h.ModDate = binary.LittleEndian.Uint16(buf[12:14])
	h.CRC32 = binary.LittleEndian.Uint32(buf[14:18])
	h.CompSize = binary.LittleEndian.Uint32(buf[18:22])
	h.UncompSize = binary.LittleEndian.Uint32(buf[22:26])
	h.NameLen = binary.LittleEndian.Uint16(buf[26:28])
	h.ExtraLen = binary.LittleEndian.Uint16(buf[28:30])
	return h, nil
}

func (h localHeader) marshal() []byte {
	buf := make([]byte, localHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], sigLocalHeader)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint16(buf[8:10], h.Method)
	binary.LittleEndian.PutUint16(buf[10:12], h.ModTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], h.CompSize)
	binary.LittleEndian.PutUint32(buf[22:26], h.UncompSize)
	binary.LittleEndian.PutUint16(buf[26:28], h.NameLen)
	binary.LittleEndian.PutUint16(buf[28:30], h.ExtraLen)
	return buf
}

// centralHeader is the 46-byte fixed portion of a central directory header,
// excluding the trailing name, extra, and comment bytes.
type centralHeader struct {
	VersionMadeBy   uint16
	VersionNeeded   uint16
	Flags           uint16
	Method          uint16
	ModTime         uint16
	ModDate         uint16
	CRC32           uint32
	CompSize        uint32
	UncompSize      uint32
	NameLen         uint16
	ExtraLen        uint16
	CommentLen      uint16
	DiskStart       uint16
	InternalAttrs   uint16
	ExternalAttrs   uint32
	LocalHdrOffset  uint32
}

const centralHeaderSize = 46

func readCentralHeader(r io.Reader) (centralHeader, error) {
	var buf [centralHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return centralHeader{}, err
	}
	sig := binary.LittleEndian.Uint32(buf[0:4])
	if sig != sigCentralHeader {
		return centralHeader{}, errBadSignature
	}
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
	return h, nil
}

func (h centralHeader) marshal() []byte {
	buf := make([]byte, centralHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], sigCentralHeader)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], h.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[8:10], h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], h.Method)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModTime)
	binary.LittleEndian.PutUint16(buf[14:16], h.ModDate)
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], h.CompSize)
	binary.LittleEndian.PutUint32(buf[24:28], h.UncompSize)
	binary.LittleEndian.PutUint16(buf[28:30], h.NameLen)
	binary.LittleEndian.PutUint16(buf[30:32], h.ExtraLen)
	binary.LittleEndian.PutUint16(buf[32:34], h.CommentLen)
	binary.LittleEndian.PutUint16(buf[34:36], h.DiskStart)
	binary.LittleEndian.PutUint16(buf[36:38], h.InternalAttrs)
	binary.LittleEndian.PutUint32(buf[38:42], h.ExternalAttrs)
	binary.LittleEndian.PutUint32(buf[42:46], h.LocalHdrOffset)
	return buf
}

// eocdRecord is the classic 22-byte End-Of-Central-Directory record,
// excluding the trailing comment bytes.
type eocdRecord struct {
	DiskNumber      uint16
	CDStartDisk     uint16
	EntriesOnDisk   uint16
	EntriesTotal    uint16
	CDSize          uint32
	CDOffset        uint32
	CommentLen      uint16
}

const eocdSize = 22

func (e eocdRecord) marshal() []byte {
	buf := make([]byte, eocdSize)
	binary.LittleEndian.PutUint32(buf[0:4], sigEOCD)
	binary.LittleEndian.PutUint16(buf[4:6], e.DiskNumber)
	binary.LittleEndian.PutUint16(buf[6:8], e.CDStartDisk)
	binary.LittleEndian.PutUint16(buf[8:10], e.EntriesOnDisk)
	binary.LittleEndian.PutUint16(buf[10:12], e.EntriesTotal)
	binary.LittleEndian.PutUint32(buf[12:16], e.CDSize)
	binary.LittleEndian.PutUint32(buf[16:20], e.CDOffset)
	binary.LittleEndian.PutUint16(buf[20:22], e.CommentLen)
	return buf
}

func parseEOCD(buf []byte) eocdRecord {
	var e eocdRecord
	e.DiskNumber = binary.LittleEndian.Uint16(buf[4:6])
	e.CDStartDisk = binary.LittleEndian.Uint16(buf[6:8])
	e.EntriesOnDisk = binary.LittleEndian.Uint16(buf[8:10])
	e.EntriesTotal = binary.LittleEndian.Uint16(buf[10:12])
	e.CDSize = binary.LittleEndian.Uint32(buf[12:16])
	e.CDOffset = binary.LittleEndian.Uint32(buf[16:20])
	e.CommentLen = binary.LittleEndian.Uint16(buf[20:22])
	return e
}

// zip64EOCD is the 56-byte fixed Zip64 End-Of-Central-Directory record
// (the "version 1" layout this engine emits has no extensible data area).
type zip64EOCD struct {
	VersionMadeBy uint16
	VersionNeeded uint16
	DiskNumber    uint32
	CDStartDisk   uint32
	EntriesOnDisk uint64
	EntriesTotal  uint64
	CDSize        uint64
	CDOffset      uint64
}

const zip64EOCDSize = 56

func (z zip64EOCD) marshal() []byte {
	buf := make([]byte, zip64EOCDSize)
	binary.LittleEndian.PutUint32(buf[0:4], sigZip64EOCD)
	// record size excludes the signature and the 8-byte size field itself.
	binary.LittleEndian.PutUint64(buf[4:12], uint64(zip64EOCDSize-12))
	binary.LittleEndian.PutUint16(buf[12:14], z.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[14:16], z.VersionNeeded)
	binary.LittleEndian.PutUint32(buf[16:20], z.DiskNumber)
	binary.LittleEndian.PutUint32(buf[20:24], z.CDStartDisk)
	binary.LittleEndian.PutUint64(buf[24:32], z.EntriesOnDisk)
	binary.LittleEndian.PutUint64(buf[32:40], z.EntriesTotal)
	binary.LittleEndian.PutUint64(buf[40:48], z.CDSize)
	binary.LittleEndian.PutUint64(buf[48:56], z.CDOffset)
	return buf
}

func parseZip64EOCD(buf []byte) zip64EOCD {
	var z zip64EOCD
	z.VersionMadeBy = binary.LittleEndian.Uint16(buf[12:14])
	z.VersionNeeded = binary.LittleEndian.Uint16(buf[14:16])
	z.DiskNumber = binary.LittleEndian.Uint32(buf[16:20])
	z.CDStartDisk = binary.LittleEndian.Uint32(buf[20:24])
	z.EntriesOnDisk = binary.LittleEndian.Uint64(buf[24:32])
	z.EntriesTotal = binary.LittleEndian.Uint64(buf[32:40])
	z.CDSize = binary.LittleEndian.Uint64(buf[40:48])
	z.CDOffset = binary.LittleEndian.Uint64(buf[48:56])
	return z
}

// zip64Locator is the fixed 20-byte Zip64 EOCD locator.
type zip64Locator struct {
	EOCDStartDisk uint32
	EOCDOffset    uint64
	TotalDisks    uint32
}

const zip64LocatorSize = 20

func (z zip64Locator) marshal() []byte {
	buf := make([]byte, zip64LocatorSize)
	binary.LittleEndian.PutUint32(buf[0:4], sigZip64Locator)
	binary.LittleEndian.PutUint32(buf[4:8], z.EOCDStartDisk)
	binary.LittleEndian.PutUint64(buf[8:16], z.EOCDOffset)
	binary.LittleEndian.PutUint32(buf[16:20], z.TotalDisks)
	return buf
}

func parseZip64Locator(buf []byte) (zip64Locator, error) {
	if binary.LittleEndian.Uint32(buf[0:4]) != sigZip64Locator {
		return zip64Locator{}, errBadSignature
	}
	var z zip64Locator
	z.EOCDStartDisk = binary.LittleEndian.Uint32(buf[4:8])
	z.EOCDOffset = binary.LittleEndian.Uint64(buf[8:16])
	z.TotalDisks = binary.LittleEndian.Uint32(buf[16:20])
	return z, nil
}

// dataDescriptor trails compressed bytes when flagSizeInDescriptor is set.
// It is 16 bytes (32-bit sizes) or 24 bytes (64-bit sizes, Zip64) including
// the always-written signature.
type dataDescriptor struct {
	CRC32      uint32
	CompSize   uint64
	UncompSize uint64
	Zip64      bool
}

func (d dataDescriptor) marshal() []byte {
	if d.Zip64 {
		buf := make([]byte, 24)
		binary.LittleEndian.PutUint32(buf[0:4], sigDataDescriptor)
		binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
		binary.LittleEndian.PutUint64(buf[8:16], d.CompSize)
		binary.LittleEndian.PutUint64(buf[16:24], d.UncompSize)
		return buf
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], sigDataDescriptor)
	binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(d.CompSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d.UncompSize))
	return buf
}
