package zipfmt

import (
	"io"
	"os"
	"path/filepath"
)

// ArchiveReader drives the read side of the engine: locating the directory
// (C5) once at Open, then decoding entries on demand (C6).
type ArchiveReader struct {
	path string
	f    *os.File
	size int64
	dir  *Directory
}

// OpenReader opens path and locates its central directory. The returned
// reader owns f exclusively until Close, per the single-run ownership
// model (spec §5).
func OpenReader(path string) (*ArchiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErrorf(path, err, "opening archive")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioErrorf(path, err, "stat archive")
	}

	dir, err := locateDirectory(f, info.Size(), path)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ArchiveReader{path: path, f: f, size: info.Size(), dir: dir}, nil
}

func (ar *ArchiveReader) Entries() []*Entry { return ar.dir.Entries }
func (ar *ArchiveReader) Comment() string   { return ar.dir.Comment }
func (ar *ArchiveReader) Zip64() bool       { return ar.dir.Zip64 }

func (ar *ArchiveReader) Close() error {
	if ar.f == nil {
		return nil
	}
	err := ar.f.Close()
	ar.f = nil
	if err != nil {
		return ioErrorf(ar.path, err, "closing archive")
	}
	return nil
}

// ExtractOptions controls how OpenEntryStream/ExtractEntryTo restore an
// entry (spec §4.4 junk-paths, §4.6 step 7).
type ExtractOptions struct {
	Password     string
	JunkPaths    bool
	TestOnly     bool // decode and verify CRC but never write bytes
	RestoreMode  bool
	RestoreMTime bool
	SkipExisting bool // honor the overwrite policy: never clobber a file already on disk
}

// entryStream is the io.ReadCloser C6 hands back to callers: it wraps the
// method-specific decoder with CRC accumulation and, on the final read that
// observes io.EOF, verifies produced-byte-count and CRC against the header
// (I3/I4). A mismatch surfaces as an *integrity error* on that final Read
// call, never silently.
type entryStream struct {
	decoder    decoder
	crc        *crcAccumulator
	produced   uint64
	wantSize   uint64
	wantCRC    uint32
	path       string
	verifyOnce bool
}

func (s *entryStream) Read(p []byte) (int, error) {
	n, err := s.decoder.Read(p)
	if n > 0 {
		s.crc.Write(p[:n])
		s.produced += uint64(n)
	}
	if err == io.EOF && !s.verifyOnce {
		s.verifyOnce = true
		if s.produced != s.wantSize {
			return n, ioErrorf(s.path, nil, "integrity error: decoded %d bytes, expected %d", s.produced, s.wantSize)
		}
		if s.crc.Sum32() != s.wantCRC {
			return n, ioErrorf(s.path, nil, "integrity error: CRC mismatch (got %08x, want %08x)", s.crc.Sum32(), s.wantCRC)
		}
	}
	return n, err
}

func (s *entryStream) Close() error {
	return s.decoder.Close()
}

// OpenEntryStream implements the heart of C6's decode pipeline (steps 1-6):
// validate the path, seek to the local header, handle decryption, and
// dispatch to the method-specific decoder. Directory entries and step 7
// (filesystem restore) are handled by ExtractEntryTo, which calls this.
func (ar *ArchiveReader) OpenEntryStream(e *Entry, password string) (io.ReadCloser, error) {
	if err := validateEntryName(e.Name); err != nil {
		return nil, err
	}

	if _, err := ar.f.Seek(int64(e.LocalHeaderOffset), io.SeekStart); err != nil {
		return nil, ioErrorf(ar.path, err, "seeking to local header for %s", e.Name)
	}
	lh, err := readLocalHeader(ar.f)
	if err != nil {
		return nil, ioErrorf(ar.path, err, "reading local header for %s", e.Name)
	}

	dataOffset := int64(e.LocalHeaderOffset) + localHeaderSize + int64(lh.NameLen) + int64(lh.ExtraLen)
	if _, err := ar.f.Seek(dataOffset, io.SeekStart); err != nil {
		return nil, ioErrorf(ar.path, err, "seeking to entry data for %s", e.Name)
	}

	compSize := e.CompSize
	var src io.Reader = io.LimitReader(ar.f, int64(compSize))

	if e.Flags&flagEncrypted != 0 {
		if password == "" {
			return nil, passwordRequiredErrorf(e.Name)
		}
		var header [zipCryptoHeaderSize]byte
		if _, err := io.ReadFull(src, header[:]); err != nil {
			return nil, ioErrorf(ar.path, err, "reading encryption header for %s", e.Name)
		}
		zc := newZipCrypto(password)
		want := checkByteFor(e)
		if !zc.decryptHeader(header, want) {
			return nil, badPasswordErrorf(e.Name)
		}
		src = &zipCryptoReader{src: src, cipher: zc}
		compSize -= zipCryptoHeaderSize
		src = io.LimitReader(src, int64(compSize))
	}

	dec, err := newDecoder(e.Method, src)
	if err != nil {
		return nil, notImplementedErrorf(e.Name, "unsupported compression method %d", e.Method)
	}

	return &entryStream{
		decoder:  dec,
		crc:      newCRCAccumulator(),
		wantSize: e.UncompSize,
		wantCRC:  e.CRC32,
		path:     e.Name,
	}, nil
}

// checkByteFor returns the encryption-header check byte the entry's flags
// dictate: the high byte of DOS mod time when sizes live in a data
// descriptor, otherwise the high byte of CRC (spec §4.3).
func checkByteFor(e *Entry) byte {
	if e.Flags&flagSizeInDescriptor != 0 {
		_, modTime := dosDateTime(e.ModTime)
		return byte(modTime >> 8)
	}
	return byte(e.CRC32 >> 24)
}

// zipCryptoReader decrypts ciphertext bytes as they're read.
type zipCryptoReader struct {
	src    io.Reader
	cipher *zipCrypto
}

func (z *zipCryptoReader) Read(p []byte) (int, error) {
	n, err := z.src.Read(p)
	for i := 0; i < n; i++ {
		p[i] = z.cipher.decryptByte(p[i])
	}
	return n, err
}

// ExtractEntryTo implements C6 step 7: restore the entry to disk under
// destRoot, honoring junk-paths, mode restoration, and mtime restoration.
// Path containment is enforced through ExtractionRoot, satisfying P3.
func (ar *ArchiveReader) ExtractEntryTo(e *Entry, destRoot string, opts ExtractOptions) error {
	if err := validateEntryName(e.Name); err != nil {
		return err
	}

	root, err := NewExtractionRoot(destRoot)
	if err != nil {
		return ioErrorf(destRoot, err, "resolving extraction root")
	}

	name := e.Name
	if opts.JunkPaths {
		name = junkPath(name)
		if name == "" {
			return nil
		}
	}
	target := filepath.Join(destRoot, filepath.FromSlash(name))
	if err := root.Validate(target); err != nil {
		return usageErrorf(e.Name, "unsafe path: escapes extraction root")
	}

	if e.IsDir() {
		if opts.TestOnly {
			return nil
		}
		return os.MkdirAll(target, 0o755)
	}

	if opts.SkipExisting && !opts.TestOnly {
		if _, err := os.Stat(target); err == nil {
			return nil
		}
	}

	stream, err := ar.OpenEntryStream(e, opts.Password)
	if err != nil {
		return err
	}
	defer stream.Close()

	if opts.TestOnly {
		_, err := io.Copy(io.Discard, stream)
		return mapCopyError(err, e.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ioErrorf(target, err, "creating parent directories")
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return ioErrorf(target, err, "creating output file")
	}
	_, copyErr := io.Copy(out, stream)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(target)
		return mapCopyError(copyErr, e.Name)
	}
	if closeErr != nil {
		return ioErrorf(target, closeErr, "closing output file")
	}

	if opts.RestoreMode {
		if mode, ok := e.UnixMode(); ok {
			os.Chmod(target, mode.Perm())
		}
	}
	if opts.RestoreMTime && !e.ModTime.IsZero() {
		os.Chtimes(target, e.ModTime, e.ModTime)
	}

	return nil
}

func mapCopyError(err error, name string) error {
	if err == nil {
		return nil
	}
	if zerr, ok := err.(*Error); ok {
		return zerr
	}
	return ioErrorf(name, err, "decoding entry")
}
