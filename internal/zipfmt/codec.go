package zipfmt

import (
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
)

// decoder wraps the per-method decompression streams C2 describes: feed
// compressed bytes, read plaintext chunks, signal end-of-stream through the
// usual io.Reader contract (io.EOF).
type decoder interface {
	io.ReadCloser
}

// newDecoder returns a streaming decoder for method, bounded to read no more
// than the compressed bytes the caller has already limited r to (the entry
// reader wraps r in an io.LimitReader over comp_size before calling this).
func newDecoder(method uint16, r io.Reader) (decoder, error) {
	switch method {
	case MethodStore:
		return io.NopCloser(r), nil
	case MethodDeflate:
		return flate.NewReader(r), nil
	case MethodBzip2:
		zr, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(zr), nil
	default:
		return nil, errUnsupportedMethod
	}
}

// encoder wraps the per-method compression streams: feed plaintext, flush
// compressed chunks downstream, and Close to finalize (write any trailing
// bytes the format requires).
type encoder interface {
	io.WriteCloser
}

// newEncoder returns a streaming encoder for method at the given level
// (ignored for store; 0-9 for deflate and bzip2, matching their native
// scales closely enough for this engine's purposes).
func newEncoder(method uint16, level int, w io.Writer) (encoder, error) {
	switch method {
	case MethodStore:
		return nopWriteCloser{w}, nil
	case MethodDeflate:
		fw, err := flate.NewWriter(w, normalizeDeflateLevel(level))
		if err != nil {
			return nil, err
		}
		return fw, nil
	case MethodBzip2:
		bw, err := bzip2.NewWriterLevel(w, normalizeBzip2Level(level))
		if err != nil {
			return nil, err
		}
		return bw, nil
	default:
		return nil, errUnsupportedMethod
	}
}

func normalizeDeflateLevel(level int) int {
	if level <= 0 {
		return flate.DefaultCompression
	}
	if level > 9 {
		return 9
	}
	return level
}

func normalizeBzip2Level(level int) int {
	if level <= 0 {
		return bzip2.DefaultCompression
	}
	if level > bzip2.BestCompression {
		return bzip2.BestCompression
	}
	return level
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

var errUnsupportedMethod = &Error{Kind: KindNotImplemented, Message: "unsupported compression method"}
