package zipfmt

import "hash/crc32"

// crcAccumulator composes the standard PKZIP CRC-32 (IEEE polynomial) over
// successive chunks, matching the streaming contract C2 describes: feed
// bytes as they arrive from a decoder or encoder, read the running value at
// any point, and compare the final value against the header's CRC-32.
//
// There is no third-party CRC-32 implementation anywhere in the retrieval
// pack to prefer over hash/crc32 — every repo that touches CRC-32 uses the
// standard library's IEEE table, and so does this one (see DESIGN.md).
type crcAccumulator struct {
	hash uint32
}

func newCRCAccumulator() *crcAccumulator {
	return &crcAccumulator{}
}

func (c *crcAccumulator) Write(p []byte) (int, error) {
	c.hash = crc32.Update(c.hash, crc32.IEEETable, p)
	return len(p), nil
}

func (c *crcAccumulator) Sum32() uint32 {
	return c.hash
}

func (c *crcAccumulator) Reset() {
	c.hash = 0
}
