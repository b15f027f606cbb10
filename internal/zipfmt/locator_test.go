package zipfmt

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateDirectoryFindsEntriesAndComment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf, "t.zip", 0)
	w.SetComment("hello archive")
	require.NoError(t, w.AddFile("a.txt", strings.NewReader("aaa"), 3, time.Now(), EntryOptions{Method: MethodStore}))
	require.NoError(t, w.AddFile("b.txt", strings.NewReader("bbb"), 3, time.Now(), EntryOptions{Method: MethodStore}))
	require.NoError(t, w.Close())

	dir, err := locateDirectory(bytes.NewReader(buf.Bytes()), int64(buf.Len()), "t.zip")
	require.NoError(t, err)
	assert.Equal(t, "hello archive", dir.Comment)
	assert.Len(t, dir.Entries, 2)
	assert.False(t, dir.Zip64)
}

func TestLocateDirectoryRejectsTooSmallFile(t *testing.T) {
	t.Parallel()

	buf := []byte("not a zip")
	_, err := locateDirectory(bytes.NewReader(buf), int64(len(buf)), "t.zip")
	require.Error(t, err)
}

func TestLocateDirectoryRejectsMissingEOCD(t *testing.T) {
	t.Parallel()

	buf := bytes.Repeat([]byte{0}, 100)
	_, err := locateDirectory(bytes.NewReader(buf), int64(len(buf)), "t.zip")
	require.Error(t, err)
}

func TestFindEOCDSignatureScansBackward(t *testing.T) {
	t.Parallel()

	buf := make([]byte, eocdSize+10)
	e := eocdRecord{}
	copy(buf[10:], e.marshal())
	assert.Equal(t, 10, findEOCDSignature(buf))
}
