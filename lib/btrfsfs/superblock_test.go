package btrfsfs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegasusheavy/btrfsfs/lib/btrfssum"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

// buildSuperblock constructs a minimal, self-consistent 4096-byte
// superblock buffer: magic set, checksum correctly computed, a zero-
// length sys_chunk_array, and an all-zero (but well-formed) dev_item.
func buildSuperblock(t *testing.T, self btrfsvol.PhysicalAddr) []byte {
	t.Helper()
	buf := make([]byte, SuperblockSize)
	binary.LittleEndian.PutUint64(buf[0x30:], uint64(self))
	copy(buf[0x40:], Magic[:])
	binary.LittleEndian.PutUint64(buf[0x48:], 1) // generation
	binary.LittleEndian.PutUint64(buf[0x88:], 1) // num_devices
	binary.LittleEndian.PutUint32(buf[0x90:], 4096) // sector_size
	binary.LittleEndian.PutUint32(buf[0x94:], 16384) // node_size
	// dev_item at 0xc9..0xc9+0x62, all fields zero is a structurally
	// valid (if degenerate) DEV_ITEM.
	sum := btrfssum.Sum(buf[0x20:SuperblockSize])
	copy(buf[0x0:], sum[:])
	return buf
}

// fakeReaderAt is an in-memory ReaderAt for exercising Device without
// touching the filesystem.
type fakeReaderAt struct {
	data []byte
}

func (f *fakeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(f.data).ReadAt(p, off)
}

func TestParseSuperblockRoundTrip(t *testing.T) {
	buf := buildSuperblock(t, 0x10000)
	sb, err := ParseSuperblock(buf)
	require.NoError(t, err)
	assert.Equal(t, Magic, sb.Magic)
	assert.EqualValues(t, 1, sb.Generation)
	assert.EqualValues(t, 4096, sb.SectorSize)
	assert.EqualValues(t, 16384, sb.NodeSize)
	assert.NoError(t, sb.Validate(buf))
}

func TestParseSuperblockBadMagic(t *testing.T) {
	buf := buildSuperblock(t, 0x10000)
	buf[0x40] = 'X'
	sb, err := ParseSuperblock(buf)
	require.NoError(t, err) // parsing succeeds; Validate is what rejects it
	err = sb.Validate(buf)
	require.Error(t, err)
	var target ErrBadMagic
	assert.ErrorAs(t, err, &target)
}

func TestParseSuperblockBadChecksum(t *testing.T) {
	buf := buildSuperblock(t, 0x10000)
	buf[0x100] ^= 0xff
	sb, err := ParseSuperblock(buf)
	require.NoError(t, err)
	assert.Error(t, sb.Validate(buf))
}

func TestDeviceSuperblockSingleMirror(t *testing.T) {
	size := int64(0x10000 + SuperblockSize)
	data := make([]byte, size)
	copy(data[0x10000:], buildSuperblock(t, 0x10000))
	dev := NewDevice("test", &fakeReaderAt{data: data}, size)

	sb, err := dev.Superblock()
	require.NoError(t, err)
	assert.Equal(t, Magic, sb.Magic)

	// Memoized: calling again must return the same result without
	// re-reading (no way to observe directly here, but it must not error).
	sb2, err := dev.Superblock()
	require.NoError(t, err)
	assert.Equal(t, sb, sb2)
}

func TestDeviceSuperblockMirrorMismatch(t *testing.T) {
	size := int64(0x400_0000 + SuperblockSize)
	data := make([]byte, size)
	copy(data[0x10000:], buildSuperblock(t, 0x10000))
	mirror := buildSuperblock(t, 0x400_0000)
	binary.LittleEndian.PutUint64(mirror[0x70:], 0xdeadbeef) // total_bytes diverges
	sum := btrfssum.Sum(mirror[0x20:SuperblockSize])
	copy(mirror[0x0:], sum[:])
	copy(data[0x400_0000:], mirror)

	dev := NewDevice("test", &fakeReaderAt{data: data}, size)
	_, err := dev.Superblock()
	require.Error(t, err)
	var target ErrSuperblockMismatch
	assert.ErrorAs(t, err, &target)
}

func TestDeviceSuperblocksSkipsCorruptMirror(t *testing.T) {
	size := int64(0x400_0000 + SuperblockSize)
	data := make([]byte, size)
	copy(data[0x10000:], buildSuperblock(t, 0x10000))
	// leave the mirror at 0x400_0000 all-zero: wrong magic, gets skipped
	// rather than failing the whole read.
	dev := NewDevice("test", &fakeReaderAt{data: data}, size)
	sbs, err := dev.Superblocks()
	require.NoError(t, err)
	require.Len(t, sbs, 1)
}
