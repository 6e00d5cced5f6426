package btrfsfs

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsitem"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfssum"
	"github.com/pegasusheavy/btrfsfs/lib/btrfstree"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

// rawLeafItem is one (key, encoded body) pair to pack into a hand-built
// leaf node, mirroring the real on-disk item array layout.
type rawLeafItem struct {
	key  btrfsprim.Key
	data []byte
}

// buildLeafNode packs items into a checksummed leaf node buffer at the
// given logical address, the same framing btrfstree.ParseNode expects.
// Every node is padded to the same 4 KiB size, so the fixtures' NodeSize
// covers all of them.
func buildLeafNode(t *testing.T, addr btrfsvol.LogicalAddr, owner btrfsprim.ObjID, items []rawLeafItem) []byte {
	t.Helper()
	const itemHeaderSize = 0x11 + 4 + 4
	const testNodeSize = 0x1000
	dataSize := 0
	for _, it := range items {
		dataSize += len(it.data)
	}
	bodySize := len(items)*itemHeaderSize + dataSize
	require.LessOrEqual(t, btrfstree.HeaderSize+bodySize, testNodeSize)
	buf := make([]byte, testNodeSize)

	binary.LittleEndian.PutUint64(buf[0x30:], uint64(addr))
	binary.LittleEndian.PutUint64(buf[0x58:], uint64(owner))
	binary.LittleEndian.PutUint32(buf[0x60:], uint32(len(items)))
	buf[0x64] = 0 // leaf

	body := buf[btrfstree.HeaderSize:]
	dataOff := len(items) * itemHeaderSize
	for i, it := range items {
		off := i * itemHeaderSize
		binary.LittleEndian.PutUint64(body[off:], uint64(it.key.ObjectID))
		body[off+8] = byte(it.key.ItemType)
		binary.LittleEndian.PutUint64(body[off+9:], it.key.Offset)
		binary.LittleEndian.PutUint32(body[off+0x11:], uint32(dataOff))
		binary.LittleEndian.PutUint32(body[off+0x15:], uint32(len(it.data)))
		copy(body[dataOff:], it.data)
		dataOff += len(it.data)
	}

	sum, err := btrfstree.CalculateChecksum(btrfssum.TYPE_CRC32, buf)
	require.NoError(t, err)
	copy(buf[:0x20], sum[:])
	return buf
}

func encodeRootItem(rootDirID btrfsprim.ObjID, byteNr btrfsvol.LogicalAddr) []byte {
	dat := make([]byte, 0x1b7)
	binary.LittleEndian.PutUint64(dat[0xa8:], uint64(rootDirID))
	binary.LittleEndian.PutUint64(dat[0xb0:], uint64(byteNr))
	return dat
}

func encodeInode(mode uint32, size int64) []byte {
	return encodeInodeFlags(mode, size, 0)
}

func encodeInodeFlags(mode uint32, size int64, flags btrfsitem.InodeFlags) []byte {
	dat := make([]byte, 0xa0)
	binary.LittleEndian.PutUint64(dat[0x10:], uint64(size))
	binary.LittleEndian.PutUint32(dat[0x34:], mode)
	binary.LittleEndian.PutUint64(dat[0x40:], uint64(flags))
	return dat
}

// encodeRegFileExtent builds an EXTENT_DATA body for a non-inline,
// uncompressed regular extent backed by diskNumBytes bytes starting at
// diskByteNr.
func encodeRegFileExtent(diskByteNr btrfsvol.LogicalAddr, diskNumBytes int64) []byte {
	dat := make([]byte, 0x15+0x20)
	binary.LittleEndian.PutUint64(dat[0x8:], uint64(diskNumBytes)) // ram_bytes
	dat[0x10] = byte(btrfsitem.COMPRESS_NONE)
	dat[0x14] = byte(btrfsitem.FILE_EXTENT_REG)
	binary.LittleEndian.PutUint64(dat[0x15:], uint64(diskByteNr))
	binary.LittleEndian.PutUint64(dat[0x15+0x8:], uint64(diskNumBytes))
	binary.LittleEndian.PutUint64(dat[0x15+0x18:], uint64(diskNumBytes)) // num_bytes
	return dat
}

func encodeDirEntry(loc btrfsprim.Key, typ btrfsitem.FileType, name string) []byte {
	dat := make([]byte, 0x1e+len(name))
	binary.LittleEndian.PutUint64(dat[0x0:], uint64(loc.ObjectID))
	dat[0x8] = byte(loc.ItemType)
	binary.LittleEndian.PutUint64(dat[0x9:], loc.Offset)
	binary.LittleEndian.PutUint16(dat[0x1b:], uint16(len(name)))
	dat[0x1d] = byte(typ)
	copy(dat[0x1e:], name)
	return dat
}

func encodeInlineFileExtent(body []byte) []byte {
	dat := make([]byte, 0x15+len(body))
	binary.LittleEndian.PutUint64(dat[0x8:], uint64(len(body)))
	dat[0x10] = byte(btrfsitem.COMPRESS_NONE)
	dat[0x14] = byte(btrfsitem.FILE_EXTENT_INLINE)
	copy(dat[0x15:], body)
	return dat
}

// buildSyntheticFS assembles a minimal one-device, one-chunk filesystem
// in memory: a root tree leaf holding the fs tree's ROOT_ITEM, and an fs
// tree leaf holding a root directory, one regular file ("hello.txt",
// inline content), and the DIR_ITEM entry naming it.
func buildSyntheticFS(t *testing.T) *FS {
	t.Helper()
	const (
		rootTreeLeafAddr btrfsvol.LogicalAddr = 0x10000
		fsTreeLeafAddr   btrfsvol.LogicalAddr = 0x20000
		rootDirObjID     btrfsprim.ObjID      = 256
		fileObjID        btrfsprim.ObjID      = 257
		fileContent                           = "hello world"
	)

	fileKey := btrfsprim.Key{ObjectID: fileObjID, ItemType: btrfsprim.INODE_ITEM_KEY, Offset: 0}
	fsTreeLeaf := buildLeafNode(t, fsTreeLeafAddr, btrfsprim.FS_TREE_OBJECTID, []rawLeafItem{
		{key: btrfsprim.Key{ObjectID: rootDirObjID, ItemType: btrfsprim.INODE_ITEM_KEY, Offset: 0},
			data: encodeInode(0o040755, 0)},
		{key: btrfsprim.Key{ObjectID: rootDirObjID, ItemType: btrfsprim.DIR_ITEM_KEY, Offset: btrfsitem.NameHash([]byte("hello.txt"))},
			data: encodeDirEntry(fileKey, btrfsitem.FT_REG_FILE, "hello.txt")},
		{key: fileKey, data: encodeInode(0o100644, int64(len(fileContent)))},
		{key: btrfsprim.Key{ObjectID: fileObjID, ItemType: btrfsprim.EXTENT_DATA_KEY, Offset: 0},
			data: encodeInlineFileExtent([]byte(fileContent))},
	})

	rootTreeLeaf := buildLeafNode(t, rootTreeLeafAddr, btrfsprim.ROOT_TREE_OBJECTID, []rawLeafItem{
		{key: btrfsprim.Key{ObjectID: btrfsprim.FS_TREE_OBJECTID, ItemType: btrfsprim.ROOT_ITEM_KEY, Offset: 0},
			data: encodeRootItem(rootDirObjID, fsTreeLeafAddr)},
	})

	// Both nodes live in one device-backed byte array; chunk mapping is
	// identity (logical == physical) for simplicity.
	size := int64(fsTreeLeafAddr) + int64(len(fsTreeLeaf)) + 0x1000
	data := make([]byte, size)
	copy(data[rootTreeLeafAddr:], rootTreeLeaf)
	copy(data[fsTreeLeafAddr:], fsTreeLeaf)
	dev := NewDevice("synthetic", &fakeReaderAt{data: data}, size)

	var chunks btrfsvol.ChunkMap
	chunks.Insert(btrfsvol.Chunk{
		Logical:    0,
		Size:       btrfsvol.AddrDelta(size),
		StripeLen:  0x10000,
		NumStripes: 1,
		Stripes:    []btrfsvol.Stripe{{DeviceID: 1, Offset: 0}},
	})

	fs := &FS{
		devices: map[btrfsvol.DeviceID]*Device{1: dev},
		primary: dev,
		sb: Superblock{
			RootTree:     rootTreeLeafAddr,
			NodeSize:     uint32(len(rootTreeLeaf)),
			ChecksumType: btrfssum.TYPE_CRC32,
		},
		chunks: chunks,
		opts:   Options{},
	}
	return fs
}

// buildSyntheticFSNodatasum builds a filesystem holding one regular
// file with INODE_NODATASUM set and a non-inline extent, with
// VerifyChecksums on but no CSUM_TREE ROOT_ITEM present at all — any
// attempt to actually verify a sector would fail looking up the csum
// tree, so this isolates whether ReadFile honors the NODATASUM skip.
func buildSyntheticFSNodatasum(t *testing.T) (*FS, Inode) {
	t.Helper()
	const (
		rootTreeLeafAddr btrfsvol.LogicalAddr = 0x10000
		fsTreeLeafAddr   btrfsvol.LogicalAddr = 0x20000
		rootDirObjID     btrfsprim.ObjID      = 256
		fileObjID        btrfsprim.ObjID      = 257
		extentAddr       btrfsvol.LogicalAddr = 0x30000
		fileContent                           = "nodatasum payload"
	)

	fileKey := btrfsprim.Key{ObjectID: fileObjID, ItemType: btrfsprim.INODE_ITEM_KEY, Offset: 0}
	fsTreeLeaf := buildLeafNode(t, fsTreeLeafAddr, btrfsprim.FS_TREE_OBJECTID, []rawLeafItem{
		{key: btrfsprim.Key{ObjectID: rootDirObjID, ItemType: btrfsprim.INODE_ITEM_KEY, Offset: 0},
			data: encodeInode(0o040755, 0)},
		{key: btrfsprim.Key{ObjectID: rootDirObjID, ItemType: btrfsprim.DIR_ITEM_KEY, Offset: btrfsitem.NameHash([]byte("raw.bin"))},
			data: encodeDirEntry(fileKey, btrfsitem.FT_REG_FILE, "raw.bin")},
		{key: fileKey, data: encodeInodeFlags(0o100644, int64(len(fileContent)), btrfsitem.INODE_NODATASUM)},
		{key: btrfsprim.Key{ObjectID: fileObjID, ItemType: btrfsprim.EXTENT_DATA_KEY, Offset: 0},
			data: encodeRegFileExtent(extentAddr, int64(len(fileContent)))},
	})

	rootTreeLeaf := buildLeafNode(t, rootTreeLeafAddr, btrfsprim.ROOT_TREE_OBJECTID, []rawLeafItem{
		{key: btrfsprim.Key{ObjectID: btrfsprim.FS_TREE_OBJECTID, ItemType: btrfsprim.ROOT_ITEM_KEY, Offset: 0},
			data: encodeRootItem(rootDirObjID, fsTreeLeafAddr)},
	})

	size := int64(extentAddr) + int64(len(fileContent)) + 0x1000
	data := make([]byte, size)
	copy(data[rootTreeLeafAddr:], rootTreeLeaf)
	copy(data[fsTreeLeafAddr:], fsTreeLeaf)
	copy(data[extentAddr:], fileContent)
	dev := NewDevice("synthetic", &fakeReaderAt{data: data}, size)

	var chunks btrfsvol.ChunkMap
	chunks.Insert(btrfsvol.Chunk{
		Logical:    0,
		Size:       btrfsvol.AddrDelta(size),
		StripeLen:  0x10000,
		NumStripes: 1,
		Stripes:    []btrfsvol.Stripe{{DeviceID: 1, Offset: 0}},
	})

	fs := &FS{
		devices: map[btrfsvol.DeviceID]*Device{1: dev},
		primary: dev,
		sb: Superblock{
			RootTree:     rootTreeLeafAddr,
			NodeSize:     uint32(len(rootTreeLeaf)),
			ChecksumType: btrfssum.TYPE_CRC32,
		},
		chunks: chunks,
		opts:   Options{VerifyChecksums: true},
	}
	inode := Inode{
		TreeID: btrfsprim.FS_TREE_OBJECTID,
		ObjID:  fileObjID,
		Item:   btrfsitem.Inode{Size: int64(len(fileContent)), Flags: btrfsitem.INODE_NODATASUM},
	}
	return fs, inode
}

// TestFSReadFileSkipsVerifyForNodatasum confirms ReadFile does not
// attempt csum-tree verification for an INODE_NODATASUM inode, even
// with Options.VerifyChecksums on and no CSUM_TREE present to check
// against.
func TestFSReadFileSkipsVerifyForNodatasum(t *testing.T) {
	fs, inode := buildSyntheticFSNodatasum(t)
	ctx := context.Background()

	content, err := fs.ReadFile(ctx, inode, 0, inode.Item.Size)
	require.NoError(t, err)
	assert.Equal(t, "nodatasum payload", string(content))
}

func TestFSReadNodeTranslates(t *testing.T) {
	fs := buildSyntheticFS(t)
	node, err := fs.ReadNode(context.Background(), fs.sb.RootTree)
	require.NoError(t, err)
	require.Len(t, node.BodyLeaf, 1)
	assert.Equal(t, btrfsprim.ROOT_ITEM_KEY, node.BodyLeaf[0].Key.ItemType)
}

func TestFSGetSubvolumeAndResolvePath(t *testing.T) {
	fs := buildSyntheticFS(t)
	ctx := context.Background()

	ri, err := fs.GetSubvolume(ctx, btrfsprim.FS_TREE_OBJECTID)
	require.NoError(t, err)
	assert.EqualValues(t, 256, ri.RootDirID)

	inode, err := fs.ResolvePath(ctx, btrfsprim.FS_TREE_OBJECTID, "/hello.txt")
	require.NoError(t, err)
	assert.True(t, inode.Item.IsRegular())
	assert.EqualValues(t, len("hello world"), inode.Item.Size)

	content, err := fs.ReadFile(ctx, inode, 0, inode.Item.Size)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestFSReadFileRangedRead(t *testing.T) {
	fs := buildSyntheticFS(t)
	ctx := context.Background()

	inode, err := fs.ResolvePath(ctx, btrfsprim.FS_TREE_OBJECTID, "/hello.txt")
	require.NoError(t, err)

	mid, err := fs.ReadFile(ctx, inode, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(mid))

	// length longer than the remaining file is clamped to EOF, per
	// Testable Property #9.
	tail, err := fs.ReadFile(ctx, inode, 6, 1000)
	require.NoError(t, err)
	assert.Equal(t, "world", string(tail))

	// offset at or past EOF returns no bytes.
	past, err := fs.ReadFile(ctx, inode, inode.Item.Size, 10)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestFSResolvePathNotFound(t *testing.T) {
	fs := buildSyntheticFS(t)
	_, err := fs.ResolvePath(context.Background(), btrfsprim.FS_TREE_OBJECTID, "/nope.txt")
	require.Error(t, err)
	var target ErrNotFound
	assert.ErrorAs(t, err, &target)
}
