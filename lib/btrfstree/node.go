// Package btrfstree implements the B-tree node layout and the recursive
// point/range search algorithm used to walk it: every BTRFS tree (the
// root tree, chunk tree, FS trees, csum tree, ...) is one instance of
// this same node format.
package btrfstree

import (
	"fmt"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsitem"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfssum"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

// Sizes of the fixed-layout pieces of a node, per spec.md §3/§4.6.
const (
	HeaderSize     = 0x65
	keySize        = 0x11
	KeyPointerSize = keySize + 8 + 8 // key, block ptr, generation
	ItemHeaderSize = keySize + 4 + 4 // key, data offset, data size
)

// NodeHeader is the fixed 101-byte header present at the start of
// every node, whether leaf or interior.
type NodeHeader struct {
	Checksum      btrfssum.CSum
	MetadataUUID  btrfsprim.UUID
	Addr          btrfsvol.LogicalAddr // logical address of this node, self-referential
	Flags         uint64               // low 7 bytes flags, high byte holds BackrefRev on disk; kept as raw uint64 here
	ChunkTreeUUID btrfsprim.UUID
	Generation    btrfsprim.Generation
	Owner         btrfsprim.ObjID // the ID of the tree this node belongs to
	NumItems      uint32
	Level         uint8 // 0 = leaf, >=1 = interior
}

func decodeKey(buf []byte, off int) (btrfsprim.Key, error) {
	var k btrfsprim.Key
	objID, err := binutil.Uint64(buf, off)
	if err != nil {
		return k, err
	}
	typ, err := binutil.Uint8(buf, off+8)
	if err != nil {
		return k, err
	}
	offset, err := binutil.Uint64(buf, off+9)
	if err != nil {
		return k, err
	}
	return btrfsprim.Key{ObjectID: btrfsprim.ObjID(objID), ItemType: btrfsprim.ItemType(typ), Offset: offset}, nil
}

func decodeNodeHeader(buf []byte) (NodeHeader, error) {
	var h NodeHeader
	csumBytes, err := binutil.Bytes(buf, 0x0, 0x20)
	if err != nil {
		return h, err
	}
	copy(h.Checksum[:], csumBytes)
	metaUUID, err := binutil.Array16(buf, 0x20)
	if err != nil {
		return h, err
	}
	h.MetadataUUID = btrfsprim.UUID(metaUUID)
	addr, err := binutil.Int64(buf, 0x30)
	if err != nil {
		return h, err
	}
	h.Addr = btrfsvol.LogicalAddr(addr)
	flagsLo, err := binutil.Uint32(buf, 0x38)
	if err != nil {
		return h, err
	}
	flagsMid, err := binutil.Uint16(buf, 0x3c)
	if err != nil {
		return h, err
	}
	flagsHi, err := binutil.Uint8(buf, 0x3e)
	if err != nil {
		return h, err
	}
	h.Flags = uint64(flagsLo) | uint64(flagsMid)<<32 | uint64(flagsHi)<<48
	// byte 0x3f is BackrefRev, folded into the top byte of Flags for
	// callers that care; not surfaced as a separate field, per spec.md's
	// reduced scope (no write path needs it).
	backrefRev, err := binutil.Uint8(buf, 0x3f)
	if err != nil {
		return h, err
	}
	h.Flags |= uint64(backrefRev) << 56
	chunkUUID, err := binutil.Array16(buf, 0x40)
	if err != nil {
		return h, err
	}
	h.ChunkTreeUUID = btrfsprim.UUID(chunkUUID)
	gen, err := binutil.Uint64(buf, 0x50)
	if err != nil {
		return h, err
	}
	h.Generation = btrfsprim.Generation(gen)
	owner, err := binutil.Uint64(buf, 0x58)
	if err != nil {
		return h, err
	}
	h.Owner = btrfsprim.ObjID(owner)
	numItems, err := binutil.Uint32(buf, 0x60)
	if err != nil {
		return h, err
	}
	h.NumItems = numItems
	level, err := binutil.Uint8(buf, 0x64)
	if err != nil {
		return h, err
	}
	h.Level = level
	return h, nil
}

// KeyPointer is one entry of an interior node's body: a child key
// (the minimum key reachable through BlockPtr) plus the child's
// address and generation.
type KeyPointer struct {
	Key        btrfsprim.Key
	BlockPtr   btrfsvol.LogicalAddr
	Generation btrfsprim.Generation
}

func decodeKeyPointer(buf []byte, off int) (KeyPointer, error) {
	var kp KeyPointer
	k, err := decodeKey(buf, off)
	if err != nil {
		return kp, err
	}
	blockPtr, err := binutil.Int64(buf, off+keySize)
	if err != nil {
		return kp, err
	}
	gen, err := binutil.Uint64(buf, off+keySize+8)
	if err != nil {
		return kp, err
	}
	return KeyPointer{Key: k, BlockPtr: btrfsvol.LogicalAddr(blockPtr), Generation: btrfsprim.Generation(gen)}, nil
}

// ItemHeader is one entry of a leaf node's item array: a key plus the
// offset/size of its data, both relative to the end of the fixed
// header.
type ItemHeader struct {
	Key        btrfsprim.Key
	DataOffset uint32
	DataSize   uint32
}

func decodeItemHeader(buf []byte, off int) (ItemHeader, error) {
	var ih ItemHeader
	k, err := decodeKey(buf, off)
	if err != nil {
		return ih, err
	}
	dataOff, err := binutil.Uint32(buf, off+keySize)
	if err != nil {
		return ih, err
	}
	dataSize, err := binutil.Uint32(buf, off+keySize+4)
	if err != nil {
		return ih, err
	}
	return ItemHeader{Key: k, DataOffset: dataOff, DataSize: dataSize}, nil
}

// Item is a decoded leaf entry: key plus its parsed item body.
type Item struct {
	Key  btrfsprim.Key
	Body btrfsitem.Item
}

// Node is a parsed B-tree node: either interior (BodyInterior populated)
// or leaf (BodyLeaf populated), per Head.Level.
type Node struct {
	Size         uint32
	ChecksumType btrfssum.CSumType
	Head         NodeHeader
	BodyInterior []KeyPointer
	BodyLeaf     []Item
}

// MinItem returns the smallest key present in the node, if any.
func (n Node) MinItem() (btrfsprim.Key, bool) {
	if n.Head.Level > 0 {
		if len(n.BodyInterior) == 0 {
			return btrfsprim.Key{}, false
		}
		return n.BodyInterior[0].Key, true
	}
	if len(n.BodyLeaf) == 0 {
		return btrfsprim.Key{}, false
	}
	return n.BodyLeaf[0].Key, true
}

// ParseNode decodes a raw, already-checksum-verified node buffer of a
// filesystem whose checksum algorithm is csumType. csumType is stashed
// on the result so per-item decoders (e.g. EXTENT_CSUM) that need to
// know the checksum width can find it.
func ParseNode(csumType btrfssum.CSumType, buf []byte) (*Node, error) {
	if len(buf) <= HeaderSize {
		return nil, fmt.Errorf("node buffer too small: %d bytes, need more than %d", len(buf), HeaderSize)
	}
	head, err := decodeNodeHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("node header: %w", err)
	}
	n := &Node{
		Size:         uint32(len(buf)),
		ChecksumType: csumType,
		Head:         head,
	}
	body := buf[HeaderSize:]
	if head.Level > 0 {
		if err := n.parseInterior(body); err != nil {
			return nil, fmt.Errorf("interior body: %w", err)
		}
	} else {
		if err := n.parseLeaf(body); err != nil {
			return nil, fmt.Errorf("leaf body: %w", err)
		}
	}
	return n, nil
}

func (n *Node) parseInterior(body []byte) error {
	n.BodyInterior = make([]KeyPointer, n.Head.NumItems)
	for i := range n.BodyInterior {
		kp, err := decodeKeyPointer(body, i*KeyPointerSize)
		if err != nil {
			return fmt.Errorf("key pointer %d: %w", i, err)
		}
		n.BodyInterior[i] = kp
	}
	return nil
}

func (n *Node) parseLeaf(body []byte) error {
	n.BodyLeaf = make([]Item, n.Head.NumItems)
	for i := range n.BodyLeaf {
		ih, err := decodeItemHeader(body, i*ItemHeaderSize)
		if err != nil {
			return fmt.Errorf("item header %d: %w", i, err)
		}
		dat, err := binutil.Bytes(body, int(ih.DataOffset), int(ih.DataSize))
		if err != nil {
			return fmt.Errorf("item %d data: %w", i, err)
		}
		n.BodyLeaf[i] = Item{
			Key:  ih.Key,
			Body: btrfsitem.Decode(ih.Key, n.ChecksumType, dat),
		}
	}
	return nil
}

// CalculateChecksum recomputes the node's checksum over the raw bytes
// that follow the checksum field, the same way ValidateChecksum does
// on read.
func CalculateChecksum(csumType btrfssum.CSumType, raw []byte) (btrfssum.CSum, error) {
	if len(raw) <= 0x20 {
		return btrfssum.CSum{}, fmt.Errorf("node buffer too small to checksum")
	}
	return btrfssum.SumTyped(csumType, raw[0x20:])
}

// ValidateChecksum recomputes raw's checksum and compares it against
// the value stored in the node header.
func ValidateChecksum(csumType btrfssum.CSumType, raw []byte) error {
	var stored btrfssum.CSum
	copy(stored[:], raw[:0x20])
	calced, err := CalculateChecksum(csumType, raw)
	if err != nil {
		return err
	}
	n := csumType.Size()
	if n > len(stored) {
		n = len(stored)
	}
	for i := 0; i < n; i++ {
		if stored[i] != calced[i] {
			return ErrChecksumMismatch{Stored: stored, Calculated: calced}
		}
	}
	return nil
}

// ErrChecksumMismatch is returned when a node's stored checksum doesn't
// match the bytes actually on disk.
type ErrChecksumMismatch struct {
	Stored, Calculated btrfssum.CSum
}

func (e ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch: stored=%v calculated=%v", e.Stored, e.Calculated)
}
