package btrfsitem

import (
	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

const rootItemSize = 0x1b7

// RootItem is a ROOT_ITEM body: a subvolume (or one of the well-known
// trees). key.objectid is the tree/subvolume ID this root item
// describes.
type RootItem struct {
	Inode        Inode
	Generation   btrfsprim.Generation
	RootDirID    btrfsprim.ObjID
	ByteNr       btrfsvol.LogicalAddr // logical address of this tree's root node
	ByteLimit    int64
	BytesUsed    int64
	LastSnapshot int64
	Flags        RootFlags
	Refs         int32
	DropProgress btrfsprim.Key
	DropLevel    uint8
	Level        uint8
	GenerationV2 btrfsprim.Generation
	UUID         btrfsprim.UUID
	ParentUUID   btrfsprim.UUID
	ReceivedUUID btrfsprim.UUID
	CTransID     int64
	OTransID     int64
	STransID     int64
	RTransID     int64
	CTime        btrfsprim.Time
	OTime        btrfsprim.Time
	STime        btrfsprim.Time
	RTime        btrfsprim.Time
}

func (RootItem) isItem() {}

// RootFlags is ROOT_ITEM's subvolume-level flag bitmask.
type RootFlags uint64

const ROOT_SUBVOL_RDONLY RootFlags = 1

func (f RootFlags) Has(req RootFlags) bool { return f&req == req }

func decodeRootItem(dat []byte) (RootItem, error) {
	var o RootItem
	if err := binutil.Need(dat, rootItemSize); err != nil {
		return o, err
	}
	inode, err := decodeInode(dat[0x000:0x0a0])
	if err != nil {
		return o, err
	}
	o.Inode = inode
	gen, err := binutil.Uint64(dat, 0x0a0)
	if err != nil {
		return o, err
	}
	o.Generation = btrfsprim.Generation(gen)
	rootDirID, err := binutil.Uint64(dat, 0x0a8)
	if err != nil {
		return o, err
	}
	o.RootDirID = btrfsprim.ObjID(rootDirID)
	byteNr, err := binutil.Int64(dat, 0x0b0)
	if err != nil {
		return o, err
	}
	o.ByteNr = btrfsvol.LogicalAddr(byteNr)
	if o.ByteLimit, err = binutil.Int64(dat, 0x0b8); err != nil {
		return o, err
	}
	if o.BytesUsed, err = binutil.Int64(dat, 0x0c0); err != nil {
		return o, err
	}
	if o.LastSnapshot, err = binutil.Int64(dat, 0x0c8); err != nil {
		return o, err
	}
	flags, err := binutil.Uint64(dat, 0x0d0)
	if err != nil {
		return o, err
	}
	o.Flags = RootFlags(flags)
	refs, err := binutil.Uint32(dat, 0x0d8)
	if err != nil {
		return o, err
	}
	o.Refs = int32(refs)
	dropProgress, err := decodeKeyField(dat, 0x0dc)
	if err != nil {
		return o, err
	}
	o.DropProgress = dropProgress
	if o.DropLevel, err = binutil.Uint8(dat, 0x0ed); err != nil {
		return o, err
	}
	if o.Level, err = binutil.Uint8(dat, 0x0ee); err != nil {
		return o, err
	}
	genV2, err := binutil.Uint64(dat, 0x0ef)
	if err != nil {
		return o, err
	}
	o.GenerationV2 = btrfsprim.Generation(genV2)
	if o.UUID, err = decodeUUIDField(dat, 0x0f7); err != nil {
		return o, err
	}
	if o.ParentUUID, err = decodeUUIDField(dat, 0x107); err != nil {
		return o, err
	}
	if o.ReceivedUUID, err = decodeUUIDField(dat, 0x117); err != nil {
		return o, err
	}
	if o.CTransID, err = binutil.Int64(dat, 0x127); err != nil {
		return o, err
	}
	if o.OTransID, err = binutil.Int64(dat, 0x12f); err != nil {
		return o, err
	}
	if o.STransID, err = binutil.Int64(dat, 0x137); err != nil {
		return o, err
	}
	if o.RTransID, err = binutil.Int64(dat, 0x13f); err != nil {
		return o, err
	}
	if o.CTime, err = decodeTime(dat, 0x147); err != nil {
		return o, err
	}
	if o.OTime, err = decodeTime(dat, 0x153); err != nil {
		return o, err
	}
	if o.STime, err = decodeTime(dat, 0x15f); err != nil {
		return o, err
	}
	if o.RTime, err = decodeTime(dat, 0x16b); err != nil {
		return o, err
	}
	return o, nil
}

func decodeUUIDField(dat []byte, off int) (btrfsprim.UUID, error) {
	a, err := binutil.Array16(dat, off)
	if err != nil {
		return btrfsprim.UUID{}, err
	}
	return btrfsprim.UUID(a), nil
}
