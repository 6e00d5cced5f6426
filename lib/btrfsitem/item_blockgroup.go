package btrfsitem

import (
	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

const blockGroupItemSize = 24

// BlockGroupItem is a BLOCK_GROUP_ITEM body: the allocation state of
// one block group. key.objectid is the group's logical start address;
// key.offset is its size.
type BlockGroupItem struct {
	Used          int64
	ChunkObjectID btrfsprim.ObjID // always FIRST_CHUNK_TREE_OBJECTID
	Flags         btrfsvol.BlockGroupFlags
}

func (BlockGroupItem) isItem() {}

func decodeBlockGroup(dat []byte) (BlockGroupItem, error) {
	var o BlockGroupItem
	if err := binutil.Need(dat, blockGroupItemSize); err != nil {
		return o, err
	}
	used, err := binutil.Int64(dat, 0)
	if err != nil {
		return o, err
	}
	o.Used = used
	chunkObjID, err := binutil.Uint64(dat, 8)
	if err != nil {
		return o, err
	}
	o.ChunkObjectID = btrfsprim.ObjID(chunkObjID)
	flags, err := binutil.Uint64(dat, 16)
	if err != nil {
		return o, err
	}
	o.Flags = btrfsvol.BlockGroupFlags(flags)
	return o, nil
}
