package btrfsitem

import (
	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

const devExtentItemSize = 48

// DevExtent is a DEV_EXTENT body: a physical-address allocation record
// backing one chunk's stripe. key.objectid is the device ID;
// key.offset is the physical start address.
type DevExtent struct {
	ChunkTree     btrfsprim.ObjID // always CHUNK_TREE_OBJECTID
	ChunkObjectID btrfsprim.ObjID // always FIRST_CHUNK_TREE_OBJECTID
	ChunkOffset   btrfsvol.LogicalAddr // logical offset of the owning CHUNK_ITEM
	Length        btrfsvol.AddrDelta
	ChunkTreeUUID btrfsprim.UUID
}

func (DevExtent) isItem() {}

func decodeDevExtent(dat []byte) (DevExtent, error) {
	var o DevExtent
	if err := binutil.Need(dat, devExtentItemSize); err != nil {
		return o, err
	}
	chunkTree, err := binutil.Uint64(dat, 0)
	if err != nil {
		return o, err
	}
	o.ChunkTree = btrfsprim.ObjID(chunkTree)
	chunkObjID, err := binutil.Uint64(dat, 8)
	if err != nil {
		return o, err
	}
	o.ChunkObjectID = btrfsprim.ObjID(chunkObjID)
	chunkOff, err := binutil.Int64(dat, 16)
	if err != nil {
		return o, err
	}
	o.ChunkOffset = btrfsvol.LogicalAddr(chunkOff)
	length, err := binutil.Int64(dat, 24)
	if err != nil {
		return o, err
	}
	o.Length = btrfsvol.AddrDelta(length)
	uuid, err := decodeUUIDField(dat, 32)
	if err != nil {
		return o, err
	}
	o.ChunkTreeUUID = uuid
	return o, nil
}
