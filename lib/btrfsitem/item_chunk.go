package btrfsitem

import (
	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

const chunkHeaderSize = 0x30
const chunkStripeSize = 0x20

// Chunk is a CHUNK_ITEM body: one logical address range and the set of
// device stripes it's mapped onto. key.offset is the chunk's logical
// start address.
type Chunk struct {
	Size           btrfsvol.AddrDelta
	Owner          btrfsprim.ObjID // always EXTENT_TREE_OBJECTID
	StripeLen      uint64
	Type           btrfsvol.BlockGroupFlags
	IOOptimalAlign uint32
	IOOptimalWidth uint32
	IOMinSize      uint32
	SubStripes     uint16
	Stripes        []ChunkStripe
}

func (Chunk) isItem() {}

// ChunkStripe is one device leg of a Chunk.
type ChunkStripe struct {
	DeviceID   btrfsvol.DeviceID
	Offset     btrfsvol.PhysicalAddr
	DeviceUUID btrfsprim.UUID
}

// DecodeChunkItem decodes a CHUNK_ITEM body. It's exported separately
// from the Decode dispatch table because the superblock's bootstrap
// sys_chunk_array embeds CHUNK_ITEMs directly, outside of any tree.
func DecodeChunkItem(dat []byte) (Chunk, error) {
	return decodeChunk(dat)
}

func decodeChunk(dat []byte) (Chunk, error) {
	var o Chunk
	if err := binutil.Need(dat, chunkHeaderSize); err != nil {
		return o, err
	}
	size, err := binutil.Int64(dat, 0x0)
	if err != nil {
		return o, err
	}
	o.Size = btrfsvol.AddrDelta(size)
	owner, err := binutil.Uint64(dat, 0x8)
	if err != nil {
		return o, err
	}
	o.Owner = btrfsprim.ObjID(owner)
	if o.StripeLen, err = binutil.Uint64(dat, 0x10); err != nil {
		return o, err
	}
	typ, err := binutil.Uint64(dat, 0x18)
	if err != nil {
		return o, err
	}
	o.Type = btrfsvol.BlockGroupFlags(typ)
	if o.IOOptimalAlign, err = binutil.Uint32(dat, 0x20); err != nil {
		return o, err
	}
	if o.IOOptimalWidth, err = binutil.Uint32(dat, 0x24); err != nil {
		return o, err
	}
	if o.IOMinSize, err = binutil.Uint32(dat, 0x28); err != nil {
		return o, err
	}
	numStripes, err := binutil.Uint16(dat, 0x2c)
	if err != nil {
		return o, err
	}
	if o.SubStripes, err = binutil.Uint16(dat, 0x2e); err != nil {
		return o, err
	}
	o.Stripes = make([]ChunkStripe, numStripes)
	for i := range o.Stripes {
		s, err := decodeChunkStripe(dat, chunkHeaderSize+i*chunkStripeSize)
		if err != nil {
			return o, err
		}
		o.Stripes[i] = s
	}
	return o, nil
}

func decodeChunkStripe(dat []byte, off int) (ChunkStripe, error) {
	var s ChunkStripe
	devID, err := binutil.Uint64(dat, off)
	if err != nil {
		return s, err
	}
	s.DeviceID = btrfsvol.DeviceID(devID)
	stripeOff, err := binutil.Int64(dat, off+8)
	if err != nil {
		return s, err
	}
	s.Offset = btrfsvol.PhysicalAddr(stripeOff)
	uuid, err := binutil.Array16(dat, off+16)
	if err != nil {
		return s, err
	}
	s.DeviceUUID = btrfsprim.UUID(uuid)
	return s, nil
}

// ToVolChunk converts the decoded item into the btrfsvol.Chunk shape
// the chunk manager's LogicalToPhysical indexes, anchoring it at its
// key's logical address.
func (o Chunk) ToVolChunk(logical btrfsvol.LogicalAddr) btrfsvol.Chunk {
	stripes := make([]btrfsvol.Stripe, len(o.Stripes))
	for i, s := range o.Stripes {
		stripes[i] = btrfsvol.Stripe{DeviceID: s.DeviceID, Offset: s.Offset, DevUUID: s.DeviceUUID}
	}
	return btrfsvol.Chunk{
		Logical:    logical,
		Size:       o.Size,
		Owner:      uint64(o.Owner),
		StripeLen:  btrfsvol.AddrDelta(o.StripeLen),
		Flags:      o.Type,
		NumStripes: uint16(len(stripes)),
		SubStripes: o.SubStripes,
		Stripes:    stripes,
	}
}
