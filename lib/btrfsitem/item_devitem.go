package btrfsitem

import (
	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

const devItemSize = 0x62

// DevItem is a DEV_ITEM body: one block device's identity and size, as
// found both embedded in the superblock (for the opening device) and
// filed under the dev tree (for every device). key.offset is the
// device ID.
type DevItem struct {
	DevID          btrfsvol.DeviceID
	NumBytes       uint64
	NumBytesUsed   uint64
	IOOptimalAlign uint32
	IOOptimalWidth uint32
	IOMinSize      uint32 // sector size
	Type           uint64
	Generation     btrfsprim.Generation
	StartOffset    uint64
	DevGroup       uint32
	SeekSpeed      uint8
	Bandwidth      uint8
	DevUUID        btrfsprim.UUID
	FSUUID         btrfsprim.UUID
}

func (DevItem) isItem() {}

// DecodeDevItem decodes a DEV_ITEM body. It's exported separately from
// the Decode dispatch table because the superblock embeds one DEV_ITEM
// directly in its own fixed layout, outside of any tree.
func DecodeDevItem(dat []byte) (DevItem, error) {
	return decodeDevItem(dat)
}

func decodeDevItem(dat []byte) (DevItem, error) {
	var o DevItem
	if err := binutil.Need(dat, devItemSize); err != nil {
		return o, err
	}
	devID, err := binutil.Uint64(dat, 0x0)
	if err != nil {
		return o, err
	}
	o.DevID = btrfsvol.DeviceID(devID)
	if o.NumBytes, err = binutil.Uint64(dat, 0x8); err != nil {
		return o, err
	}
	if o.NumBytesUsed, err = binutil.Uint64(dat, 0x10); err != nil {
		return o, err
	}
	if o.IOOptimalAlign, err = binutil.Uint32(dat, 0x18); err != nil {
		return o, err
	}
	if o.IOOptimalWidth, err = binutil.Uint32(dat, 0x1c); err != nil {
		return o, err
	}
	if o.IOMinSize, err = binutil.Uint32(dat, 0x20); err != nil {
		return o, err
	}
	typ, err := binutil.Uint64(dat, 0x24)
	if err != nil {
		return o, err
	}
	o.Type = typ
	gen, err := binutil.Uint64(dat, 0x2c)
	if err != nil {
		return o, err
	}
	o.Generation = btrfsprim.Generation(gen)
	if o.StartOffset, err = binutil.Uint64(dat, 0x34); err != nil {
		return o, err
	}
	if o.DevGroup, err = binutil.Uint32(dat, 0x3c); err != nil {
		return o, err
	}
	if o.SeekSpeed, err = binutil.Uint8(dat, 0x40); err != nil {
		return o, err
	}
	if o.Bandwidth, err = binutil.Uint8(dat, 0x41); err != nil {
		return o, err
	}
	devUUID, err := decodeUUIDField(dat, 0x42)
	if err != nil {
		return o, err
	}
	o.DevUUID = devUUID
	fsUUID, err := decodeUUIDField(dat, 0x52)
	if err != nil {
		return o, err
	}
	o.FSUUID = fsUUID
	return o, nil
}
