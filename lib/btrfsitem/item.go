// Package btrfsitem decodes the item bodies a leaf node carries: the
// payload type is picked from the item type in the item's key, and
// every decoder reads its fields
// field-by-field through lib/btrfsfs/binutil, per spec.md §4.2.
package btrfsitem

import (
	"fmt"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfssum"
)

// Item is any decoded leaf item body.
type Item interface {
	isItem()
}

// Unknown wraps the raw bytes of an item this reader has no decoder
// for, along with the decode error if the type was recognized but the
// bytes were malformed.
type Unknown struct {
	Dat []byte
	Err error
}

func (Unknown) isItem() {}

// Decode dispatches on key.ItemType (the BLOCK_GROUP_ITEM/CHUNK_ITEM/etc
// tag) and returns the parsed item body, or an Unknown wrapping a decode
// error if dat doesn't match the type's expected layout.
func Decode(key btrfsprim.Key, csumType btrfssum.CSumType, dat []byte) Item {
	var item Item
	var err error
	switch key.ItemType {
	case btrfsprim.INODE_ITEM_KEY:
		item, err = decodeInode(dat)
	case btrfsprim.INODE_REF_KEY:
		item, err = decodeInodeRef(dat)
	case btrfsprim.DIR_ITEM_KEY, btrfsprim.DIR_INDEX_KEY, btrfsprim.XATTR_ITEM_KEY:
		item, err = decodeDirEntries(dat)
	case btrfsprim.EXTENT_DATA_KEY:
		item, err = decodeFileExtent(dat)
	case btrfsprim.ROOT_ITEM_KEY:
		item, err = decodeRootItem(dat)
	case btrfsprim.BLOCK_GROUP_ITEM_KEY:
		item, err = decodeBlockGroup(dat)
	case btrfsprim.DEV_EXTENT_KEY:
		item, err = decodeDevExtent(dat)
	case btrfsprim.CHUNK_ITEM_KEY:
		item, err = decodeChunk(dat)
	case btrfsprim.EXTENT_CSUM_KEY:
		item, err = decodeExtentCSum(dat, csumType)
	case btrfsprim.DEV_ITEM_KEY:
		item, err = decodeDevItem(dat)
	default:
		return Unknown{Dat: dat, Err: fmt.Errorf("btrfsitem.Decode: unrecognized item type %v", key.ItemType)}
	}
	if err != nil {
		return Unknown{Dat: dat, Err: fmt.Errorf("btrfsitem.Decode(%v): %w", key.ItemType, err)}
	}
	return item
}
