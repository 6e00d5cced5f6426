package btrfsitem

import (
	"fmt"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
)

const inodeRefHeaderSize = 0xa

// InodeRef is an INODE_REF body: one hardlink of a file into a
// directory. key.objectid is the file's inode number; key.offset is
// the containing directory's inode number.
type InodeRef struct {
	Index int64
	Name  []byte
}

func (InodeRef) isItem() {}

func decodeInodeRef(dat []byte) (InodeRef, error) {
	var o InodeRef
	if err := binutil.Need(dat, inodeRefHeaderSize); err != nil {
		return o, err
	}
	idx, err := binutil.Int64(dat, 0x0)
	if err != nil {
		return o, err
	}
	o.Index = idx
	nameLen, err := binutil.Uint16(dat, 0x8)
	if err != nil {
		return o, err
	}
	if nameLen > MaxNameLen {
		return o, fmt.Errorf("name length %d exceeds maximum %d", nameLen, MaxNameLen)
	}
	name, err := binutil.Bytes(dat, inodeRefHeaderSize, int(nameLen))
	if err != nil {
		return o, err
	}
	o.Name = append([]byte(nil), name...)
	return o, nil
}
