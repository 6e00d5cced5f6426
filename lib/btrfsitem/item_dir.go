package btrfsitem

import (
	"fmt"
	"hash/crc32"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
)

// MaxNameLen is the longest name a single DIR_ITEM/DIR_INDEX/INODE_REF
// entry can carry.
const MaxNameLen = 255

// NameHash computes the key.offset value a DIR_ITEM or XATTR_ITEM is
// filed under: the one's-complement of a crc32c hash seeded with 1.
func NameHash(name []byte) uint64 {
	return uint64(^crc32.Update(1, crc32.MakeTable(crc32.Castagnoli), name))
}

const dirEntryHeaderSize = 0x1e

// DirEntry is a DIR_ITEM, DIR_INDEX, or XATTR_ITEM body: a name, the
// key of the inode (or, for XATTR_ITEM, the value) it names, and a
// file-type hint.
//
// key.objectid is the inode of the containing directory. key.offset is
// NameHash(name) for DIR_ITEM/XATTR_ITEM, or the directory index
// (starting at 2, after "." and "..") for DIR_INDEX.
type DirEntry struct {
	Location btrfsprim.Key
	TransID  int64
	Type     FileType
	Name     []byte
	Data     []byte // xattr value, only populated for XATTR_ITEM
}

// DirEntries is a DIR_ITEM/DIR_INDEX/XATTR_ITEM body: one or more
// DirEntry records packed back-to-back. DIR_ITEM entries share a key
// (both are filed at key.offset = NameHash(name)), so a hash collision
// between two names in the same directory packs both entries into one
// item instead of giving each its own key.
type DirEntries []DirEntry

func (DirEntries) isItem() {}

// decodeDirEntry decodes one DirEntry record starting at off, returning
// the record along with the number of bytes it occupied so the caller
// can advance to the next packed record.
func decodeDirEntry(dat []byte, off int) (DirEntry, int, error) {
	var o DirEntry
	if err := binutil.Need(dat[off:], dirEntryHeaderSize); err != nil {
		return o, 0, err
	}
	loc, err := decodeKeyField(dat, off+0x0)
	if err != nil {
		return o, 0, err
	}
	o.Location = loc
	if o.TransID, err = binutil.Int64(dat, off+0x11); err != nil {
		return o, 0, err
	}
	dataLen, err := binutil.Uint16(dat, off+0x19)
	if err != nil {
		return o, 0, err
	}
	nameLen, err := binutil.Uint16(dat, off+0x1b)
	if err != nil {
		return o, 0, err
	}
	typ, err := binutil.Uint8(dat, off+0x1d)
	if err != nil {
		return o, 0, err
	}
	o.Type = FileType(typ)
	if nameLen > MaxNameLen {
		return o, 0, fmt.Errorf("name length %d exceeds maximum %d", nameLen, MaxNameLen)
	}
	name, err := binutil.Bytes(dat, off+dirEntryHeaderSize, int(nameLen))
	if err != nil {
		return o, 0, err
	}
	o.Name = append([]byte(nil), name...)
	data, err := binutil.Bytes(dat, off+dirEntryHeaderSize+int(nameLen), int(dataLen))
	if err != nil {
		return o, 0, err
	}
	o.Data = append([]byte(nil), data...)
	return o, dirEntryHeaderSize + int(nameLen) + int(dataLen), nil
}

// decodeDirEntries decodes every DirEntry record packed into dat,
// looping until the buffer is exhausted. Per spec, a single DIR_ITEM
// body may hold multiple entries whose names hash to the same
// key.offset; callers that only look at the first entry would silently
// miss every name after the first such collision.
func decodeDirEntries(dat []byte) (DirEntries, error) {
	var out DirEntries
	off := 0
	for off < len(dat) {
		de, n, err := decodeDirEntry(dat, off)
		if err != nil {
			return nil, err
		}
		out = append(out, de)
		off += n
	}
	return out, nil
}

// FileType is a DIR_ITEM/DIR_INDEX's d_type-equivalent hint.
type FileType uint8

const (
	FT_UNKNOWN  FileType = 0
	FT_REG_FILE FileType = 1
	FT_DIR      FileType = 2
	FT_CHRDEV   FileType = 3
	FT_BLKDEV   FileType = 4
	FT_FIFO     FileType = 5
	FT_SOCK     FileType = 6
	FT_SYMLINK  FileType = 7
	FT_XATTR    FileType = 8
)

var fileTypeNames = map[FileType]string{
	FT_UNKNOWN: "UNKNOWN", FT_REG_FILE: "FILE", FT_DIR: "DIR", FT_CHRDEV: "CHRDEV",
	FT_BLKDEV: "BLKDEV", FT_FIFO: "FIFO", FT_SOCK: "SOCK", FT_SYMLINK: "SYMLINK", FT_XATTR: "XATTR",
}

func (ft FileType) String() string {
	if name, ok := fileTypeNames[ft]; ok {
		return name
	}
	return fmt.Sprintf("FILE_TYPE.%d", uint8(ft))
}

func decodeKeyField(buf []byte, off int) (btrfsprim.Key, error) {
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
