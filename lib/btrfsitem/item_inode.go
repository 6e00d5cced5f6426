package btrfsitem

import (
	"fmt"
	"strings"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
)

// Inode is an INODE_ITEM body: the stat(2)-equivalent metadata for a
// file, directory, symlink, or other inode-type object.
type Inode struct {
	Generation btrfsprim.Generation
	TransID    int64
	Size       int64 // stat st_size
	NumBytes   int64
	BlockGroup int64
	NLink      int32
	UID        int32
	GID        int32
	Mode       uint32 // stat st_mode: file type bits + permission bits
	RDev       int64
	Flags      InodeFlags
	Sequence   int64
	ATime      btrfsprim.Time
	CTime      btrfsprim.Time
	MTime      btrfsprim.Time
	OTime      btrfsprim.Time
}

func (Inode) isItem() {}

const inodeItemSize = 0xa0

func decodeInode(dat []byte) (Inode, error) {
	var o Inode
	if err := binutil.Need(dat, inodeItemSize); err != nil {
		return o, err
	}
	gen, err := binutil.Uint64(dat, 0x00)
	if err != nil {
		return o, err
	}
	o.Generation = btrfsprim.Generation(gen)
	if o.TransID, err = binutil.Int64(dat, 0x08); err != nil {
		return o, err
	}
	if o.Size, err = binutil.Int64(dat, 0x10); err != nil {
		return o, err
	}
	if o.NumBytes, err = binutil.Int64(dat, 0x18); err != nil {
		return o, err
	}
	if o.BlockGroup, err = binutil.Int64(dat, 0x20); err != nil {
		return o, err
	}
	nlink, err := binutil.Uint32(dat, 0x28)
	if err != nil {
		return o, err
	}
	o.NLink = int32(nlink)
	uid, err := binutil.Uint32(dat, 0x2c)
	if err != nil {
		return o, err
	}
	o.UID = int32(uid)
	gid, err := binutil.Uint32(dat, 0x30)
	if err != nil {
		return o, err
	}
	o.GID = int32(gid)
	if o.Mode, err = binutil.Uint32(dat, 0x34); err != nil {
		return o, err
	}
	if o.RDev, err = binutil.Int64(dat, 0x38); err != nil {
		return o, err
	}
	flags, err := binutil.Uint64(dat, 0x40)
	if err != nil {
		return o, err
	}
	o.Flags = InodeFlags(flags)
	if o.Sequence, err = binutil.Int64(dat, 0x48); err != nil {
		return o, err
	}
	// 0x50..0x70 is reserved padding.
	if o.ATime, err = decodeTime(dat, 0x70); err != nil {
		return o, err
	}
	if o.CTime, err = decodeTime(dat, 0x7c); err != nil {
		return o, err
	}
	if o.MTime, err = decodeTime(dat, 0x88); err != nil {
		return o, err
	}
	if o.OTime, err = decodeTime(dat, 0x94); err != nil {
		return o, err
	}
	return o, nil
}

func decodeTime(dat []byte, off int) (btrfsprim.Time, error) {
	var t btrfsprim.Time
	sec, err := binutil.Int64(dat, off)
	if err != nil {
		return t, err
	}
	nsec, err := binutil.Uint32(dat, off+8)
	if err != nil {
		return t, err
	}
	return btrfsprim.Time{Sec: sec, NSec: nsec}, nil
}

// InodeFlags is INODE_ITEM's inode-level attribute bitmask (stx_attributes,
// roughly).
type InodeFlags uint64

const (
	INODE_NODATASUM = InodeFlags(1 << iota)
	INODE_NODATACOW
	INODE_READONLY
	INODE_NOCOMPRESS
	INODE_PREALLOC
	INODE_SYNC
	INODE_IMMUTABLE
	INODE_APPEND
	INODE_NODUMP
	INODE_NOATIME
	INODE_DIRSYNC
	INODE_COMPRESS
)

var inodeFlagNames = []string{
	"NODATASUM", "NODATACOW", "READONLY", "NOCOMPRESS", "PREALLOC", "SYNC",
	"IMMUTABLE", "APPEND", "NODUMP", "NOATIME", "DIRSYNC", "COMPRESS",
}

func (f InodeFlags) Has(req InodeFlags) bool { return f&req == req }

func (f InodeFlags) String() string {
	var parts []string
	for i, name := range inodeFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%#x", uint64(f))
	}
	return strings.Join(parts, "|")
}

// S_IFMT-equivalent inode type bits, Linux stat(2) values.
const (
	modeTypeMask = 0o170000
	S_IFSOCK     = 0o140000
	S_IFLNK      = 0o120000
	S_IFREG      = 0o100000
	S_IFBLK      = 0o060000
	S_IFDIR      = 0o040000
	S_IFCHR      = 0o020000
	S_IFIFO      = 0o010000
)

// IsSymlink reports whether Mode's file-type bits mark this inode as a
// symbolic link.
func (o Inode) IsSymlink() bool { return o.Mode&modeTypeMask == S_IFLNK }

// IsDir reports whether Mode's file-type bits mark this inode as a
// directory.
func (o Inode) IsDir() bool { return o.Mode&modeTypeMask == S_IFDIR }

// IsRegular reports whether Mode's file-type bits mark this inode as a
// regular file.
func (o Inode) IsRegular() bool { return o.Mode&modeTypeMask == S_IFREG }
