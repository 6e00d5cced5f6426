package btrfsitem

import (
	"fmt"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

const fileExtentHeaderSize = 0x15

// FileExtent is an EXTENT_DATA body: one contiguous run of a file's
// data, either stored inline in the item or pointing at an extent in
// the extent tree. key.objectid is the inode; key.offset is the byte
// offset within the file where this extent starts.
type FileExtent struct {
	Generation  btrfsprim.Generation
	RAMBytes    int64 // upper bound of decompressed size
	Compression CompressionType
	Encryption  uint8
	Type        FileExtentType

	BodyInline []byte           // populated when Type == FILE_EXTENT_INLINE
	BodyExtent FileExtentExtent // populated when Type == FILE_EXTENT_REG or FILE_EXTENT_PREALLOC
}

func (FileExtent) isItem() {}

// FileExtentExtent is the non-inline half of a FileExtent: where the
// backing extent lives in the logical address space, and which window
// of it this file-extent item covers.
type FileExtentExtent struct {
	DiskByteNr   btrfsvol.LogicalAddr // 0 for a hole
	DiskNumBytes btrfsvol.AddrDelta   // on-disk (possibly compressed) size of the extent
	Offset       btrfsvol.AddrDelta   // offset within the extent that this file's data starts at
	NumBytes     int64                // decompressed length of this file's view into the extent
}

func decodeFileExtent(dat []byte) (FileExtent, error) {
	var o FileExtent
	if err := binutil.Need(dat, fileExtentHeaderSize); err != nil {
		return o, err
	}
	gen, err := binutil.Uint64(dat, 0x0)
	if err != nil {
		return o, err
	}
	o.Generation = btrfsprim.Generation(gen)
	if o.RAMBytes, err = binutil.Int64(dat, 0x8); err != nil {
		return o, err
	}
	compr, err := binutil.Uint8(dat, 0x10)
	if err != nil {
		return o, err
	}
	o.Compression = CompressionType(compr)
	if o.Encryption, err = binutil.Uint8(dat, 0x11); err != nil {
		return o, err
	}
	// 0x12..0x14 is OtherEncoding, reserved.
	typ, err := binutil.Uint8(dat, 0x14)
	if err != nil {
		return o, err
	}
	o.Type = FileExtentType(typ)

	body := dat[fileExtentHeaderSize:]
	switch o.Type {
	case FILE_EXTENT_INLINE:
		o.BodyInline = append([]byte(nil), body...)
	case FILE_EXTENT_REG, FILE_EXTENT_PREALLOC:
		ext, err := decodeFileExtentExtent(body)
		if err != nil {
			return o, err
		}
		o.BodyExtent = ext
	default:
		return o, fmt.Errorf("unknown file extent type %v", o.Type)
	}
	return o, nil
}

func decodeFileExtentExtent(dat []byte) (FileExtentExtent, error) {
	var e FileExtentExtent
	if err := binutil.Need(dat, 0x20); err != nil {
		return e, err
	}
	diskByteNr, err := binutil.Int64(dat, 0x0)
	if err != nil {
		return e, err
	}
	e.DiskByteNr = btrfsvol.LogicalAddr(diskByteNr)
	diskNumBytes, err := binutil.Int64(dat, 0x8)
	if err != nil {
		return e, err
	}
	e.DiskNumBytes = btrfsvol.AddrDelta(diskNumBytes)
	off, err := binutil.Int64(dat, 0x10)
	if err != nil {
		return e, err
	}
	e.Offset = btrfsvol.AddrDelta(off)
	if e.NumBytes, err = binutil.Int64(dat, 0x18); err != nil {
		return e, err
	}
	return e, nil
}

// Size returns the number of file bytes this extent item covers.
func (o FileExtent) Size() (int64, error) {
	switch o.Type {
	case FILE_EXTENT_INLINE:
		return o.RAMBytes, nil
	case FILE_EXTENT_REG, FILE_EXTENT_PREALLOC:
		return o.BodyExtent.NumBytes, nil
	default:
		return 0, fmt.Errorf("unknown file extent type %v", o.Type)
	}
}

// FileExtentType distinguishes inline-stored data from a pointer into
// the extent tree.
type FileExtentType uint8

const (
	FILE_EXTENT_INLINE FileExtentType = iota
	FILE_EXTENT_REG
	FILE_EXTENT_PREALLOC
)

var fileExtentTypeNames = []string{"inline", "regular", "prealloc"}

func (t FileExtentType) String() string {
	if int(t) < len(fileExtentTypeNames) {
		return fileExtentTypeNames[t]
	}
	return fmt.Sprintf("%d", uint8(t))
}

// CompressionType names the algorithm BodyExtent/BodyInline bytes are
// compressed with, dispatched by lib/compress.
type CompressionType uint8

const (
	COMPRESS_NONE CompressionType = iota
	COMPRESS_ZLIB
	COMPRESS_LZO
	COMPRESS_ZSTD
)

var compressionTypeNames = []string{"none", "zlib", "lzo", "zstd"}

func (t CompressionType) String() string {
	if int(t) < len(compressionTypeNames) {
		return compressionTypeNames[t]
	}
	return fmt.Sprintf("%d", uint8(t))
}
