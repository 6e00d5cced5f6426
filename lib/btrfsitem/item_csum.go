package btrfsitem

import (
	"github.com/pegasusheavy/btrfsfs/lib/btrfssum"
)

// CSumBlockSize is the sector size each checksum in an ExtentCSum item
// covers.
const CSumBlockSize = 4 * 1024

// ExtentCSum is a CSUM_TREE leaf body: a packed run of per-sector
// checksums for the logical range starting at key.offset, one entry
// per CSumBlockSize-byte sector.
type ExtentCSum struct {
	ChecksumSize int
	Sums         []btrfssum.CSum
}

func (ExtentCSum) isItem() {}

func decodeExtentCSum(dat []byte, csumType btrfssum.CSumType) (ExtentCSum, error) {
	size := csumType.Size()
	o := ExtentCSum{ChecksumSize: size}
	for len(dat) >= size {
		var csum btrfssum.CSum
		copy(csum[:], dat[:size])
		dat = dat[size:]
		o.Sums = append(o.Sums, csum)
	}
	return o, nil
}

// SumAt returns the checksum covering the sector at byte offset
// sectorOff within the logical region this item describes (i.e.
// sectorOff is relative to the item's key.offset, not absolute).
func (o ExtentCSum) SumAt(sectorOff int64) (btrfssum.CSum, bool) {
	idx := sectorOff / CSumBlockSize
	if idx < 0 || int(idx) >= len(o.Sums) {
		return btrfssum.CSum{}, false
	}
	return o.Sums[idx], true
}
