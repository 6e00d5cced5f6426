package btrfsvol

import "strings"

// BlockGroupFlags is the profile/usage bitmask carried by CHUNK_ITEMs,
// BLOCK_GROUP_ITEMs, and DEV_EXTENTs.
type BlockGroupFlags uint64

const (
	BLOCK_GROUP_DATA = BlockGroupFlags(1 << iota)
	BLOCK_GROUP_SYSTEM
	BLOCK_GROUP_METADATA
	BLOCK_GROUP_RAID0
	BLOCK_GROUP_RAID1
	BLOCK_GROUP_DUP
	BLOCK_GROUP_RAID10
	BLOCK_GROUP_RAID5
	BLOCK_GROUP_RAID6
	BLOCK_GROUP_RAID1C3
	BLOCK_GROUP_RAID1C4

	// BLOCK_GROUP_RAID_MASK is the set of profile bits whose
	// logical:physical relationship is one:many rather than one:one.
	// Notably this excludes BLOCK_GROUP_RAID0, whose relationship is
	// one:one per-stripe even though it spans multiple devices.
	BLOCK_GROUP_RAID_MASK = BLOCK_GROUP_RAID1 | BLOCK_GROUP_DUP | BLOCK_GROUP_RAID10 |
		BLOCK_GROUP_RAID5 | BLOCK_GROUP_RAID6 | BLOCK_GROUP_RAID1C3 | BLOCK_GROUP_RAID1C4
)

var blockGroupFlagNames = []string{
	"DATA",
	"SYSTEM",
	"METADATA",

	"RAID0",
	"RAID1",
	"DUP",
	"RAID10",
	"RAID5",
	"RAID6",
	"RAID1C3",
	"RAID1C4",
}

func (f BlockGroupFlags) Has(req BlockGroupFlags) bool { return f&req == req }

func (f BlockGroupFlags) String() string {
	var parts []string
	for i, name := range blockGroupFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if f&BLOCK_GROUP_RAID_MASK == 0 {
		parts = append(parts, "single")
	}
	return strings.Join(parts, "|")
}

// NumCopies returns how many identical copies of data this profile
// keeps, i.e. the stripe fan-out that LogicalToPhysical returns.
func (f BlockGroupFlags) NumCopies() int {
	switch {
	case f.Has(BLOCK_GROUP_RAID1C4):
		return 4
	case f.Has(BLOCK_GROUP_RAID1C3):
		return 3
	case f.Has(BLOCK_GROUP_RAID1), f.Has(BLOCK_GROUP_DUP), f.Has(BLOCK_GROUP_RAID10):
		return 2
	default:
		return 1
	}
}
