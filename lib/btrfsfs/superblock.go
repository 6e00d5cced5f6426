package btrfsfs

import (
	"fmt"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs/binutil"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsitem"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfssum"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

// Magic is the 8-byte value every superblock must carry at offset
// 0x40, per spec.md §3.
var Magic = [8]byte{'_', 'B', 'H', 'R', 'f', 'S', '_', 'M'}

// SuperblockSize is the fixed on-disk width of a superblock, padded
// with reserved bytes out to 4096.
const SuperblockSize = 0x1000

// SuperblockAddrs are the physical byte offsets of the primary
// superblock and its two mirrors.
var SuperblockAddrs = []btrfsvol.PhysicalAddr{
	0x1_0000,      // 64KiB
	0x400_0000,    // 64MiB
	0x40_0000_0000, // 256GiB
}

// IncompatFlags is the superblock's incompat_flags bitmask: features
// that change the on-disk format in ways an implementation must
// understand to read the filesystem safely at all.
type IncompatFlags uint64

const (
	FeatureIncompatMixedBackref IncompatFlags = 1 << iota
	FeatureIncompatDefaultSubvol
	FeatureIncompatMixedGroups
	FeatureIncompatCompressLZO
	FeatureIncompatCompressZSTD
	FeatureIncompatBigMetadata
	FeatureIncompatExtendedIRef
	FeatureIncompatRAID56
	FeatureIncompatSkinnyMetadata
	FeatureIncompatNoHoles
	FeatureIncompatMetadataUUID
	FeatureIncompatRAID1C34
	FeatureIncompatZoned
	FeatureIncompatExtentTreeV2
	FeatureIncompatRAIDStripeTree
)

func (f IncompatFlags) Has(req IncompatFlags) bool { return f&req == req }

// Superblock is the filesystem-wide metadata block, per spec.md §3.
type Superblock struct {
	Checksum   btrfssum.CSum
	FSUUID     btrfsprim.UUID
	Self       btrfsvol.PhysicalAddr // this copy's own physical address
	Flags      uint64
	Magic      [8]byte
	Generation btrfsprim.Generation

	RootTree  btrfsvol.LogicalAddr
	ChunkTree btrfsvol.LogicalAddr
	LogTree   btrfsvol.LogicalAddr

	LogRootTransID  uint64
	TotalBytes      uint64
	BytesUsed       uint64
	RootDirObjectID btrfsprim.ObjID // usually 6
	NumDevices      uint64

	SectorSize        uint32
	NodeSize          uint32
	StripeSize        uint32
	SysChunkArraySize uint32

	ChunkRootGeneration btrfsprim.Generation
	CompatFlags         uint64
	CompatROFlags       uint64
	IncompatFlags       IncompatFlags
	ChecksumType        btrfssum.CSumType

	RootLevel  uint8
	ChunkLevel uint8
	LogLevel   uint8

	DevItem btrfsitem.DevItem
	Label   string

	MetadataUUID btrfsprim.UUID

	SysChunkArray []byte
}

// EffectiveMetadataUUID is the UUID tree node checksums are keyed
// against: FSUUID, unless FeatureIncompatMetadataUUID says nodes were
// written with a separate metadata UUID.
func (sb Superblock) EffectiveMetadataUUID() btrfsprim.UUID {
	if !sb.IncompatFlags.Has(FeatureIncompatMetadataUUID) {
		return sb.FSUUID
	}
	return sb.MetadataUUID
}

// ParseSuperblock decodes a raw 4096-byte superblock buffer, per the
// field layout of spec.md §3.
func ParseSuperblock(buf []byte) (Superblock, error) {
	var sb Superblock
	if err := binutil.Need(buf, SuperblockSize); err != nil {
		return sb, err
	}
	csumBytes, err := binutil.Bytes(buf, 0x0, 0x20)
	if err != nil {
		return sb, err
	}
	copy(sb.Checksum[:], csumBytes)
	fsUUID, err := binutil.Array16(buf, 0x20)
	if err != nil {
		return sb, err
	}
	sb.FSUUID = btrfsprim.UUID(fsUUID)
	self, err := binutil.Int64(buf, 0x30)
	if err != nil {
		return sb, err
	}
	sb.Self = btrfsvol.PhysicalAddr(self)
	if sb.Flags, err = binutil.Uint64(buf, 0x38); err != nil {
		return sb, err
	}
	magic, err := binutil.Bytes(buf, 0x40, 8)
	if err != nil {
		return sb, err
	}
	copy(sb.Magic[:], magic)
	gen, err := binutil.Uint64(buf, 0x48)
	if err != nil {
		return sb, err
	}
	sb.Generation = btrfsprim.Generation(gen)

	rootTree, err := binutil.Int64(buf, 0x50)
	if err != nil {
		return sb, err
	}
	sb.RootTree = btrfsvol.LogicalAddr(rootTree)
	chunkTree, err := binutil.Int64(buf, 0x58)
	if err != nil {
		return sb, err
	}
	sb.ChunkTree = btrfsvol.LogicalAddr(chunkTree)
	logTree, err := binutil.Int64(buf, 0x60)
	if err != nil {
		return sb, err
	}
	sb.LogTree = btrfsvol.LogicalAddr(logTree)

	if sb.LogRootTransID, err = binutil.Uint64(buf, 0x68); err != nil {
		return sb, err
	}
	if sb.TotalBytes, err = binutil.Uint64(buf, 0x70); err != nil {
		return sb, err
	}
	if sb.BytesUsed, err = binutil.Uint64(buf, 0x78); err != nil {
		return sb, err
	}
	rootDirObjID, err := binutil.Uint64(buf, 0x80)
	if err != nil {
		return sb, err
	}
	sb.RootDirObjectID = btrfsprim.ObjID(rootDirObjID)
	if sb.NumDevices, err = binutil.Uint64(buf, 0x88); err != nil {
		return sb, err
	}

	if sb.SectorSize, err = binutil.Uint32(buf, 0x90); err != nil {
		return sb, err
	}
	if sb.NodeSize, err = binutil.Uint32(buf, 0x94); err != nil {
		return sb, err
	}
	// 0x98 LeafSize is unused, always equals NodeSize.
	if sb.StripeSize, err = binutil.Uint32(buf, 0x9c); err != nil {
		return sb, err
	}
	if sb.SysChunkArraySize, err = binutil.Uint32(buf, 0xa0); err != nil {
		return sb, err
	}

	chunkRootGen, err := binutil.Uint64(buf, 0xa4)
	if err != nil {
		return sb, err
	}
	sb.ChunkRootGeneration = btrfsprim.Generation(chunkRootGen)
	if sb.CompatFlags, err = binutil.Uint64(buf, 0xac); err != nil {
		return sb, err
	}
	if sb.CompatROFlags, err = binutil.Uint64(buf, 0xb4); err != nil {
		return sb, err
	}
	incompat, err := binutil.Uint64(buf, 0xbc)
	if err != nil {
		return sb, err
	}
	sb.IncompatFlags = IncompatFlags(incompat)
	csumType, err := binutil.Uint16(buf, 0xc4)
	if err != nil {
		return sb, err
	}
	sb.ChecksumType = btrfssum.CSumType(csumType)

	if sb.RootLevel, err = binutil.Uint8(buf, 0xc6); err != nil {
		return sb, err
	}
	if sb.ChunkLevel, err = binutil.Uint8(buf, 0xc7); err != nil {
		return sb, err
	}
	if sb.LogLevel, err = binutil.Uint8(buf, 0xc8); err != nil {
		return sb, err
	}

	devItemBytes, err := binutil.Bytes(buf, 0xc9, 0x62)
	if err != nil {
		return sb, err
	}
	devItem, err := btrfsitem.DecodeDevItem(devItemBytes)
	if err != nil {
		return sb, fmt.Errorf("dev_item: %w", err)
	}
	sb.DevItem = devItem

	label, err := binutil.CString(buf, 0x12b, 0x100)
	if err != nil {
		return sb, err
	}
	sb.Label = label

	metaUUID, err := binutil.Array16(buf, 0x23b)
	if err != nil {
		return sb, err
	}
	sb.MetadataUUID = btrfsprim.UUID(metaUUID)

	sysChunkArray, err := binutil.Bytes(buf, 0x32b, 0x800)
	if err != nil {
		return sb, err
	}
	if int(sb.SysChunkArraySize) > len(sysChunkArray) {
		return sb, fmt.Errorf("sys_chunk_array_size %d exceeds field width %d", sb.SysChunkArraySize, len(sysChunkArray))
	}
	sb.SysChunkArray = append([]byte(nil), sysChunkArray[:sb.SysChunkArraySize]...)

	return sb, nil
}

// ErrBadMagic is returned when a superblock candidate's magic field
// doesn't match the expected value.
type ErrBadMagic struct {
	Got [8]byte
}

func (e ErrBadMagic) Error() string {
	return fmt.Sprintf("bad superblock magic: got %q, want %q", e.Got, Magic)
}

// Validate checks the magic and checksum invariants spec.md §3/§8
// require of every superblock copy read off disk.
func (sb Superblock) Validate(raw []byte) error {
	if sb.Magic != Magic {
		return ErrBadMagic{Got: sb.Magic}
	}
	calced, err := btrfssum.SumTyped(sb.ChecksumType, raw[0x20:SuperblockSize])
	if err != nil {
		return err
	}
	n := sb.ChecksumType.Size()
	for i := 0; i < n; i++ {
		if sb.Checksum[i] != calced[i] {
			return fmt.Errorf("superblock checksum mismatch: stored=%v calculated=%v", sb.Checksum, calced)
		}
	}
	return nil
}

// sysChunkItem is one (key, chunk) pair decoded out of the
// superblock's bootstrap sys_chunk_array.
type sysChunkItem struct {
	Key   btrfsprim.Key
	Chunk btrfsitem.Chunk
}

// ParseSysChunkArray decodes the superblock's embedded bootstrap chunk
// list: enough SYSTEM chunks to read the real chunk tree.
func (sb Superblock) ParseSysChunkArray() ([]sysChunkItem, error) {
	dat := sb.SysChunkArray
	var ret []sysChunkItem
	for len(dat) > 0 {
		if err := binutil.Need(dat, 17); err != nil {
			return nil, fmt.Errorf("sys_chunk_array: %w", err)
		}
		objID, err := binutil.Uint64(dat, 0)
		if err != nil {
			return nil, err
		}
		typ, err := binutil.Uint8(dat, 8)
		if err != nil {
			return nil, err
		}
		offset, err := binutil.Uint64(dat, 9)
		if err != nil {
			return nil, err
		}
		key := btrfsprim.Key{ObjectID: btrfsprim.ObjID(objID), ItemType: btrfsprim.ItemType(typ), Offset: offset}
		if key.ItemType != btrfsprim.CHUNK_ITEM_KEY {
			return nil, fmt.Errorf("sys_chunk_array: expected CHUNK_ITEM, got %v", key.ItemType)
		}
		dat = dat[17:]
		chunk, err := btrfsitem.DecodeChunkItem(dat)
		if err != nil {
			return nil, fmt.Errorf("sys_chunk_array: chunk at offset %v: %w", offset, err)
		}
		chunkSize := 0x30 + len(chunk.Stripes)*0x20
		if err := binutil.Need(dat, chunkSize); err != nil {
			return nil, fmt.Errorf("sys_chunk_array: %w", err)
		}
		dat = dat[chunkSize:]
		ret = append(ret, sysChunkItem{Key: key, Chunk: chunk})
	}
	return ret, nil
}
