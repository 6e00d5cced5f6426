// Package btrfssum implements the checksum algorithm used to protect
// metadata nodes, the superblock, and (optionally) file data: crc32c
// over the Castagnoli polynomial, as fixed by spec.md's scope.
package btrfssum

import (
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
)

// Size is the width in bytes of a CRC32c checksum.
const Size = 4

// CSum is a checksum value. On-disk checksum fields are wider than this
// algorithm needs; only the first Size bytes are meaningful, the rest
// padding.
type CSum [0x20]byte

var (
	_ fmt.Stringer             = CSum{}
	_ encoding.TextMarshaler   = CSum{}
	_ encoding.TextUnmarshaler = (*CSum)(nil)
)

func (csum CSum) String() string {
	return hex.EncodeToString(csum[:Size])
}

func (csum CSum) MarshalText() ([]byte, error) {
	ret := make([]byte, Size*2)
	hex.Encode(ret, csum[:Size])
	return ret, nil
}

func (csum *CSum) UnmarshalText(text []byte) error {
	*csum = CSum{}
	_, err := hex.Decode(csum[:Size], text)
	return err
}

// CSumType is the on-disk checksum-algorithm code from the superblock.
// BTRFS defines crc32c, xxhash, sha256, and blake2b; this reader
// supports only crc32c (spec.md's scope), and surfaces any other
// on-disk value as an unsupported-feature error rather than guessing.
type CSumType uint16

const (
	TYPE_CRC32 CSumType = iota
	TYPE_XXHASH
	TYPE_SHA256
	TYPE_BLAKE2
)

func (t CSumType) String() string {
	switch t {
	case TYPE_CRC32:
		return "crc32c"
	case TYPE_XXHASH:
		return "xxhash64"
	case TYPE_SHA256:
		return "sha256"
	case TYPE_BLAKE2:
		return "blake2"
	default:
		return fmt.Sprintf("%d", uint16(t))
	}
}

// ErrUnsupportedCSumType is returned by SumTyped when asked to checksum with
// anything but crc32c.
type ErrUnsupportedCSumType struct {
	Type CSumType
}

func (e ErrUnsupportedCSumType) Error() string {
	return fmt.Sprintf("unsupported checksum type: %v", e.Type)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Sum computes the crc32c (Castagnoli) checksum of data, as stored
// on-disk: the 32-bit value little-endian in the first 4 bytes, followed
// by zero bytes to fill the 32-byte on-disk checksum field.
func Sum(data []byte) CSum {
	crc := crc32.Checksum(data, castagnoli)
	var ret CSum
	binary.LittleEndian.PutUint32(ret[:], crc)
	return ret
}

// SumTyped computes the checksum of data using typ, returning
// ErrUnsupportedCSumType for anything but crc32c.
func SumTyped(typ CSumType, data []byte) (CSum, error) {
	if typ != TYPE_CRC32 {
		return CSum{}, ErrUnsupportedCSumType{Type: typ}
	}
	return Sum(data), nil
}

// Size returns the on-disk width of typ's digest; only TYPE_CRC32 (4
// bytes) is actually computable by this reader, but the width table is
// complete so superblock parsing can at least report what it saw.
func (t CSumType) Size() int {
	switch t {
	case TYPE_CRC32:
		return 4
	case TYPE_XXHASH:
		return 8
	case TYPE_SHA256, TYPE_BLAKE2:
		return 32
	default:
		return 32
	}
}

// Table returns the crc32c (Castagnoli) table that Sum uses, for callers
// that hash incrementally with crc32.Update. Nothing in this module calls
// it; the superblock and node checks go through SumTyped.
func Table() *crc32.Table {
	return castagnoli
}
