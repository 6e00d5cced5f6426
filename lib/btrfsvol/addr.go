// Package btrfsvol implements the chunk tree: the logical-to-physical
// address translation layer that sits between the B-tree reader and the
// raw block devices, including BTRFS's RAID0/RAID1/DUP/RAID10/RAID1C3/
// RAID1C4 stripe mapping.
package btrfsvol

import "fmt"

// PhysicalAddr is a byte offset into a single block device.
type PhysicalAddr int64

// LogicalAddr is a byte offset in the filesystem's logical (chunk-tree
// mapped) address space; this is the address space node pointers and
// extent locations use.
type LogicalAddr int64

// AddrDelta is the difference between two addresses of the same kind.
type AddrDelta int64

func (a PhysicalAddr) Sub(b PhysicalAddr) AddrDelta { return AddrDelta(a - b) }
func (a LogicalAddr) Sub(b LogicalAddr) AddrDelta   { return AddrDelta(a - b) }

func (a PhysicalAddr) Add(b AddrDelta) PhysicalAddr { return a + PhysicalAddr(b) }
func (a LogicalAddr) Add(b AddrDelta) LogicalAddr   { return a + LogicalAddr(b) }

func (a PhysicalAddr) String() string { return fmt.Sprintf("%#016x", int64(a)) }
func (a LogicalAddr) String() string  { return fmt.Sprintf("%#016x", int64(a)) }
func (d AddrDelta) String() string    { return fmt.Sprintf("%#016x", int64(d)) }

// DeviceID is a superblock/chunk-item device identifier, stable across
// the lifetime of the filesystem (not a host-OS device number).
type DeviceID uint64

// QualifiedPhysicalAddr names a byte offset on a specific device: the
// unit LogicalToPhysical resolves a LogicalAddr into, one per stripe a
// mirrored profile writes the same bytes to.
type QualifiedPhysicalAddr struct {
	Dev  DeviceID
	Addr PhysicalAddr
}

func (a QualifiedPhysicalAddr) Add(b AddrDelta) QualifiedPhysicalAddr {
	return QualifiedPhysicalAddr{Dev: a.Dev, Addr: a.Addr.Add(b)}
}

func (a QualifiedPhysicalAddr) String() string {
	return fmt.Sprintf("dev%d+%v", a.Dev, a.Addr)
}
