package btrfsfs

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"

	"github.com/pegasusheavy/btrfsfs/lib/btrfssum"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

// ReaderAt is the file-like handle a Device reads superblocks and nodes
// through. *os.File satisfies it; tests can substitute a
// bytes.Reader-backed fake.
type ReaderAt interface {
	io.ReaderAt
}

// Device is one block device (or disk image) backing a filesystem,
// plus its memoized, mirror-agreed superblock.
type Device struct {
	Name string
	file ReaderAt
	size int64

	mu    sync.Mutex
	sb    *Superblock
	sbErr error
}

// NewDevice wraps an already-open file handle. size is the device's
// total byte length, needed to know which superblock mirrors exist.
func NewDevice(name string, file ReaderAt, size int64) *Device {
	return &Device{Name: name, file: file, size: size}
}

func (d *Device) Size() int64 { return d.size }

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// rawSuperblockAt reads, but does not validate, the 4096-byte
// superblock candidate at physical address addr.
func (d *Device) rawSuperblockAt(addr btrfsvol.PhysicalAddr) ([]byte, error) {
	buf := make([]byte, SuperblockSize)
	if _, err := d.file.ReadAt(buf, int64(addr)); err != nil {
		return nil, fmt.Errorf("reading superblock at %v: %w", addr, err)
	}
	return buf, nil
}

// Superblocks reads and validates every superblock mirror that fits
// within the device, without requiring them to agree with each other.
func (d *Device) Superblocks() ([]Superblock, error) {
	var ret []Superblock
	var firstErr error
	for _, addr := range SuperblockAddrs {
		if int64(addr)+SuperblockSize > d.size {
			break
		}
		raw, err := d.rawSuperblockAt(addr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sb, err := ParseSuperblock(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mirror at %v: %w", addr, err)
			}
			continue
		}
		if err := sb.Validate(raw); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mirror at %v: %w", addr, err)
			}
			continue
		}
		ret = append(ret, sb)
	}
	if len(ret) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("%s: no superblock mirrors found", d.Name)
	}
	return ret, nil
}

// ErrSuperblockMismatch is returned when two superblock mirrors
// disagree about filesystem-wide state they must agree on.
type ErrSuperblockMismatch struct {
	PrimaryAddr btrfsvol.PhysicalAddr
	MirrorAddr  btrfsvol.PhysicalAddr
}

func (e ErrSuperblockMismatch) Error() string {
	return fmt.Sprintf("superblock mirror at %v disagrees with primary at %v", e.MirrorAddr, e.PrimaryAddr)
}

// equalIgnoringSelf reports whether two superblocks agree about
// everything except which physical copy they are (Self) and the
// checksum, which differs between mirrors because it covers Self.
func equalIgnoringSelf(a, b Superblock) bool {
	a.Self, b.Self = 0, 0
	a.Checksum, b.Checksum = btrfssum.CSum{}, btrfssum.CSum{}
	if len(a.SysChunkArray) != len(b.SysChunkArray) {
		return false
	}
	for i := range a.SysChunkArray {
		if a.SysChunkArray[i] != b.SysChunkArray[i] {
			return false
		}
	}
	a.SysChunkArray, b.SysChunkArray = nil, nil
	return reflect.DeepEqual(a, b)
}

// Superblock returns the device's agreed-upon superblock: the first
// valid mirror, cross-checked against every other valid mirror. Mirrors
// that fail their own checksum are ignored; mirrors that parse fine but
// structurally disagree with the first are a hard error, since that
// indicates a torn or stale disk image rather than ordinary mirror lag.
func (d *Device) Superblock() (Superblock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sb != nil {
		return *d.sb, nil
	}
	if d.sbErr != nil {
		return Superblock{}, d.sbErr
	}

	sbs, err := d.Superblocks()
	if err != nil {
		d.sbErr = err
		return Superblock{}, err
	}
	primary := sbs[0]
	for _, mirror := range sbs[1:] {
		if !equalIgnoringSelf(primary, mirror) {
			err := ErrSuperblockMismatch{PrimaryAddr: primary.Self, MirrorAddr: mirror.Self}
			d.sbErr = err
			return Superblock{}, err
		}
	}
	d.sb = &primary
	return primary, nil
}

// OpenDevices opens each named path read-only and wraps it as a
// Device, suitable for passing to Open. The returned close func closes
// every opened file, even after a failure, and returns the first error.
func OpenDevices(paths ...string) ([]*Device, func() error, error) {
	files := make([]*os.File, 0, len(paths))
	closeAll := func() error {
		var err error
		for _, f := range files {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	}

	devices := make([]*Device, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("opening %s: %w", p, err)
		}
		files = append(files, f)
		info, err := f.Stat()
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("stat %s: %w", p, err)
		}
		devices = append(devices, NewDevice(p, f, info.Size()))
	}
	return devices, closeAll, nil
}
