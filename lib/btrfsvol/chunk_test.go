package btrfsvol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkStripes(n int) []Stripe {
	out := make([]Stripe, n)
	for i := range out {
		out[i] = Stripe{DeviceID: DeviceID(i), Offset: PhysicalAddr(1000 * (i + 1))}
	}
	return out
}

func TestLogicalToPhysicalSingle(t *testing.T) {
	var m ChunkMap
	m.Insert(Chunk{
		Logical: 0x1000, Size: 0x10000, StripeLen: 0x10000,
		Stripes: mkStripes(1),
	})
	addrs, err := m.LogicalToPhysical(0x1050)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, PhysicalAddr(1000+0x50), addrs[0].Addr)
}

func TestLogicalToPhysicalDUP(t *testing.T) {
	var m ChunkMap
	m.Insert(Chunk{
		Logical: 0, Size: 0x10000, StripeLen: 0x10000,
		Flags:   BLOCK_GROUP_DUP,
		Stripes: mkStripes(2),
	})
	addrs, err := m.LogicalToPhysical(0x100)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.NotEqual(t, addrs[0].Dev, addrs[1].Dev, "DUP fans out to both stripes")
	assert.Equal(t, PhysicalAddr(1000+0x100), addrs[0].Addr)
	assert.Equal(t, PhysicalAddr(2000+0x100), addrs[1].Addr)
}

func TestLogicalToPhysicalRAID0(t *testing.T) {
	var m ChunkMap
	const stripeLen = AddrDelta(0x10000)
	m.Insert(Chunk{
		Logical: 0, Size: 0x40000, StripeLen: stripeLen,
		Flags:      BLOCK_GROUP_RAID0,
		NumStripes: 2,
		Stripes:    mkStripes(2),
	})
	// First stripe_len on device 0, second on device 1, third back on device 0.
	a0, err := m.LogicalToPhysical(0x100)
	require.NoError(t, err)
	require.Len(t, a0, 1)
	assert.Equal(t, DeviceID(0), a0[0].Dev)

	a1, err := m.LogicalToPhysical(0x10100)
	require.NoError(t, err)
	assert.Equal(t, DeviceID(1), a1[0].Dev)
	assert.Equal(t, PhysicalAddr(2000+0x100), a1[0].Addr)

	a2, err := m.LogicalToPhysical(0x20100)
	require.NoError(t, err)
	assert.Equal(t, DeviceID(0), a2[0].Dev)
	assert.Equal(t, PhysicalAddr(1000+0x10000+0x100), a2[0].Addr)
}

func TestLogicalToPhysicalRAID10(t *testing.T) {
	var m ChunkMap
	const stripeLen = AddrDelta(0x1000)
	m.Insert(Chunk{
		Logical: 0, Size: 0x10000, StripeLen: stripeLen,
		Flags:      BLOCK_GROUP_RAID10,
		NumStripes: 4,
		SubStripes: 2,
		Stripes:    mkStripes(4),
	})
	addrs, err := m.LogicalToPhysical(0x50)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.ElementsMatch(t, []DeviceID{0, 1}, []DeviceID{addrs[0].Dev, addrs[1].Dev})

	addrs2, err := m.LogicalToPhysical(0x1050)
	require.NoError(t, err)
	require.Len(t, addrs2, 2)
	assert.ElementsMatch(t, []DeviceID{2, 3}, []DeviceID{addrs2[0].Dev, addrs2[1].Dev})
}

func TestLogicalToPhysicalRAID56Unsupported(t *testing.T) {
	var m ChunkMap
	m.Insert(Chunk{Logical: 0, Size: 0x1000, StripeLen: 0x1000, Flags: BLOCK_GROUP_RAID5, Stripes: mkStripes(3)})
	_, err := m.LogicalToPhysical(0x10)
	require.Error(t, err)
	var target ErrUnsupportedProfile
	assert.ErrorAs(t, err, &target)
}

func TestLogicalToPhysicalNoMapping(t *testing.T) {
	var m ChunkMap
	m.Insert(Chunk{Logical: 0, Size: 0x1000, StripeLen: 0x1000, Stripes: mkStripes(1)})
	_, err := m.LogicalToPhysical(0x2000)
	require.Error(t, err)
	var target ErrNoMapping
	assert.ErrorAs(t, err, &target)
}

func TestNumCopies(t *testing.T) {
	assert.Equal(t, 1, BlockGroupFlags(0).NumCopies())
	assert.Equal(t, 2, BLOCK_GROUP_DUP.NumCopies())
	assert.Equal(t, 2, BLOCK_GROUP_RAID1.NumCopies())
	assert.Equal(t, 3, BLOCK_GROUP_RAID1C3.NumCopies())
	assert.Equal(t, 4, BLOCK_GROUP_RAID1C4.NumCopies())
}
