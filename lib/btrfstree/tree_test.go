package btrfstree

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

// fakeSource is an in-memory NodeSource for exercising Tree's search
// algorithms without a real disk image.
type fakeSource struct {
	nodes map[btrfsvol.LogicalAddr]*Node
}

func (f *fakeSource) ReadNode(_ context.Context, addr btrfsvol.LogicalAddr) (*Node, error) {
	n, ok := f.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("no such node: %v", addr)
	}
	return n, nil
}

func key(obj uint64) btrfsprim.Key {
	return btrfsprim.Key{ObjectID: btrfsprim.ObjID(obj), ItemType: btrfsprim.INODE_ITEM_KEY, Offset: 0}
}

// buildTestTree builds a 2-level tree: one interior root pointing at
// two leaves, each holding a handful of sorted keys.
func buildTestTree() (*fakeSource, btrfsvol.LogicalAddr) {
	src := &fakeSource{nodes: make(map[btrfsvol.LogicalAddr]*Node)}

	leaf1 := &Node{
		Head: NodeHeader{Addr: 0x1000, Level: 0},
		BodyLeaf: []Item{
			{Key: key(100)},
			{Key: key(200)},
			{Key: key(300)},
		},
	}
	leaf2 := &Node{
		Head: NodeHeader{Addr: 0x2000, Level: 0},
		BodyLeaf: []Item{
			{Key: key(400)},
			{Key: key(500)},
		},
	}
	root := &Node{
		Head: NodeHeader{Addr: 0x3000, Level: 1},
		BodyInterior: []KeyPointer{
			{Key: key(100), BlockPtr: 0x1000},
			{Key: key(400), BlockPtr: 0x2000},
		},
	}
	src.nodes[leaf1.Head.Addr] = leaf1
	src.nodes[leaf2.Head.Addr] = leaf2
	src.nodes[root.Head.Addr] = root
	return src, root.Head.Addr
}

func TestTreeSearch(t *testing.T) {
	src, rootAddr := buildTestTree()
	tree := Tree{Root: rootAddr, Source: src}

	item, err := tree.Search(context.Background(), key(300))
	require.NoError(t, err)
	assert.Equal(t, key(300), item.Key)

	_, err = tree.Search(context.Background(), key(999))
	require.Error(t, err)
	var target ErrNoItem
	assert.ErrorAs(t, err, &target)
}

func TestTreeSearchRange(t *testing.T) {
	src, rootAddr := buildTestTree()
	tree := Tree{Root: rootAddr, Source: src}

	items, err := tree.SearchRange(context.Background(), key(200), key(400))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, key(200), items[0].Key)
	assert.Equal(t, key(300), items[1].Key)
	assert.Equal(t, key(400), items[2].Key)
}

func TestTreeIterIsSorted(t *testing.T) {
	src, rootAddr := buildTestTree()
	tree := Tree{Root: rootAddr, Source: src}

	var got []btrfsprim.Key
	err := tree.Iter(context.Background(), func(item Item) error {
		got = append(got, item.Key)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 0; i < len(got)-1; i++ {
		assert.True(t, got[i].Less(got[i+1]))
	}
}

func TestTreeIterStopsOnError(t *testing.T) {
	src, rootAddr := buildTestTree()
	tree := Tree{Root: rootAddr, Source: src}

	sentinel := fmt.Errorf("stop")
	count := 0
	err := tree.Iter(context.Background(), func(item Item) error {
		count++
		if count == 2 {
			return sentinel
		}
		return nil
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, count)
}
