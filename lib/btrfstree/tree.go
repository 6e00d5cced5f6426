package btrfstree

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsvol"
)

// NodeSource is the thing a Tree reads nodes from: FS.ReadNode, in the
// normal case, with the chunk-tree translation and checksum
// verification already applied.
type NodeSource interface {
	ReadNode(ctx context.Context, addr btrfsvol.LogicalAddr) (*Node, error)
}

// Tree is a read-only handle on one B-tree: a root node address plus
// the node source to resolve child pointers through. Every BTRFS tree
// (root tree, chunk tree, an FS tree, the csum tree, ...) is accessed
// through one of these.
type Tree struct {
	Root   btrfsvol.LogicalAddr
	Source NodeSource
}

// ErrNoItem is returned by Search when no item in the tree has exactly
// the requested key.
type ErrNoItem struct {
	Key btrfsprim.Key
}

func (e ErrNoItem) Error() string {
	return fmt.Sprintf("no item with key %v", e.Key)
}

// Search returns the single item whose key equals key exactly.
func (t Tree) Search(ctx context.Context, key btrfsprim.Key) (Item, error) {
	item, ok, err := t.searchFrom(ctx, t.Root, key)
	if err != nil {
		return Item{}, err
	}
	if !ok {
		return Item{}, ErrNoItem{Key: key}
	}
	return item, nil
}

func (t Tree) searchFrom(ctx context.Context, addr btrfsvol.LogicalAddr, key btrfsprim.Key) (Item, bool, error) {
	node, err := t.Source.ReadNode(ctx, addr)
	if err != nil {
		return Item{}, false, fmt.Errorf("reading node at %v: %w", addr, err)
	}
	if node.Head.Level == 0 {
		for _, item := range node.BodyLeaf {
			if item.Key == key {
				return item, true, nil
			}
		}
		return Item{}, false, nil
	}
	child, ok := childFor(node.BodyInterior, key)
	if !ok {
		return Item{}, false, nil
	}
	return t.searchFrom(ctx, child, key)
}

// childFor returns the child pointer whose key range could contain
// key: the last key pointer whose key is <= key, or the first key
// pointer if key is smaller than everything in the node.
func childFor(ptrs []KeyPointer, key btrfsprim.Key) (btrfsvol.LogicalAddr, bool) {
	if len(ptrs) == 0 {
		return 0, false
	}
	child := ptrs[0].BlockPtr
	for _, ptr := range ptrs {
		if ptr.Key.Compare(key) > 0 {
			break
		}
		child = ptr.BlockPtr
	}
	return child, true
}

// SearchRange returns every item whose key falls in [min, max], in key
// order.
func (t Tree) SearchRange(ctx context.Context, min, max btrfsprim.Key) ([]Item, error) {
	var results []Item
	if err := t.searchRangeFrom(ctx, t.Root, min, max, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (t Tree) searchRangeFrom(ctx context.Context, addr btrfsvol.LogicalAddr, min, max btrfsprim.Key, results *[]Item) error {
	node, err := t.Source.ReadNode(ctx, addr)
	if err != nil {
		return fmt.Errorf("reading node at %v: %w", addr, err)
	}
	if node.Head.Level == 0 {
		for _, item := range node.BodyLeaf {
			if item.Key.Compare(min) >= 0 && item.Key.Compare(max) <= 0 {
				*results = append(*results, item)
			}
		}
		return nil
	}
	for i, ptr := range node.BodyInterior {
		if ptr.Key.Compare(max) > 0 {
			break
		}
		// A child subtree's upper bound is the next sibling's key
		// (minus one) or unbounded for the last child; skip subtrees
		// that can't possibly overlap [min,max] on the low end.
		if i+1 < len(node.BodyInterior) && node.BodyInterior[i+1].Key.Compare(min) < 0 {
			continue
		}
		if err := t.searchRangeFrom(ctx, ptr.BlockPtr, min, max, results); err != nil {
			dlog.Errorf(ctx, "tree: descending into %v: %v", ptr.BlockPtr, err)
			return err
		}
	}
	return nil
}

// Iter calls fn for every item in the tree, in key order, stopping (and
// returning fn's error) at the first error fn returns.
func (t Tree) Iter(ctx context.Context, fn func(Item) error) error {
	return t.iterFrom(ctx, t.Root, fn)
}

func (t Tree) iterFrom(ctx context.Context, addr btrfsvol.LogicalAddr, fn func(Item) error) error {
	node, err := t.Source.ReadNode(ctx, addr)
	if err != nil {
		return fmt.Errorf("reading node at %v: %w", addr, err)
	}
	if node.Head.Level == 0 {
		for _, item := range node.BodyLeaf {
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	}
	for _, ptr := range node.BodyInterior {
		if err := t.iterFrom(ctx, ptr.BlockPtr, fn); err != nil {
			return err
		}
	}
	return nil
}
