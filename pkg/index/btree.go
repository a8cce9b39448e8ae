package index

import (
	"fmt"
	"strings"
	"sync"
)

// BTree is a B+ tree keyed by K. Keys are unique under the comparator;
// leaves are chained for in-order range scans.
type BTree[K any, V any] struct {
	root         *BTreeNode[K, V]
	order        int // Maximum number of keys per node
	cmp          func(a, b K) int
	mu           sync.RWMutex
	size         int
	height       int
	lastSplitKey K // Temporarily stores the separator/promoted key from a split
}

// BTreeNode represents a node in the B+ tree
type BTreeNode[K any, V any] struct {
	isLeaf   bool
	keys     []K
	values   []V                // Only used in leaf nodes
	children []*BTreeNode[K, V] // Only used in internal nodes
	next     *BTreeNode[K, V]   // Only used in leaf nodes (linked list)
	parent   *BTreeNode[K, V]
}

// NewBTree creates a new B+ tree with the given order and key comparator
func NewBTree[K any, V any](order int, cmp func(a, b K) int) *BTree[K, V] {
	if order < 3 {
		order = 3 // Minimum order
	}

	return &BTree[K, V]{
		root:   &BTreeNode[K, V]{isLeaf: true},
		order:  order,
		cmp:    cmp,
		height: 1,
	}
}

// Insert inserts a key-value pair into the B+ tree
func (bt *BTree[K, V]) Insert(key K, value V) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if _, exists := bt.searchNode(bt.root, key); exists {
		return ErrDuplicateKey
	}

	newRoot := bt.insertIntoNode(bt.root, key, value)
	if newRoot != nil {
		bt.root = newRoot
		bt.height++
	}

	bt.size++
	return nil
}

// insertIntoNode inserts a key-value pair into a node, returns new root if split
func (bt *BTree[K, V]) insertIntoNode(node *BTreeNode[K, V], key K, value V) *BTreeNode[K, V] {
	if node.isLeaf {
		return bt.insertIntoLeaf(node, key, value)
	}
	return bt.insertIntoInternal(node, key, value)
}

func (bt *BTree[K, V]) insertIntoLeaf(leaf *BTreeNode[K, V], key K, value V) *BTreeNode[K, V] {
	pos := bt.findPosition(leaf.keys, key)

	leaf.keys = insertAt(leaf.keys, pos, key)
	leaf.values = insertAt(leaf.values, pos, value)

	if len(leaf.keys) >= bt.order {
		return bt.splitLeaf(leaf)
	}
	return nil
}

func (bt *BTree[K, V]) insertIntoInternal(node *BTreeNode[K, V], key K, value V) *BTreeNode[K, V] {
	pos := bt.findPosition(node.keys, key)
	newChild := bt.insertIntoNode(node.children[pos], key, value)
	if newChild == nil {
		return nil
	}

	// Split occurred, use the stored split key
	splitKey := bt.lastSplitKey
	pos = bt.findPosition(node.keys, splitKey)

	node.keys = insertAt(node.keys, pos, splitKey)
	node.children = insertAt(node.children, pos+1, newChild)

	if len(node.keys) >= bt.order {
		return bt.splitInternal(node)
	}
	return nil
}

// splitLeaf splits a leaf node. It returns the new root when leaf was the
// root, otherwise the new right sibling with its separator in lastSplitKey.
func (bt *BTree[K, V]) splitLeaf(leaf *BTreeNode[K, V]) *BTreeNode[K, V] {
	mid := len(leaf.keys) / 2

	newLeaf := &BTreeNode[K, V]{
		isLeaf: true,
		keys:   append([]K{}, leaf.keys[mid:]...),
		values: append([]V{}, leaf.values[mid:]...),
		next:   leaf.next,
		parent: leaf.parent,
	}

	// Separator key is the first key of the right half
	separatorKey := newLeaf.keys[0]

	leaf.keys = leaf.keys[:mid:mid]
	leaf.values = leaf.values[:mid:mid]
	leaf.next = newLeaf

	if leaf.parent == nil {
		newRoot := &BTreeNode[K, V]{
			keys:     []K{separatorKey},
			children: []*BTreeNode[K, V]{leaf, newLeaf},
		}
		leaf.parent = newRoot
		newLeaf.parent = newRoot
		return newRoot
	}

	bt.lastSplitKey = separatorKey
	return newLeaf
}

// splitInternal splits an internal node; the middle key moves up.
func (bt *BTree[K, V]) splitInternal(node *BTreeNode[K, V]) *BTreeNode[K, V] {
	mid := len(node.keys) / 2
	promoteKey := node.keys[mid]

	newNode := &BTreeNode[K, V]{
		keys:     append([]K{}, node.keys[mid+1:]...),
		children: append([]*BTreeNode[K, V]{}, node.children[mid+1:]...),
		parent:   node.parent,
	}
	for _, child := range newNode.children {
		child.parent = newNode
	}

	node.keys = node.keys[:mid:mid]
	node.children = node.children[: mid+1 : mid+1]

	if node.parent == nil {
		newRoot := &BTreeNode[K, V]{
			keys:     []K{promoteKey},
			children: []*BTreeNode[K, V]{node, newNode},
		}
		node.parent = newRoot
		newNode.parent = newRoot
		return newRoot
	}

	bt.lastSplitKey = promoteKey
	return newNode
}

// Search finds a value by key
func (bt *BTree[K, V]) Search(key K) (V, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	return bt.searchNode(bt.root, key)
}

func (bt *BTree[K, V]) searchNode(node *BTreeNode[K, V], key K) (V, bool) {
	leaf := bt.findLeaf(node, key)
	for i, k := range leaf.keys {
		c := bt.cmp(key, k)
		if c == 0 {
			return leaf.values[i], true
		}
		if c < 0 {
			break
		}
	}
	var zero V
	return zero, false
}

// Delete removes a key from the tree.
//
// Underfull nodes are not rebalanced; empty leaves stay linked and are
// skipped by scans.
func (bt *BTree[K, V]) Delete(key K) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	leaf := bt.findLeaf(bt.root, key)
	for i, k := range leaf.keys {
		if bt.cmp(key, k) == 0 {
			leaf.keys = append(leaf.keys[:i], leaf.keys[i+1:]...)
			leaf.values = append(leaf.values[:i], leaf.values[i+1:]...)
			bt.size--
			return nil
		}
	}
	return ErrKeyNotFound
}

// Ascend calls fn for every entry with key >= start in ascending key order,
// or for every entry when start is nil. Iteration stops when fn returns
// false.
func (bt *BTree[K, V]) Ascend(start *K, fn func(key K, value V) bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var leaf *BTreeNode[K, V]
	if start == nil {
		leaf = bt.root
		for !leaf.isLeaf {
			leaf = leaf.children[0]
		}
	} else {
		leaf = bt.findLeaf(bt.root, *start)
	}

	for ; leaf != nil; leaf = leaf.next {
		for i, k := range leaf.keys {
			if start != nil && bt.cmp(k, *start) < 0 {
				continue
			}
			if !fn(k, leaf.values[i]) {
				return
			}
		}
	}
}

// RangeScan returns all key-value pairs in the range [start, end]. A nil
// bound is open.
func (bt *BTree[K, V]) RangeScan(start, end *K) ([]K, []V) {
	var keys []K
	var values []V
	bt.Ascend(start, func(k K, v V) bool {
		if end != nil && bt.cmp(k, *end) > 0 {
			return false
		}
		keys = append(keys, k)
		values = append(values, v)
		return true
	})
	return keys, values
}

// Clear removes every entry.
func (bt *BTree[K, V]) Clear() {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.root = &BTreeNode[K, V]{isLeaf: true}
	bt.size = 0
	bt.height = 1
}

// findLeaf finds the leaf node that should contain the key
func (bt *BTree[K, V]) findLeaf(node *BTreeNode[K, V], key K) *BTreeNode[K, V] {
	for !node.isLeaf {
		node = node.children[bt.findPosition(node.keys, key)]
	}
	return node
}

// findPosition returns the index of the first key greater than key.
func (bt *BTree[K, V]) findPosition(keys []K, key K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bt.cmp(key, keys[mid]) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Size returns the number of keys in the tree
func (bt *BTree[K, V]) Size() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.size
}

// Height returns the height of the tree
func (bt *BTree[K, V]) Height() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.height
}

// String renders the tree structure for debugging
func (bt *BTree[K, V]) String() string {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var b strings.Builder
	bt.writeNode(&b, bt.root, 0)
	return b.String()
}

func (bt *BTree[K, V]) writeNode(b *strings.Builder, node *BTreeNode[K, V], level int) {
	indent := strings.Repeat("  ", level)
	if node.isLeaf {
		fmt.Fprintf(b, "%sLeaf: %v\n", indent, node.keys)
		return
	}
	fmt.Fprintf(b, "%sInternal: %v\n", indent, node.keys)
	for _, child := range node.children {
		bt.writeNode(b, child, level+1)
	}
}

func insertAt[T any](s []T, pos int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
