package block

import (
	"github.com/google/btree"
)

// Block is a contiguous byte range inside the backing buffer of an Allocator
type Block struct {
	Offset uint64
	Size   uint64
}

// End is the offset one past the last byte of the block
func (b Block) End() uint64 {
	return b.Offset + b.Size
}

func lessByOffset(a, b Block) bool {
	return a.Offset < b.Offset
}

// blockSet is an offset-ordered set of non-overlapping blocks
type blockSet struct {
	tree *btree.BTreeG[Block]
}

func newBlockSet() blockSet {
	return blockSet{tree: btree.NewG[Block](8, lessByOffset)}
}

func (s blockSet) Insert(block Block) {
	s.tree.ReplaceOrInsert(block)
}

func (s blockSet) Delete(block Block) {
	s.tree.Delete(block)
}

// At returns the block starting at offset
func (s blockSet) At(offset uint64) (Block, bool) {
	return s.tree.Get(Block{Offset: offset})
}

// Contains reports whether exactly this block, offset and size, is in the set
func (s blockSet) Contains(block Block) bool {
	found, ok := s.tree.Get(block)
	return ok && found.Size == block.Size
}

// Before returns the block with the greatest offset strictly less than offset
func (s blockSet) Before(offset uint64) (Block, bool) {
	var result Block
	var found bool
	if offset == 0 {
		return result, false
	}

	s.tree.DescendLessOrEqual(Block{Offset: offset - 1}, func(item Block) bool {
		result = item
		found = true
		return false
	})
	return result, found
}

// FirstFit returns the lowest-offset block of at least size bytes
func (s blockSet) FirstFit(size uint64) (Block, bool) {
	var result Block
	var found bool

	s.tree.Ascend(func(item Block) bool {
		if item.Size >= size {
			result = item
			found = true
			return false
		}
		return true
	})
	return result, found
}

func (s blockSet) Last() (Block, bool) {
	return s.tree.Max()
}

func (s blockSet) Len() int {
	return s.tree.Len()
}

func (s blockSet) Each(fn func(block Block)) {
	s.tree.Ascend(func(item Block) bool {
		fn(item)
		return true
	})
}

func (s blockSet) Slice() []Block {
	blocks := make([]Block, 0, s.tree.Len())
	s.Each(func(block Block) {
		blocks = append(blocks, block)
	})
	return blocks
}
