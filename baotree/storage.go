// Copyright 2024 The Tessera authors. All Rights Reserved.
// Copyright 2024 n0 computer (iroh-bytes). Adapted for this module.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package baotree

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pinkforest/iroh-bytes/api/layout"
)

// parallelLeafThreshold is the subtree size, in leaf chunks, above which
// Complete hashes the left and right halves concurrently instead of
// sequentially. Below it the goroutine dispatch overhead outweighs the
// saving.
const parallelLeafThreshold = 32

// ErrVerification is returned by Storage.WriteBatch when a batch does not
// hash consistently with the tree established by earlier batches.
var ErrVerification = errors.New("baotree: verification failed")

// Leaf is a verified leaf chunk's content, to be written at a declared byte
// offset.
type Leaf struct {
	Offset uint64
	Data   []byte
}

// Parent is one parent node's pair of child hashes, identified by the
// chunk-index range it covers.
type Parent struct {
	Range layout.Range
	Left  Hash
	Right Hash
}

// BatchItem is either a Parent or a Leaf, consumed in pre-order (parents of
// a subtree before its children, left child before right) by WriteBatch.
type BatchItem struct {
	Parent *Parent
	Leaf   *Leaf
}

// Storage is a growable byte buffer plus growable outboard (auxiliary
// Merkle data), guarded by a single RWMutex: MutableMemStorage from the
// spec. Readers of an already-verified prefix never block other readers;
// any write excludes all others, following the single reader-writer lock
// design used throughout the teacher's storage layer.
type Storage struct {
	mu sync.RWMutex

	data    []byte
	sized   bool   // true once the first WriteBatch has established totalSize
	total   uint64 // established total size, meaningful only once sized

	// verified records, for every node Range whose hash has been proven
	// consistent with an ancestor (ultimately the root established by the
	// first WriteBatch call), that Range's hash. Leaf ranges additionally
	// imply their bytes have been written into data.
	verified map[layout.Range]Hash

	// outboard is the flat, growable byte buffer exposed by
	// ReadOutboardAt/OutboardLen: each time a new parent node is verified
	// its 64-byte (left||right) pair is appended, in the order the nodes
	// became known.
	outboard []byte

	complete bool
}

// NewStorage returns an empty, partial Storage with no established size.
func NewStorage() *Storage {
	return &Storage{verified: map[layout.Range]Hash{}}
}

// Complete builds a Storage containing the full content of data in one
// pass, computing the whole outboard eagerly, and returns it together with
// the resulting root hash. The returned Storage is already complete.
//
// An optional onParent callback is invoked once per internal parent node as
// it is hashed, with the byte offset into data its subtree covers, for
// callers that want to surface hashing progress on large blobs.
func Complete(data []byte, onParent ...func(offset uint64)) (*Storage, Hash) {
	var notify func(offset uint64)
	if len(onParent) > 0 && onParent[0] != nil {
		notify = onParent[0]
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s := &Storage{
		data:     buf,
		sized:    true,
		total:    uint64(len(data)),
		verified: map[layout.Range]Hash{},
		complete: true,
	}
	var mu sync.Mutex
	record := func(r layout.Range, h Hash) {
		mu.Lock()
		s.verified[r] = h
		mu.Unlock()
	}

	numChunks := layout.NumChunks(uint64(len(data)))
	var walk func(r layout.Range) (Hash, error)
	walk = func(r layout.Range) (Hash, error) {
		if r.IsLeaf() {
			start, end := layout.ChunkByteRange(r.Start, uint64(len(data)))
			h := LeafHash(buf[start:end])
			record(r, h)
			return h, nil
		}
		l, rr := r.Split()

		var lh, rh Hash
		if r.Leaves() > parallelLeafThreshold {
			// Large subtrees hash their two halves concurrently: each
			// half is an independent, disjoint byte range, so there is
			// no data race beyond the shared verified map, which record
			// guards.
			g := new(errgroup.Group)
			g.Go(func() error {
				var err error
				lh, err = walk(l)
				return err
			})
			g.Go(func() error {
				var err error
				rh, err = walk(rr)
				return err
			})
			if err := g.Wait(); err != nil {
				return Hash{}, err
			}
		} else {
			var err error
			if lh, err = walk(l); err != nil {
				return Hash{}, err
			}
			if rh, err = walk(rr); err != nil {
				return Hash{}, err
			}
		}

		h := ParentHash(lh, rh)
		record(r, h)
		mu.Lock()
		s.appendOutboard(lh, rh)
		mu.Unlock()
		if notify != nil {
			start, _ := layout.ChunkByteRange(r.Start, uint64(len(data)))
			notify(start)
		}
		return h, nil
	}
	root, _ := walk(layout.Root(numChunks))
	return s, root
}

func (s *Storage) appendOutboard(left, right Hash) {
	s.outboard = append(s.outboard, left[:]...)
	s.outboard = append(s.outboard, right[:]...)
}

// WriteBatch verifies and applies an authenticated batch of parent nodes
// and leaf chunks against the tree established by size (and by any prior
// successful call). size must be consistent across calls. On verification
// failure the storage is left completely unchanged and ErrVerification is
// returned; on success, data bytes are written at their declared offsets
// (growing the buffer and zero-filling any gap) and the outboard is
// extended with any newly-verified parent nodes.
func (s *Storage) WriteBatch(size uint64, items []BatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sized && size != s.total {
		return fmt.Errorf("baotree: %w: total size %d does not match established size %d", ErrVerification, size, s.total)
	}

	// Work on copies so a verification failure never mutates state.
	verified := make(map[layout.Range]Hash, len(s.verified))
	for k, v := range s.verified {
		verified[k] = v
	}
	var newOutboard []byte
	var writes []Leaf

	idx := 0
	numChunks := layout.NumChunks(size)

	var walk func(r layout.Range) (Hash, error)
	walk = func(r layout.Range) (Hash, error) {
		if h, ok := verified[r]; ok {
			return h, nil
		}
		if r.IsLeaf() {
			if idx >= len(items) || items[idx].Leaf == nil {
				return Hash{}, fmt.Errorf("baotree: %w: expected leaf for range %v", ErrVerification, r)
			}
			leaf := items[idx].Leaf
			idx++
			h := LeafHash(leaf.Data)
			verified[r] = h
			writes = append(writes, *leaf)
			return h, nil
		}
		if idx >= len(items) || items[idx].Parent == nil {
			return Hash{}, fmt.Errorf("baotree: %w: expected parent for range %v", ErrVerification, r)
		}
		p := items[idx].Parent
		if p.Range != r {
			return Hash{}, fmt.Errorf("baotree: %w: parent item range %v does not match expected %v", ErrVerification, p.Range, r)
		}
		idx++
		h := ParentHash(p.Left, p.Right)
		verified[r] = h
		newOutboard = append(newOutboard, p.Left[:]...)
		newOutboard = append(newOutboard, p.Right[:]...)

		left, right := r.Split()
		gotLeft, err := walk(left)
		if err != nil {
			return Hash{}, err
		}
		if gotLeft != p.Left {
			return Hash{}, fmt.Errorf("baotree: %w: left child hash mismatch at range %v", ErrVerification, left)
		}
		gotRight, err := walk(right)
		if err != nil {
			return Hash{}, err
		}
		if gotRight != p.Right {
			return Hash{}, fmt.Errorf("baotree: %w: right child hash mismatch at range %v", ErrVerification, right)
		}
		return h, nil
	}

	if _, err := walk(layout.Root(numChunks)); err != nil {
		return err
	}

	// All verified: commit.
	s.sized = true
	s.total = size
	s.verified = verified
	s.outboard = append(s.outboard, newOutboard...)
	for _, w := range writes {
		s.writeAt(w.Offset, w.Data)
	}
	return nil
}

// writeAt grows the data buffer as needed, zero-filling any gap, then
// copies b in at offset. Caller must hold s.mu.
func (s *Storage) writeAt(offset uint64, b []byte) {
	end := offset + uint64(len(b))
	if uint64(len(s.data)) < end {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[offset:end], b)
}

// CurrentSize returns the number of bytes accepted and verified so far, as
// a contiguous prefix starting at offset 0.
func (s *Storage) CurrentSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSizeLocked()
}

func (s *Storage) currentSizeLocked() uint64 {
	if s.complete {
		return s.total
	}
	if !s.sized {
		return 0
	}
	numChunks := layout.NumChunks(s.total)
	var size uint64
	for i := uint64(0); i < numChunks; i++ {
		if _, ok := s.verified[layout.Range{Start: i, End: i + 1}]; !ok {
			break
		}
		_, end := layout.ChunkByteRange(i, s.total)
		size = end
	}
	return size
}

// DataLen returns the length of the underlying data buffer (which may
// include bytes written out of order beyond the verified contiguous
// prefix).
func (s *Storage) DataLen() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data))
}

// OutboardLen returns the length of the outboard byte buffer.
func (s *Storage) OutboardLen() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.outboard))
}

// ReadDataAt returns bytes in [off, min(off+len, CurrentSize())); it may
// return fewer than len bytes, and never returns unverified bytes.
func (s *Storage) ReadDataAt(off uint64, length int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size := s.currentSizeLocked()
	if off >= size {
		return nil
	}
	end := off + uint64(length)
	if end > size {
		end = size
	}
	out := make([]byte, end-off)
	copy(out, s.data[off:end])
	return out
}

// ReadOutboardAt returns bytes in [off, min(off+len, OutboardLen())).
func (s *Storage) ReadOutboardAt(off uint64, length int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := uint64(len(s.outboard))
	if off >= n {
		return nil
	}
	end := off + uint64(length)
	if end > n {
		end = n
	}
	out := make([]byte, end-off)
	copy(out, s.outboard[off:end])
	return out
}

// IsComplete reports whether this storage was constructed via Complete
// (i.e. holds the entirety of a known blob).
func (s *Storage) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete
}

// FullBatch returns the complete pre-order batch of parent and leaf items
// needed to verify this storage's content from scratch against an empty
// destination, the shape WriteBatch expects. It is meant for tests and for
// peers seeding an entirely new replica; callers streaming over a network
// normally send a much smaller authentication path instead.
func (s *Storage) FullBatch() []BatchItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []BatchItem
	numChunks := layout.NumChunks(s.total)
	var walk func(r layout.Range)
	walk = func(r layout.Range) {
		if r.IsLeaf() {
			start, end := layout.ChunkByteRange(r.Start, s.total)
			items = append(items, BatchItem{Leaf: &Leaf{Offset: start, Data: s.data[start:end]}})
			return
		}
		left, right := r.Split()
		items = append(items, BatchItem{Parent: &Parent{
			Range: r,
			Left:  s.verified[left],
			Right: s.verified[right],
		}})
		walk(left)
		walk(right)
	}
	walk(layout.Root(numChunks))
	return items
}
