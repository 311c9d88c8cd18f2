// Package baotree implements a BLAKE3-backed, fixed-block-size Merkle tree
// ("bao tree") over a byte blob: the leaf/parent hashing scheme used to
// authenticate streamed chunk batches, plus a growable, verified in-memory
// blob storage built on top of it.
//
// The hashing construction follows the same idea as go-ethereum's swarm
// bmt package: a binary Merkle tree over fixed-size segments, built on top
// of any base hash function, with domain-separated leaf/parent tags so a
// parent node can never be mistaken for a leaf of the same bytes. The base
// hash function here is BLAKE3 (lukechampine.com/blake3), matching the
// spec's "cryptographic tree hash ... BLAKE3-family" requirement.
package baotree

import (
	"github.com/pinkforest/iroh-bytes/api/layout"
	"lukechampine.com/blake3"
)

// Hash is a 32-byte BLAKE3-derived digest: either a leaf hash or a parent
// hash, depending on how it was produced.
type Hash [32]byte

const (
	leafTag   byte = 0x00
	parentTag byte = 0x01
)

// LeafHash hashes one leaf chunk's bytes.
func LeafHash(data []byte) Hash {
	h := blake3.New(32, nil)
	h.Write([]byte{leafTag})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ParentHash hashes a pair of child hashes (leaf or parent) into their
// parent node's hash.
func ParentHash(left, right Hash) Hash {
	h := blake3.New(32, nil)
	h.Write([]byte{parentTag})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashBytes computes the full tree hash (root) of a complete byte slice in
// one pass, without retaining the intermediate outboard.
func HashBytes(data []byte) Hash {
	numChunks := layout.NumChunks(uint64(len(data)))
	var walk func(r layout.Range) Hash
	walk = func(r layout.Range) Hash {
		if r.IsLeaf() {
			start, end := layout.ChunkByteRange(r.Start, uint64(len(data)))
			return LeafHash(data[start:end])
		}
		l, rr := r.Split()
		return ParentHash(walk(l), walk(rr))
	}
	return walk(layout.Root(numChunks))
}
