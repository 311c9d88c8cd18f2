// Copyright 2024 The Tessera authors. All Rights Reserved.
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

package layout

import "testing"

func TestNumChunks(t *testing.T) {
	for _, test := range []struct {
		size uint64
		want uint64
	}{
		{0, 1},
		{1, 1},
		{BlockSize - 1, 1},
		{BlockSize, 1},
		{BlockSize + 1, 2},
		{4 * BlockSize, 4},
		{4*BlockSize + 17, 5},
	} {
		if got := NumChunks(test.size); got != test.want {
			t.Errorf("NumChunks(%d) = %d, want %d", test.size, got, test.want)
		}
	}
}

func TestChunkByteRange(t *testing.T) {
	size := uint64(4*BlockSize + 17)
	for _, test := range []struct {
		i              uint64
		wantStart, end uint64
	}{
		{0, 0, BlockSize},
		{1, BlockSize, 2 * BlockSize},
		{4, 4 * BlockSize, size},
	} {
		start, end := ChunkByteRange(test.i, size)
		if start != test.wantStart || end != test.end {
			t.Errorf("ChunkByteRange(%d, %d) = (%d, %d), want (%d, %d)", test.i, size, start, end, test.wantStart, test.end)
		}
	}
}

func TestPrevPowerOfTwo(t *testing.T) {
	for _, test := range []struct {
		n    uint64
		want uint64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 4},
		{8, 4},
		{9, 8},
	} {
		if got := PrevPowerOfTwo(test.n); got != test.want {
			t.Errorf("PrevPowerOfTwo(%d) = %d, want %d", test.n, got, test.want)
		}
	}
}

func TestSplitCoversAllLeaves(t *testing.T) {
	for _, numChunks := range []uint64{2, 3, 4, 5, 7, 8, 17, 100} {
		var walk func(r Range) []uint64
		walk = func(r Range) []uint64 {
			if r.IsLeaf() {
				return []uint64{r.Start}
			}
			l, rr := r.Split()
			out := walk(l)
			out = append(out, walk(rr)...)
			return out
		}
		got := walk(Root(numChunks))
		if uint64(len(got)) != numChunks {
			t.Fatalf("numChunks=%d: walk produced %d leaves, want %d", numChunks, len(got), numChunks)
		}
		for i, v := range got {
			if v != uint64(i) {
				t.Fatalf("numChunks=%d: leaf order broken at %d: got %d", numChunks, i, v)
			}
		}
	}
}
