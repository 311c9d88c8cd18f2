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

package mem

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pinkforest/iroh-bytes/api/layout"
	"github.com/pinkforest/iroh-bytes/baotree"
	iroh "github.com/pinkforest/iroh-bytes"
)

// entry is one blob's state: hash, shared storage, complete/partial flag.
// Clone is shallow: every copy of an entry value shares the same *baotree
// storage pointer, exactly like the Rust Entry's Arc<EntryInner> — reads
// through any clone observe writes made through any other.
type entry struct {
	hash     iroh.Hash
	data     *baotree.Storage
	complete atomic.Bool
}

func newPartialEntry(hash iroh.Hash) *entry {
	e := &entry{hash: hash, data: baotree.NewStorage()}
	return e
}

func newCompleteEntry(hash iroh.Hash, data *baotree.Storage) *entry {
	e := &entry{hash: hash, data: data}
	e.complete.Store(true)
	return e
}

// clone returns a shallow copy sharing the same underlying storage.
func (e *entry) clone() *entry {
	c := &entry{hash: e.hash, data: e.data}
	c.complete.Store(e.complete.Load())
	return c
}

func (e *entry) Hash() iroh.Hash { return e.hash }

func (e *entry) Size() iroh.BaoBlobSize {
	return iroh.BaoBlobSize{Size: e.data.CurrentSize(), Complete: e.complete.Load()}
}

func (e *entry) IsComplete() bool { return e.complete.Load() }

// AvailableRanges reports, for a complete entry, every chunk index; for a
// partial entry, the minimal usable policy described in the spec: the
// verified-contiguous prefix converted to chunk indices.
func (e *entry) AvailableRanges(_ context.Context) ([]uint64, error) {
	size := e.data.CurrentSize()
	var n uint64
	if size > 0 {
		n = layout.NumChunks(size)
	}
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, i)
	}
	return out, nil
}

func (e *entry) DataReaderAt(_ context.Context, off uint64, length int) ([]byte, error) {
	return e.data.ReadDataAt(off, length), nil
}

func (e *entry) OutboardReaderAt(_ context.Context, off uint64, length int) ([]byte, error) {
	return e.data.ReadOutboardAt(off, length), nil
}

func (e *entry) WriteBatch(_ context.Context, size uint64, items []baotree.BatchItem) error {
	if err := e.data.WriteBatch(size, items); err != nil {
		if errors.Is(err, baotree.ErrVerification) {
			return fmt.Errorf("mem: write batch: %w: %w", iroh.ErrVerification, err)
		}
		return err
	}
	return nil
}
