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

package mem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	iroh "github.com/pinkforest/iroh-bytes"
	"github.com/pinkforest/iroh-bytes/baotree"
	"github.com/pinkforest/iroh-bytes/internal/blockingpool"
	"github.com/pinkforest/iroh-bytes/internal/driver"
)

// wrapProgressErr translates the internal driver.ErrProgressClosed sentinel
// to the public iroh.ErrProgressClosed one, so a Store caller can match it
// with errors.Is without importing internal/driver itself.
func wrapProgressErr(err error) error {
	if errors.Is(err, driver.ErrProgressClosed) {
		return fmt.Errorf("mem: %w", iroh.ErrProgressClosed)
	}
	return err
}

// ingestResult is what every Import* path converges on once the full byte
// sequence is in hand: a complete, hashed entry ready to be registered and
// temp-tagged.
type ingestResult struct {
	hash iroh.Hash
	data *baotree.Storage
	size uint64
}

// hashAndEmit builds the full Merkle tree for data, emitting OutboardProgress
// once per internal parent node and a single OutboardDone at the end — the
// ordering contract every import path shares.
func hashAndEmit(id uint64, data []byte, sender iroh.ProgressSender) ingestResult {
	storage, hash := baotree.Complete(data, func(offset uint64) {
		_ = sender.TrySend(driver.ImportProgress{
			ID:               id,
			OutboardProgress: &driver.OutboardProgressEvent{Offset: offset},
		})
	})
	_ = sender.Send(driver.ImportProgress{
		ID:           id,
		OutboardDone: &driver.OutboardDoneEvent{Hash: hash},
	})
	return ingestResult{hash: hash, data: storage, size: uint64(len(data))}
}

// register installs a freshly ingested complete entry and returns a TempTag
// pinning it — the common tail of every Import* method. It always
// overwrites any prior entry for the hash, matching import_bytes_sync's
// unconditional insert: unlike InsertComplete, an Import* call has itself
// just re-derived and verified the bytes, so there is nothing to preserve
// from whatever was there before.
func (s *Store) register(r ingestResult, format iroh.BlobFormat) iroh.TempTag {
	hf := iroh.HashAndFormat{Hash: r.hash, Format: format}
	// TempTag must exist before the entry becomes visible to other
	// goroutines, so a concurrent GC pass can never observe the entry
	// unpinned.
	tag := newTempTag(hf, s)

	unlock := s.writeLock()
	s.state.entries[r.hash] = newCompleteEntry(r.hash, r.data)
	unlock()

	klog.V(2).Infof("imported %s (%d bytes, format %s)", iroh.HashString(r.hash), r.size, format)
	return tag
}

// ImportBytes ingests data already held in memory.
func (s *Store) ImportBytes(ctx context.Context, data []byte, format iroh.BlobFormat) (iroh.TempTag, error) {
	sender := iroh.IgnoreProgressSender()
	id := sender.NewID()
	r := hashAndEmit(id, data, sender)
	return s.register(r, format), nil
}

// ImportFile ingests the file at path. The memory store has nowhere to
// reference the original file from, so every ImportMode behaves as
// ImportModeCopy: the file's bytes are read fully into memory before
// hashing.
func (s *Store) ImportFile(ctx context.Context, path string, _ iroh.ImportMode, format iroh.BlobFormat, progress iroh.ProgressSender) (iroh.TempTag, uint64, error) {
	id := progress.NewID()
	if err := progress.BlockingSend(driver.ImportProgress{
		ID:    id,
		Found: &driver.FoundEvent{Name: filepath.Base(path)},
	}); err != nil {
		return nil, 0, wrapProgressErr(err)
	}

	type readOut struct {
		data []byte
		err  error
	}
	res, err := blockingpool.Submit(s.pool, func() (readOut, error) {
		f, err := os.Open(path)
		if err != nil {
			return readOut{}, err
		}
		defer f.Close()

		var buf bytes.Buffer
		chunk := make([]byte, 64*1024)
		var offset uint64
		for {
			if err := ctx.Err(); err != nil {
				return readOut{}, err
			}
			n, rerr := f.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
				offset += uint64(n)
				// CopyProgress is best-effort: a dropped event never aborts
				// the import, matching hashAndEmit's OutboardProgress below.
				_ = progress.TrySend(driver.ImportProgress{
					ID:           id,
					CopyProgress: &driver.CopyProgressEvent{Offset: offset},
				})
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					break
				}
				return readOut{}, rerr
			}
			if n == 0 {
				break
			}
		}
		return readOut{data: buf.Bytes()}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	if res.err != nil {
		return nil, 0, res.err
	}
	data := res.data

	if err := progress.Send(driver.ImportProgress{
		ID:   id,
		Size: &driver.SizeEvent{Size: uint64(len(data))},
	}); err != nil {
		return nil, 0, wrapProgressErr(err)
	}

	r := hashAndEmit(id, data, progress)
	return s.register(r, format), r.size, nil
}

// ImportStream ingests bytes arriving on a channel, such as those received
// over a network connection.
func (s *Store) ImportStream(ctx context.Context, data <-chan iroh.StreamChunk, format iroh.BlobFormat, progress iroh.ProgressSender) (iroh.TempTag, uint64, error) {
	id := progress.NewID()
	// A stream has no filesystem name of its own; generate one the same
	// way the store names anything else it has to label without an
	// caller-provided hint.
	name := "stream-" + uuid.NewString()
	if err := progress.BlockingSend(driver.ImportProgress{
		ID:    id,
		Found: &driver.FoundEvent{Name: name},
	}); err != nil {
		return nil, 0, wrapProgressErr(err)
	}

	var buf bytes.Buffer
	var offset uint64
loop:
	for {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case chunk, ok := <-data:
			if !ok {
				break loop
			}
			if chunk.Err != nil {
				return nil, 0, chunk.Err
			}
			buf.Write(chunk.Data)
			offset += uint64(len(chunk.Data))
			// Best-effort, same as ImportFile's copy loop: a dropped event
			// never aborts the import.
			_ = progress.TrySend(driver.ImportProgress{
				ID:           id,
				CopyProgress: &driver.CopyProgressEvent{Offset: offset},
			})
		}
	}

	out := buf.Bytes()
	if err := progress.Send(driver.ImportProgress{
		ID:   id,
		Size: &driver.SizeEvent{Size: uint64(len(out))},
	}); err != nil {
		return nil, 0, wrapProgressErr(err)
	}

	r := hashAndEmit(id, out, progress)
	return s.register(r, format), r.size, nil
}
