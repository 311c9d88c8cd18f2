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

// Package mem is a fully-featured in-memory implementation of the
// Map/MapMut/ReadableStore/Store capability set, including support for
// partial blobs. It plays the role the teacher's storage/posix package
// plays for a transparency log: one concrete storage backend behind a
// single coarse RWMutex, with klog logging and a windowed filesystem
// export path — adapted here from an append-only log onto a
// content-addressed, Merkle-verified blob store.
package mem

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"

	iroh "github.com/pinkforest/iroh-bytes"
	"github.com/pinkforest/iroh-bytes/internal/blockingpool"
)

// stateInner aggregates everything the store needs a single lock over:
// entries, tags, temp-tag counts and the ephemeral live set.
type stateInner struct {
	entries map[iroh.Hash]*entry
	tags    map[iroh.Tag]iroh.HashAndFormat
	temp    *tempCounterMap
	live    map[iroh.Hash]struct{}
}

func newStateInner() *stateInner {
	return &stateInner{
		entries: map[iroh.Hash]*entry{},
		tags:    map[iroh.Tag]iroh.HashAndFormat{},
		temp:    newTempCounterMap(),
		live:    map[iroh.Hash]struct{}{},
	}
}

// Store is a fully-featured in-memory blob store.
type Store struct {
	mu    sync.RWMutex
	state *stateInner

	pool *blockingpool.Pool

	// readCache is a small L1 cache of recently read data byte ranges,
	// keyed by "<hash>:<offset>:<length>". Modeled on the
	// hashicorp/golang-lru-backed BLAKE3Store pattern: a bounded
	// in-process cache in front of a content-addressed store, to avoid
	// repeatedly taking an entry's storage lock and copying out the same
	// hot range for many concurrent readers (e.g. many peers fetching the
	// same popular blob).
	readCache *lru.Cache[string, []byte]
}

// Option configures a new Store, following the functional-options shape
// the teacher uses for its own storage configuration
// (storage/internal.ResolveStorageOptions).
type Option func(*options)

type options struct {
	readCacheSize int
}

// WithReadCacheSize overrides the number of byte-range reads cached in the
// L1 read cache. The default is 1024; 0 disables the cache entirely.
func WithReadCacheSize(n int) Option {
	return func(o *options) { o.readCacheSize = n }
}

func resolveOptions(opts ...Option) options {
	o := options{readCacheSize: 1024}
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// New creates a new, empty in-memory store.
func New(opts ...Option) *Store {
	o := resolveOptions(opts...)
	s := &Store{
		state: newStateInner(),
		pool:  blockingpool.New(),
	}
	if o.readCacheSize > 0 {
		c, err := lru.New[string, []byte](o.readCacheSize)
		if err != nil {
			// Only returns an error for a non-positive size, which the
			// readCacheSize > 0 check above already rules out.
			panic(fmt.Sprintf("mem: building read cache: %v", err))
		}
		s.readCache = c
	}
	return s
}

func (s *Store) writeLock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) readLock() func() {
	s.mu.RLock()
	return s.mu.RUnlock
}

// OnClone implements driver.LivenessTracker: a TempTag referencing hash/fmt
// has just been constructed or cloned.
func (s *Store) OnClone(hash [32]byte, format uint8) {
	unlock := s.writeLock()
	defer unlock()
	hf := iroh.HashAndFormat{Hash: hash, Format: iroh.BlobFormat(format)}
	s.state.temp.inc(hf)
	klog.V(2).Infof("temp tagging %x (format %d)", hash, format)
}

// OnDrop implements driver.LivenessTracker: a TempTag referencing hash/fmt
// has just been released.
func (s *Store) OnDrop(hash [32]byte, format uint8) {
	unlock := s.writeLock()
	defer unlock()
	hf := iroh.HashAndFormat{Hash: hash, Format: iroh.BlobFormat(format)}
	s.state.temp.dec(hf)
	klog.V(2).Infof("temp tag drop %x (format %d)", hash, format)
}

var _ iroh.Map = (*Store)(nil)
var _ iroh.MapMut = (*Store)(nil)
var _ iroh.ReadableStore = (*Store)(nil)
var _ iroh.Store = (*Store)(nil)

// Get returns a (shallow) clone of the entry for hash, if any.
func (s *Store) Get(hash iroh.Hash) (iroh.MapEntry, bool, error) {
	unlock := s.readLock()
	defer unlock()
	e, ok := s.state.entries[hash]
	if !ok {
		return nil, false, nil
	}
	return e.clone(), true, nil
}

// GetOrCreatePartial returns a fresh, unregistered partial entry bound to
// hash. It is never inserted into the store directly; InsertComplete is
// what merges a finished partial entry in.
func (s *Store) GetOrCreatePartial(hash iroh.Hash, _ uint64) (iroh.MapEntryMut, error) {
	return newPartialEntry(hash), nil
}

// EntryStatus reports whether hash names a complete, partial, or absent
// entry.
func (s *Store) EntryStatus(hash iroh.Hash) (iroh.EntryStatus, error) {
	unlock := s.readLock()
	defer unlock()
	e, ok := s.state.entries[hash]
	if !ok {
		return iroh.StatusNotFound, nil
	}
	if e.IsComplete() {
		return iroh.StatusComplete, nil
	}
	return iroh.StatusPartial, nil
}

// GetPossiblyPartial returns a clone of the entry for hash classified by
// its completeness, or StatusNotFound if absent.
func (s *Store) GetPossiblyPartial(hash iroh.Hash) (iroh.PossiblyPartialEntry, error) {
	unlock := s.readLock()
	defer unlock()
	e, ok := s.state.entries[hash]
	if !ok {
		return iroh.PossiblyPartialEntry{Status: iroh.StatusNotFound}, nil
	}
	c := e.clone()
	if c.IsComplete() {
		return iroh.PossiblyPartialEntry{Entry: c, Status: iroh.StatusComplete}, nil
	}
	return iroh.PossiblyPartialEntry{Entry: c, Status: iroh.StatusPartial}, nil
}

// InsertComplete marks entry complete and replaces the map value for its
// hash, but only if an entry for that hash already exists and is already
// complete — a deliberate, preserved policy: the memory store ingests
// complete blobs directly through Import*, and InsertComplete exists only
// for protocol symmetry with the filesystem-backed store (spec §9 Open
// Question). Any other case is a no-op.
func (s *Store) InsertComplete(e iroh.MapEntryMut) error {
	me, ok := e.(*entry)
	if !ok {
		return fmt.Errorf("mem: InsertComplete: foreign entry type %T", e)
	}
	unlock := s.writeLock()
	defer unlock()
	existing, ok := s.state.entries[me.hash]
	if !ok || !existing.IsComplete() {
		return nil
	}
	me.complete.Store(true)
	s.state.entries[me.hash] = me
	return nil
}

// SetTag sets or clears a persistent tag name.
func (s *Store) SetTag(name iroh.Tag, value *iroh.HashAndFormat) error {
	unlock := s.writeLock()
	defer unlock()
	if value != nil {
		s.state.tags[name] = *value
	} else {
		delete(s.state.tags, name)
	}
	return nil
}

// CreateTag assigns a fresh, auto-generated tag name to hash.
func (s *Store) CreateTag(hash iroh.HashAndFormat) (iroh.Tag, error) {
	unlock := s.writeLock()
	defer unlock()
	tag := autoTag(time.Now(), func(t iroh.Tag) bool {
		_, ok := s.state.tags[t]
		return ok
	})
	s.state.tags[tag] = hash
	return tag, nil
}

// TempTag constructs a new reference-counted pin on hash.
func (s *Store) TempTag(hash iroh.HashAndFormat) iroh.TempTag {
	return newTempTag(hash, s)
}

// ClearLive empties the ephemeral live set.
func (s *Store) ClearLive() {
	unlock := s.writeLock()
	defer unlock()
	s.state.live = map[iroh.Hash]struct{}{}
}

// AddLive adds hashes to the ephemeral live set.
func (s *Store) AddLive(hashes []iroh.Hash) {
	unlock := s.writeLock()
	defer unlock()
	for _, h := range hashes {
		s.state.live[h] = struct{}{}
	}
}

// IsLive reports whether hash is pinned against GC: present in the live
// set, or referenced by any temp-tagged HashAndFormat.
func (s *Store) IsLive(hash iroh.Hash) bool {
	unlock := s.readLock()
	defer unlock()
	if _, ok := s.state.live[hash]; ok {
		return true
	}
	return s.state.temp.contains(hash)
}

// Delete unconditionally removes hashes from entries. Callers — typically
// the GC — are responsible for ensuring none are live.
func (s *Store) Delete(hashes []iroh.Hash) error {
	unlock := s.writeLock()
	defer unlock()
	for _, h := range hashes {
		delete(s.state.entries, h)
	}
	return nil
}

// Blobs returns every complete entry's hash.
func (s *Store) Blobs() ([]iroh.Hash, error) {
	unlock := s.readLock()
	snapshot := make([]*entry, 0, len(s.state.entries))
	for _, e := range s.state.entries {
		snapshot = append(snapshot, e)
	}
	unlock()

	out := make([]iroh.Hash, 0, len(snapshot))
	for _, e := range snapshot {
		if e.IsComplete() {
			out = append(out, e.hash)
		}
	}
	return out, nil
}

// PartialBlobs returns every partial entry's hash.
func (s *Store) PartialBlobs() ([]iroh.Hash, error) {
	unlock := s.readLock()
	snapshot := make([]*entry, 0, len(s.state.entries))
	for _, e := range s.state.entries {
		snapshot = append(snapshot, e)
	}
	unlock()

	out := make([]iroh.Hash, 0, len(snapshot))
	for _, e := range snapshot {
		if !e.IsComplete() {
			out = append(out, e.hash)
		}
	}
	return out, nil
}

// Tags returns a snapshot of every tag -> HashAndFormat mapping.
func (s *Store) Tags() (map[iroh.Tag]iroh.HashAndFormat, error) {
	unlock := s.readLock()
	defer unlock()
	out := make(map[iroh.Tag]iroh.HashAndFormat, len(s.state.tags))
	for k, v := range s.state.tags {
		out[k] = v
	}
	return out, nil
}

// TempTags returns every currently temp-tagged HashAndFormat.
func (s *Store) TempTags() ([]iroh.HashAndFormat, error) {
	unlock := s.readLock()
	defer unlock()
	return s.state.temp.keys(), nil
}

// cachedRead reads a byte range from a complete entry through the store's
// L1 read cache, populating it on miss. Partial entries bypass the cache
// entirely since their verified prefix can grow between calls.
func (s *Store) cachedRead(ctx context.Context, e *entry, offset uint64, length int) ([]byte, error) {
	if s.readCache == nil || !e.IsComplete() {
		return e.DataReaderAt(ctx, offset, length)
	}
	key := fmt.Sprintf("%s:%d:%d", iroh.HashString(e.hash), offset, length)
	if v, ok := s.readCache.Get(key); ok {
		return v, nil
	}
	v, err := e.DataReaderAt(ctx, offset, length)
	if err != nil {
		return nil, err
	}
	s.readCache.Add(key, v)
	return v, nil
}
