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

// Package iroh holds the public types and capability interfaces of the
// content-addressed blob store: the identity of a blob (Hash, BlobFormat,
// HashAndFormat), its persistent name (Tag), the Map/MapMut/ReadableStore/
// Store capability interfaces a storage backend implements, and the error
// kinds and progress events the core surfaces. storage/mem provides the
// in-memory implementation of Store.
package iroh

import (
	"context"
	"encoding/hex"

	"github.com/pinkforest/iroh-bytes/api/layout"
	"github.com/pinkforest/iroh-bytes/baotree"
	"github.com/pinkforest/iroh-bytes/internal/driver"
)

// IROHBlockSize is the fixed block size of the tree-hash scheme: the number
// of content bytes covered by one leaf chunk.
const IROHBlockSize = layout.BlockSize

// Hash is a 32-byte content digest produced by the tree-hash scheme.
// Equality and ordering are byte-wise.
type Hash = baotree.Hash

// HashString returns the lower-case hex encoding of the hash.
func HashString(h Hash) string {
	return hex.EncodeToString(h[:])
}

// BlobFormat disambiguates how a blob's bytes are to be interpreted. It
// does not affect the hash.
type BlobFormat uint8

const (
	// FormatRaw is an opaque byte sequence.
	FormatRaw BlobFormat = iota
	// FormatHashSeq is a sequence of Hash values, each naming another blob.
	FormatHashSeq
)

func (f BlobFormat) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatHashSeq:
		return "hashseq"
	default:
		return "unknown"
	}
}

// HashAndFormat is the primary key for temp-tags and named tags: the
// identity of a logical blob.
type HashAndFormat struct {
	Hash   Hash
	Format BlobFormat
}

// Tag is a short opaque name, chosen by a caller or auto-generated, naming
// a HashAndFormat persistently.
type Tag string

// EntryStatus is the classification returned by entry status queries.
type EntryStatus int

const (
	// StatusNotFound means no entry (complete or partial) exists for the hash.
	StatusNotFound EntryStatus = iota
	StatusPartial
	StatusComplete
)

func (s EntryStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	default:
		return "not_found"
	}
}

// BaoBlobSize reports a blob's size together with whether that size is
// final (complete) or merely the currently-verified prefix (partial).
type BaoBlobSize struct {
	Size     uint64
	Complete bool
}

// ImportMode describes how an import should treat its source. The memory
// store always copies regardless of the requested mode; the mode is
// accepted for interface parity with the filesystem-backed store.
type ImportMode int

const (
	ImportModeCopy ImportMode = iota
	ImportModeTryReference
)

// ExportMode is accepted for interface parity with the filesystem-backed
// store; the memory store always copies on export.
type ExportMode int

const (
	ExportModeCopy ExportMode = iota
	ExportModeTryReference
)

// MapEntry is one blob's read-only view: hash, size, completeness, and
// handles onto its verified data and Merkle outboard.
type MapEntry interface {
	Hash() Hash
	Size() BaoBlobSize
	IsComplete() bool
	// AvailableRanges reports, for a partial entry, the chunk indices whose
	// data is currently verified; for a complete entry, all chunks.
	AvailableRanges(ctx context.Context) ([]uint64, error)
	DataReaderAt(ctx context.Context, off uint64, length int) ([]byte, error)
	OutboardReaderAt(ctx context.Context, off uint64, length int) ([]byte, error)
}

// MapEntryMut additionally exposes a verified batch writer, for entries
// still accepting network data.
type MapEntryMut interface {
	MapEntry
	WriteBatch(ctx context.Context, size uint64, items []baotree.BatchItem) error
}

// PossiblyPartialEntry is the result of looking an entry up without regard
// to completeness.
type PossiblyPartialEntry struct {
	Entry  MapEntryMut
	Status EntryStatus
}

// Map is the read-only half of the polymorphic storage interface.
type Map interface {
	Get(hash Hash) (MapEntry, bool, error)
}

// MapMut extends Map with the operations needed to grow a partial blob and
// promote it to complete.
type MapMut interface {
	Map
	GetOrCreatePartial(hash Hash, size uint64) (MapEntryMut, error)
	EntryStatus(hash Hash) (EntryStatus, error)
	GetPossiblyPartial(hash Hash) (PossiblyPartialEntry, error)
	InsertComplete(entry MapEntryMut) error
}

// ValidateProgress reports the result of re-verifying one complete entry.
type ValidateProgress struct {
	Hash  Hash
	Error error
}

// ReadableStore adds enumeration, integrity validation and filesystem
// export to MapMut.
type ReadableStore interface {
	MapMut
	Blobs() ([]Hash, error)
	PartialBlobs() ([]Hash, error)
	Tags() (map[Tag]HashAndFormat, error)
	TempTags() ([]HashAndFormat, error)
	Validate(ctx context.Context, progress func(ValidateProgress)) error
	Export(ctx context.Context, hash Hash, target string, mode ExportMode, progress func(offset uint64) error) error
}

// Store is the full capability set: ReadableStore plus ingest, tagging and
// lifetime management.
type Store interface {
	ReadableStore
	ImportFile(ctx context.Context, path string, mode ImportMode, format BlobFormat, progress ProgressSender) (TempTag, uint64, error)
	ImportStream(ctx context.Context, data <-chan StreamChunk, format BlobFormat, progress ProgressSender) (TempTag, uint64, error)
	ImportBytes(ctx context.Context, data []byte, format BlobFormat) (TempTag, error)
	SetTag(name Tag, value *HashAndFormat) error
	CreateTag(hash HashAndFormat) (Tag, error)
	TempTag(hash HashAndFormat) TempTag
	ClearLive()
	AddLive(hashes []Hash)
	IsLive(hash Hash) bool
	Delete(hashes []Hash) error
}

// StreamChunk is one inbound item of an ImportStream source: either a
// chunk of bytes or a terminal error.
type StreamChunk struct {
	Data []byte
	Err  error
}

// ProgressSender is the capability import operations report progress
// through; re-exported here from internal/driver so callers of the public
// Store interface don't need to reach into an internal package themselves.
type ProgressSender = driver.ProgressSender

// IgnoreProgressSender returns a ProgressSender that discards every event,
// for callers that don't need import progress.
func IgnoreProgressSender() ProgressSender { return driver.IgnoreProgressSender() }

// NewChannelProgressSender returns a ProgressSender that delivers events on
// ch, for callers that want to observe import progress. Cancel ctx once you
// stop reading ch: a pending or future Send/BlockingSend then fails with
// ErrProgressClosed instead of blocking forever.
func NewChannelProgressSender(ctx context.Context, ch chan<- ProgressEvent) ProgressSender {
	return driver.NewChannelProgressSender(ctx, ch)
}

// ProgressEvent is re-exported from internal/driver for callers constructing
// a channel to pass to NewChannelProgressSender.
type ProgressEvent = driver.ImportProgress

// TempTag is a transient, reference-counted pin on a HashAndFormat. It is
// constructed as the first reference (the tracker's count is incremented
// on construction, just as on every subsequent Clone); Release decrements
// it. Each TempTag value, whether constructed or returned by Clone, owns
// exactly one reference: Release on a value decrements the count once, and
// further calls on the same value do nothing. A finalizer calls Release for
// a value that becomes unreachable without having been released.
type TempTag interface {
	HashAndFormat() HashAndFormat
	// Clone returns a new TempTag referencing the same HashAndFormat,
	// incrementing the tracker's count.
	Clone() TempTag
	// Release decrements the tracker's count for this reference. If the
	// count reaches zero the HashAndFormat is no longer temp-tagged.
	Release()
}
