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

// Package driver bundles the capability interfaces the core needs from its
// surroundings as small structs-of-funcs, the same shape the teacher uses
// for Readers/Appenders: a caller assembles one, and the core only ever
// sees the narrow capability it actually needs.
package driver

import (
	"context"
	"errors"
)

// ErrProgressClosed is returned by a ProgressSender's Send/BlockingSend
// when the receiving side has gone away while a blocking emission was
// required.
var ErrProgressClosed = errors.New("driver: progress receiver closed")

// ImportProgress is one of the events the core emits while importing a
// blob: Found, Size, CopyProgress, OutboardProgress or OutboardDone. Only
// one of the pointer fields is set.
type ImportProgress struct {
	ID   uint64
	Found        *FoundEvent
	Size         *SizeEvent
	CopyProgress *CopyProgressEvent
	OutboardProgress *OutboardProgressEvent
	OutboardDone     *OutboardDoneEvent
}

type FoundEvent struct{ Name string }
type SizeEvent struct{ Size uint64 }
type CopyProgressEvent struct{ Offset uint64 }
type OutboardProgressEvent struct{ Offset uint64 }
type OutboardDoneEvent struct{ Hash [32]byte }

// ProgressSender is the capability an import operation is given to report
// its progress. Send must succeed (it is used for events the caller needs
// to observe, such as OutboardDone); TrySend is best-effort and silently
// dropped if the receiver isn't ready; BlockingSend is used for events the
// import cannot proceed without the caller having accepted; NewID mints a
// fresh id to correlate a run's events.
type ProgressSender struct {
	Send         func(ImportProgress) error
	TrySend      func(ImportProgress) error
	BlockingSend func(ImportProgress) error
	NewID        func() uint64
}

// IgnoreProgressSender returns a ProgressSender whose every operation is a
// silent no-op, for callers that don't want progress events (the
// zero-progress case of Store.ImportBytes).
func IgnoreProgressSender() ProgressSender {
	noop := func(ImportProgress) error { return nil }
	var nextID uint64
	return ProgressSender{
		Send:         noop,
		TrySend:      noop,
		BlockingSend: noop,
		NewID: func() uint64 {
			nextID++
			return nextID
		},
	}
}

// NewChannelProgressSender returns a ProgressSender that delivers events on
// ch. Send and BlockingSend block until either the event is delivered or ctx
// is done, in which case they return ErrProgressClosed: a Go channel has no
// signal for "the receiver went away", so the caller that owns the receiving
// end is expected to cancel ctx when it stops reading. TrySend never blocks:
// it drops the event if ch has no free buffer space or ctx is already done,
// the same non-blocking "select with a default case" notification the
// teacher uses for cpUpdated in storage/posix/files.go.
func NewChannelProgressSender(ctx context.Context, ch chan<- ImportProgress) ProgressSender {
	var nextID uint64
	send := func(p ImportProgress) error {
		select {
		case ch <- p:
			return nil
		case <-ctx.Done():
			return ErrProgressClosed
		}
	}
	trySend := func(p ImportProgress) error {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case ch <- p:
		default:
		}
		return nil
	}
	return ProgressSender{
		Send:         send,
		TrySend:      trySend,
		BlockingSend: send,
		NewID: func() uint64 {
			nextID++
			return nextID
		},
	}
}

// LivenessTracker is the capability a TempTag holds a (conceptually weak)
// reference to: incrementing and decrementing the store's temp-tag
// reference count for one HashAndFormat. It is deliberately narrow — a
// TempTag must not be able to do anything else to the store that created
// it.
type LivenessTracker interface {
	OnClone(hash [32]byte, format uint8)
	OnDrop(hash [32]byte, format uint8)
}
