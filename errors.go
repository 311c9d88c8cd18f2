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

package iroh

import "errors"

// Sentinel error kinds surfaced by the core. Wrap with fmt.Errorf("...: %w")
// for context and match with errors.Is; host I/O failures are returned as
// the underlying *os.PathError/*fs.PathError and already satisfy neither of
// these (callers match those with errors.Is against os.ErrNotExist etc., as
// the teacher's storage/posix layer does throughout files.go).
var (
	// ErrNotFound is returned by Export when the hash names no entry.
	// Delete skips absent hashes silently and does not return it.
	ErrNotFound = errors.New("iroh: not found")
	// ErrInvalidInput is returned for a non-absolute export target, or one
	// whose path has no parent directory.
	ErrInvalidInput = errors.New("iroh: invalid input")
	// ErrVerification is returned by a batch writer when content does not
	// hash consistently with the tree established for that entry.
	ErrVerification = errors.New("iroh: verification failed")
	// ErrProgressClosed is returned when a progress receiver has gone away
	// while a blocking emission was required.
	ErrProgressClosed = errors.New("iroh: progress receiver closed")
)
