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
	"runtime"
	"sync/atomic"

	iroh "github.com/pinkforest/iroh-bytes"
	"github.com/pinkforest/iroh-bytes/internal/driver"
)

// tempTag is the in-memory store's TempTag implementation. Go has no
// destructors, so Release stands in for Rust's Drop: it is idempotent
// (guarded by released) and a runtime.SetFinalizer backstop calls it if a
// caller forgets, so a leaked TempTag value still eventually un-pins its
// target instead of leaking a reference count forever. The tracker field
// is captured by value at construction time, the same "weak handle" the
// spec calls for: if the owning Store has otherwise been discarded, the
// tracker it points to is simply never invoked again by anything else, and
// calling OnDrop against it one last time is harmless.
type tempTag struct {
	hf       iroh.HashAndFormat
	tracker  driver.LivenessTracker
	released atomic.Bool
}

func newTempTag(hf iroh.HashAndFormat, tracker driver.LivenessTracker) iroh.TempTag {
	// Construction counts as the first reference: the tracker observes a
	// clone on creation, not only on explicit Clone() calls.
	if tracker != nil {
		tracker.OnClone(hf.Hash, uint8(hf.Format))
	}
	t := &tempTag{hf: hf, tracker: tracker}
	runtime.SetFinalizer(t, func(t *tempTag) { t.Release() })
	return t
}

func (t *tempTag) HashAndFormat() iroh.HashAndFormat { return t.hf }

func (t *tempTag) Clone() iroh.TempTag {
	return newTempTag(t.hf, t.tracker)
}

func (t *tempTag) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	if t.tracker != nil {
		t.tracker.OnDrop(t.hf.Hash, uint8(t.hf.Format))
	}
	runtime.SetFinalizer(t, nil)
}
