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
	"golang.org/x/exp/maps"

	iroh "github.com/pinkforest/iroh-bytes"
)

// tempCounterMap is a reference-count map HashAndFormat -> count, growing
// and shrinking with TempTag construction/clone and release. It is not
// itself synchronized: callers hold the owning Store's write lock while
// mutating it, exactly as StateInner's other fields.
type tempCounterMap struct {
	counts map[iroh.HashAndFormat]uint64
}

func newTempCounterMap() *tempCounterMap {
	return &tempCounterMap{counts: map[iroh.HashAndFormat]uint64{}}
}

// inc raises k's count, inserting it at 1 if absent.
func (m *tempCounterMap) inc(k iroh.HashAndFormat) {
	m.counts[k]++
}

// dec decrements k's count, removing the entry once it reaches zero. dec
// on an absent key is a no-op (it can happen harmlessly if a Release races
// a Store shutdown in ways the finalizer backstop tolerates).
func (m *tempCounterMap) dec(k iroh.HashAndFormat) {
	n, ok := m.counts[k]
	if !ok {
		return
	}
	if n <= 1 {
		delete(m.counts, k)
		return
	}
	m.counts[k] = n - 1
}

// contains reports whether any key in the map has the given hash
// component, regardless of format.
func (m *tempCounterMap) contains(hash iroh.Hash) bool {
	for k := range m.counts {
		if k.Hash == hash {
			return true
		}
	}
	return false
}

// keys returns every HashAndFormat currently temp-tagged.
func (m *tempCounterMap) keys() []iroh.HashAndFormat {
	return maps.Keys(m.counts)
}
