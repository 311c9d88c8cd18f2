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
	"encoding/binary"
	"fmt"
	"time"

	iroh "github.com/pinkforest/iroh-bytes"
)

// autoTag derives a tag name from the given instant, extended
// deterministically until taken(name) is false. This mirrors
// Tag::auto(SystemTime::now(), predicate) in the original store: two tags
// requested at the same instant still end up distinct, by appending an
// increasing suffix counter to the nanosecond timestamp.
func autoTag(now time.Time, taken func(iroh.Tag) bool) iroh.Tag {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now.UnixNano()))
	base := fmt.Sprintf("%x", buf)
	candidate := iroh.Tag(base)
	for i := 0; taken(candidate); i++ {
		candidate = iroh.Tag(fmt.Sprintf("%s-%d", base, i))
	}
	return candidate
}
