// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "slices"

// OwnerSet is the sorted, duplicate-free set of chat IDs that reference a blob.
// Removal targets a specific chat, which is why ownership is a set and not a counter.
type OwnerSet []ID

// NewOwnerSet builds a set from ids, ignoring zero IDs and duplicates.
func NewOwnerSet(ids ...ID) OwnerSet {
	var s OwnerSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether the set changed.
func (s *OwnerSet) Add(id ID) bool {
	if id == 0 {
		return false
	}
	i, found := slices.BinarySearch(*s, id)
	if found {
		return false
	}
	*s = slices.Insert(*s, i, id)
	return true
}

// Remove deletes id and reports whether the set changed.
func (s *OwnerSet) Remove(id ID) bool {
	i, found := slices.BinarySearch(*s, id)
	if !found {
		return false
	}
	*s = slices.Delete(*s, i, i+1)
	return true
}

// Has reports whether id is in the set.
func (s OwnerSet) Has(id ID) bool {
	_, found := slices.BinarySearch(s, id)
	return found
}

// Union adds every member of other and reports whether the set changed.
func (s *OwnerSet) Union(other OwnerSet) bool {
	changed := false
	for _, id := range other {
		if s.Add(id) {
			changed = true
		}
	}
	return changed
}

// Len returns the number of owners.
func (s OwnerSet) Len() int {
	return len(s)
}

// Empty reports whether the set has no owners.
func (s OwnerSet) Empty() bool {
	return len(s) == 0
}
