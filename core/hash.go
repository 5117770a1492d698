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

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// BlobHashLen is the length of a hex-encoded blob hash.
const BlobHashLen = blake2b.Size256 * 2

// BlobHash returns the content address of an inline payload: the hex-encoded
// BLAKE2b-256 digest of the literal data. Identical data yields identical hashes.
func BlobHash(data string) string {
	sum := blake2b.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// IsInlineData reports whether s is a literal data URL rather than a blob reference.
func IsInlineData(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// IsBlobHash reports whether s has the shape of a blob hash.
func IsBlobHash(s string) bool {
	if len(s) != BlobHashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
