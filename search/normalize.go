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


package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes and drops combining marks.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

// Normalize case-folds s, strips accents and collapses runs of whitespace to
// single spaces. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	// Lowercasing can itself produce combining marks (e.g. U+0130), so the
	// fold runs twice.
	s = fold(fold(s))
	return strings.Join(strings.Fields(s), " ")
}

func fold(s string) string {
	s = strings.ToLower(s)
	out, _, err := transform.String(foldMarks, s)
	if err != nil {
		return s
	}
	return out
}
