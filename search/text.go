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
)

// edgePunctuation is trimmed from token edges only.
const edgePunctuation = ".,!?;:'\"()[]{}<>«»“”‘’…*"

// Stop words to filter out of queries
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// Tokenize lowercases and normalizes text, drops control characters, splits
// on whitespace and trims punctuation from token edges. Interior punctuation
// survives, so URLs, email addresses and version strings stay whole.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, Normalize(text))

	words := strings.Fields(cleaned)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if tok := strings.Trim(word, edgePunctuation); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// queryTokens tokenizes a query and removes stop words. A query made only of
// stop words keeps them.
func queryTokens(query string) []string {
	tokens := Tokenize(query)
	filtered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !stopWords[tok] {
			filtered = append(filtered, tok)
		}
	}
	if len(filtered) == 0 {
		return tokens
	}
	return filtered
}

// containsAllQueryWords checks if every query token appears in the document
func containsAllQueryWords(document string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !strings.Contains(document, tok) {
			return false
		}
	}
	return true
}
