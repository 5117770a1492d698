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


// Package search provides the text functions behind the chat search index
// and a Searcher that runs queries against it.
//
// Normalize folds case, strips accents and collapses whitespace; it is used
// both when search documents are written and when queries are tokenized.
// ExtractText decides which parts of a message are searchable: text and
// thought parts of plain and council messages, text parts only for arena
// messages.
//
// Tokenize splits text for query matching and trims punctuation from token
// edges only.
package search
