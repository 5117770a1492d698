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
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/chatvault/core"
)

// ExtractText returns the searchable text of one message.
//
// Plain and council messages contribute text and thought parts. Arena
// messages contribute text parts only.
func ExtractText(msg *core.Message) string {
	return strings.Join(groupTexts(msg), " ")
}

// ExtractDelta returns the searchable text updated holds that old did not:
// new regenerations, a replaced arena side, changed council responses.
// Groups whose text is unchanged are left out, so appending the delta to a
// search document never repeats text already indexed for old.
func ExtractDelta(old, updated *core.Message) string {
	seen := make(map[string]int)
	for _, text := range groupTexts(old) {
		seen[text]++
	}
	var delta []string
	for _, text := range groupTexts(updated) {
		if seen[text] > 0 {
			seen[text]--
			continue
		}
		delta = append(delta, text)
	}
	return strings.Join(delta, " ")
}

// groupTexts returns the searchable text of each content group of msg,
// skipping groups without any.
func groupTexts(msg *core.Message) []string {
	if msg == nil {
		return nil
	}
	var texts []string
	add := func(group core.ContentGroup, withThoughts bool) {
		var sb strings.Builder
		for _, part := range group {
			if part.Type == core.PartText || (withThoughts && part.Type == core.PartThought) {
				if strings.TrimSpace(part.Content) == "" {
					continue
				}
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(part.Content)
			}
		}
		if sb.Len() > 0 {
			texts = append(texts, sb.String())
		}
	}

	switch p := msg.Payload.(type) {
	case *core.PlainPayload:
		for _, g := range p.Contents {
			add(g, true)
		}
	case *core.ArenaPayload:
		for _, g := range p.ModelA.Messages {
			add(g, false)
		}
		for _, g := range p.ModelB.Messages {
			add(g, false)
		}
	case *core.CouncilPayload:
		for _, key := range slices.Sorted(maps.Keys(p.Responses)) {
			add(p.Responses[key].Parts, true)
		}
		for _, g := range p.Contents {
			add(g, true)
		}
	}
	return texts
}

// ExtractChat returns the searchable text of a sequence of messages.
func ExtractChat(msgs []*core.Message) string {
	texts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if text := ExtractText(msg); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, " ")
}
