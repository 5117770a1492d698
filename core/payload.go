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

// PayloadKind discriminates the closed set of message payloads.
type PayloadKind int

const (
	PayloadPlain PayloadKind = iota + 1
	PayloadArena
	PayloadCouncil
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadPlain:
		return "plain"
	case PayloadArena:
		return "arena"
	case PayloadCouncil:
		return "council"
	default:
		return "unknown"
	}
}

// Arena response keys. An arena always has exactly these two sides.
const (
	ArenaModelA = "model_a"
	ArenaModelB = "model_b"
)

// Payload is the variant content of a message.
// It is implemented only by PlainPayload, ArenaPayload and CouncilPayload.
type Payload interface {
	Kind() PayloadKind
	clone() Payload
}

// PlainPayload holds regeneration history: one content group per version,
// the last one being current.
type PlainPayload struct {
	Contents []ContentGroup
}

func (p *PlainPayload) Kind() PayloadKind { return PayloadPlain }

func (p *PlainPayload) clone() Payload {
	return &PlainPayload{Contents: cloneGroups(p.Contents)}
}

// ArenaResponse is one side of an arena comparison.
type ArenaResponse struct {
	Name     string
	Messages []ContentGroup
}

// ArenaPayload is a side-by-side response of two models.
// Choice records the user's vote and ContinuedWith the side the
// conversation continues from.
type ArenaPayload struct {
	ModelA        ArenaResponse
	ModelB        ArenaResponse
	Choice        string
	ContinuedWith string
}

func (p *ArenaPayload) Kind() PayloadKind { return PayloadArena }

func (p *ArenaPayload) clone() Payload {
	c := *p
	c.ModelA.Messages = cloneGroups(p.ModelA.Messages)
	c.ModelB.Messages = cloneGroups(p.ModelB.Messages)
	return &c
}

// Side returns the response for an arena key.
func (p *ArenaPayload) Side(key string) (*ArenaResponse, bool) {
	switch key {
	case ArenaModelA:
		return &p.ModelA, true
	case ArenaModelB:
		return &p.ModelB, true
	default:
		return nil, false
	}
}

// CouncilResponse is one member answer of a council.
type CouncilResponse struct {
	Name  string
	Parts ContentGroup
}

// CouncilPayload holds member responses keyed by model identifier plus the
// collector's synthesis in Contents.
type CouncilPayload struct {
	Responses      map[string]CouncilResponse
	Contents       []ContentGroup
	CollectorModel string
}

func (p *CouncilPayload) Kind() PayloadKind { return PayloadCouncil }

func (p *CouncilPayload) clone() Payload {
	c := &CouncilPayload{
		Contents:       cloneGroups(p.Contents),
		CollectorModel: p.CollectorModel,
	}
	if p.Responses != nil {
		c.Responses = make(map[string]CouncilResponse, len(p.Responses))
		for k, v := range p.Responses {
			c.Responses[k] = CouncilResponse{Name: v.Name, Parts: cloneGroup(v.Parts)}
		}
	}
	return c
}

func cloneGroup(g ContentGroup) ContentGroup {
	if g == nil {
		return nil
	}
	return append(ContentGroup(nil), g...)
}

func cloneGroups(groups []ContentGroup) []ContentGroup {
	if groups == nil {
		return nil
	}
	out := make([]ContentGroup, len(groups))
	for i, g := range groups {
		out[i] = cloneGroup(g)
	}
	return out
}

// TextGroup builds a content group holding a single text part.
func TextGroup(text string) ContentGroup {
	return ContentGroup{{Type: PartText, Content: text}}
}
