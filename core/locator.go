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

// LocatorKind tells which field of a message a Locator points into.
type LocatorKind string

const (
	// LocatorUserImage points at Message.Images[ImageIndex].
	LocatorUserImage LocatorKind = "image"
	// LocatorContent points at PlainPayload.Contents[ContentIndex][PartIndex].
	LocatorContent LocatorKind = "content"
	// LocatorArena points at the ModelKey side's Messages[MessageIndex][PartIndex].
	LocatorArena LocatorKind = "arena"
)

// Locator is the positional address of one image inside a message.
// Only the fields relevant to Kind are meaningful.
type Locator struct {
	Kind         LocatorKind
	ImageIndex   int
	ContentIndex int
	ModelKey     string
	MessageIndex int
	PartIndex    int
}

// MediaRef is an image found while walking a message for the media index.
type MediaRef struct {
	Source  Role
	Locator Locator
	Image   string
}

// MediaRefs walks the media-bearing fields of a message: user images,
// plain content groups and both arena sides. Council payloads are not indexed.
func (m *Message) MediaRefs() []MediaRef {
	var refs []MediaRef
	for i, img := range m.Images {
		if img == "" {
			continue
		}
		refs = append(refs, MediaRef{
			Source:  RoleUser,
			Locator: Locator{Kind: LocatorUserImage, ImageIndex: i},
			Image:   img,
		})
	}

	source := RoleAssistant
	if m.Role == RoleUser {
		source = RoleUser
	}

	switch p := m.Payload.(type) {
	case *PlainPayload:
		for ci, group := range p.Contents {
			for pi, part := range group {
				if part.Type != PartImage || part.Content == "" {
					continue
				}
				refs = append(refs, MediaRef{
					Source:  source,
					Locator: Locator{Kind: LocatorContent, ContentIndex: ci, PartIndex: pi},
					Image:   part.Content,
				})
			}
		}
	case *ArenaPayload:
		for _, key := range []string{ArenaModelA, ArenaModelB} {
			side, _ := p.Side(key)
			for mi, group := range side.Messages {
				for pi, part := range group {
					if part.Type != PartImage || part.Content == "" {
						continue
					}
					refs = append(refs, MediaRef{
						Source:  RoleAssistant,
						Locator: Locator{Kind: LocatorArena, ModelKey: key, MessageIndex: mi, PartIndex: pi},
						Image:   part.Content,
					})
				}
			}
		}
	}
	return refs
}

// ImageAt re-locates the image addressed by loc.
// It returns false when the message no longer has an image at that position.
func (m *Message) ImageAt(loc Locator) (string, bool) {
	partAt := func(groups []ContentGroup, gi, pi int) (string, bool) {
		if gi < 0 || gi >= len(groups) || pi < 0 || pi >= len(groups[gi]) {
			return "", false
		}
		part := groups[gi][pi]
		if part.Type != PartImage {
			return "", false
		}
		return part.Content, true
	}

	switch loc.Kind {
	case LocatorUserImage:
		if loc.ImageIndex < 0 || loc.ImageIndex >= len(m.Images) {
			return "", false
		}
		return m.Images[loc.ImageIndex], true
	case LocatorContent:
		p, ok := m.Payload.(*PlainPayload)
		if !ok {
			return "", false
		}
		return partAt(p.Contents, loc.ContentIndex, loc.PartIndex)
	case LocatorArena:
		p, ok := m.Payload.(*ArenaPayload)
		if !ok {
			return "", false
		}
		side, ok := p.Side(loc.ModelKey)
		if !ok {
			return "", false
		}
		return partAt(side.Messages, loc.MessageIndex, loc.PartIndex)
	}
	return "", false
}
