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
	"maps"
	"slices"
	"time"
)

// ID is a unique identifier for chats and media index entries.
// IDs are assigned from database sequences; 0 means "unassigned" or "none".
type ID uint64

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of content held by a Part.
type PartType string

const (
	PartText    PartType = "text"
	PartThought PartType = "thought"
	PartImage   PartType = "image"
)

// Part is a single piece of message content.
// For image parts Content holds an inline data URL before persistence
// and a blob hash afterwards.
type Part struct {
	Type    PartType `json:"type"`
	Content string   `json:"content"`
	Model   string   `json:"model,omitempty"`
}

// ContentGroup is one version of a message's content.
type ContentGroup []Part

// File is a text attachment on a user message.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Chat is the metadata record of a conversation.
type Chat struct {
	ID            ID
	Title         string
	Timestamp     time.Time // last modified
	Renamed       bool      // true once the title was edited by the user
	ContinuedFrom ID        // chat this one was forked from, 0 if none
}

// Message is one entry of a chat transcript.
// MessageID is the zero-based position of the message within its chat.
type Message struct {
	ChatID    ID
	MessageID int
	Role      Role
	Timestamp time.Time
	Payload   Payload

	// Images and Files are only valid on user messages.
	Images []string
	Files  []File
}

// CurrentContent returns the latest content group of a plain message,
// or nil for other payloads.
func (m *Message) CurrentContent() ContentGroup {
	p, ok := m.Payload.(*PlainPayload)
	if !ok || len(p.Contents) == 0 {
		return nil
	}
	return p.Contents[len(p.Contents)-1]
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = m.Payload.clone()
	}
	if m.Images != nil {
		c.Images = append([]string(nil), m.Images...)
	}
	if m.Files != nil {
		c.Files = append([]File(nil), m.Files...)
	}
	return &c
}

// RewriteImages replaces every image-bearing string of the message in place
// with the result of fn. It covers user images and image parts of every payload.
func (m *Message) RewriteImages(fn func(string) string) {
	for i, img := range m.Images {
		m.Images[i] = fn(img)
	}
	rewrite := func(groups []ContentGroup) {
		for _, g := range groups {
			for j := range g {
				if g[j].Type == PartImage {
					g[j].Content = fn(g[j].Content)
				}
			}
		}
	}
	switch p := m.Payload.(type) {
	case *PlainPayload:
		rewrite(p.Contents)
	case *ArenaPayload:
		rewrite(p.ModelA.Messages)
		rewrite(p.ModelB.Messages)
	case *CouncilPayload:
		for _, key := range slices.Sorted(maps.Keys(p.Responses)) {
			rewrite([]ContentGroup{p.Responses[key].Parts})
		}
		rewrite(p.Contents)
	}
}

// AllImages returns every image-bearing string of the message in a stable order.
func (m *Message) AllImages() []string {
	var out []string
	c := m.Clone()
	c.RewriteImages(func(s string) string {
		out = append(out, s)
		return s
	})
	return out
}

// Blob is a content-addressed image payload shared by the chats that reference it.
type Blob struct {
	Hash   string
	Data   string
	Owners OwnerSet
}

// SearchDoc is the derived full-text document of one chat.
type SearchDoc struct {
	ChatID      ID
	Content     string
	SearchTitle string
	Timestamp   time.Time
}

// MediaEntry is a derived index record locating one image inside a message.
// Thumbnail is empty until the thumbnail pipeline has processed the entry.
type MediaEntry struct {
	ID        ID
	ChatID    ID
	MessageID int
	Source    Role
	Locator   Locator
	Timestamp time.Time
	Thumbnail string
	Width     int
	Height    int
}

// HasThumbnail reports whether a thumbnail was generated for the entry.
func (e *MediaEntry) HasThumbnail() bool {
	return e.Thumbnail != ""
}
