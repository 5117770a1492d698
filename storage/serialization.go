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


package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/poiesic/chatvault/core"
)

// Message record type tags. Plain messages carry no tag.
const (
	payloadTypeArena   = "arena"
	payloadTypeCouncil = "council"
)

// ChatRecord is the persisted and archived form of a chat.
type ChatRecord struct {
	ChatID        core.ID `json:"chatId"`
	Title         string  `json:"title"`
	Timestamp     int64   `json:"timestamp"`
	Renamed       bool    `json:"renamed,omitempty"`
	ContinuedFrom core.ID `json:"continuedFromChatId,omitempty"`
}

// NewChatRecord converts a chat to its record form.
func NewChatRecord(c *core.Chat) *ChatRecord {
	return &ChatRecord{
		ChatID:        c.ID,
		Title:         c.Title,
		Timestamp:     TimeToMillis(c.Timestamp),
		Renamed:       c.Renamed,
		ContinuedFrom: c.ContinuedFrom,
	}
}

// Chat converts the record back to a chat.
func (r *ChatRecord) Chat() *core.Chat {
	return &core.Chat{
		ID:            r.ChatID,
		Title:         r.Title,
		Timestamp:     MillisToTime(r.Timestamp),
		Renamed:       r.Renamed,
		ContinuedFrom: r.ContinuedFrom,
	}
}

// ResponseRecord is one entry of an arena or council responses map.
// Arena entries use Messages, council entries use Parts.
type ResponseRecord struct {
	Name     string            `json:"name"`
	Messages json.RawMessage   `json:"messages,omitempty"`
	Parts    core.ContentGroup `json:"parts,omitempty"`
}

// MessageRecord is the persisted and archived form of a message. The payload
// variant is flattened and selected by Type.
//
// Records written before branching messages existed carry Content (and
// optionally Model) instead of Contents, and their arena sides hold plain
// strings. IsLegacy reports such records.
type MessageRecord struct {
	ChatID         core.ID                   `json:"chatId"`
	MessageID      int                       `json:"messageId"`
	Role           core.Role                 `json:"role"`
	Timestamp      int64                     `json:"timestamp"`
	Type           string                    `json:"type,omitempty"`
	Contents       []core.ContentGroup       `json:"contents,omitempty"`
	Responses      map[string]ResponseRecord `json:"responses,omitempty"`
	Choice         string                    `json:"choice,omitempty"`
	ContinuedWith  string                    `json:"continuedWith,omitempty"`
	CollectorModel string                    `json:"collectorModel,omitempty"`
	Images         []string                  `json:"images,omitempty"`
	Files          []core.File               `json:"files,omitempty"`

	Content *string `json:"content,omitempty"`
	Model   string  `json:"model,omitempty"`
}

// NewMessageRecord converts a message to its record form.
func NewMessageRecord(m *core.Message) (*MessageRecord, error) {
	r := &MessageRecord{
		ChatID:    m.ChatID,
		MessageID: m.MessageID,
		Role:      m.Role,
		Timestamp: TimeToMillis(m.Timestamp),
		Images:    m.Images,
		Files:     m.Files,
	}

	switch p := m.Payload.(type) {
	case *core.PlainPayload:
		r.Contents = p.Contents
	case *core.ArenaPayload:
		r.Type = payloadTypeArena
		r.Choice = p.Choice
		r.ContinuedWith = p.ContinuedWith
		r.Responses = make(map[string]ResponseRecord, 2)
		for _, key := range []string{core.ArenaModelA, core.ArenaModelB} {
			side, _ := p.Side(key)
			resp := ResponseRecord{Name: side.Name}
			if side.Messages != nil {
				raw, err := json.Marshal(side.Messages)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
				}
				resp.Messages = raw
			}
			r.Responses[key] = resp
		}
	case *core.CouncilPayload:
		r.Type = payloadTypeCouncil
		r.Contents = p.Contents
		r.CollectorModel = p.CollectorModel
		if p.Responses != nil {
			r.Responses = make(map[string]ResponseRecord, len(p.Responses))
			for key, resp := range p.Responses {
				r.Responses[key] = ResponseRecord{Name: resp.Name, Parts: resp.Parts}
			}
		}
	case nil:
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, core.ErrMissingPayload)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}
	return r, nil
}

// IsLegacy reports whether the record predates branching messages.
func (r *MessageRecord) IsLegacy() bool {
	if r.Content != nil {
		return true
	}
	if r.Type != payloadTypeArena {
		return false
	}
	for _, resp := range r.Responses {
		if hasStringElements(resp.Messages) {
			return true
		}
	}
	return false
}

// Legacy converts a legacy record to its flat form.
func (r *MessageRecord) Legacy() (core.LegacyMessage, error) {
	leg := core.LegacyMessage{
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		Role:      r.Role,
		Model:     r.Model,
		Timestamp: MillisToTime(r.Timestamp),
		Images:    r.Images,
	}
	if r.Content != nil {
		leg.Content = *r.Content
	}
	if r.Type == payloadTypeArena {
		leg.Arena = &core.LegacyArena{Choice: r.Choice, ContinuedWith: r.ContinuedWith}
		for key, side := range map[string]*core.LegacyArenaSide{
			core.ArenaModelA: &leg.Arena.ModelA,
			core.ArenaModelB: &leg.Arena.ModelB,
		} {
			resp := r.Responses[key]
			side.Name = resp.Name
			groups, strs, err := decodeSideMessages(resp.Messages)
			if err != nil {
				return leg, err
			}
			side.Messages = strs
			for _, g := range groups {
				for _, part := range g {
					if part.Type == core.PartText {
						side.Messages = append(side.Messages, part.Content)
					}
				}
			}
		}
	}
	return leg, nil
}

// Message converts the record back to a message. Legacy records are
// converted one at a time without folding regenerations.
func (r *MessageRecord) Message() (*core.Message, error) {
	if r.IsLegacy() {
		leg, err := r.Legacy()
		if err != nil {
			return nil, err
		}
		msg := core.TransformLegacyMessages([]core.LegacyMessage{leg})[0]
		msg.MessageID = r.MessageID
		return msg, nil
	}

	m := &core.Message{
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		Role:      r.Role,
		Timestamp: MillisToTime(r.Timestamp),
		Images:    r.Images,
		Files:     r.Files,
	}

	switch r.Type {
	case "":
		m.Payload = &core.PlainPayload{Contents: r.Contents}
	case payloadTypeArena:
		p := &core.ArenaPayload{Choice: r.Choice, ContinuedWith: r.ContinuedWith}
		for _, key := range []string{core.ArenaModelA, core.ArenaModelB} {
			resp := r.Responses[key]
			groups, _, err := decodeSideMessages(resp.Messages)
			if err != nil {
				return nil, err
			}
			side, _ := p.Side(key)
			side.Name = resp.Name
			side.Messages = groups
		}
		m.Payload = p
	case payloadTypeCouncil:
		p := &core.CouncilPayload{Contents: r.Contents, CollectorModel: r.CollectorModel}
		if r.Responses != nil {
			p.Responses = make(map[string]core.CouncilResponse, len(r.Responses))
			for key, resp := range r.Responses {
				p.Responses[key] = core.CouncilResponse{Name: resp.Name, Parts: resp.Parts}
			}
		}
		m.Payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, r.Type)
	}
	return m, nil
}

// decodeSideMessages decodes an arena side's messages, which are content
// groups in the current shape and strings in the legacy shape.
func decodeSideMessages(raw json.RawMessage) ([]core.ContentGroup, []string, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if elems == nil {
		return nil, nil, nil
	}
	groups := make([]core.ContentGroup, 0, len(elems))
	var strs []string
	for _, elem := range elems {
		if isJSONString(elem) {
			var s string
			if err := json.Unmarshal(elem, &s); err != nil {
				return nil, nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
			}
			strs = append(strs, s)
			continue
		}
		var g core.ContentGroup
		if err := json.Unmarshal(elem, &g); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		}
		groups = append(groups, g)
	}
	return groups, strs, nil
}

func hasStringElements(raw json.RawMessage) bool {
	_, strs, err := decodeSideMessages(raw)
	return err == nil && len(strs) > 0
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// BlobRecord is the persisted form of a blob.
type BlobRecord struct {
	Hash    string    `json:"hash"`
	Data    string    `json:"data"`
	ChatIDs []core.ID `json:"chatIds"`
}

// SearchDocRecord is the persisted form of a search document.
type SearchDocRecord struct {
	ChatID      core.ID `json:"chatId"`
	Content     string  `json:"content"`
	SearchTitle string  `json:"searchTitle"`
	Timestamp   int64   `json:"timestamp"`
}

// MediaRecord is the persisted form of a media index entry.
type MediaRecord struct {
	ID           core.ID          `json:"id"`
	ChatID       core.ID          `json:"chatId"`
	MessageID    int              `json:"messageId"`
	Source       core.Role        `json:"source"`
	Kind         core.LocatorKind `json:"kind"`
	ImageIndex   int              `json:"imageIndex"`
	ContentIndex int              `json:"contentIndex"`
	ModelKey     string           `json:"modelKey,omitempty"`
	MessageIndex int              `json:"messageIndex"`
	PartIndex    int              `json:"partIndex"`
	Timestamp    int64            `json:"timestamp"`
	Thumbnail    string           `json:"thumbnail,omitempty"`
	Width        int              `json:"width,omitempty"`
	Height       int              `json:"height,omitempty"`
}

// CheckpointRecord is the persisted form of a checkpoint.
type CheckpointRecord struct {
	Name         string  `json:"name"`
	HasAfter     bool    `json:"hasAfter"`
	AfterChatID  core.ID `json:"afterChatId"`
	AfterMessage int     `json:"afterMessageId"`
	Done         bool    `json:"done"`
	UpdatedAt    int64   `json:"updatedAt"`
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(c *Checkpoint) ([]byte, error) {
	r := &CheckpointRecord{Name: c.Name, Done: c.Done, UpdatedAt: TimeToMillis(c.UpdatedAt)}
	if c.After != nil {
		r.HasAfter = true
		r.AfterChatID = c.After.ChatID
		r.AfterMessage = c.After.MessageID
	}
	return marshal(r)
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var r CheckpointRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	c := &Checkpoint{Name: r.Name, Done: r.Done, UpdatedAt: MillisToTime(r.UpdatedAt)}
	if r.HasAfter {
		c.After = &MessageKey{ChatID: r.AfterChatID, MessageID: r.AfterMessage}
	}
	return c, nil
}

// TimeToMillis converts a time to Unix milliseconds; the zero time maps to 0.
func TimeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// MillisToTime converts Unix milliseconds to a UTC time; 0 maps to the zero time.
func MillisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// MarshalID serializes an ID to 8 big-endian bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: id needs 8 bytes, got %d", ErrSerializationFailed, len(data))
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return nil
}

// MarshalChat serializes a Chat to bytes.
func MarshalChat(c *core.Chat) ([]byte, error) {
	return marshal(NewChatRecord(c))
}

// UnmarshalChat deserializes a Chat from bytes.
func UnmarshalChat(data []byte) (*core.Chat, error) {
	var r ChatRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r.Chat(), nil
}

// MarshalMessage serializes a Message to bytes.
func MarshalMessage(m *core.Message) ([]byte, error) {
	r, err := NewMessageRecord(m)
	if err != nil {
		return nil, err
	}
	return marshal(r)
}

// UnmarshalMessageRecord deserializes a message record without converting it,
// so callers can detect legacy records.
func UnmarshalMessageRecord(data []byte) (*MessageRecord, error) {
	var r MessageRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UnmarshalMessage deserializes a Message from bytes.
func UnmarshalMessage(data []byte) (*core.Message, error) {
	r, err := UnmarshalMessageRecord(data)
	if err != nil {
		return nil, err
	}
	return r.Message()
}

// MarshalBlob serializes a Blob to bytes.
func MarshalBlob(b *core.Blob) ([]byte, error) {
	return marshal(&BlobRecord{Hash: b.Hash, Data: b.Data, ChatIDs: b.Owners})
}

// UnmarshalBlob deserializes a Blob from bytes.
func UnmarshalBlob(data []byte) (*core.Blob, error) {
	var r BlobRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &core.Blob{Hash: r.Hash, Data: r.Data, Owners: core.NewOwnerSet(r.ChatIDs...)}, nil
}

// MarshalSearchDoc serializes a SearchDoc to bytes.
func MarshalSearchDoc(d *core.SearchDoc) ([]byte, error) {
	return marshal(&SearchDocRecord{
		ChatID:      d.ChatID,
		Content:     d.Content,
		SearchTitle: d.SearchTitle,
		Timestamp:   TimeToMillis(d.Timestamp),
	})
}

// UnmarshalSearchDoc deserializes a SearchDoc from bytes.
func UnmarshalSearchDoc(data []byte) (*core.SearchDoc, error) {
	var r SearchDocRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &core.SearchDoc{
		ChatID:      r.ChatID,
		Content:     r.Content,
		SearchTitle: r.SearchTitle,
		Timestamp:   MillisToTime(r.Timestamp),
	}, nil
}

// MarshalMediaEntry serializes a MediaEntry to bytes.
func MarshalMediaEntry(e *core.MediaEntry) ([]byte, error) {
	return marshal(&MediaRecord{
		ID:           e.ID,
		ChatID:       e.ChatID,
		MessageID:    e.MessageID,
		Source:       e.Source,
		Kind:         e.Locator.Kind,
		ImageIndex:   e.Locator.ImageIndex,
		ContentIndex: e.Locator.ContentIndex,
		ModelKey:     e.Locator.ModelKey,
		MessageIndex: e.Locator.MessageIndex,
		PartIndex:    e.Locator.PartIndex,
		Timestamp:    TimeToMillis(e.Timestamp),
		Thumbnail:    e.Thumbnail,
		Width:        e.Width,
		Height:       e.Height,
	})
}

// UnmarshalMediaEntry deserializes a MediaEntry from bytes.
func UnmarshalMediaEntry(data []byte) (*core.MediaEntry, error) {
	var r MediaRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &core.MediaEntry{
		ID:        r.ID,
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		Source:    r.Source,
		Locator: core.Locator{
			Kind:         r.Kind,
			ImageIndex:   r.ImageIndex,
			ContentIndex: r.ContentIndex,
			ModelKey:     r.ModelKey,
			MessageIndex: r.MessageIndex,
			PartIndex:    r.PartIndex,
		},
		Timestamp: MillisToTime(r.Timestamp),
		Thumbnail: r.Thumbnail,
		Width:     r.Width,
		Height:    r.Height,
	}, nil
}
