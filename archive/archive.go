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


package archive

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// Archive is the portable form of a whole database.
type Archive struct {
	ExportedAt    time.Time             `json:"exportedAt"`
	SchemaVersion int                   `json:"schemaVersion"`
	Chats         map[string]*ChatEntry `json:"chats"`
	Blobs         map[string]string     `json:"blobs"`
}

// ChatEntry is one archived chat: its metadata record with the message
// records inlined.
type ChatEntry struct {
	storage.ChatRecord
	Messages []*storage.MessageRecord `json:"messages"`
}

// New returns an empty archive stamped with the current time.
func New(schemaVersion int) *Archive {
	return &Archive{
		ExportedAt:    time.Now().UTC(),
		SchemaVersion: schemaVersion,
		Chats:         make(map[string]*ChatEntry),
		Blobs:         make(map[string]string),
	}
}

// Add stores entry under its chat ID.
func (a *Archive) Add(entry *ChatEntry) {
	a.Chats[chatKey(entry.ChatID)] = entry
}

// Entries returns the archived chats ordered by their original chat ID.
func (a *Archive) Entries() []*ChatEntry {
	out := make([]*ChatEntry, 0, len(a.Chats))
	for _, entry := range a.Chats {
		if entry != nil {
			out = append(out, entry)
		}
	}
	slices.SortFunc(out, func(x, y *ChatEntry) int {
		switch {
		case x.ChatID < y.ChatID:
			return -1
		case x.ChatID > y.ChatID:
			return 1
		}
		return 0
	})
	return out
}

// Write encodes the archive as indented JSON.
func (a *Archive) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// Read decodes an archive. Entries without a chatId take it from their key.
func Read(r io.Reader) (*Archive, error) {
	var a Archive
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	if a.Chats == nil {
		a.Chats = make(map[string]*ChatEntry)
	}
	if a.Blobs == nil {
		a.Blobs = make(map[string]string)
	}
	for key, entry := range a.Chats {
		if entry == nil || entry.ChatID != 0 {
			continue
		}
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: chat key %q", ErrInvalidArchive, key)
		}
		entry.ChatID = core.ID(id)
	}
	return &a, nil
}

// decodeMessages converts the entry's records to messages ordered by
// message ID. A chat made only of legacy records is folded through the
// legacy transform; blob hashes found in blobs are replaced by their data.
func (e *ChatEntry) decodeMessages(blobs map[string]string) ([]*core.Message, error) {
	recs := make([]*storage.MessageRecord, 0, len(e.Messages))
	legacy := true
	for _, rec := range e.Messages {
		if rec == nil {
			continue
		}
		recs = append(recs, rec)
		legacy = legacy && rec.IsLegacy()
	}
	slices.SortStableFunc(recs, func(x, y *storage.MessageRecord) int {
		return x.MessageID - y.MessageID
	})

	var msgs []*core.Message
	if legacy && len(recs) > 0 {
		legs := make([]core.LegacyMessage, 0, len(recs))
		for _, rec := range recs {
			leg, err := rec.Legacy()
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", rec.MessageID, err)
			}
			legs = append(legs, leg)
		}
		msgs = core.TransformLegacyMessages(legs)
	} else {
		msgs = make([]*core.Message, 0, len(recs))
		for _, rec := range recs {
			msg, err := rec.Message()
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", rec.MessageID, err)
			}
			msgs = append(msgs, msg)
		}
	}

	for _, msg := range msgs {
		msg.RewriteImages(func(s string) string {
			if !core.IsBlobHash(s) {
				return s
			}
			if data, ok := blobs[s]; ok {
				return data
			}
			return s
		})
	}
	return msgs, nil
}

func chatKey(id core.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}
