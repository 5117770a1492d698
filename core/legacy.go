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

import "time"

// LegacyMessage is the flat message shape written before branching messages
// existed: one string of content per record and one record per regeneration.
type LegacyMessage struct {
	ChatID    ID
	MessageID int
	Role      Role
	Content   string
	Model     string
	Timestamp time.Time
	Images    []string
	Arena     *LegacyArena // set for arena records
}

// LegacyArena is the flat arena shape: each side holds plain strings.
type LegacyArena struct {
	ModelA        LegacyArenaSide
	ModelB        LegacyArenaSide
	Choice        string
	ContinuedWith string
}

// LegacyArenaSide is one side of a legacy arena record.
type LegacyArenaSide struct {
	Name     string
	Messages []string
}

// TransformLegacyMessages converts the legacy records of one chat, ordered by
// MessageID, into the branching shape.
//
// A run of consecutive assistant records directly following a user record is
// folded into a single message whose content groups are the run in order.
// Arena string lists become one single-text group per string. Message IDs are
// renumbered densely from 0.
func TransformLegacyMessages(legacy []LegacyMessage) []*Message {
	out := make([]*Message, 0, len(legacy))

	// run is the assistant message currently absorbing regenerations.
	var run *PlainPayload
	prevRole := Role("")

	for _, rec := range legacy {
		if rec.Arena != nil {
			out = append(out, &Message{
				ChatID:    rec.ChatID,
				Role:      RoleAssistant,
				Timestamp: rec.Timestamp,
				Payload: &ArenaPayload{
					ModelA:        legacySide(rec.Arena.ModelA),
					ModelB:        legacySide(rec.Arena.ModelB),
					Choice:        rec.Arena.Choice,
					ContinuedWith: rec.Arena.ContinuedWith,
				},
			})
			run = nil
			prevRole = RoleAssistant
			continue
		}

		group := ContentGroup{{Type: PartText, Content: rec.Content, Model: rec.Model}}

		if rec.Role == RoleAssistant && run != nil {
			run.Contents = append(run.Contents, group)
			prevRole = RoleAssistant
			continue
		}

		payload := &PlainPayload{Contents: []ContentGroup{group}}
		msg := &Message{
			ChatID:    rec.ChatID,
			Role:      rec.Role,
			Timestamp: rec.Timestamp,
			Payload:   payload,
		}
		if rec.Role == RoleUser && len(rec.Images) > 0 {
			msg.Images = append([]string(nil), rec.Images...)
		}
		out = append(out, msg)

		if rec.Role == RoleAssistant && prevRole == RoleUser {
			run = payload
		} else {
			run = nil
		}
		prevRole = rec.Role
	}

	for i, msg := range out {
		msg.MessageID = i
	}
	return out
}

func legacySide(side LegacyArenaSide) ArenaResponse {
	resp := ArenaResponse{Name: side.Name}
	for _, text := range side.Messages {
		resp.Messages = append(resp.Messages, TextGroup(text))
	}
	return resp
}
