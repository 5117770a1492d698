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
	"fmt"
)

// ValidateMessage validates a Message according to domain rules.
//
// Validation rules:
//   - Role must be system, user or assistant
//   - Payload must be present
//   - Every part must have a known type
//   - Images and Files are only allowed on user messages
//   - Arena and council payloads are only allowed on assistant messages
//
// NOT validated (assigned by storage):
//   - ChatID and MessageID
func ValidateMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidMessage)
	}

	if err := ValidateRole(msg.Role); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if msg.Payload == nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrMissingPayload)
	}

	if msg.Role != RoleUser && (len(msg.Images) > 0 || len(msg.Files) > 0) {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrAttachmentsNotAllowed)
	}

	var groups []ContentGroup
	switch p := msg.Payload.(type) {
	case *PlainPayload:
		groups = p.Contents
	case *ArenaPayload:
		if msg.Role != RoleAssistant {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrVariantRole)
		}
		groups = append(groups, p.ModelA.Messages...)
		groups = append(groups, p.ModelB.Messages...)
	case *CouncilPayload:
		if msg.Role != RoleAssistant {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrVariantRole)
		}
		for key, resp := range p.Responses {
			if key == "" {
				return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrEmptyCouncilKey)
			}
			groups = append(groups, resp.Parts)
		}
		groups = append(groups, p.Contents...)
	}

	for _, group := range groups {
		for _, part := range group {
			if err := ValidatePartType(part.Type); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
			}
		}
	}

	return nil
}

// ValidateMessages validates a batch of messages.
func ValidateMessages(msgs []*Message) error {
	for i, msg := range msgs {
		if err := ValidateMessage(msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// ValidateRole validates that a Role has a known value.
func ValidateRole(role Role) error {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRole, role)
}

// ValidatePartType validates that a PartType has a known value.
func ValidatePartType(t PartType) error {
	switch t {
	case PartText, PartThought, PartImage:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidPartType, t)
}

// ValidateSequence checks that ids form the gapless run start, start+1, ...
func ValidateSequence(ids []int, start int) error {
	for i, id := range ids {
		if id != start+i {
			return fmt.Errorf("%w: expected %d, got %d", ErrNonContiguous, start+i, id)
		}
	}
	return nil
}
