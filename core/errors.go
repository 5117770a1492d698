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

import "errors"

// Domain validation errors
var (
	// ErrInvalidMessage indicates a Message failed validation.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidRole indicates an unknown Role value.
	ErrInvalidRole = errors.New("invalid role")

	// ErrMissingPayload indicates a message without content payload.
	ErrMissingPayload = errors.New("message payload is required")

	// ErrInvalidPartType indicates an unknown PartType value.
	ErrInvalidPartType = errors.New("invalid part type")

	// ErrAttachmentsNotAllowed indicates images or files on a non-user message.
	ErrAttachmentsNotAllowed = errors.New("only user messages may carry images or files")

	// ErrVariantRole indicates an arena or council payload on a non-assistant message.
	ErrVariantRole = errors.New("arena and council payloads must be assistant messages")

	// ErrEmptyCouncilKey indicates a council response without a model identifier.
	ErrEmptyCouncilKey = errors.New("council response key cannot be empty")

	// ErrNonContiguous indicates message IDs that do not form a gapless sequence.
	ErrNonContiguous = errors.New("message ids must be contiguous")
)
