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

import "errors"

var (
	// ErrNotFound indicates that a write targeted a record that does not exist.
	// Reads never return it; a missing record reads as nil.
	ErrNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrStoreNotInScope indicates access to a logical store that the
	// transaction did not declare.
	ErrStoreNotInScope = errors.New("store not in transaction scope")

	// ErrReadOnly indicates a write attempted inside a read-only transaction.
	ErrReadOnly = errors.New("transaction is read-only")

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrValueTooLarge indicates a record larger than the backend can store.
	ErrValueTooLarge = errors.New("value too large")

	// ErrUnknownPayload indicates a message record whose type tag is not recognized.
	ErrUnknownPayload = errors.New("unknown message payload type")
)
