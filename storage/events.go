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
	"log/slog"
	"sync"

	"github.com/poiesic/chatvault/core"
)

// EventType identifies a storage notification.
type EventType string

const (
	EventNewChatSaved     EventType = "new_chat_saved"
	EventAppendedMessages EventType = "appended_messages_to_saved_chat"
	EventMessageUpdated   EventType = "message_updated"
	EventChatRenamed      EventType = "chat_renamed"
	EventChatDeleted      EventType = "chat_deleted"
)

// Event is emitted after a mutating operation commits.
type Event struct {
	Type      EventType
	ChatID    core.ID
	MessageID int // EventMessageUpdated only
	Count     int // number of messages written, where applicable
	Title     string
}

// Notifier receives storage events. Delivery is best-effort; implementations
// must not block the caller for long.
type Notifier interface {
	Notify(Event)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// Bus fans events out to subscribers. A panicking subscriber is logged and
// does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
	logger *slog.Logger
}

var _ Notifier = (*Bus)(nil)

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]func(Event)),
		logger: logger,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Notify delivers e to every subscriber.
func (b *Bus) Notify(e Event) {
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, e)
	}
}

func (b *Bus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event subscriber panicked", "event", e.Type, "chatID", e.ChatID, "panic", r)
		}
	}()
	fn(e)
}
