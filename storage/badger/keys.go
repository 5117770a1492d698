package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// Sequence keys live outside every logical store prefix.
const (
	chatIDSeq  = "seq:chat"
	mediaIDSeq = "seq:media"
)

// Meta keys
const (
	metaSchemaVersion = "schema_version"
	checkpointPrefix  = "checkpoint:"
)

// storePrefix returns the key prefix of a logical store.
// Format: name:
func storePrefix(name storage.StoreName) []byte {
	return append([]byte(name), ':')
}

// makeChatKey generates a key for chat metadata by ID.
func makeChatKey(id core.ID) []byte {
	return storage.MarshalID(id)
}

// makeChatTimeKey generates a composite key for the newest-first chat index.
// Format: timestamp:id
func makeChatTimeKey(timestamp time.Time, id core.ID) []byte {
	buf := make([]byte, 16)
	// BigEndian so lexicographic order is chronological
	binary.BigEndian.PutUint64(buf, uint64(storage.TimeToMillis(timestamp)))
	binary.BigEndian.PutUint64(buf[8:], uint64(id))
	return buf
}

// makeMessageKey generates a composite key for a message.
// Format: chatID:messageID
func makeMessageKey(chatID core.ID, messageID int) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf, uint64(chatID))
	binary.BigEndian.PutUint32(buf[8:], uint32(messageID))
	return buf
}

// makeMessagePrefix generates the key prefix of all messages of a chat.
func makeMessagePrefix(chatID core.ID) []byte {
	return storage.MarshalID(chatID)
}

// parseMessageKey splits a message key into its parts.
func parseMessageKey(key []byte) (storage.MessageKey, bool) {
	if len(key) != 12 {
		return storage.MessageKey{}, false
	}
	return storage.MessageKey{
		ChatID:    core.ID(binary.BigEndian.Uint64(key)),
		MessageID: int(binary.BigEndian.Uint32(key[8:])),
	}, true
}

// makeBlobKey generates a key for a blob by content hash.
func makeBlobKey(hash string) []byte {
	return []byte(hash)
}

// makeSearchKey generates a key for a chat's search document.
func makeSearchKey(chatID core.ID) []byte {
	return storage.MarshalID(chatID)
}

// makeMediaKey generates a key for a media entry by ID.
func makeMediaKey(id core.ID) []byte {
	return storage.MarshalID(id)
}

// makeMediaByMessageKey generates a composite key for the per-message media lookup.
// Format: chatID:messageID:entryID
func makeMediaByMessageKey(chatID core.ID, messageID int, entryID core.ID) []byte {
	buf := make([]byte, 20)
	copy(buf, makeMessageKey(chatID, messageID))
	binary.BigEndian.PutUint64(buf[12:], uint64(entryID))
	return buf
}

// makeMediaByMessagePrefix generates the lookup prefix of one message's entries.
func makeMediaByMessagePrefix(chatID core.ID, messageID int) []byte {
	return makeMessageKey(chatID, messageID)
}

// parseMediaByMessageKey extracts the entry ID from a per-message lookup key.
func parseMediaByMessageKey(key []byte) (core.ID, bool) {
	if len(key) != 20 {
		return 0, false
	}
	return core.ID(binary.BigEndian.Uint64(key[12:])), true
}

// makeCheckpointKey generates a meta key for a named checkpoint.
func makeCheckpointKey(name string) []byte {
	return []byte(checkpointPrefix + name)
}
