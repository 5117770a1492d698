package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/search"
	"github.com/poiesic/chatvault/storage"
)

// ChatRepository implements storage.ChatStore for BadgerDB.
//
// Every mutation is one transaction over all logical stores: chat metadata,
// messages, blobs, the search document and media entries change together or
// not at all. Events and thumbnail requests are issued after commit.
type ChatRepository struct {
	backend   *Backend
	notifier  storage.Notifier
	scheduler storage.ThumbnailScheduler
	logger    *slog.Logger
}

var (
	_ storage.ChatStore          = (*ChatRepository)(nil)
	_ storage.ChatExporter       = (*ChatRepository)(nil)
	_ storage.ChatImporter       = (*ChatRepository)(nil)
	_ storage.InlineImageSweeper = (*ChatRepository)(nil)
)

// ChatOption configures a ChatRepository.
type ChatOption func(*ChatRepository)

// WithNotifier sets the receiver of storage events.
func WithNotifier(n storage.Notifier) ChatOption {
	return func(r *ChatRepository) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithThumbnailScheduler sets the receiver of new media entries.
func WithThumbnailScheduler(s storage.ThumbnailScheduler) ChatOption {
	return func(r *ChatRepository) {
		r.scheduler = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ChatOption {
	return func(r *ChatRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewChatRepository creates a new ChatRepository.
func NewChatRepository(backend *Backend, opts ...ChatOption) *ChatRepository {
	r := &ChatRepository{
		backend:  backend,
		notifier: storage.NopNotifier{},
		logger:   backend.logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// afterCommit emits e and schedules thumbnails once tx has committed.
func (r *ChatRepository) afterCommit(tx *Tx, e storage.Event, mediaIDs []core.ID) {
	tx.OnCommit(func() {
		r.notifier.Notify(e)
		if r.scheduler != nil && len(mediaIDs) > 0 {
			r.scheduler.Schedule(mediaIDs...)
		}
	})
}

// CreateChat inserts a chat and its initial messages.
func (r *ChatRepository) CreateChat(ctx context.Context, title string, messages []*core.Message, opts storage.CreateOptions) (core.ID, error) {
	chatID, err := r.backend.NextID(chatIDSeq)
	if err != nil {
		return 0, err
	}

	timestamp := opts.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	err = r.backend.RunTransaction(ctx, storage.AllStores, storage.ReadWrite, func(tx *Tx) error {
		chat := &core.Chat{
			ID:            chatID,
			Title:         title,
			Timestamp:     timestamp,
			Renamed:       opts.Renamed,
			ContinuedFrom: opts.ContinuedFrom,
		}
		if err := writeChat(tx, chat, nil); err != nil {
			return err
		}

		mediaIDs, err := r.insertMessages(tx, chatID, messages, 0, timestamp)
		if err != nil {
			return err
		}
		if err := recomputeSearch(tx, chatID); err != nil {
			return err
		}

		r.afterCommit(tx, storage.Event{
			Type:   storage.EventNewChatSaved,
			ChatID: chatID,
			Count:  len(messages),
			Title:  title,
		}, mediaIDs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug("created chat", "chatID", chatID, "messages", len(messages))
	return chatID, nil
}

// fingerprint identifies a chat across databases.
type fingerprint struct {
	title     string
	timestamp int64 // Unix milliseconds
}

func chatFingerprint(title string, timestamp time.Time) fingerprint {
	return fingerprint{title, storage.TimeToMillis(timestamp)}
}

// ImportChats inserts chats missing from the database and remaps their
// back-references, all in one transaction.
func (r *ChatRepository) ImportChats(ctx context.Context, chats []*storage.ImportChat) (*storage.ImportResult, error) {
	type pending struct {
		chat *core.Chat
		from core.ID
	}

	res, err := Update(ctx, r.backend, storage.AllStores, func(tx *Tx) (*storage.ImportResult, error) {
		seen, err := storedFingerprints(tx)
		if err != nil {
			return nil, err
		}

		res := &storage.ImportResult{IDMap: make(map[core.ID]core.ID)}
		var inserted []pending
		for _, in := range chats {
			if in == nil {
				continue
			}
			timestamp := in.Timestamp
			if timestamp.IsZero() {
				timestamp = time.Now().UTC()
			}
			fp := chatFingerprint(in.Title, timestamp)
			if id, ok := seen[fp]; ok {
				res.IDMap[in.SourceID] = id
				res.Skipped++
				continue
			}

			id, err := tx.NextID(chatIDSeq)
			if err != nil {
				return nil, err
			}
			chat := &core.Chat{ID: id, Title: in.Title, Timestamp: timestamp, Renamed: in.Renamed}
			if err := writeChat(tx, chat, nil); err != nil {
				return nil, err
			}
			mediaIDs, err := r.insertMessages(tx, id, in.Messages, 0, timestamp)
			if err != nil {
				r.logger.Warn("import aborted", "sourceID", in.SourceID, "title", in.Title, "err", err)
				return nil, err
			}
			if err := recomputeSearch(tx, id); err != nil {
				return nil, err
			}

			seen[fp] = id
			res.IDMap[in.SourceID] = id
			res.Imported++
			inserted = append(inserted, pending{chat: chat, from: in.ContinuedFrom})
			r.afterCommit(tx, storage.Event{
				Type:   storage.EventNewChatSaved,
				ChatID: id,
				Count:  len(in.Messages),
				Title:  in.Title,
			}, mediaIDs)
		}

		for _, p := range inserted {
			if p.from == 0 {
				continue
			}
			from, ok := res.IDMap[p.from]
			if !ok {
				r.logger.Debug("dropping reference to unknown chat", "chatID", p.chat.ID, "continuedFrom", p.from)
				continue
			}
			p.chat.ContinuedFrom = from
			if err := putChat(tx, p.chat); err != nil {
				return nil, err
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("imported chats", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

// storedFingerprints maps the fingerprint of every stored chat to its ID.
func storedFingerprints(tx *Tx) (map[fingerprint]core.ID, error) {
	chats, err := tx.Bucket(storage.StoreChats)
	if err != nil {
		return nil, err
	}
	seen := make(map[fingerprint]core.ID)
	for kv, err := range chats.Scan(nil) {
		if err != nil {
			return nil, err
		}
		chat, err := storage.UnmarshalChat(kv.Value)
		if err != nil {
			return nil, err
		}
		seen[chatFingerprint(chat.Title, chat.Timestamp)] = chat.ID
	}
	return seen, nil
}

// insertMessages validates and writes messages at start, start+1, ...,
// routing inline images through the blob store and indexing their media.
// Caller messages are not modified.
func (r *ChatRepository) insertMessages(tx *Tx, chatID core.ID, messages []*core.Message, start int, timestamp time.Time) ([]core.ID, error) {
	bucket, err := tx.Bucket(storage.StoreMessages)
	if err != nil {
		return nil, err
	}

	batch := NewBlobBatch()
	var mediaIDs []core.ID
	for i, m := range messages {
		if err := core.ValidateMessage(m); err != nil {
			return nil, fmt.Errorf("message %d: %w", start+i, err)
		}
		stored := m.Clone()
		stored.ChatID = chatID
		stored.MessageID = start + i
		if stored.Timestamp.IsZero() {
			stored.Timestamp = timestamp
		}
		batch.Substitute(stored, chatID)

		if err := putMessage(bucket, stored); err != nil {
			return nil, err
		}
		ids, err := indexMessageMedia(tx, stored)
		if err != nil {
			return nil, err
		}
		mediaIDs = append(mediaIDs, ids...)
	}

	if err := persistBlobs(tx, batch, chatID); err != nil {
		return nil, err
	}
	return mediaIDs, nil
}

// AppendMessages inserts messages starting at startIndex, which must equal
// the current message count.
func (r *ChatRepository) AppendMessages(ctx context.Context, chatID core.ID, messages []*core.Message, startIndex int) error {
	if len(messages) == 0 {
		return nil
	}
	return r.backend.RunTransaction(ctx, storage.AllStores, storage.ReadWrite, func(tx *Tx) error {
		chat, err := readChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return storage.ErrNotFound
		}

		bucket, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return err
		}
		count, err := bucket.Count(makeMessagePrefix(chatID))
		if err != nil {
			return err
		}
		if startIndex != count {
			return fmt.Errorf("%w: append at %d, chat has %d messages", core.ErrNonContiguous, startIndex, count)
		}

		now := time.Now().UTC()
		mediaIDs, err := r.insertMessages(tx, chatID, messages, startIndex, now)
		if err != nil {
			return err
		}

		if err := touchChat(tx, chat, now); err != nil {
			return err
		}
		if err := refreshSearch(tx, chatID, search.ExtractChat(messages), chat.Timestamp); err != nil {
			return err
		}

		r.afterCommit(tx, storage.Event{
			Type:   storage.EventAppendedMessages,
			ChatID: chatID,
			Count:  len(messages),
		}, mediaIDs)
		return nil
	})
}

// UpdateMessage replaces one message in place and re-derives its media
// entries. Blobs only the old version referenced lose this chat as an owner.
func (r *ChatRepository) UpdateMessage(ctx context.Context, chatID core.ID, messageID int, msg *core.Message, opts storage.UpdateOptions) error {
	if err := core.ValidateMessage(msg); err != nil {
		return err
	}
	return r.backend.RunTransaction(ctx, storage.AllStores, storage.ReadWrite, func(tx *Tx) error {
		chat, err := readChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return storage.ErrNotFound
		}
		old, err := readMessage(tx, chatID, messageID)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("%w: message %d of chat %d", storage.ErrNotFound, messageID, chatID)
		}

		stored := msg.Clone()
		stored.ChatID = chatID
		stored.MessageID = messageID
		if stored.Timestamp.IsZero() {
			stored.Timestamp = old.Timestamp
		}
		batch := NewBlobBatch()
		batch.Substitute(stored, chatID)
		if err := persistBlobs(tx, batch, chatID); err != nil {
			return err
		}

		bucket, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return err
		}
		if err := putMessage(bucket, stored); err != nil {
			return err
		}
		if err := releaseReplaced(tx, old, stored); err != nil {
			return err
		}

		if err := clearMediaForMessage(tx, chatID, messageID); err != nil {
			return err
		}
		mediaIDs, err := indexMessageMedia(tx, stored)
		if err != nil {
			return err
		}

		if err := touchChat(tx, chat, time.Now().UTC()); err != nil {
			return err
		}

		switch {
		case opts.SkipSearchRefresh:
		case opts.AppendSearch:
			err = refreshSearch(tx, chatID, search.ExtractDelta(old, stored), chat.Timestamp)
		default:
			err = recomputeSearch(tx, chatID)
		}
		if err != nil {
			return err
		}

		r.afterCommit(tx, storage.Event{
			Type:      storage.EventMessageUpdated,
			ChatID:    chatID,
			MessageID: messageID,
			Count:     1,
		}, mediaIDs)
		return nil
	})
}

// LoadChat returns chat metadata and its messages with blob references
// resolved. A positive limit returns only the last limit messages.
func (r *ChatRepository) LoadChat(ctx context.Context, chatID core.ID, limit int) (*core.Chat, []*core.Message, error) {
	type loaded struct {
		chat     *core.Chat
		messages []*core.Message
	}
	stores := []storage.StoreName{storage.StoreChats, storage.StoreMessages, storage.StoreBlobs}
	res, err := View(ctx, r.backend, stores, func(tx *Tx) (loaded, error) {
		chat, err := readChat(tx, chatID)
		if err != nil || chat == nil {
			return loaded{}, err
		}
		start := 0
		if limit > 0 {
			bucket, err := tx.Bucket(storage.StoreMessages)
			if err != nil {
				return loaded{}, err
			}
			count, err := bucket.Count(makeMessagePrefix(chatID))
			if err != nil {
				return loaded{}, err
			}
			start = max(0, count-limit)
		}
		msgs, err := readResolvedMessages(tx, chatID, start, 0)
		if err != nil {
			return loaded{}, err
		}
		return loaded{chat: chat, messages: msgs}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.chat, res.messages, nil
}

// GetMessages returns up to limit messages starting at start.
func (r *ChatRepository) GetMessages(ctx context.Context, chatID core.ID, start, limit int) ([]*core.Message, error) {
	if start < 0 {
		return nil, storage.ErrInvalidQuery
	}
	stores := []storage.StoreName{storage.StoreMessages, storage.StoreBlobs}
	return View(ctx, r.backend, stores, func(tx *Tx) ([]*core.Message, error) {
		return readResolvedMessages(tx, chatID, start, limit)
	})
}

// GetMessage returns one message, or nil if absent.
func (r *ChatRepository) GetMessage(ctx context.Context, chatID core.ID, messageID int) (*core.Message, error) {
	stores := []storage.StoreName{storage.StoreMessages, storage.StoreBlobs}
	return View(ctx, r.backend, stores, func(tx *Tx) (*core.Message, error) {
		msg, err := readMessage(tx, chatID, messageID)
		if err != nil || msg == nil {
			return nil, err
		}
		resolver, err := newBlobResolver(tx)
		if err != nil {
			return nil, err
		}
		if err := resolver.resolveMessage(msg); err != nil {
			return nil, err
		}
		return msg, nil
	})
}

// DeleteChat removes a chat with its messages, search document and media
// entries, and releases its blobs.
func (r *ChatRepository) DeleteChat(ctx context.Context, chatID core.ID) error {
	return r.backend.RunTransaction(ctx, storage.AllStores, storage.ReadWrite, func(tx *Tx) error {
		chat, err := readChat(tx, chatID)
		if err != nil || chat == nil {
			return err
		}

		// Blobs are released first; it needs the messages.
		if err := releaseChat(tx, chatID); err != nil {
			return err
		}
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return err
		}
		if _, err := messages.DeletePrefix(makeMessagePrefix(chatID)); err != nil {
			return err
		}
		if err := clearMediaForChat(tx, chatID); err != nil {
			return err
		}
		docs, err := tx.Bucket(storage.StoreSearch)
		if err != nil {
			return err
		}
		if err := docs.Delete(makeSearchKey(chatID)); err != nil {
			return err
		}
		if err := deleteChat(tx, chat); err != nil {
			return err
		}

		r.afterCommit(tx, storage.Event{Type: storage.EventChatDeleted, ChatID: chatID, Title: chat.Title}, nil)
		return nil
	})
}

// RenameChat sets the title, marks the chat renamed and recomputes its
// search document. The chat timestamp is left unchanged.
func (r *ChatRepository) RenameChat(ctx context.Context, chatID core.ID, title string) error {
	return r.backend.RunTransaction(ctx, searchStores, storage.ReadWrite, func(tx *Tx) error {
		chat, err := readChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return storage.ErrNotFound
		}
		chat.Title = title
		chat.Renamed = true
		if err := putChat(tx, chat); err != nil {
			return err
		}
		if err := recomputeSearch(tx, chatID); err != nil {
			return err
		}
		r.afterCommit(tx, storage.Event{Type: storage.EventChatRenamed, ChatID: chatID, Title: title}, nil)
		return nil
	})
}

// SetContinuedFrom rewrites the chat's back-reference.
func (r *ChatRepository) SetContinuedFrom(ctx context.Context, chatID, from core.ID) error {
	return r.backend.RunTransaction(ctx, []storage.StoreName{storage.StoreChats}, storage.ReadWrite, func(tx *Tx) error {
		chat, err := readChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return storage.ErrNotFound
		}
		chat.ContinuedFrom = from
		return putChat(tx, chat)
	})
}

// GetChat returns chat metadata, or nil if absent.
func (r *ChatRepository) GetChat(ctx context.Context, chatID core.ID) (*core.Chat, error) {
	return View(ctx, r.backend, []storage.StoreName{storage.StoreChats}, func(tx *Tx) (*core.Chat, error) {
		return readChat(tx, chatID)
	})
}

// ListChats returns chats newest first.
func (r *ChatRepository) ListChats(ctx context.Context, limit int) ([]*core.Chat, error) {
	stores := []storage.StoreName{storage.StoreChats, storage.StoreChatTimes}
	return View(ctx, r.backend, stores, func(tx *Tx) ([]*core.Chat, error) {
		times, err := tx.Bucket(storage.StoreChatTimes)
		if err != nil {
			return nil, err
		}
		c := times.ReverseCursor(nil)
		defer c.Close()

		chats := []*core.Chat{}
		for (limit <= 0 || len(chats) < limit) && c.Next() {
			val, err := c.Value()
			if err != nil {
				return nil, err
			}
			id, err := storage.UnmarshalID(val)
			if err != nil {
				return nil, err
			}
			chat, err := readChat(tx, id)
			if err != nil {
				return nil, err
			}
			if chat != nil {
				chats = append(chats, chat)
			}
		}
		return chats, nil
	})
}

// ForEachStoredChat calls fn for every chat with its messages as persisted,
// blob hashes left in place. Each chat is read in its own transaction and fn
// runs outside it.
func (r *ChatRepository) ForEachStoredChat(ctx context.Context, fn func(chat *core.Chat, messages []*core.Message) error) error {
	ids, err := listChatIDs(ctx, r.backend)
	if err != nil {
		return err
	}
	stores := []storage.StoreName{storage.StoreChats, storage.StoreMessages}
	for _, id := range ids {
		var (
			chat *core.Chat
			msgs []*core.Message
		)
		err := r.backend.RunTransaction(ctx, stores, storage.ReadOnly, func(tx *Tx) error {
			var err error
			chat, err = readChat(tx, id)
			if err != nil || chat == nil {
				return err
			}
			msgs, err = readStoredMessages(tx, id, 0, 0)
			return err
		})
		if err != nil {
			return err
		}
		if chat == nil {
			continue
		}
		if err := fn(chat, msgs); err != nil {
			return err
		}
	}
	return nil
}

// ScanMessageKeys returns up to limit message keys strictly after the given key.
func (r *ChatRepository) ScanMessageKeys(ctx context.Context, after *storage.MessageKey, limit int) ([]storage.MessageKey, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	return View(ctx, r.backend, []storage.StoreName{storage.StoreMessages}, func(tx *Tx) ([]storage.MessageKey, error) {
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return nil, err
		}
		c := messages.cursor(nil, false, false)
		defer c.Close()
		if after != nil {
			c.Seek(makeMessageKey(after.ChatID, after.MessageID))
		}
		var keys []storage.MessageKey
		for len(keys) < limit && c.Next() {
			key, ok := parseMessageKey(c.Key())
			if !ok {
				continue
			}
			if after != nil && key == *after {
				continue
			}
			keys = append(keys, key)
		}
		return keys, nil
	})
}

// ConvertInlineImages moves inline image data of the given messages into the
// blob store, in one transaction. Missing messages are skipped.
func (r *ChatRepository) ConvertInlineImages(ctx context.Context, keys []storage.MessageKey) (int, error) {
	stores := []storage.StoreName{storage.StoreMessages, storage.StoreBlobs}
	return Update(ctx, r.backend, stores, func(tx *Tx) (int, error) {
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return 0, err
		}
		changed := 0
		for _, key := range keys {
			msg, err := readMessage(tx, key.ChatID, key.MessageID)
			if err != nil {
				return 0, err
			}
			if msg == nil {
				continue
			}
			batch := NewBlobBatch()
			if !batch.Substitute(msg, msg.ChatID) {
				continue
			}
			if err := persistBlobs(tx, batch, msg.ChatID); err != nil {
				return 0, err
			}
			if err := putMessage(messages, msg); err != nil {
				return 0, err
			}
			changed++
		}
		return changed, nil
	})
}

func readChat(tx *Tx, chatID core.ID) (*core.Chat, error) {
	chats, err := tx.Bucket(storage.StoreChats)
	if err != nil {
		return nil, err
	}
	data, err := chats.Get(makeChatKey(chatID))
	if err != nil || data == nil {
		return nil, err
	}
	return storage.UnmarshalChat(data)
}

func putChat(tx *Tx, chat *core.Chat) error {
	chats, err := tx.Bucket(storage.StoreChats)
	if err != nil {
		return err
	}
	data, err := storage.MarshalChat(chat)
	if err != nil {
		return err
	}
	return chats.Put(makeChatKey(chat.ID), data)
}

// writeChat stores chat and moves its time index entry from old, if any.
func writeChat(tx *Tx, chat, old *core.Chat) error {
	if err := putChat(tx, chat); err != nil {
		return err
	}
	times, err := tx.Bucket(storage.StoreChatTimes)
	if err != nil {
		return err
	}
	if old != nil {
		if err := times.Delete(makeChatTimeKey(old.Timestamp, old.ID)); err != nil {
			return err
		}
	}
	return times.Put(makeChatTimeKey(chat.Timestamp, chat.ID), storage.MarshalID(chat.ID))
}

// touchChat sets the chat's last-modified time.
func touchChat(tx *Tx, chat *core.Chat, now time.Time) error {
	old := *chat
	chat.Timestamp = now
	return writeChat(tx, chat, &old)
}

func deleteChat(tx *Tx, chat *core.Chat) error {
	chats, err := tx.Bucket(storage.StoreChats)
	if err != nil {
		return err
	}
	if err := chats.Delete(makeChatKey(chat.ID)); err != nil {
		return err
	}
	times, err := tx.Bucket(storage.StoreChatTimes)
	if err != nil {
		return err
	}
	return times.Delete(makeChatTimeKey(chat.Timestamp, chat.ID))
}

func putMessage(messages *Bucket, msg *core.Message) error {
	data, err := storage.MarshalMessage(msg)
	if err != nil {
		return err
	}
	return messages.Put(makeMessageKey(msg.ChatID, msg.MessageID), data)
}

// readMessage returns one message as persisted, or nil if absent.
func readMessage(tx *Tx, chatID core.ID, messageID int) (*core.Message, error) {
	messages, err := tx.Bucket(storage.StoreMessages)
	if err != nil {
		return nil, err
	}
	data, err := messages.Get(makeMessageKey(chatID, messageID))
	if err != nil || data == nil {
		return nil, err
	}
	return storage.UnmarshalMessage(data)
}

// readStoredMessages returns up to limit messages of a chat starting at
// start, as persisted. A limit of zero or less reads to the end.
func readStoredMessages(tx *Tx, chatID core.ID, start, limit int) ([]*core.Message, error) {
	messages, err := tx.Bucket(storage.StoreMessages)
	if err != nil {
		return nil, err
	}
	c := messages.Cursor(makeMessagePrefix(chatID))
	defer c.Close()
	if start > 0 {
		c.Seek(makeMessageKey(chatID, start))
	}

	msgs := []*core.Message{}
	for (limit <= 0 || len(msgs) < limit) && c.Next() {
		data, err := c.Value()
		if err != nil {
			return nil, err
		}
		msg, err := storage.UnmarshalMessage(data)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// readResolvedMessages is readStoredMessages with blob hashes resolved to
// inline data.
func readResolvedMessages(tx *Tx, chatID core.ID, start, limit int) ([]*core.Message, error) {
	msgs, err := readStoredMessages(tx, chatID, start, limit)
	if err != nil {
		return nil, err
	}
	resolver, err := newBlobResolver(tx)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if err := resolver.resolveMessage(msg); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// listChatIDs returns every chat ID in ascending order.
func listChatIDs(ctx context.Context, backend *Backend) ([]core.ID, error) {
	return View(ctx, backend, []storage.StoreName{storage.StoreChats}, func(tx *Tx) ([]core.ID, error) {
		chats, err := tx.Bucket(storage.StoreChats)
		if err != nil {
			return nil, err
		}
		keys, err := chats.Keys(nil)
		if err != nil {
			return nil, err
		}
		ids := make([]core.ID, 0, len(keys))
		for _, key := range keys {
			id, err := storage.UnmarshalID(key)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	})
}
