package badger

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPNG   = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR4nGP4z8DwHwAFAAH/iZk9HQAAAABJRU5ErkJggg=="
	testGIF   = "data:image/gif;base64,R0lGODlhAQABAIAAAP///wAAACH5BAEAAAAALAAAAAABAAEAAAICRAEAOw=="
	testImage = "data:image/jpeg;base64,/9j/4AAQSkZJRgABAQAAAQABAAD/2wBDAA=="
)

func ms(n int64) time.Time {
	return time.UnixMilli(1_700_000_000_000 + n).UTC()
}

func newTestRepos(t *testing.T, opts ...ChatOption) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func textMessage(role core.Role, text string, at int64) *core.Message {
	return &core.Message{
		Role:      role,
		Timestamp: ms(at),
		Payload:   &core.PlainPayload{Contents: []core.ContentGroup{core.TextGroup(text)}},
	}
}

func imageMessage(img string, at int64) *core.Message {
	msg := textMessage(core.RoleUser, "look at this", at)
	msg.Images = []string{img}
	return msg
}

// withIDs returns copies of msgs carrying the IDs storage assigns.
func withIDs(chatID core.ID, start int, msgs ...*core.Message) []*core.Message {
	out := make([]*core.Message, len(msgs))
	for i, m := range msgs {
		c := m.Clone()
		c.ChatID = chatID
		c.MessageID = start + i
		out[i] = c
	}
	return out
}

func rawMessage(t *testing.T, b *Backend, chatID core.ID, messageID int) []byte {
	t.Helper()
	data, err := View(context.Background(), b, []storage.StoreName{storage.StoreMessages}, func(tx *Tx) ([]byte, error) {
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return nil, err
		}
		return messages.Get(makeMessageKey(chatID, messageID))
	})
	require.NoError(t, err)
	return data
}

func allVariants() []*core.Message {
	system := textMessage(core.RoleSystem, "You are helpful.", 0)

	user := textMessage(core.RoleUser, "Describe these", 1)
	user.Images = []string{testPNG, testGIF}
	user.Files = []core.File{{Name: "notes.txt", Content: "line one\nline two"}}

	plain := &core.Message{
		Role:      core.RoleAssistant,
		Timestamp: ms(2),
		Payload: &core.PlainPayload{Contents: []core.ContentGroup{
			{{Type: core.PartThought, Content: "thinking", Model: "m1"}, {Type: core.PartText, Content: "first try", Model: "m1"}},
			{{Type: core.PartText, Content: "second try"}, {Type: core.PartImage, Content: testImage}},
		}},
	}

	arena := &core.Message{
		Role:      core.RoleAssistant,
		Timestamp: ms(3),
		Payload: &core.ArenaPayload{
			ModelA: core.ArenaResponse{Name: "alpha", Messages: []core.ContentGroup{core.TextGroup("left answer")}},
			ModelB: core.ArenaResponse{Name: "beta", Messages: []core.ContentGroup{
				{{Type: core.PartText, Content: "right answer"}, {Type: core.PartImage, Content: testPNG}},
			}},
			Choice:        core.ArenaModelB,
			ContinuedWith: core.ArenaModelB,
		},
	}

	council := &core.Message{
		Role:      core.RoleAssistant,
		Timestamp: ms(4),
		Payload: &core.CouncilPayload{
			Responses: map[string]core.CouncilResponse{
				"gpt":    {Name: "GPT", Parts: core.TextGroup("member one")},
				"claude": {Name: "Claude", Parts: core.ContentGroup{{Type: core.PartImage, Content: testGIF}}},
			},
			Contents:       []core.ContentGroup{core.TextGroup("synthesis")},
			CollectorModel: "collector",
		},
	}
	return []*core.Message{system, user, plain, arena, council}
}

func TestCreateChat_RoundTrip(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	input := allVariants()
	id, err := repos.Chats.CreateChat(ctx, "Every variant", input, storage.CreateOptions{Timestamp: ms(10)})
	require.NoError(t, err)
	require.NotZero(t, id)

	chat, msgs, err := repos.Chats.LoadChat(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, &core.Chat{ID: id, Title: "Every variant", Timestamp: ms(10)}, chat)
	assert.Equal(t, withIDs(id, 0, allVariants()...), msgs)

	// The caller's messages are left untouched.
	assert.Equal(t, allVariants(), input)

	// Three distinct images, each stored once.
	hashes, err := repos.Blobs.ScanBlobHashes(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
}

func TestCreateChat_ConcreteImageScenario(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	msg := &core.Message{
		Role:    core.RoleUser,
		Payload: &core.PlainPayload{Contents: []core.ContentGroup{{{Type: core.PartText, Content: "Hi"}}}},
		Images:  []string{testPNG},
	}
	id, err := repos.Chats.CreateChat(ctx, "Hi", []*core.Message{msg}, storage.CreateOptions{})
	require.NoError(t, err)

	_, msgs, err := repos.Chats.LoadChat(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, testPNG, msgs[0].Images[0])

	hashes, err := repos.Blobs.ScanBlobHashes(ctx, "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{core.BlobHash(testPNG)}, hashes)

	blob, err := repos.Blobs.GetBlob(ctx, hashes[0])
	require.NoError(t, err)
	assert.Equal(t, testPNG, blob.Data)
	assert.Equal(t, core.NewOwnerSet(id), blob.Owners)

	// The persisted record holds the hash, never the inline data.
	err = repos.Chats.ForEachStoredChat(ctx, func(chat *core.Chat, stored []*core.Message) error {
		assert.Equal(t, []string{core.BlobHash(testPNG)}, stored[0].Images)
		return nil
	})
	require.NoError(t, err)
}

func TestBlobReferenceCounting(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	hash := core.BlobHash(testPNG)

	a, err := repos.Chats.CreateChat(ctx, "a", []*core.Message{imageMessage(testPNG, 0)}, storage.CreateOptions{})
	require.NoError(t, err)
	b, err := repos.Chats.CreateChat(ctx, "b", []*core.Message{imageMessage(testPNG, 0), imageMessage(testPNG, 1)}, storage.CreateOptions{})
	require.NoError(t, err)

	hashes, err := repos.Blobs.ScanBlobHashes(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, hashes)

	blob, err := repos.Blobs.GetBlob(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, core.NewOwnerSet(a, b), blob.Owners)

	require.NoError(t, repos.Chats.DeleteChat(ctx, a))
	blob, err = repos.Blobs.GetBlob(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, core.NewOwnerSet(b), blob.Owners)

	require.NoError(t, repos.Chats.DeleteChat(ctx, b))
	blob, err = repos.Blobs.GetBlob(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestCreateChat_Atomicity(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	msgs := []*core.Message{
		imageMessage(testPNG, 0),
		textMessage(core.RoleAssistant, "fine", 1),
		{Role: "narrator", Payload: &core.PlainPayload{}},
		textMessage(core.RoleUser, "never written", 3),
	}
	_, err := repos.Chats.CreateChat(ctx, "doomed", msgs, storage.CreateOptions{})
	require.ErrorIs(t, err, core.ErrInvalidMessage)
	assert.ErrorIs(t, err, core.ErrInvalidRole)

	stats, err := repos.Backend.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chats)
	assert.Zero(t, stats.Messages)
	assert.Zero(t, stats.Blobs)
	assert.Zero(t, stats.SearchDocs)
	assert.Zero(t, stats.MediaEntries)

	chats, err := repos.Chats.ListChats(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestUpdateMessage_LeavesNeighborsUntouched(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "three", []*core.Message{
		textMessage(core.RoleUser, "question", 0),
		textMessage(core.RoleAssistant, "draft", 1),
		textMessage(core.RoleUser, "follow up", 2),
	}, storage.CreateOptions{})
	require.NoError(t, err)

	before0 := rawMessage(t, repos.Backend, id, 0)
	before2 := rawMessage(t, repos.Backend, id, 2)

	for _, text := range []string{"revised once", "revised twice"} {
		update := textMessage(core.RoleAssistant, text, 5)
		require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 1, update, storage.UpdateOptions{}))

		assert.Equal(t, before0, rawMessage(t, repos.Backend, id, 0))
		assert.Equal(t, before2, rawMessage(t, repos.Backend, id, 2))

		got, err := repos.Chats.GetMessage(ctx, id, 1)
		require.NoError(t, err)
		assert.Equal(t, core.TextGroup(text), got.CurrentContent())
	}
}

func TestUpdateMessage_Errors(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "one", []*core.Message{textMessage(core.RoleUser, "q", 0)}, storage.CreateOptions{})
	require.NoError(t, err)

	err = repos.Chats.UpdateMessage(ctx, id, 5, textMessage(core.RoleUser, "x", 0), storage.UpdateOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = repos.Chats.UpdateMessage(ctx, id+100, 0, textMessage(core.RoleUser, "x", 0), storage.UpdateOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = repos.Chats.UpdateMessage(ctx, id, 0, &core.Message{Role: core.RoleUser}, storage.UpdateOptions{})
	assert.ErrorIs(t, err, core.ErrMissingPayload)
}

func TestUpdateMessage_SearchModes(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "Search", []*core.Message{
		textMessage(core.RoleUser, "Alpha", 0),
		textMessage(core.RoleAssistant, "Beta", 1),
	}, storage.CreateOptions{})
	require.NoError(t, err)

	content := func() string {
		doc, err := repos.Search.GetSearchDoc(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, doc)
		return doc.Content
	}
	assert.Equal(t, "alpha beta", content())

	require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 1, textMessage(core.RoleAssistant, "Gamma", 1),
		storage.UpdateOptions{SkipSearchRefresh: true}))
	assert.Equal(t, "alpha beta", content())

	require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 1, textMessage(core.RoleAssistant, "Délta", 1),
		storage.UpdateOptions{AppendSearch: true}))
	assert.Equal(t, "alpha beta delta", content())

	require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 1, textMessage(core.RoleAssistant, "Epsilon", 1),
		storage.UpdateOptions{}))
	assert.Equal(t, "alpha epsilon", content())

	regen := func(groups ...string) *core.Message {
		msg := textMessage(core.RoleAssistant, groups[0], 1)
		for _, g := range groups[1:] {
			msg.Payload.(*core.PlainPayload).Contents = append(msg.Payload.(*core.PlainPayload).Contents, core.TextGroup(g))
		}
		return msg
	}
	require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 1, regen("Epsilon", "Zeta"),
		storage.UpdateOptions{AppendSearch: true}))
	assert.Equal(t, "alpha epsilon zeta", content())
	require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 1, regen("Epsilon", "Zeta", "Eta"),
		storage.UpdateOptions{AppendSearch: true}))
	assert.Equal(t, "alpha epsilon zeta eta", content(), "regenerations append only their new text")
}

func TestUpdateMessage_ReleasesReplacedImages(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "img", []*core.Message{
		imageMessage(testPNG, 0),
		imageMessage(testGIF, 1),
	}, storage.CreateOptions{})
	require.NoError(t, err)

	// testGIF is still used by message 1, testPNG only by message 0.
	require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 0, imageMessage(testGIF, 0), storage.UpdateOptions{}))

	png, err := repos.Blobs.GetBlob(ctx, core.BlobHash(testPNG))
	require.NoError(t, err)
	assert.Nil(t, png)

	gif, err := repos.Blobs.GetBlob(ctx, core.BlobHash(testGIF))
	require.NoError(t, err)
	require.NotNil(t, gif)
	assert.Equal(t, core.NewOwnerSet(id), gif.Owners)
}

func TestAppendMessages(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "grow", []*core.Message{textMessage(core.RoleUser, "one", 0)},
		storage.CreateOptions{Timestamp: ms(0)})
	require.NoError(t, err)

	require.NoError(t, repos.Chats.AppendMessages(ctx, id, []*core.Message{
		textMessage(core.RoleAssistant, "two", 1),
		textMessage(core.RoleUser, "three", 2),
	}, 1))

	chat, msgs, err := repos.Chats.LoadChat(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, i, m.MessageID)
	}
	assert.True(t, chat.Timestamp.After(ms(0)), "append updates the chat timestamp")

	doc, err := repos.Search.GetSearchDoc(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "one two three", doc.Content)
	assert.Equal(t, chat.Timestamp, doc.Timestamp)

	t.Run("gap", func(t *testing.T) {
		err := repos.Chats.AppendMessages(ctx, id, []*core.Message{textMessage(core.RoleUser, "x", 9)}, 5)
		assert.ErrorIs(t, err, core.ErrNonContiguous)
	})

	t.Run("overlap", func(t *testing.T) {
		err := repos.Chats.AppendMessages(ctx, id, []*core.Message{textMessage(core.RoleUser, "x", 9)}, 2)
		assert.ErrorIs(t, err, core.ErrNonContiguous)
	})

	t.Run("missing chat", func(t *testing.T) {
		err := repos.Chats.AppendMessages(ctx, id+100, []*core.Message{textMessage(core.RoleUser, "x", 9)}, 0)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("falls back to recompute without a search doc", func(t *testing.T) {
		err := repos.Backend.RunTransaction(ctx, []storage.StoreName{storage.StoreSearch}, storage.ReadWrite, func(tx *Tx) error {
			docs, err := tx.Bucket(storage.StoreSearch)
			if err != nil {
				return err
			}
			return docs.Delete(makeSearchKey(id))
		})
		require.NoError(t, err)

		require.NoError(t, repos.Chats.AppendMessages(ctx, id, []*core.Message{textMessage(core.RoleAssistant, "four", 3)}, 3))

		doc, err := repos.Search.GetSearchDoc(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "one two three four", doc.Content)
		assert.Equal(t, "grow", doc.SearchTitle)
	})
}

func TestReadPaths(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	var input []*core.Message
	for i := range 6 {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		input = append(input, textMessage(role, "m", int64(i)))
	}
	id, err := repos.Chats.CreateChat(ctx, "reads", input, storage.CreateOptions{})
	require.NoError(t, err)

	t.Run("load with limit returns the tail", func(t *testing.T) {
		_, msgs, err := repos.Chats.LoadChat(ctx, id, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, 4, msgs[0].MessageID)
		assert.Equal(t, 5, msgs[1].MessageID)
	})

	t.Run("get messages window", func(t *testing.T) {
		msgs, err := repos.Chats.GetMessages(ctx, id, 2, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, 2, msgs[0].MessageID)
		assert.Equal(t, 4, msgs[2].MessageID)

		msgs, err = repos.Chats.GetMessages(ctx, id, 4, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)

		_, err = repos.Chats.GetMessages(ctx, id, -1, 0)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})

	t.Run("missing records read as absent", func(t *testing.T) {
		chat, msgs, err := repos.Chats.LoadChat(ctx, id+100, 0)
		require.NoError(t, err)
		assert.Nil(t, chat)
		assert.Nil(t, msgs)

		msg, err := repos.Chats.GetMessage(ctx, id, 99)
		require.NoError(t, err)
		assert.Nil(t, msg)

		got, err := repos.Chats.GetChat(ctx, id+100)
		require.NoError(t, err)
		assert.Nil(t, got)

		msgs, err = repos.Chats.GetMessages(ctx, id+100, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestDeleteChat_Cascades(t *testing.T) {
	bus := storage.NewBus(nil)
	var events []storage.Event
	bus.Subscribe(func(e storage.Event) { events = append(events, e) })

	repos := newTestRepos(t, WithNotifier(bus))
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "gone soon", []*core.Message{imageMessage(testPNG, 0)}, storage.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, repos.Chats.DeleteChat(ctx, id))

	chat, err := repos.Chats.GetChat(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, chat)

	stats, err := repos.Backend.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chats)
	assert.Zero(t, stats.Messages)
	assert.Zero(t, stats.Blobs)
	assert.Zero(t, stats.SearchDocs)
	assert.Zero(t, stats.MediaEntries)

	chats, err := repos.Chats.ListChats(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, chats)

	// Deleting again is a no-op and emits nothing.
	require.NoError(t, repos.Chats.DeleteChat(ctx, id))

	require.Len(t, events, 2)
	assert.Equal(t, storage.EventNewChatSaved, events[0].Type)
	assert.Equal(t, storage.EventChatDeleted, events[1].Type)
	assert.Equal(t, id, events[1].ChatID)
}

func TestRenameChat(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "Untitled", []*core.Message{textMessage(core.RoleUser, "hello", 0)},
		storage.CreateOptions{Timestamp: ms(100)})
	require.NoError(t, err)

	require.NoError(t, repos.Chats.RenameChat(ctx, id, "Café  Notes"))

	chat, err := repos.Chats.GetChat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Café  Notes", chat.Title)
	assert.True(t, chat.Renamed)
	assert.Equal(t, ms(100), chat.Timestamp)

	doc, err := repos.Search.GetSearchDoc(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cafe notes", doc.SearchTitle)
	assert.Equal(t, "hello", doc.Content)

	assert.ErrorIs(t, repos.Chats.RenameChat(ctx, id+100, "x"), storage.ErrNotFound)
}

func TestSetContinuedFrom(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	a, err := repos.Chats.CreateChat(ctx, "a", nil, storage.CreateOptions{})
	require.NoError(t, err)
	b, err := repos.Chats.CreateChat(ctx, "b", nil, storage.CreateOptions{ContinuedFrom: a})
	require.NoError(t, err)

	chat, err := repos.Chats.GetChat(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, a, chat.ContinuedFrom)

	require.NoError(t, repos.Chats.SetContinuedFrom(ctx, b, 0))
	chat, err = repos.Chats.GetChat(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, chat.ContinuedFrom)

	assert.ErrorIs(t, repos.Chats.SetContinuedFrom(ctx, b+100, a), storage.ErrNotFound)
}

func TestListChats(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	ids := make(map[string]core.ID)
	for i, title := range []string{"old", "newest", "middle"} {
		at := map[string]int64{"old": 0, "middle": 50, "newest": 100}[title]
		id, err := repos.Chats.CreateChat(ctx, title, nil, storage.CreateOptions{Timestamp: ms(at)})
		require.NoError(t, err, i)
		ids[title] = id
	}

	chats, err := repos.Chats.ListChats(ctx, 0)
	require.NoError(t, err)
	require.Len(t, chats, 3)
	assert.Equal(t, []string{"newest", "middle", "old"}, []string{chats[0].Title, chats[1].Title, chats[2].Title})

	chats, err = repos.Chats.ListChats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, ids["newest"], chats[0].ID)

	// Appending moves a chat to the front.
	require.NoError(t, repos.Chats.AppendMessages(ctx, ids["old"], []*core.Message{textMessage(core.RoleUser, "bump", 0)}, 0))
	chats, err = repos.Chats.ListChats(ctx, 0)
	require.NoError(t, err)
	require.Len(t, chats, 3)
	assert.Equal(t, ids["old"], chats[0].ID)
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []core.ID
}

func (s *recordingScheduler) Schedule(ids ...core.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, ids...)
}

func TestMediaIndex(t *testing.T) {
	scheduler := &recordingScheduler{}
	repos := newTestRepos(t, WithThumbnailScheduler(scheduler))
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "media", allVariants(), storage.CreateOptions{})
	require.NoError(t, err)

	// user images (2), plain content image (1), arena image (1); council is not indexed
	entries, err := repos.Media.ListMedia(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Len(t, scheduler.ids, 4)

	for _, e := range entries {
		assert.Equal(t, id, e.ChatID)
		assert.False(t, e.HasThumbnail())
	}
	assert.Greater(t, entries[0].ID, entries[3].ID, "newest first")

	images := make(map[core.LocatorKind][]string)
	for _, e := range entries {
		img, err := repos.Media.GetMediaImage(ctx, e.ID)
		require.NoError(t, err)
		images[e.Locator.Kind] = append(images[e.Locator.Kind], img)
	}
	assert.ElementsMatch(t, []string{testPNG, testGIF}, images[core.LocatorUserImage])
	assert.Equal(t, []string{testImage}, images[core.LocatorContent])
	assert.Equal(t, []string{testPNG}, images[core.LocatorArena])

	t.Run("paging", func(t *testing.T) {
		page, err := repos.Media.ListMedia(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, entries[1].ID, page[0].ID)
		assert.Equal(t, entries[2].ID, page[1].ID)
	})

	t.Run("thumbnails", func(t *testing.T) {
		missing, err := repos.Media.MissingThumbnails(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, missing, 4)

		require.NoError(t, repos.Media.SetThumbnail(ctx, missing[0], "data:image/jpeg;base64,AAAA", 16, 8))
		require.NoError(t, repos.Media.SetThumbnail(ctx, 999_999, "x", 1, 1), "missing entries are ignored")

		entry, err := repos.Media.GetMediaEntry(ctx, missing[0])
		require.NoError(t, err)
		assert.True(t, entry.HasThumbnail())
		assert.Equal(t, 16, entry.Width)
		assert.Equal(t, 8, entry.Height)

		missing, err = repos.Media.MissingThumbnails(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, missing, 2)
	})

	t.Run("update reindexes the message", func(t *testing.T) {
		require.NoError(t, repos.Chats.UpdateMessage(ctx, id, 1, textMessage(core.RoleUser, "no images now", 1), storage.UpdateOptions{}))
		entries, err := repos.Media.ListMedia(ctx, 0, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
		for _, e := range entries {
			assert.NotEqual(t, core.LocatorUserImage, e.Locator.Kind)
		}
	})

	t.Run("rebuild", func(t *testing.T) {
		n, err := repos.Media.RebuildMedia(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		missing, err := repos.Media.MissingThumbnails(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, missing, 2)
	})

	t.Run("stale entry reads as empty", func(t *testing.T) {
		img, err := repos.Media.GetMediaImage(ctx, 999_999)
		require.NoError(t, err)
		assert.Empty(t, img)
	})
}

func TestSearchRepository_Rebuild(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	a, err := repos.Chats.CreateChat(ctx, "A", []*core.Message{textMessage(core.RoleUser, "first", 0)}, storage.CreateOptions{})
	require.NoError(t, err)
	_, err = repos.Chats.CreateChat(ctx, "B", []*core.Message{textMessage(core.RoleUser, "second", 0)}, storage.CreateOptions{})
	require.NoError(t, err)

	// An orphan document and a stale one.
	err = repos.Backend.RunTransaction(ctx, []storage.StoreName{storage.StoreSearch}, storage.ReadWrite, func(tx *Tx) error {
		docs, err := tx.Bucket(storage.StoreSearch)
		if err != nil {
			return err
		}
		if err := writeSearchDoc(docs, &core.SearchDoc{ChatID: 424242, Content: "orphan"}); err != nil {
			return err
		}
		return writeSearchDoc(docs, &core.SearchDoc{ChatID: a, Content: "stale"})
	})
	require.NoError(t, err)

	n, err := repos.Search.RebuildSearch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var contents []string
	err = repos.Search.ForEachSearchDoc(ctx, func(doc *core.SearchDoc) bool {
		contents = append(contents, doc.Content)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, contents)

	visited := 0
	err = repos.Search.ForEachSearchDoc(ctx, func(*core.SearchDoc) bool {
		visited++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}

// putInlineMessage writes a message record without blob substitution, the
// way messages were stored before the blob store existed.
func putInlineMessage(t *testing.T, b *Backend, msg *core.Message) {
	t.Helper()
	err := b.RunTransaction(context.Background(), []storage.StoreName{storage.StoreMessages}, storage.ReadWrite, func(tx *Tx) error {
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return err
		}
		return putMessage(messages, msg)
	})
	require.NoError(t, err)
}

func TestConvertInlineImages(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "inline", []*core.Message{textMessage(core.RoleUser, "x", 0)}, storage.CreateOptions{})
	require.NoError(t, err)
	inline := imageMessage(testPNG, 1)
	inline.ChatID = id
	inline.MessageID = 1
	putInlineMessage(t, repos.Backend, inline)

	keys, err := repos.Chats.ScanMessageKeys(ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []storage.MessageKey{{ChatID: id, MessageID: 0}, {ChatID: id, MessageID: 1}}, keys)

	after, err := repos.Chats.ScanMessageKeys(ctx, &keys[0], 10)
	require.NoError(t, err)
	assert.Equal(t, keys[1:], after)

	_, err = repos.Chats.ScanMessageKeys(ctx, nil, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	n, err := repos.Chats.ConvertInlineImages(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	blob, err := repos.Blobs.GetBlob(ctx, core.BlobHash(testPNG))
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, core.NewOwnerSet(id), blob.Owners)

	msg, err := repos.Chats.GetMessage(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{testPNG}, msg.Images)

	n, err = repos.Chats.ConvertInlineImages(ctx, keys)
	require.NoError(t, err)
	assert.Zero(t, n, "already converted")
}

func TestReconcileBlobs(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "kept", []*core.Message{imageMessage(testPNG, 0)}, storage.CreateOptions{})
	require.NoError(t, err)

	// A stale owner on a live blob and a blob nothing references.
	err = repos.Backend.RunTransaction(ctx, []storage.StoreName{storage.StoreBlobs}, storage.ReadWrite, func(tx *Tx) error {
		batch := NewBlobBatch()
		batch.Register(core.BlobHash(testPNG), testPNG, 777)
		batch.Register(core.BlobHash(testGIF), testGIF, 888)
		return persistBlobs(tx, batch, 0)
	})
	require.NoError(t, err)

	result, err := repos.Blobs.ReconcileBlobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ReconcileResult{Scanned: 2, OwnersRemoved: 2, BlobsDeleted: 1}, result)

	blob, err := repos.Blobs.GetBlob(ctx, core.BlobHash(testPNG))
	require.NoError(t, err)
	assert.Equal(t, core.NewOwnerSet(id), blob.Owners)

	gone, err := repos.Blobs.GetBlob(ctx, core.BlobHash(testGIF))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBlobRepository_ReplaceBlobData(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "repair", []*core.Message{imageMessage(testPNG+"oops", 0)}, storage.CreateOptions{})
	require.NoError(t, err)
	hash := core.BlobHash(testPNG + "oops")

	require.NoError(t, repos.Blobs.ReplaceBlobData(ctx, hash, testPNG))

	msg, err := repos.Chats.GetMessage(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{testPNG}, msg.Images)

	assert.ErrorIs(t, repos.Blobs.ReplaceBlobData(ctx, "missing", "x"), storage.ErrNotFound)
}

func TestResolveMissingBlob(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	id, err := repos.Chats.CreateChat(ctx, "lost", []*core.Message{imageMessage(testPNG, 0)}, storage.CreateOptions{})
	require.NoError(t, err)

	err = repos.Backend.RunTransaction(ctx, []storage.StoreName{storage.StoreBlobs}, storage.ReadWrite, func(tx *Tx) error {
		blobs, err := tx.Bucket(storage.StoreBlobs)
		if err != nil {
			return err
		}
		return blobs.Delete(makeBlobKey(core.BlobHash(testPNG)))
	})
	require.NoError(t, err)

	msg, err := repos.Chats.GetMessage(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{core.BlobHash(testPNG)}, msg.Images, "a lost blob reads as its hash")
}

func TestCreateChat_HashReferenceJoinsOwners(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	hash := core.BlobHash(testPNG)

	original, err := repos.Chats.CreateChat(ctx, "original", []*core.Message{imageMessage(testPNG, 0)}, storage.CreateOptions{})
	require.NoError(t, err)
	copied, err := repos.Chats.CreateChat(ctx, "copy", []*core.Message{
		imageMessage(hash, 0),
		imageMessage(core.BlobHash(testGIF), 1),
	}, storage.CreateOptions{})
	require.NoError(t, err)

	blob, err := repos.Blobs.GetBlob(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, core.NewOwnerSet(original, copied), blob.Owners)

	dangling, err := repos.Blobs.GetBlob(ctx, core.BlobHash(testGIF))
	require.NoError(t, err)
	assert.Nil(t, dangling, "a reference to an unknown hash creates no blob")

	require.NoError(t, repos.Chats.DeleteChat(ctx, original))
	msg, err := repos.Chats.GetMessage(ctx, copied, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{testPNG}, msg.Images)

	require.NoError(t, repos.Chats.DeleteChat(ctx, copied))
	blob, err = repos.Blobs.GetBlob(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestMigrator_TransformsLegacyMessages(t *testing.T) {
	backend := openTestBackend(t)
	ctx := context.Background()

	const chatID = core.ID(1)
	legacy := []string{
		`{"chatId":1,"messageId":0,"role":"user","timestamp":1000,"content":"Tell me a joke","images":["` + testPNG + `"]}`,
		`{"chatId":1,"messageId":1,"role":"assistant","timestamp":2000,"content":"joke one","model":"m"}`,
		`{"chatId":1,"messageId":2,"role":"assistant","timestamp":3000,"content":"joke two","model":"m"}`,
		`{"chatId":1,"messageId":3,"role":"assistant","timestamp":4000,"content":"joke three","model":"m"}`,
		`{"chatId":1,"messageId":4,"role":"assistant","timestamp":5000,"type":"arena","choice":"model_a",` +
			`"responses":{"model_a":{"name":"A","messages":["left"]},"model_b":{"name":"B","messages":["right"]}}}`,
	}
	err := backend.RunTransaction(ctx, storage.AllStores, storage.ReadWrite, func(tx *Tx) error {
		if err := writeChat(tx, &core.Chat{ID: chatID, Title: "Jokes", Timestamp: ms(0)}, nil); err != nil {
			return err
		}
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return err
		}
		for i, rec := range legacy {
			if err := messages.Put(makeMessageKey(chatID, i), []byte(rec)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	from, to, err := NewMigrator(backend).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, from)
	assert.Equal(t, SchemaVersion, to)

	chats := NewChatRepository(backend)
	_, msgs, err := chats.LoadChat(ctx, chatID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, []string{testPNG}, msgs[0].Images)

	plain, ok := msgs[1].Payload.(*core.PlainPayload)
	require.True(t, ok)
	require.Len(t, plain.Contents, 3)
	for i, want := range []string{"joke one", "joke two", "joke three"} {
		require.Len(t, plain.Contents[i], 1)
		assert.Equal(t, want, plain.Contents[i][0].Content)
		assert.Equal(t, core.PartText, plain.Contents[i][0].Type)
	}

	arena, ok := msgs[2].Payload.(*core.ArenaPayload)
	require.True(t, ok)
	assert.Equal(t, 2, msgs[2].MessageID)
	assert.Equal(t, []core.ContentGroup{core.TextGroup("left")}, arena.ModelA.Messages)
	assert.Equal(t, []core.ContentGroup{core.TextGroup("right")}, arena.ModelB.Messages)
	assert.Equal(t, core.ArenaModelA, arena.Choice)

	stats, err := backend.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, 1, stats.SearchDocs)
	assert.Equal(t, 1, stats.MediaEntries)
	assert.Zero(t, stats.Blobs, "inline images are left to the background sweep")

	doc, err := NewSearchRepository(backend).GetSearchDoc(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "tell me a joke joke one joke two joke three left right", doc.Content)
}

// distinctImage returns a PNG data URL of roughly size encoded bytes whose
// content depends on seed.
func distinctImage(seed byte, size int) string {
	raw := bytes.Repeat([]byte{seed}, size*3/4)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
}

func TestCreateChat_ManyLargeImagesOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	_, _, err = NewMigrator(backend).Run(ctx)
	require.NoError(t, err)
	chats := NewChatRepository(backend)

	// About 14 MiB of image data in one transaction, more than Badger's
	// batch limit if the values were kept in the LSM tree.
	var messages []*core.Message
	for i := range 24 {
		messages = append(messages, imageMessage(distinctImage(byte(i+1), 600<<10), int64(i)))
	}
	chatID, err := chats.CreateChat(ctx, "album", messages, storage.CreateOptions{Timestamp: ms(0)})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	_, loaded, err := NewChatRepository(backend).LoadChat(ctx, chatID, 0)
	require.NoError(t, err)
	require.Len(t, loaded, len(messages))
	for i, msg := range loaded {
		assert.Equal(t, messages[i].Images, msg.Images, "message %d", i)
	}
}

func TestCreateChat_InMemoryValueLimit(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	big := distinctImage(7, 3*MaxMemoryValueSize/2)
	_, err := repos.Chats.CreateChat(ctx, "too big", []*core.Message{imageMessage(big, 0)}, storage.CreateOptions{})
	assert.ErrorIs(t, err, storage.ErrValueTooLarge)

	chats, err := repos.Chats.ListChats(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, chats, "a rejected chat leaves nothing behind")

	// Images under the limit still fit.
	_, err = repos.Chats.CreateChat(ctx, "fits", []*core.Message{imageMessage(distinctImage(8, 600<<10), 0)}, storage.CreateOptions{})
	assert.NoError(t, err)
}
