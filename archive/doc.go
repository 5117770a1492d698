// Package archive reads and writes the portable chat archive.
//
// An archive is one JSON document holding every chat in its persisted form
// plus the blobs those chats reference:
//
//	{"exportedAt": ..., "schemaVersion": 5,
//	 "chats": {"<chatId>": {...chat metadata, "messages": [...]}},
//	 "blobs": {"<hash>": "data:image/png;base64,..."}}
//
// Import skips chats that already exist, judged by their (title, timestamp)
// fingerprint, so re-importing an unchanged export is a no-op. Chats that
// are inserted get new IDs and their continuedFromChatId references are
// remapped afterwards. Archives written before the blob store existed carry
// legacy message records and inline images; both are converted on import.
package archive
