// Package thumbnail generates media index thumbnails in the background.
//
// A Pipeline receives media entry IDs through Schedule, loads each entry's
// image through the media index, bounds its short edge, re-encodes it as a
// JPEG data URL and patches the entry. Work runs on an ants worker pool and
// never blocks the caller. Failures are logged; an entry without a thumbnail
// stays valid and can be picked up again by Backfill.
package thumbnail
