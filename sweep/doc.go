// Package sweep provides batch passes over a whole chat store.
//
// BlobMigrator is the background sweep that converts message records still
// holding inline image data into blob references. It walks the message store
// in key order, one transaction per batch, records a checkpoint after every
// batch so an interrupted sweep resumes where it stopped, and keeps going when
// a batch fails. Its lifecycle is an explicit State owned by the caller.
//
// Maintainer repairs damaged blob payloads in place and reconciles blob owner
// sets. ProgressTracker and RetryWithBackoff are shared by both.
package sweep
