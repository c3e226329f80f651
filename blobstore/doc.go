// Package blobstore provides the durable storage the media cache persists to.
//
// A Storage holds opaque blobs by name with read/write/remove semantics and
// no transactions. Backends:
//
//   - memory: process-local map, for tests and ephemeral clients
//   - file:   one file per name in a directory, replaced atomically
//   - sqlite: a single blobs table (modernc.org/sqlite, no cgo)
//   - redis:  string keys under a prefix (go-redis)
//   - s3:     objects under a prefix in a bucket (minio-go)
//
// Use Open to build a backend from Config.
package blobstore
