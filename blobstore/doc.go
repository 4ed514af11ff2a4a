// Package blobstore provides archive storage for datafile backups produced
// by a rebuild. The local filesystem and in-memory backends live here; cloud
// backends live in subpackages so their SDKs stay out of the core module.
package blobstore
