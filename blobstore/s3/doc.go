// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("backups/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	result, err := docgo.Rebuild(ctx, "data.db", docgo.WithArchive(store))
//
// # Features
//
//   - Multipart uploads for large datafiles
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
