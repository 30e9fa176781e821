package deadletter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// The interfaces below cover the slice of *storage.Client the archiver uses,
// so it can be tested against an in-memory bucket.

// GCSClient abstracts *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context, contentType string) io.WriteCloser
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter wraps a concrete storage client.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectAdapter{handle: a.handle.Object(name)}
}

type gcsObjectAdapter struct {
	handle *storage.ObjectHandle
}

// NewWriter returns a *storage.Writer. The object only becomes visible once
// the writer is closed without error.
func (a *gcsObjectAdapter) NewWriter(ctx context.Context, contentType string) io.WriteCloser {
	w := a.handle.NewWriter(ctx)
	w.ContentType = contentType
	return w
}
