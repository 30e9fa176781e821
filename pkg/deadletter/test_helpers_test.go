package deadletter_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/illmade-knight/go-sensorbridge/pkg/deadletter"
)

type mockGCSWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	closeErr error
}

func (m *mockGCSWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.closeErr
}

func (m *mockGCSWriter) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf.Bytes()...)
}

type mockGCSObjectHandle struct {
	writer      *mockGCSWriter
	contentType string
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context, contentType string) io.WriteCloser {
	m.contentType = contentType
	return m.writer
}

type mockGCSBucketHandle struct {
	mu       sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	closeErr error
}

func (m *mockGCSBucketHandle) Object(name string) deadletter.GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{writer: &mockGCSWriter{closeErr: m.closeErr}}
	}
	return m.objects[name]
}

type mockGCSClient struct {
	mu      sync.Mutex
	buckets map[string]*mockGCSBucketHandle
	failAll error
}

func newMockGCSClient(closeErr error) *mockGCSClient {
	return &mockGCSClient{buckets: make(map[string]*mockGCSBucketHandle), failAll: closeErr}
}

func (m *mockGCSClient) Bucket(name string) deadletter.GCSBucketHandle {
	return m.bucket(name)
}

func (m *mockGCSClient) bucket(name string) *mockGCSBucketHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		b = &mockGCSBucketHandle{closeErr: m.failAll}
		m.buckets[name] = b
	}
	return b
}
