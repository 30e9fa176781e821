package bridge_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/illmade-knight/go-sensorbridge/pkg/messagepipeline"
)

type mockConsumer struct {
	msgChan  chan messagepipeline.Message
	doneChan chan struct{}
	stopOnce sync.Once
	startErr error
}

func newMockConsumer() *mockConsumer {
	return &mockConsumer{
		msgChan:  make(chan messagepipeline.Message, 10),
		doneChan: make(chan struct{}),
	}
}

func (m *mockConsumer) Messages() <-chan messagepipeline.Message { return m.msgChan }
func (m *mockConsumer) Start(_ context.Context) error { return m.startErr }
func (m *mockConsumer) Done() <-chan struct{} { return m.doneChan }

func (m *mockConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

func (m *mockConsumer) Push(msg messagepipeline.Message) { m.msgChan <- msg }

type storedDoc struct {
	database   string
	collection string
	doc        ingestion.Document
}

type mockStore struct {
	mu      sync.Mutex
	docs    []storedDoc
	closed  bool
	inserts chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{inserts: make(chan struct{}, 10)}
}

func (m *mockStore) InsertOne(_ context.Context, database, collection string, doc ingestion.Document) (string, error) {
	m.mu.Lock()
	m.docs = append(m.docs, storedDoc{database: database, collection: collection, doc: doc})
	m.mu.Unlock()
	m.inserts <- struct{}{}
	return "id-1", nil
}

func (m *mockStore) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) Docs() []storedDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storedDoc(nil), m.docs...)
}

func (m *mockStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockDeadLetters struct {
	mu      sync.Mutex
	letters []ingestion.DeadLetter
}

func (m *mockDeadLetters) Archive(_ context.Context, letter ingestion.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, letter)
	return nil
}

func (m *mockDeadLetters) Letters() []ingestion.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ingestion.DeadLetter(nil), m.letters...)
}
