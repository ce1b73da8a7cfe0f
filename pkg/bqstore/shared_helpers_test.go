package bqstore_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/captionflow/pkg/types"
)

// MockDataBatchInserter records every batch it receives.
type MockDataBatchInserter[T any] struct {
	mu            sync.Mutex
	InsertBatchFn func(ctx context.Context, items []*T) error
	closed        bool
	receivedItems [][]*T
}

func (m *MockDataBatchInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	itemsCopy := make([]*T, len(items))
	copy(itemsCopy, items)
	m.receivedItems = append(m.receivedItems, itemsCopy)
	if m.InsertBatchFn != nil {
		return m.InsertBatchFn(ctx, items)
	}
	return nil
}

func (m *MockDataBatchInserter[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockDataBatchInserter[T]) GetReceivedItems() [][]*T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedItems
}

func (m *MockDataBatchInserter[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// trackedMessage builds a message whose ack and nack land on the given channels.
func trackedMessage(id string, acks, nacks chan string) types.ConsumedMessage {
	return types.ConsumedMessage{
		ID:   id,
		Ack:  func() { acks <- id },
		Nack: func() { nacks <- id },
	}
}
