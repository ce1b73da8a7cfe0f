package consumers_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/captionflow/pkg/types"
)

// testPayload is a sample data structure used across tests.
type testPayload struct {
	ID   int    `json:"id"`
	Data string `json:"data"`
}

// MockMessageConsumer is a channel-backed MessageConsumer. It stops when the
// context passed to Start is cancelled, as the Pub/Sub consumer does.
type MockMessageConsumer struct {
	mu         sync.Mutex
	messagesCh chan types.ConsumedMessage
	doneCh     chan struct{}
	stopped    bool
	stopCalls  int
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		messagesCh: make(chan types.ConsumedMessage, bufferSize),
		doneCh:     make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan types.ConsumedMessage { return m.messagesCh }

func (m *MockMessageConsumer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.shutdown()
	}()
	return nil
}

func (m *MockMessageConsumer) Stop() error {
	m.mu.Lock()
	m.stopCalls++
	m.mu.Unlock()
	m.shutdown()
	return nil
}

func (m *MockMessageConsumer) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		close(m.messagesCh)
		close(m.doneCh)
		m.stopped = true
	}
}

func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneCh }

func (m *MockMessageConsumer) Push(msg types.ConsumedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.messagesCh <- msg
	}
}

func (m *MockMessageConsumer) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

// MockProcessor records every payload it receives and acks it.
type MockProcessor[T any] struct {
	mu       sync.Mutex
	input    chan *types.BatchedMessage[T]
	wg       sync.WaitGroup
	received []*T
	started  bool
	stopped  bool
}

func NewMockProcessor[T any]() *MockProcessor[T] {
	return &MockProcessor[T]{input: make(chan *types.BatchedMessage[T], 10)}
}

func (p *MockProcessor[T]) Input() chan<- *types.BatchedMessage[T] { return p.input }

func (p *MockProcessor[T]) Start() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range p.input {
			p.mu.Lock()
			p.received = append(p.received, msg.Payload)
			p.mu.Unlock()
			msg.AckOriginal()
		}
	}()
}

func (p *MockProcessor[T]) Stop() {
	close(p.input)
	p.wg.Wait()
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *MockProcessor[T]) Received() []*T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*T, len(p.received))
	copy(out, p.received)
	return out
}

func (p *MockProcessor[T]) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
