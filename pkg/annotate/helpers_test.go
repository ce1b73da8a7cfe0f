package annotate_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/illmade-knight/captionflow/pkg/vision"
	"github.com/stretchr/testify/mock"
)

// MockDescriber is a testify mock of vision.Describer.
type MockDescriber struct {
	mock.Mock
}

func (m *MockDescriber) Describe(ctx context.Context, imageURL string) (*vision.ImageDescription, error) {
	args := m.Called(ctx, imageURL)
	desc, _ := args.Get(0).(*vision.ImageDescription)
	return desc, args.Error(1)
}

// memoryWriter is an AnnotationWriter keeping records in a map.
type memoryWriter struct {
	mu      sync.Mutex
	records map[string]types.AnnotationRecord
	writes  int
	err     error
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{records: make(map[string]types.AnnotationRecord)}
}

func (w *memoryWriter) WriteAnnotation(ctx context.Context, id string, rec *types.AnnotationRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.err != nil {
		return w.err
	}
	if _, exists := w.records[id]; !exists {
		w.records[id] = *rec
	}
	return nil
}

func (w *memoryWriter) snapshot() map[string]types.AnnotationRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]types.AnnotationRecord, len(w.records))
	for k, v := range w.records {
		out[k] = v
	}
	return out
}
