package consumers_test

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/captionflow/pkg/consumers"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonDecoder(payload []byte) (*testPayload, error) {
	var p testPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func TestProcessingService_ProcessesMessages(t *testing.T) {
	consumer := NewMockMessageConsumer(10)
	processor := NewMockProcessor[testPayload]()

	service, err := consumers.NewProcessingService[testPayload](2, consumer, processor, jsonDecoder, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, service.Start())

	payload, err := json.Marshal(&testPayload{ID: 101, Data: "hello"})
	require.NoError(t, err)

	var acked atomic.Bool
	consumer.Push(types.ConsumedMessage{ID: "m1", Payload: payload, Ack: func() { acked.Store(true) }})

	require.Eventually(t, acked.Load, time.Second, 10*time.Millisecond, "message should have been acked")
	service.Stop()

	received := processor.Received()
	require.Len(t, received, 1)
	assert.Equal(t, 101, received[0].ID)
	assert.Equal(t, "hello", received[0].Data)
	assert.True(t, processor.Stopped(), "processor should be stopped with the service")
	assert.Equal(t, 1, consumer.StopCalls(), "consumer resources should be released on stop")
}

func TestProcessingService_HandlesDecoderError(t *testing.T) {
	consumer := NewMockMessageConsumer(10)
	processor := NewMockProcessor[testPayload]()
	errorDecoder := func(payload []byte) (*testPayload, error) {
		return nil, errors.New("bad data")
	}

	service, err := consumers.NewProcessingService[testPayload](1, consumer, processor, errorDecoder, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, service.Start())

	var nacked atomic.Bool
	consumer.Push(types.ConsumedMessage{ID: "m2", Payload: []byte("not json"), Nack: func() { nacked.Store(true) }})

	require.Eventually(t, nacked.Load, time.Second, 10*time.Millisecond, "message should be nacked on decode failure")
	service.Stop()
	assert.Empty(t, processor.Received(), "processor should not see a failed message")
}

func TestProcessingService_NilPayloadIsAckedAndSkipped(t *testing.T) {
	consumer := NewMockMessageConsumer(10)
	processor := NewMockProcessor[testPayload]()
	skipDecoder := func(payload []byte) (*testPayload, error) { return nil, nil }

	service, err := consumers.NewProcessingService[testPayload](1, consumer, processor, skipDecoder, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, service.Start())

	var acked atomic.Bool
	consumer.Push(types.ConsumedMessage{ID: "m3", Payload: []byte(`{}`), Ack: func() { acked.Store(true) }})

	require.Eventually(t, acked.Load, time.Second, 10*time.Millisecond)
	service.Stop()
	assert.Empty(t, processor.Received())
}

func TestNewProcessingService_Validation(t *testing.T) {
	consumer := NewMockMessageConsumer(1)
	processor := NewMockProcessor[testPayload]()

	_, err := consumers.NewProcessingService[testPayload](1, nil, processor, jsonDecoder, zerolog.Nop())
	assert.Error(t, err)
	_, err = consumers.NewProcessingService[testPayload](1, consumer, nil, jsonDecoder, zerolog.Nop())
	assert.Error(t, err)
	_, err = consumers.NewProcessingService[testPayload](1, consumer, processor, nil, zerolog.Nop())
	assert.Error(t, err)

	service, err := consumers.NewProcessingService[testPayload](0, consumer, processor, jsonDecoder, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, service)
}
