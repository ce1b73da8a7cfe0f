package hub_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/captionflow/pkg/hub"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeBroadcaster struct {
	mu   sync.Mutex
	got  []*types.BroadcastMessage
	fail bool
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, msg *types.BroadcastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broadcast failed")
	}
	f.got = append(f.got, msg)
	return nil
}

func TestRelay_ForwardsAndAcks(t *testing.T) {
	target := &fakeBroadcaster{}
	relay := hub.NewRelay(target, zerolog.Nop())
	relay.Start()

	var acked, nacked int
	var mu sync.Mutex
	for _, id := range []string{"m1", "m2"} {
		relay.Input() <- &types.BatchedMessage[types.BroadcastMessage]{
			OriginalMessage: types.ConsumedMessage{
				ID:   id,
				Ack:  func() { mu.Lock(); acked++; mu.Unlock() },
				Nack: func() { mu.Lock(); nacked++; mu.Unlock() },
			},
			Payload: &types.BroadcastMessage{Target: types.TargetNewMessage, Arguments: []string{id}},
		}
	}
	relay.Stop()

	assert.Equal(t, 2, acked)
	assert.Equal(t, 0, nacked)
	if assert.Len(t, target.got, 2) {
		assert.Equal(t, []string{"m1"}, target.got[0].Arguments)
		assert.Equal(t, []string{"m2"}, target.got[1].Arguments)
	}
}

func TestRelay_NacksOnFailure(t *testing.T) {
	relay := hub.NewRelay(&fakeBroadcaster{fail: true}, zerolog.Nop())
	relay.Start()

	nacked := make(chan struct{}, 1)
	relay.Input() <- &types.BatchedMessage[types.BroadcastMessage]{
		OriginalMessage: types.ConsumedMessage{ID: "m1", Nack: func() { nacked <- struct{}{} }},
		Payload:         &types.BroadcastMessage{Target: types.TargetNewMessage},
	}
	relay.Stop()
	assert.Len(t, nacked, 1)
}
