package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	err := svc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestNilService_Degrades(t *testing.T) {
	var svc *Service

	ctx := context.Background()
	assert.Nil(t, svc.Client())
	assert.NoError(t, svc.Publish(ctx, "r", []byte("x\n"), "sender"))
	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.Close())
	svc.Subscribe(ctx, "r", nil, func(Envelope) { t.Fatal("must not deliver") })
}

func TestPublish(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	room := "cooking"

	// Subscribe manually to check if message arrives
	sub := svc.Client().Subscribe(ctx, "chat:room:"+room)
	defer func() { _ = sub.Close() }()

	// Wait for subscription to be active
	time.Sleep(50 * time.Millisecond)

	err := svc.Publish(ctx, room, []byte("alice: hello\n"), "instance-1")
	assert.NoError(t, err)

	// Receive
	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope Envelope
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, room, envelope.Room)
	assert.Equal(t, []byte("alice: hello\n"), envelope.Data)
	assert.Equal(t, "instance-1", envelope.SenderID)
}

func TestPublish_BinaryPayload(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	sub := svc.Client().Subscribe(ctx, "chat:room:r")
	defer func() { _ = sub.Close() }()
	time.Sleep(50 * time.Millisecond)

	// Broadcast bytes are not necessarily UTF-8; the envelope must carry
	// them losslessly.
	data := []byte("u: a\x00\xffb\n")
	require.NoError(t, svc.Publish(ctx, "r", data, "instance-1"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
	assert.Equal(t, data, envelope.Data)
}

func TestSubscribe(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := "room-sub"
	wg := &sync.WaitGroup{}

	received := make(chan Envelope, 1)
	handler := func(e Envelope) {
		received <- e
	}

	svc.Subscribe(ctx, room, wg, handler)

	// Wait for subscription
	time.Sleep(50 * time.Millisecond)

	// Publish from "another instance" (directly via redis client)
	envelope := Envelope{
		Room:     room,
		Data:     []byte("bob has joined\n"),
		SenderID: "instance-2",
	}
	payload, _ := json.Marshal(envelope)
	svc.Client().Publish(ctx, "chat:room:"+room, payload)

	select {
	case e := <-received:
		assert.Equal(t, []byte("bob has joined\n"), e.Data)
		assert.Equal(t, "instance-2", e.SenderID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	// Cancel context to stop subscription
	cancel()
	wg.Wait()
}

func TestRedisFailure_Graceful(t *testing.T) {
	svc, mr := newTestService(t)

	// Kill redis
	mr.Close()

	ctx := context.Background()

	err := svc.Ping(ctx)
	assert.Error(t, err)
}

func TestPublish_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()

	// Close Redis to trigger circuit breaker
	mr.Close()

	// Multiple failed calls
	for i := 0; i < 10; i++ {
		_ = svc.Publish(ctx, "room-1", []byte("x\n"), "sender")
	}

	// Circuit breaker should be open now (graceful degradation)
	err := svc.Publish(ctx, "room-1", []byte("x\n"), "sender")
	// Should not panic, may return nil (graceful degradation) or error
	_ = err
}
