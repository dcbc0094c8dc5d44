package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	names  []string
	fail   bool
	closed bool
}

func (s *recordingSink) Publish(_ context.Context, name, _ string, _ interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	if s.fail {
		return errors.New("broker down")
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestDispatcher_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	req := require.New(t)
	sink := &recordingSink{}
	d := NewDispatcher(sink, zap.NewNop().Sugar(), 16)
	go d.Run()

	d.Emit(MessageSent, "c1", nil)
	d.Emit(MessageSeen, "c1", nil)
	d.Emit(MessageDeleted, "c1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(d.Close(ctx))

	req.Equal([]string{MessageSent, MessageSeen, MessageDeleted}, sink.names)
	req.True(sink.closed)

	// emitting after close is ignored
	d.Emit(MessageSent, "c1", nil)
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	req := require.New(t)
	sink := &recordingSink{}
	d := NewDispatcher(sink, zap.NewNop().Sugar(), 1)

	// Given Run has not started, the queue holds one event
	d.Emit(MessageSent, "c1", nil)
	d.Emit(MessageSeen, "c1", nil)

	go d.Run()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(d.Close(ctx))
	req.Equal([]string{MessageSent}, sink.names)
}

func TestDispatcher_SinkErrorIsLogged(t *testing.T) {
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, zap.NewNop().Sugar(), 4)
	go d.Run()
	d.Emit(PresenceChanged, "u1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	require.Len(t, sink.names, 1)
}
