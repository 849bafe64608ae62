package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securechat/internal/codec"
	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

var errSendFailed = errors.New("send failed")

// fakeStore is an in-memory MessageStore
type fakeStore struct {
	mu      sync.Mutex
	records []*types.ChatMessage
	failErr error
}

func (s *fakeStore) AppendMessage(ctx context.Context, username, location, ciphertext string) (*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	msg := &types.ChatMessage{
		ID:         int64(len(s.records) + 1),
		Username:   username,
		Location:   location,
		Ciphertext: ciphertext,
		Timestamp:  time.Now().UTC(),
	}
	s.records = append(s.records, msg)
	return msg, nil
}

func (s *fakeStore) ListMessages(ctx context.Context) ([]*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.ChatMessage(nil), s.records...), nil
}

// fakeConn records every envelope it is sent
type fakeConn struct {
	id      string
	mu      sync.Mutex
	sent    []types.OutboundEnvelope
	sendErr error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(v interface{}) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v.(types.OutboundEnvelope))
	return nil
}

func (c *fakeConn) Close() error                     { return nil }
func (c *fakeConn) State() types.ConnectionState     { return types.ConnectionStateAdmitted }
func (c *fakeConn) SetState(_ types.ConnectionState) {}

func (c *fakeConn) broadcasts() []types.ChatBroadcast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ChatBroadcast, 0, len(c.sent))
	for _, env := range c.sent {
		out = append(out, env.Data.(types.ChatBroadcast))
	}
	return out
}

type fakeRegistry struct {
	conns []interfaces.Connection
}

func (r *fakeRegistry) Snapshot() []interfaces.Connection { return r.conns }

func newTestRouter(t *testing.T, store interfaces.MessageStore, conns ...interfaces.Connection) (*Router, *codec.Codec) {
	t.Helper()
	c, err := codec.New("router-test-secret")
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(c, store, &fakeRegistry{conns: conns}, log), c
}

func TestRouter_ImplementsBroadcaster(t *testing.T) {
	var _ interfaces.Broadcaster = &Router{}
}

func TestRouter_SubmitPersistsCiphertextAndBroadcasts(t *testing.T) {
	store := &fakeStore{}
	sender, peer := &fakeConn{id: "sender"}, &fakeConn{id: "peer"}
	r, c := newTestRouter(t, store, sender, peer)

	result, err := r.Submit(context.Background(), "alice", "lobby", "hi")
	require.NoError(t, err)

	assert.EqualValues(t, 1, result.SequenceID)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 0, result.Failed)

	require.Len(t, store.records, 1)
	stored := store.records[0]
	assert.NotEqual(t, "hi", stored.Ciphertext)
	plaintext, err := c.Decrypt(stored.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hi", plaintext)

	for _, conn := range []*fakeConn{sender, peer} {
		got := conn.broadcasts()
		require.Len(t, got, 1, "connection %s", conn.id)
		assert.Equal(t, "alice", got[0].Username)
		assert.Equal(t, "lobby", got[0].Location)
		assert.Equal(t, stored.Ciphertext, got[0].Message)
		assert.Equal(t, stored.ID, got[0].ID)
		assert.Equal(t, types.EventChatMessage, conn.sent[0].Event)
	}
}

func TestRouter_SubmitEmptyMessage(t *testing.T) {
	store := &fakeStore{}
	r, c := newTestRouter(t, store, &fakeConn{id: "a"})

	_, err := r.Submit(context.Background(), "alice", "lobby", "")
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	assert.NotEmpty(t, store.records[0].Ciphertext)
	plaintext, err := c.Decrypt(store.records[0].Ciphertext)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestRouter_PersistFailureSendsNothing(t *testing.T) {
	storeErr := errors.New("disk full")
	store := &fakeStore{failErr: storeErr}
	conn := &fakeConn{id: "a"}
	r, _ := newTestRouter(t, store, conn)

	result, err := r.Submit(context.Background(), "alice", "lobby", "hi")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorIs(t, err, storeErr)
	assert.Empty(t, conn.broadcasts())
}

func TestRouter_EncryptFailureSendsNothing(t *testing.T) {
	store := &fakeStore{}
	conn := &fakeConn{id: "a"}
	keyless, err := codec.New("")
	require.NoError(t, err)
	r := NewRouter(keyless, store, &fakeRegistry{conns: []interfaces.Connection{conn}},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = r.Submit(context.Background(), "alice", "lobby", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncryptFailed)
	assert.ErrorIs(t, err, codec.ErrMissingKey)
	assert.Empty(t, store.records)
	assert.Empty(t, conn.broadcasts())
}

func TestRouter_ValidationFailure(t *testing.T) {
	tests := []struct {
		name     string
		username string
		location string
		message  string
		wantErr  error
	}{
		{"missing username", "", "lobby", "hi", types.ErrInvalidUsername},
		{"missing location", "alice", "", "hi", types.ErrInvalidLocation},
		{"oversized message", "alice", "lobby", string(make([]byte, 65537)), types.ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			r, _ := newTestRouter(t, store)

			_, err := r.Submit(context.Background(), tt.username, tt.location, tt.message)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, store.records)
		})
	}
}

func TestRouter_DeliveryFailureIsolated(t *testing.T) {
	store := &fakeStore{}
	healthy := &fakeConn{id: "healthy"}
	slow := &fakeConn{id: "slow", sendErr: errSendFailed}
	other := &fakeConn{id: "other"}
	r, _ := newTestRouter(t, store, healthy, slow, other)

	result, err := r.Submit(context.Background(), "alice", "lobby", "hi")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, healthy.broadcasts(), 1)
	assert.Len(t, other.broadcasts(), 1)
	assert.Len(t, store.records, 1, "delivery failure must not roll back persistence")
}

func TestRouter_NoConnections(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRouter(t, store)

	result, err := r.Submit(context.Background(), "alice", "lobby", "hi")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Delivered)
	assert.Len(t, store.records, 1)
}

// Every connection must observe broadcasts in store commit order
func TestRouter_ConcurrentSubmitsDeliverInCommitOrder(t *testing.T) {
	store := &fakeStore{}
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	r, _ := newTestRouter(t, store, a, b)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Submit(context.Background(), "alice", "lobby", "msg")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, conn := range []*fakeConn{a, b} {
		got := conn.broadcasts()
		require.Len(t, got, 20)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1].ID, got[i].ID, "connection %s out of order", conn.id)
		}
	}
}
